package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robert-at-pretension-io/tbgen/internal/policy"
	"github.com/robert-at-pretension-io/tbgen/internal/sim"
	"github.com/robert-at-pretension-io/tbgen/internal/validator"
)

// RunReport is the machine-readable result of check, gen or run.
type RunReport struct {
	Passed bool          `json:"passed"`
	Suites []SuiteReport `json:"suites"`
}

// SuiteReport describes one suite.
type SuiteReport struct {
	Name       string             `json:"name"`
	File       string             `json:"file"`
	Simulator  string             `json:"simulator"`
	Testbench  string             `json:"testbench,omitempty"`
	State      string             `json:"state"`
	Passed     bool               `json:"passed"`
	Error      string             `json:"error,omitempty"`
	Violations []policy.Violation `json:"violations,omitempty"`
	Timings    []sim.TimingEvent  `json:"timings,omitempty"`
}

func (r *RunReport) add(sr SuiteReport) {
	r.Suites = append(r.Suites, sr)
	r.Passed = r.Passed && sr.Passed
}

func validateReport(r *RunReport) error {
	v, err := validator.NewReportValidator()
	if err != nil {
		return err
	}
	return v.Validate(r)
}

// WriteFile stores the report as indented JSON. The file is replaced
// atomically.
func (r *RunReport) WriteFile(path string) error {
	if err := validateReport(r); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("temp report file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write report file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close report file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename report file: %w", err)
	}
	return nil
}

func (p *Pipeline) printViolations(r *RunReport) {
	total := 0
	for _, s := range r.Suites {
		total += len(s.Violations)
	}
	if total == 0 {
		return
	}
	p.printf("\n=== Policy Violations ===\n")
	for _, s := range r.Suites {
		for _, v := range s.Violations {
			icon := "ℹ"
			if v.Severity == policy.SeverityError {
				icon = "✗"
			} else if v.Severity == policy.SeverityWarning {
				icon = "⚠"
			}
			p.printf("%s [%s] %s action %d - %s\n", icon, v.Rule, s.File, v.Action, v.Message)
		}
	}
}

func (p *Pipeline) printSummary(r *RunReport) {
	passed := 0
	for _, s := range r.Suites {
		if s.Passed {
			passed++
		}
	}
	p.printf("\n=== Run Summary ===\n")
	p.printf("  Suites:   %d\n", len(r.Suites))
	p.printf("  Passed:   %d\n", passed)
	p.printf("  Failed:   %d\n", len(r.Suites)-passed)
	for _, s := range r.Suites {
		if !s.Passed {
			p.printf("  ✗ %s: %s\n", s.Name, s.Error)
		}
	}
}

// joinErrors formats errs as a bulleted list, or returns nil.
func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "suite errors:"
	for _, err := range errs {
		msg += "\n- " + err.Error()
	}
	return errors.New(msg)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%dus", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.2fm", d.Minutes())
	default:
		return fmt.Sprintf("%.2fh", d.Hours())
	}
}
