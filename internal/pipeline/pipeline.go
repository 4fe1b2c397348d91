// =============================================================================
// Suite Pipeline
// =============================================================================
//
// THE PIPELINE, per suite:
//   1. Suite YAML is validated against the CUE #Suite contract and decoded
//      into a circuit and a recorded action list
//   2. OPA checks the action list (poke of outputs, file misuse, ...)
//   3. The action list is lowered into a SystemVerilog testbench
//   4. The simulator compiles and executes it
//
// Policy errors stop a suite before anything is written. Suites are
// independent: one failing suite does not stop the others.
// =============================================================================

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/tbgen/internal/config"
	"github.com/robert-at-pretension-io/tbgen/internal/policy"
	"github.com/robert-at-pretension-io/tbgen/internal/sim"
	"github.com/robert-at-pretension-io/tbgen/internal/suite"
	"github.com/robert-at-pretension-io/tbgen/internal/validator"
)

// Pipeline drives suites through checking, generation and simulation.
type Pipeline struct {
	Config   *config.Config
	RootPath string

	Verbose    bool
	JSONOutput bool

	// Runner executes simulator commands; nil uses sim.ExecRunner.
	Runner sim.Runner
	Logger *logrus.Logger
	Out    io.Writer

	mu sync.Mutex
}

// New creates a pipeline for the project at rootPath.
func New(cfg *config.Config, rootPath string) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Pipeline{
		Config:   cfg,
		RootPath: rootPath,
		Logger:   logrus.StandardLogger(),
		Out:      os.Stdout,
	}
}

// checked is a decoded suite together with its policy result.
type checked struct {
	file   string
	suite  *suite.Suite
	policy *policy.Result
	err    error
}

func (p *Pipeline) printf(format string, args ...any) {
	if p.JSONOutput {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.Out, format, args...)
}

// ValidateConfig checks the file the configuration was loaded from against
// the #Config contract. Configurations built in memory are not checked.
func (p *Pipeline) ValidateConfig() error {
	if p.Config.File == "" {
		return nil
	}
	data, err := os.ReadFile(p.Config.File)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	v, err := validator.NewConfigValidator()
	if err != nil {
		return err
	}
	if err := v.ValidateJSON(data); err != nil {
		return fmt.Errorf("%s: %w", p.Config.File, err)
	}
	return nil
}

func (p *Pipeline) policyDir() string {
	dir := p.Config.PolicyDir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(p.RootPath, dir)
	}
	return dir
}

// check decodes every suite file and evaluates the policies on it. Suite
// names must be unique, since each one names a build directory.
func (p *Pipeline) check(ctx context.Context, files []string) ([]checked, error) {
	engine, err := policy.New(p.policyDir())
	if err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	out := make([]checked, len(files))
	names := make(map[string]string, len(files))
	for i, f := range files {
		out[i].file = f
		s, err := suite.LoadFile(f)
		if err != nil {
			out[i].err = err
			continue
		}
		out[i].suite = s
		if prev, dup := names[s.Name]; dup {
			out[i].err = fmt.Errorf("%s: duplicate suite name %q (also used by %s)", f, s.Name, prev)
			continue
		}
		names[s.Name] = f
		res, err := engine.Evaluate(ctx, policy.NewInput(s.Circuit, s.Clock, s.Actions))
		if err != nil {
			out[i].err = fmt.Errorf("%s: %w", f, err)
			continue
		}
		out[i].policy = res
		if res.HasErrors() {
			out[i].err = fmt.Errorf("%s: %d policy error(s)", f, res.Summary.Errors)
		}
	}
	return out, nil
}

// Check decodes and checks the suites without generating anything.
func (p *Pipeline) Check(ctx context.Context, files []string) (*RunReport, error) {
	start := time.Now()
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	results, err := p.check(ctx, files)
	if err != nil {
		return nil, err
	}
	p.printf("Checked %d suites\n", len(files))

	report := &RunReport{Passed: true}
	var errs []error
	for _, c := range results {
		sr := p.newSuiteReport(c)
		sr.Passed = c.err == nil
		report.add(sr)
		if c.err != nil {
			errs = append(errs, c.err)
		}
	}
	p.printViolations(report)
	if p.Verbose {
		p.printf("\n  total: %s\n", formatDuration(time.Since(start)))
	}
	return report, joinErrors(errs)
}

// Generate writes the testbench of every suite that passes its checks.
func (p *Pipeline) Generate(ctx context.Context, files []string) (*RunReport, error) {
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	results, err := p.check(ctx, files)
	if err != nil {
		return nil, err
	}

	report := &RunReport{Passed: true}
	var errs []error
	for _, c := range results {
		sr := p.newSuiteReport(c)
		if c.err == nil {
			var t *sim.Target
			t, c.err = p.target(c.suite, nil)
			if c.err == nil {
				sr.Testbench, c.err = t.WriteTestbench(c.suite.Actions)
				if c.err == nil {
					p.printf("Wrote %s\n", sr.Testbench)
				}
			}
		}
		if c.err != nil {
			sr.Error = c.err.Error()
			errs = append(errs, c.err)
		}
		sr.Passed = c.err == nil
		report.add(sr)
	}
	p.printViolations(report)
	return report, joinErrors(errs)
}

// Run generates, compiles and executes every suite. Suites run in parallel
// up to MaxParallel, each in its own directory below the build directory.
// The returned error is non-nil when any suite did not pass.
func (p *Pipeline) Run(ctx context.Context, files []string) (*RunReport, error) {
	runStart := time.Now()
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	results, err := p.check(ctx, files)
	if err != nil {
		return nil, err
	}
	p.printf("Found %d suites\n", len(files))

	timing := sim.NewTimingRecorder(runStart, p.Config.TimingPath())
	if err := timing.Err(); err != nil {
		p.Logger.WithError(err).Warn("timing output disabled")
	}
	defer timing.Close()

	reports := make([]SuiteReport, len(results))
	var progressMu sync.Mutex
	progress := 0

	g, gctx := errgroup.WithContext(ctx)
	if n := p.Config.MaxParallel; n > 0 {
		g.SetLimit(n)
	}
	for i, c := range results {
		g.Go(func() error {
			suiteStart := time.Now()
			sr := p.runOne(gctx, c, timing)
			reports[i] = sr

			progressMu.Lock()
			progress++
			n := progress
			progressMu.Unlock()
			status := "passed"
			if !sr.Passed {
				status = "FAILED"
			}
			p.printf("  [%d/%d] %s (%s, %s, %s)\n", n, len(results), sr.Name, sr.State, status, formatDuration(time.Since(suiteStart)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &RunReport{Passed: true}
	var errs []error
	for i, sr := range reports {
		report.add(sr)
		if !sr.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", results[i].file, sr.Error))
		}
	}
	if err := validateReport(report); err != nil {
		return nil, err
	}

	p.printViolations(report)
	p.printSummary(report)
	if p.Verbose {
		p.printf("  total:    %s\n", formatDuration(time.Since(runStart)))
	}
	return report, joinErrors(errs)
}

func (p *Pipeline) runOne(ctx context.Context, c checked, timing *sim.TimingRecorder) SuiteReport {
	sr := p.newSuiteReport(c)
	fail := func(err error) SuiteReport {
		sr.Error = err.Error()
		return sr
	}
	if c.err != nil {
		return fail(c.err)
	}

	t, err := p.target(c.suite, timing)
	if err != nil {
		return fail(err)
	}
	rep, err := t.Run(ctx, c.suite.Actions)
	if rep != nil {
		sr.Testbench = rep.Testbench
		sr.State = rep.State.String()
		sr.Timings = rep.Timings
	}
	if err != nil {
		return fail(err)
	}
	sr.Passed = true
	return sr
}

// target builds the simulator target for s. Each suite gets its own
// working directory so parallel runs do not share build products.
func (p *Pipeline) target(s *suite.Suite, timing *sim.TimingRecorder) (*sim.Target, error) {
	t, err := sim.NewTargetWithConfig(s.Circuit, p.Config, p.RootPath)
	if err != nil {
		return nil, err
	}
	t.Options.Directory = filepath.Join(t.Options.Directory, s.Name)
	if p.Runner != nil {
		t.Runner = p.Runner
	}
	if p.Logger != nil {
		t.Logger = p.Logger
	}
	t.Timing = timing
	return t, nil
}

func (p *Pipeline) newSuiteReport(c checked) SuiteReport {
	sr := SuiteReport{
		File:      c.file,
		Simulator: p.Config.Simulator,
		State:     sim.Idle.String(),
	}
	if kind, err := sim.ParseSimulator(p.Config.Simulator); err == nil {
		sr.Simulator = string(kind)
	}
	if c.suite != nil {
		sr.Name = c.suite.Name
	} else {
		sr.Name = suiteNameFromFile(c.file)
	}
	if c.policy != nil {
		sr.Violations = append(sr.Violations, c.policy.Violations...)
	}
	if c.err != nil {
		sr.Error = c.err.Error()
	}
	return sr
}

func suiteNameFromFile(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
