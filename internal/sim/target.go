package sim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
	"github.com/robert-at-pretension-io/tbgen/internal/config"
	"github.com/robert-at-pretension-io/tbgen/internal/verilog"
)

// Options configures a Target. Paths are used as given; the simulator runs
// inside Directory, so relative paths should be relative to it.
type Options struct {
	Simulator      Simulator
	Directory      string
	Timescale      string
	ClockStepDelay int
	NumCycles      int
	DumpVCD        bool
	NoWarning      bool

	// ExtTestBench skips testbench generation and runs existing sources.
	ExtTestBench bool
	// ExtModelFile leaves the device model out of the source list.
	ExtModelFile bool
	// ModelFile defaults to <Directory>/<circuit>.v.
	ModelFile string

	Sources   []string
	ExtLibs   []string
	IncDirs   []string
	Defines   []config.Define
	Flags     []string
	TopModule string

	Binding verilog.BindingOptions

	// Env replaces the simulator environment when non-nil.
	Env []string
}

// Target compiles recorded actions into a testbench and runs it under one
// simulator. A Target performs one run at a time.
type Target struct {
	Circuit *circuit.Circuit
	Options Options
	Runner  Runner
	Logger  *logrus.Logger
	Timing  *TimingRecorder

	state State
}

// NewTarget validates opts and fills in defaults.
func NewTarget(circ *circuit.Circuit, opts Options) (*Target, error) {
	if circ == nil || circ.Name == "" {
		return nil, fmt.Errorf("target needs a named circuit")
	}
	kind, err := ParseSimulator(string(opts.Simulator))
	if err != nil {
		return nil, err
	}
	opts.Simulator = kind
	if opts.Directory == "" {
		opts.Directory = "build"
	}
	if opts.Timescale == "" {
		opts.Timescale = "1ns/1ns"
	}
	if opts.ClockStepDelay <= 0 {
		opts.ClockStepDelay = verilog.DefaultClockStepDelay
	}
	if opts.NumCycles <= 0 {
		opts.NumCycles = 10000
	}
	if opts.ModelFile == "" {
		opts.ModelFile = filepath.Join(opts.Directory, circ.Name+".v")
	}
	return &Target{
		Circuit: circ,
		Options: opts,
		Runner:  ExecRunner{},
		Logger:  logrus.StandardLogger(),
	}, nil
}

// NewTargetWithConfig builds a Target from a loaded configuration. Relative
// paths in cfg are resolved against rootPath.
func NewTargetWithConfig(circ *circuit.Circuit, cfg *config.Config, rootPath string) (*Target, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if len(cfg.IncludeVerilogLibraries) > 0 && len(cfg.ExtSrcs) > 0 {
		return nil, ErrConflictingSources
	}
	files, err := cfg.ResolveFiles(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolving sources: %w", err)
	}
	dir := cfg.Directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(rootPath, dir)
	}

	opts := Options{
		Simulator:      Simulator(cfg.Simulator),
		Directory:      dir,
		Timescale:      cfg.Timescale,
		ClockStepDelay: cfg.ClockStepDelay,
		NumCycles:      cfg.NumCycles,
		DumpVCD:        cfg.VCD(),
		NoWarning:      cfg.NoWarning,
		ExtTestBench:   cfg.ExtTestBench,
		ExtModelFile:   cfg.ModelExternal(),
		Sources:        files.Sources,
		ExtLibs:        files.Libs,
		IncDirs:        files.IncDirs,
		Defines:        cfg.SortedDefines(),
		Flags:          cfg.Flags,
		TopModule:      cfg.TopModule,
		Binding: verilog.BindingOptions{
			Supply0s:   cfg.Power.Supply0s,
			Supply1s:   cfg.Power.Supply1s,
			Tris:       cfg.Power.Tris,
			InputWires: cfg.UseInputWires,
		},
		Env: mergeEnv(os.Environ(), cfg.Env),
	}
	return NewTarget(circ, opts)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := append([]string(nil), base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// State reports the progress of the current or last run.
func (t *Target) State() State { return t.state }

// TestbenchPath is where the generated testbench is written.
func (t *Target) TestbenchPath() string {
	return absPath(filepath.Join(t.Options.Directory, verilog.TestbenchName(t.Circuit.Name)+".sv"))
}

// CommandFile is the ncsim TCL script name, relative to Directory.
func (t *Target) CommandFile() string {
	return t.Circuit.Name + "_cmd.tcl"
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Generate returns the testbench source for acts.
func (t *Target) Generate(acts []actions.Action) (string, error) {
	return verilog.Assemble(t.Circuit, acts, verilog.Options{
		ClockStepDelay: t.Options.ClockStepDelay,
		Binding:        t.Options.Binding,
	})
}

// WriteTestbench generates and writes the testbench, returning its path.
// Some simulators decide whether to recompile from the file's mtime with one
// second granularity, so a rewrite that would not advance the mtime gets it
// bumped one second past the previous value.
func (t *Target) WriteTestbench(acts []actions.Action) (string, error) {
	src, err := t.Generate(acts)
	if err != nil {
		return "", err
	}
	path := t.TestbenchPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	old, statErr := os.Stat(path)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("writing testbench: %w", err)
	}
	if statErr == nil {
		cur, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat testbench: %w", err)
		}
		if !cur.ModTime().After(old.ModTime()) {
			bumped := old.ModTime().Add(time.Second)
			if err := os.Chtimes(path, bumped, bumped); err != nil {
				return "", fmt.Errorf("touching testbench: %w", err)
			}
		}
	}
	return path, nil
}

// writeCommandFile writes the ncsim TCL script into Directory.
func (t *Target) writeCommandFile() error {
	path := filepath.Join(t.Options.Directory, t.CommandFile())
	if err := os.WriteFile(path, []byte(t.Options.ncsimScript()), 0o644); err != nil {
		return fmt.Errorf("writing ncsim command file: %w", err)
	}
	return nil
}

// AssembleSources writes the testbench (unless external) and returns the
// ordered source list: testbench, device model, extra sources.
func (t *Target) AssembleSources(acts []actions.Action) ([]string, error) {
	var srcs []string
	if !t.Options.ExtTestBench {
		tb, err := t.WriteTestbench(acts)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, tb)
	} else if err := os.MkdirAll(t.Options.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", t.Options.Directory, err)
	}
	if !t.Options.ExtModelFile {
		srcs = append(srcs, absPath(t.Options.ModelFile))
	}
	srcs = append(srcs, t.Options.Sources...)
	t.state = SourcesAssembled
	return srcs, nil
}

// Plan returns the commands a run would execute for srcs.
func (t *Target) Plan(srcs []string) (Plan, error) {
	return t.Options.plan(t.Circuit.Name, srcs, t.CommandFile())
}

// Report summarizes one run.
type Report struct {
	Simulator Simulator
	Testbench string
	State     State
	Timings   []TimingEvent
}

// Run compiles acts into a testbench, then compiles and executes it.
// Any failure aborts the run; the returned report covers the phases that
// completed.
func (t *Target) Run(ctx context.Context, acts []actions.Action) (*Report, error) {
	t.state = Idle
	if t.Timing == nil {
		t.Timing = NewTimingRecorder(time.Now(), "")
	}
	rep := &Report{Simulator: t.Options.Simulator}
	if !t.Options.ExtTestBench {
		rep.Testbench = t.TestbenchPath()
	}
	finish := func(err error) (*Report, error) {
		rep.State = t.state
		return rep, err
	}

	start := time.Now()
	srcs, err := t.AssembleSources(acts)
	rep.Timings = append(rep.Timings, t.Timing.record(PhaseGenerate, rep.Testbench, status(err), start, time.Since(start)))
	if err != nil {
		return finish(fmt.Errorf("generating testbench: %w", err))
	}

	plan, err := t.Plan(srcs)
	if err != nil {
		return finish(err)
	}
	if t.Options.Simulator == NCSim {
		if err := t.writeCommandFile(); err != nil {
			return finish(err)
		}
	}

	if _, err := t.phase(ctx, rep, PhaseCompile, plan.Compile, ""); err != nil {
		return finish(err)
	}
	t.state = Compiled

	if plan.Execute == nil {
		t.state = Skipped
		return finish(nil)
	}
	if _, err := t.phase(ctx, rep, PhaseExecute, plan.Execute, plan.Marker); err != nil {
		return finish(err)
	}
	t.state = Executed
	return finish(nil)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// phase runs one command and classifies its outcome. A nonzero exit code is
// always a failure; a non-empty marker found in the combined output is one
// too.
func (t *Target) phase(ctx context.Context, rep *Report, phase Phase, args []string, marker string) (Result, error) {
	log := t.logger().WithFields(logrus.Fields{
		"simulator": string(t.Options.Simulator),
		"phase":     string(phase),
	})
	log.Infof("Running command: %s", strings.Join(args, " "))

	start := time.Now()
	res, err := t.Runner.Run(ctx, Command{Args: args, Dir: t.Options.Directory, Env: t.Options.Env})
	if err == nil {
		displayOutput(log, res)
		err = t.classify(phase, res, marker)
	}
	rep.Timings = append(rep.Timings, t.Timing.record(phase, "", status(err), start, time.Since(start)))
	return res, err
}

func (t *Target) classify(phase Phase, res Result, marker string) error {
	runErr := &RunError{
		Phase:     phase,
		Simulator: t.Options.Simulator,
		ExitCode:  res.ExitCode,
		Stdout:    string(res.Stdout),
		Stderr:    string(res.Stderr),
	}
	if res.ExitCode != 0 {
		return runErr
	}
	if marker != "" && strings.Contains(res.Output(), marker) {
		runErr.Marker = marker
		return runErr
	}
	return nil
}

// displayOutput logs both streams at Info; simulators put useful
// diagnostics on stderr.
func displayOutput(log *logrus.Entry, res Result) {
	for _, stream := range []struct {
		name string
		data []byte
	}{
		{"STDOUT", res.Stdout},
		{"STDERR", res.Stderr},
	} {
		if len(stream.data) == 0 {
			continue
		}
		log.Infof("*** %s ***", stream.name)
		log.Info(string(stream.data))
	}
}

func (t *Target) logger() *logrus.Logger {
	if t.Logger == nil {
		return logrus.StandardLogger()
	}
	return t.Logger
}
