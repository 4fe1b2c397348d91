package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
	"github.com/robert-at-pretension-io/tbgen/internal/config"
)

type fakeRunner struct {
	results  []Result
	commands []Command
}

func (f *fakeRunner) Run(_ context.Context, c Command) (Result, error) {
	f.commands = append(f.commands, c)
	if len(f.results) == 0 {
		return Result{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func and2() *circuit.Circuit {
	return &circuit.Circuit{
		Name: "and2",
		Ports: []circuit.Port{
			{Name: "I0", Type: circuit.Bit(circuit.In)},
			{Name: "I1", Type: circuit.Bit(circuit.In)},
			{Name: "O", Type: circuit.Bit(circuit.Out)},
		},
	}
}

func and2Actions(c *circuit.Circuit) []actions.Action {
	return []actions.Action{
		actions.Poke{Port: c.Ports[0], Value: actions.BV(1, 1)},
		actions.Poke{Port: c.Ports[1], Value: actions.BV(1, 1)},
		actions.Eval{},
		actions.Expect{Port: c.Ports[2], Value: actions.BV(1, 1)},
	}
}

func newTestTarget(t *testing.T, opts Options, results ...Result) (*Target, *fakeRunner, *bytes.Buffer) {
	t.Helper()
	if opts.Directory == "" {
		opts.Directory = t.TempDir()
	}
	tgt, err := NewTarget(and2(), opts)
	require.NoError(t, err)
	runner := &fakeRunner{results: results}
	tgt.Runner = runner

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
	tgt.Logger = logger
	return tgt, runner, &logs
}

func TestParseSimulator(t *testing.T) {
	for _, name := range []string{"ncsim", "vcs", "iverilog", " VCS "} {
		_, err := ParseSimulator(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseSimulator("verilator")
	assert.True(t, errors.Is(err, ErrUnsupportedSimulator))
	_, err = ParseSimulator("")
	assert.True(t, errors.Is(err, ErrUnsupportedSimulator))

	_, err = NewTarget(and2(), Options{Simulator: "modelsim"})
	assert.True(t, errors.Is(err, ErrUnsupportedSimulator))
}

func TestPlanCommandLines(t *testing.T) {
	one := "1"
	base := Options{
		Directory: "/work",
		Timescale: "1ps/1ps",
		NumCycles: 100,
		ExtLibs:   []string{"cells.v"},
		IncDirs:   []string{"inc"},
		Defines:   []config.Define{{Name: "A"}, {Name: "W", Value: &one}},
		Flags:     []string{"-extra"},
	}
	srcs := []string{"/work/and2_tb.sv", "/work/and2.v"}

	tests := []struct {
		name    string
		mutate  func(*Options)
		compile []string
		execute []string
		marker  string
	}{
		{
			name:   "ncsim",
			mutate: func(o *Options) { o.Simulator = NCSim; o.NoWarning = true },
			compile: []string{"irun", "-top", "and2_tb", "-timescale", "1ps/1ps", "-input", "and2_cmd.tcl",
				"/work/and2_tb.sv", "/work/and2.v", "-v", "cells.v", "-incdir", "inc",
				"+define+A", "+define+W=1", "-access", "+rwc", "-notimingchecks", "-neverwarn", "-extra"},
		},
		{
			name:   "ncsim_external_testbench_has_no_default_top",
			mutate: func(o *Options) { o.Simulator = NCSim; o.ExtTestBench = true },
			compile: []string{"irun", "-timescale", "1ps/1ps", "-input", "and2_cmd.tcl",
				"/work/and2_tb.sv", "/work/and2.v", "-v", "cells.v", "-incdir", "inc",
				"+define+A", "+define+W=1", "-access", "+rwc", "-notimingchecks", "-extra"},
		},
		{
			name:   "vcs",
			mutate: func(o *Options) { o.Simulator = VCS; o.DumpVCD = true },
			compile: []string{"vcs", "-timescale=1ps/1ps", "/work/and2_tb.sv", "/work/and2.v", "-v", "cells.v",
				"+incdir+inc", "+define+A", "+define+W=1", "-sverilog", "-full64", "+v2k", "-LDFLAGS",
				"-Wl,--no-as-needed", "+vcs+vcdpluson", "-debug_pp", "-extra"},
			execute: []string{"./simv"},
			marker:  "Error",
		},
		{
			name:   "iverilog",
			mutate: func(o *Options) { o.Simulator = IVerilog; o.TopModule = "top" },
			compile: []string{"iverilog", "-o", "and2_tb", "-s", "top", "/work/and2_tb.sv", "/work/and2.v",
				"-l", "cells.v", "-Iinc", "-DA", "-DW=1", "-g2012", "-extra"},
			execute: []string{"vvp", "-N", "and2_tb"},
			marker:  "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mutate(&opts)
			tgt, err := NewTarget(and2(), opts)
			require.NoError(t, err)
			plan, err := tgt.Plan(srcs)
			require.NoError(t, err)
			assert.Equal(t, tt.compile, plan.Compile)
			assert.Equal(t, tt.execute, plan.Execute)
			assert.Equal(t, tt.marker, plan.Marker)
		})
	}
}

func TestNcsimScript(t *testing.T) {
	o := Options{NumCycles: 500, DumpVCD: true}
	assert.Equal(t, "database -open -vcd vcddb -into verilog.vcd -default -timescale ps\n"+
		"probe -create -all -vcd -depth all\n"+
		"run 500ns\n"+
		"quit", o.ncsimScript())

	o.DumpVCD = false
	assert.Equal(t, "run 500ns\nquit", o.ncsimScript())
}

func TestRunIverilogSuccess(t *testing.T) {
	tgt, runner, logs := newTestTarget(t, Options{Simulator: IVerilog},
		Result{},
		Result{Stdout: []byte("VCD info: dumpfile\n")},
	)
	c := tgt.Circuit

	rep, err := tgt.Run(context.Background(), and2Actions(c))
	require.NoError(t, err)
	assert.Equal(t, Executed, tgt.State())
	assert.Equal(t, Executed, rep.State)

	require.Len(t, runner.commands, 2)
	compile := runner.commands[0]
	assert.Equal(t, "iverilog", compile.Args[0])
	assert.Equal(t, tgt.Options.Directory, compile.Dir)
	assert.Equal(t, tgt.TestbenchPath(), compile.Args[3])
	assert.Equal(t, filepath.Join(tgt.Options.Directory, "and2.v"), compile.Args[4])
	assert.Equal(t, []string{"vvp", "-N", "and2_tb"}, runner.commands[1].Args)

	src, err := os.ReadFile(tgt.TestbenchPath())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(src), "module and2_tb;\n"))

	assert.Contains(t, logs.String(), "Running command: iverilog -o and2_tb")
	assert.Contains(t, logs.String(), "phase=compile")
	assert.Contains(t, logs.String(), "*** STDOUT ***")
	assert.NotContains(t, logs.String(), "*** STDERR ***")

	var phases []string
	for _, ev := range rep.Timings {
		phases = append(phases, ev.Phase)
		assert.Equal(t, "ok", ev.Status)
	}
	assert.Equal(t, []string{"generate", "compile", "execute"}, phases)
}

func TestRunCompileFailure(t *testing.T) {
	tgt, runner, _ := newTestTarget(t, Options{Simulator: VCS}, Result{ExitCode: 1, Stderr: []byte("syntax error")})

	rep, err := tgt.Run(context.Background(), and2Actions(tgt.Circuit))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompileFailed))
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, PhaseCompile, runErr.Phase)
	assert.Equal(t, 1, runErr.ExitCode)
	assert.Equal(t, "syntax error", runErr.Stderr)

	assert.Len(t, runner.commands, 1, "execute phase must not run after a failed compile")
	assert.Equal(t, SourcesAssembled, rep.State)
}

func TestRunFailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		sim    Simulator
		result Result
		marker string
	}{
		{"vcs_marker_on_zero_exit", VCS, Result{Stdout: []byte("Error: Failed on action=3")}, "Error"},
		{"iverilog_marker_on_stderr", IVerilog, Result{Stderr: []byte("ERROR: and2_tb.sv:12")}, "ERROR"},
		{"nonzero_exit_without_marker", IVerilog, Result{ExitCode: 2}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, _, _ := newTestTarget(t, Options{Simulator: tt.sim}, Result{}, tt.result)
			_, err := tgt.Run(context.Background(), and2Actions(tgt.Circuit))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRunFailed))
			var runErr *RunError
			require.True(t, errors.As(err, &runErr))
			assert.Equal(t, PhaseExecute, runErr.Phase)
			assert.Equal(t, tt.marker, runErr.Marker)
			assert.Equal(t, Compiled, tgt.State())
		})
	}
}

func TestRunMarkerIsCaseSensitive(t *testing.T) {
	tgt, _, _ := newTestTarget(t, Options{Simulator: IVerilog}, Result{}, Result{Stdout: []byte("no errors found")})
	_, err := tgt.Run(context.Background(), and2Actions(tgt.Circuit))
	require.NoError(t, err)
}

func TestRunNcsimIsUnified(t *testing.T) {
	tgt, runner, _ := newTestTarget(t, Options{Simulator: NCSim, NumCycles: 42},
		Result{Stdout: []byte("*E,ERROR something")},
	)
	_, err := tgt.Run(context.Background(), and2Actions(tgt.Circuit))
	require.NoError(t, err, "ncsim has no output marker")
	assert.Equal(t, Skipped, tgt.State())
	require.Len(t, runner.commands, 1)

	script, err := os.ReadFile(filepath.Join(tgt.Options.Directory, "and2_cmd.tcl"))
	require.NoError(t, err)
	assert.Equal(t, "run 42ns\nquit", string(script))
}

func TestAssembleSourcesOrder(t *testing.T) {
	tgt, _, _ := newTestTarget(t, Options{Simulator: VCS, Sources: []string{"/lib/a.v", "/lib/b.v"}})
	srcs, err := tgt.AssembleSources(and2Actions(tgt.Circuit))
	require.NoError(t, err)
	assert.Equal(t, []string{tgt.TestbenchPath(), filepath.Join(tgt.Options.Directory, "and2.v"), "/lib/a.v", "/lib/b.v"}, srcs)

	ext, _, _ := newTestTarget(t, Options{Simulator: VCS, ExtTestBench: true, ExtModelFile: true, Sources: []string{"/tb/top.sv"}})
	srcs, err = ext.AssembleSources(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tb/top.sv"}, srcs)
	_, statErr := os.Stat(ext.TestbenchPath())
	assert.True(t, os.IsNotExist(statErr), "external testbench must not be generated")
}

func TestWriteTestbenchBumpsTimestamp(t *testing.T) {
	tgt, _, _ := newTestTarget(t, Options{Simulator: IVerilog})
	acts := and2Actions(tgt.Circuit)

	path, err := tgt.WriteTestbench(acts)
	require.NoError(t, err)
	future := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	_, err = tgt.WriteTestbench(acts)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(future.Add(time.Second)), "got %v", info.ModTime())
}

func TestWriteTestbenchLeavesAdvancedTimestamp(t *testing.T) {
	tgt, _, _ := newTestTarget(t, Options{Simulator: IVerilog})
	acts := and2Actions(tgt.Circuit)

	path, err := tgt.WriteTestbench(acts)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, past, past))

	_, err = tgt.WriteTestbench(acts)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(past.Add(time.Second)))
}

func TestNewTargetWithConfig(t *testing.T) {
	root := t.TempDir()
	one := "1"
	cfg := config.DefaultConfig()
	cfg.Simulator = "vcs"
	cfg.Directory = "out"
	cfg.ExtSrcs = []string{"rtl/extra.v"}
	cfg.Defines = map[string]*string{"Z": nil, "A": &one}
	cfg.Power.Supply0s = []string{"VSS"}
	cfg.UseInputWires = true
	cfg.Env = map[string]string{"LM_LICENSE_FILE": "lic"}

	tgt, err := NewTargetWithConfig(and2(), cfg, root)
	require.NoError(t, err)
	assert.Equal(t, VCS, tgt.Options.Simulator)
	assert.Equal(t, filepath.Join(root, "out"), tgt.Options.Directory)
	assert.Equal(t, []string{filepath.Join(root, "rtl", "extra.v")}, tgt.Options.Sources)
	assert.Equal(t, "A", tgt.Options.Defines[0].Name)
	assert.True(t, tgt.Options.Binding.InputWires)
	assert.Equal(t, []string{"VSS"}, tgt.Options.Binding.Supply0s)
	assert.Contains(t, tgt.Options.Env, "LM_LICENSE_FILE=lic")

	cfg.IncludeVerilogLibraries = []string{"other.v"}
	_, err = NewTargetWithConfig(and2(), cfg, root)
	assert.True(t, errors.Is(err, ErrConflictingSources))
}

func TestTimingJSONLWritten(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timing", "t.jsonl")
	tr := NewTimingRecorder(time.Now(), path)
	require.NoError(t, tr.Err())

	tgt, _, _ := newTestTarget(t, Options{Simulator: IVerilog})
	tgt.Timing = tr
	_, err := tgt.Run(context.Background(), and2Actions(tgt.Circuit))
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 3)
	var ev TimingEvent
	require.NoError(t, json.Unmarshal(lines[1], &ev))
	assert.Equal(t, "compile", ev.Phase)
	assert.Equal(t, "stage", ev.Kind)
	assert.GreaterOrEqual(t, ev.EndMS, ev.StartMS)
	assert.Len(t, tr.Events(), 3)
}

func TestExecRunnerExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	res, err := ExecRunner{}.Run(context.Background(), Command{Args: []string{"/bin/sh", "-c", "echo out; echo err >&2; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))

	_, err = ExecRunner{}.Run(context.Background(), Command{Args: []string{"definitely-not-a-simulator-binary"}})
	require.Error(t, err)
}
