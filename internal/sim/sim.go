// Package sim drives external SystemVerilog simulators over a generated
// testbench: it assembles the source list, builds each backend's command
// line, runs the compile and execute phases and classifies failures.
package sim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/config"
)

// Simulator names a supported backend.
type Simulator string

const (
	NCSim    Simulator = "ncsim"
	VCS      Simulator = "vcs"
	IVerilog Simulator = "iverilog"
)

// Simulators lists the supported backends.
var Simulators = []Simulator{NCSim, VCS, IVerilog}

var (
	ErrUnsupportedSimulator = errors.New("unsupported simulator")
	ErrConflictingSources   = config.ErrConflictingSources
	ErrCompileFailed        = errors.New("error running system verilog simulator")
	ErrRunFailed            = errors.New("running simulator binary failed")
)

// ParseSimulator maps a configuration string to a backend.
func ParseSimulator(s string) (Simulator, error) {
	switch Simulator(strings.ToLower(strings.TrimSpace(s))) {
	case NCSim:
		return NCSim, nil
	case VCS:
		return VCS, nil
	case IVerilog:
		return IVerilog, nil
	case "":
		return "", fmt.Errorf("%w: none specified", ErrUnsupportedSimulator)
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedSimulator, s)
}

// Phase is one subprocess step of a run.
type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhaseCompile  Phase = "compile"
	PhaseExecute  Phase = "execute"
)

// State tracks how far a run has progressed.
type State int

const (
	Idle State = iota
	SourcesAssembled
	Compiled
	Executed
	// Skipped means the backend compiles and runs in a single command, so
	// there is no separate execute phase.
	Skipped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SourcesAssembled:
		return "sources_assembled"
	case Compiled:
		return "compiled"
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RunError describes a failed compile or execute phase.
type RunError struct {
	Phase     Phase
	Simulator Simulator
	ExitCode  int
	// Marker is set when the failure marker was found in the output
	// despite a zero exit code.
	Marker string
	Stdout string
	Stderr string
}

func (e *RunError) Error() string {
	if e.Marker != "" {
		return fmt.Sprintf("%s: %q found in output of %s run", e.sentinel(), e.Marker, e.Simulator)
	}
	return fmt.Sprintf("%s: %s %s exited with code %d", e.sentinel(), e.Simulator, e.Phase, e.ExitCode)
}

func (e *RunError) sentinel() error {
	if e.Phase == PhaseCompile {
		return ErrCompileFailed
	}
	return ErrRunFailed
}

func (e *RunError) Unwrap() error {
	return e.sentinel()
}
