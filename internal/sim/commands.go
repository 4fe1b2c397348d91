package sim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/config"
)

// Plan is the command sequence for one run.
type Plan struct {
	// Compile includes the user's extra flags at the end.
	Compile []string
	// Execute is nil for backends that compile and run in one command.
	Execute []string
	// Marker in the execute output signals failure even on exit code 0.
	Marker string
}

func defArgs(prefix string, defines []config.Define) []string {
	var out []string
	for _, d := range defines {
		arg := prefix + d.Name
		if d.Value != nil {
			arg += "=" + *d.Value
		}
		out = append(out, arg)
	}
	return out
}

// topModule is the simulation top passed to ncsim. A generated testbench is
// the top unless one was named explicitly.
func (o *Options) topModule(circuitName string) string {
	if o.TopModule == "" && !o.ExtTestBench {
		return circuitName + "_tb"
	}
	return o.TopModule
}

func (o *Options) ncsimCommand(circuitName string, sources []string, cmdFile string) []string {
	cmd := []string{"irun"}
	if top := o.topModule(circuitName); top != "" {
		cmd = append(cmd, "-top", top)
	}
	cmd = append(cmd, "-timescale", o.Timescale)
	cmd = append(cmd, "-input", cmdFile)
	cmd = append(cmd, sources...)
	for _, lib := range o.ExtLibs {
		cmd = append(cmd, "-v", lib)
	}
	for _, dir := range o.IncDirs {
		cmd = append(cmd, "-incdir", dir)
	}
	cmd = append(cmd, defArgs("+define+", o.Defines)...)
	cmd = append(cmd, "-access", "+rwc", "-notimingchecks")
	if o.NoWarning {
		cmd = append(cmd, "-neverwarn")
	}
	return cmd
}

func (o *Options) vcsCommand(sources []string) []string {
	cmd := []string{"vcs", "-timescale=" + o.Timescale}
	if o.TopModule != "" {
		cmd = append(cmd, "-top", o.TopModule)
	}
	cmd = append(cmd, sources...)
	for _, lib := range o.ExtLibs {
		cmd = append(cmd, "-v", lib)
	}
	for _, dir := range o.IncDirs {
		cmd = append(cmd, "+incdir+"+dir)
	}
	cmd = append(cmd, defArgs("+define+", o.Defines)...)
	cmd = append(cmd, "-sverilog", "-full64", "+v2k", "-LDFLAGS", "-Wl,--no-as-needed")
	if o.DumpVCD {
		cmd = append(cmd, "+vcs+vcdpluson", "-debug_pp")
	}
	return cmd
}

func (o *Options) iverilogCommand(binFile string, sources []string) []string {
	cmd := []string{"iverilog", "-o", binFile}
	if o.TopModule != "" {
		cmd = append(cmd, "-s", o.TopModule)
	}
	cmd = append(cmd, sources...)
	// -l marks library files; -v would only make iverilog verbose
	for _, lib := range o.ExtLibs {
		cmd = append(cmd, "-l", lib)
	}
	for _, dir := range o.IncDirs {
		cmd = append(cmd, "-I"+dir)
	}
	cmd = append(cmd, defArgs("-D", o.Defines)...)
	cmd = append(cmd, "-g2012")
	return cmd
}

// plan builds the commands for the configured backend. cmdFile is only
// used by ncsim.
func (o *Options) plan(circuitName string, sources []string, cmdFile string) (Plan, error) {
	var p Plan
	switch o.Simulator {
	case NCSim:
		p.Compile = o.ncsimCommand(circuitName, sources, cmdFile)
	case VCS:
		p.Compile = o.vcsCommand(sources)
		p.Execute = []string{"./simv"}
		p.Marker = "Error"
	case IVerilog:
		bin := circuitName + "_tb"
		p.Compile = o.iverilogCommand(bin, sources)
		p.Execute = []string{"vvp", "-N", bin}
		p.Marker = "ERROR"
	default:
		return p, fmt.Errorf("%w %q", ErrUnsupportedSimulator, o.Simulator)
	}
	p.Compile = append(p.Compile, o.Flags...)
	return p, nil
}

// ncsimScript is the TCL command file content.
func (o *Options) ncsimScript() string {
	var cmds []string
	if o.DumpVCD {
		cmds = append(cmds,
			"database -open -vcd vcddb -into verilog.vcd -default -timescale ps",
			"probe -create -all -vcd -depth all",
		)
	}
	cmds = append(cmds, "run "+strconv.Itoa(o.NumCycles)+"ns", "quit")
	return strings.Join(cmds, "\n")
}
