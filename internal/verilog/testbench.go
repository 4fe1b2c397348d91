package verilog

import (
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// Options configures testbench generation.
type Options struct {
	// ClockStepDelay is the delay inserted after every poke.
	ClockStepDelay int

	Binding BindingOptions
}

const (
	bodyIndent = Indent + Indent

	// finishDelay is the extra simulation time before $finish.
	finishDelay = 20
)

// TestbenchName is the module name of the generated testbench.
func TestbenchName(circuitName string) string {
	return circuitName + "_tb"
}

// Assemble generates the complete testbench source. The output depends only
// on the circuit and actions, so identical inputs give identical text.
func Assemble(circ *circuit.Circuit, acts []actions.Action, opts Options) (string, error) {
	if circ == nil {
		return "", fmt.Errorf("no circuit")
	}
	decls := NewDeclarations()

	var portList []string
	for _, p := range circ.Ports {
		clauses, err := GeneratePort(decls, p.Name, p.Type, opts.Binding)
		if err != nil {
			return "", fmt.Errorf("binding %s: %w", p.Name, err)
		}
		portList = append(portList, clauses...)
	}

	lowerer := NewLowerer(decls, opts.ClockStepDelay)
	var body strings.Builder
	for i, a := range acts {
		code, err := lowerer.Lower(i, a)
		if err != nil {
			return "", fmt.Errorf("action %d (%s): %w", i, a.Kind(), err)
		}
		for _, line := range code {
			body.WriteString(bodyIndent)
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}

	var src strings.Builder
	fmt.Fprintf(&src, "module %s;\n", TestbenchName(circ.Name))
	src.WriteString(decls.Render(Indent))
	src.WriteString("\n\n")
	fmt.Fprintf(&src, "%s%s %s (\n", Indent, circ.Name, DUTInstance)
	fmt.Fprintf(&src, "%s%s\n", bodyIndent, strings.Join(portList, ",\n"+bodyIndent))
	fmt.Fprintf(&src, "%s);\n\n", Indent)
	fmt.Fprintf(&src, "%sinitial begin\n", Indent)
	src.WriteString(body.String())
	fmt.Fprintf(&src, "%s#%d $finish;\n", bodyIndent, finishDelay)
	fmt.Fprintf(&src, "%send\n\n", Indent)
	src.WriteString("endmodule\n")
	return src.String(), nil
}
