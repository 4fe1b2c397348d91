package verilog

import (
	"fmt"
	"strconv"

	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// BindingOptions controls how DUT pins are declared in the testbench.
type BindingOptions struct {
	// Supply0s, Supply1s and Tris name leaf pins declared as supply0,
	// supply1 or tri nets instead of by direction.
	Supply0s []string
	Supply1s []string
	Tris     []string

	// InputWires drives inputs through a register tied to a wire, the way
	// inout pins are always driven.
	InputWires bool
}

// GeneratePort declares the testbench signals for one port and returns the
// instantiation port-map clauses, one per scalar leaf.
func GeneratePort(decls *Declarations, name string, typ *circuit.Type, opts BindingOptions) ([]string, error) {
	if typ == nil {
		return nil, fmt.Errorf("port %s has no type", name)
	}
	if !typ.IsLeaf() {
		return generateAggregate(decls, name, typ, opts)
	}

	width := ""
	if typ.IsBitVector() {
		width = fmt.Sprintf("[%d:0] ", typ.BitWidth()-1)
	}
	signal := Name(name)
	connectTo := signal

	var class string
	switch {
	case typ.Kind == circuit.KindReal:
		class = "real"
	case contains(opts.Supply0s, name):
		class = "supply0"
	case contains(opts.Supply1s, name):
		class = "supply1"
	case contains(opts.Tris, name):
		class = "tri"
	case typ.Dir == circuit.Out:
		class = "wire"
	case typ.Dir == circuit.InOut || (typ.Dir == circuit.In && opts.InputWires):
		// procedural code drives the register, the DUT pin sees the wire
		connectTo = InputWire(name)
		decls.Add(
			"reg "+width+signal+";",
			"wire "+width+connectTo+";",
			"assign "+connectTo+"="+signal+";",
		)
	case typ.Dir == circuit.In:
		class = "reg"
	default:
		return nil, fmt.Errorf("port %s has unsupported direction %s", name, typ.Dir)
	}
	if class != "" {
		decls.Add(class + " " + width + connectTo + ";")
	}
	return []string{"." + signal + "(" + connectTo + ")"}, nil
}

func generateAggregate(decls *Declarations, name string, typ *circuit.Type, opts BindingOptions) ([]string, error) {
	var clauses []string
	switch typ.Kind {
	case circuit.KindArray:
		for i := 0; i < typ.Len; i++ {
			sub, err := GeneratePort(decls, name+"_"+strconv.Itoa(i), typ.Elem, opts)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub...)
		}
	case circuit.KindTuple:
		for _, f := range typ.Fields {
			sub, err := GeneratePort(decls, name+"_"+f.Key, f.Type, opts)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub...)
		}
	default:
		return nil, fmt.Errorf("port %s has unsupported kind %s", name, typ.Kind)
	}
	return clauses, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
