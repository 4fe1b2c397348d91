// Package verilog lowers recorded test actions into a SystemVerilog
// testbench for a circuit's port interface.
package verilog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// DUTInstance is the instance name of the device under test inside the
// generated testbench module.
const DUTInstance = "dut"

// Name escapes an identifier. Names that are not legal simple identifiers
// are emitted as escaped identifiers, which end at the next whitespace.
func Name(s string) string {
	if isSimpleIdent(s) {
		return s
	}
	return `\` + s + " "
}

func isSimpleIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && (r == '$' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

// InputWire is the name of the shadow wire that connects a
// procedurally driven register to a DUT pin.
func InputWire(name string) string {
	return Name("__" + name + "_wire")
}

func dutPath(path string) string {
	return DUTInstance + "." + path
}

// ResolveName returns the testbench expression naming port.
func ResolveName(port circuit.PortRef) string {
	switch p := port.(type) {
	case circuit.SelectPath:
		if p.Len() > 2 {
			return dutPath(p.Path())
		}
		// top level ports assign to the testbench register
		return Name(p.Leaf())
	case circuit.InternalPort:
		return dutPath(p.Path)
	case circuit.Port:
		return Name(p.Name)
	}
	return fmt.Sprint(port)
}

// debugName is the port name used in failure reports.
func debugName(port circuit.PortRef) string {
	switch p := port.(type) {
	case circuit.SelectPath:
		return p.Leaf()
	case circuit.Port:
		return p.Name
	}
	return ResolveName(port)
}

// ResolveValue renders v as it should appear when assigned to or compared
// against port.
func ResolveValue(port circuit.PortRef, v actions.Value) string {
	var typ *circuit.Type
	if port != nil {
		typ = port.PortType()
	}
	switch val := v.(type) {
	case actions.BitVector:
		return fmt.Sprintf("%d'd%s", val.Width, val.Uint().String())
	case actions.Int:
		if typ.IsSigned() && val < 0 {
			bv := actions.BV(typ.BitWidth(), int64(val))
			return fmt.Sprintf("%d'd%s", bv.Width, bv.Uint().String())
		}
		return strconv.FormatInt(int64(val), 10)
	}
	switch {
	case v == actions.Unknown:
		return "'X"
	case v == actions.HiZ:
		return "'Z"
	}
	switch val := v.(type) {
	case actions.Peek:
		return ResolveName(val.Port)
	case actions.Signal:
		return dutPath(val.Path.Path())
	case actions.FileRead:
		return val.File.BufferName()
	case actions.BinaryOp, actions.UnaryOp:
		return "(" + CompileExpr(val.(actions.Expr)) + ")"
	case actions.Float:
		return formatFloat(float64(val))
	case actions.Const:
		return strconv.FormatInt(int64(val), 10)
	case actions.Var:
		return Name(val.Name)
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// quote renders s as a string literal.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
