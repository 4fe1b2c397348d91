// Package actions defines the recorded test actions lowered by the
// testbench compiler. The set of actions is closed: every type in this
// file implements Action, and the compiler handles each one explicitly.
package actions

import (
	"path/filepath"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// Action is one recorded test step.
type Action interface {
	Kind() string
	action()
}

// Poke assigns Value to Port.
type Poke struct {
	Port  circuit.PortRef
	Value Value
}

// Expect checks Port against Value. When both tolerances are zero the
// check is exact; Strict then selects four-state comparison.
type Expect struct {
	Port   circuit.PortRef
	Value  Value
	Strict bool
	AbsTol float64
	RelTol float64
}

// Exact reports whether the expectation compares for equality rather than
// against a tolerance band.
func (e Expect) Exact() bool {
	return e.AbsTol == 0 && e.RelTol == 0
}

// Eval requests combinational settling.
type Eval struct{}

// Step toggles Clock Steps times.
type Step struct {
	Clock circuit.Port
	Steps int
}

// Print writes Format with the values of Ports as arguments.
type Print struct {
	Format string
	Ports  []circuit.PortRef
}

// Loop repeats Actions N times using the integer counter LoopVar.
type Loop struct {
	LoopVar string
	N       int
	Actions []Action
}

// While repeats Actions as long as Cond holds.
type While struct {
	Cond    Expr
	Actions []Action
}

// If runs Then when Cond holds, Else otherwise.
type If struct {
	Cond Expr
	Then []Action
	Else []Action
}

// Var declares a testbench variable of a bit-vector type.
type Var struct {
	Name string
	Type *circuit.Type
}

type FileOpen struct{ File *File }
type FileClose struct{ File *File }

// FileRead reads one chunk of File into its input buffer. A FileRead also
// serves as a value naming that buffer.
type FileRead struct{ File *File }

// FileWrite writes one chunk of Value to File.
type FileWrite struct {
	File  *File
	Value circuit.PortRef
}

func (Poke) Kind() string { return "poke" }
func (Expect) Kind() string { return "expect" }
func (Eval) Kind() string { return "eval" }
func (Step) Kind() string { return "step" }
func (Print) Kind() string { return "print" }
func (Loop) Kind() string { return "loop" }
func (While) Kind() string { return "while" }
func (If) Kind() string { return "if" }
func (Var) Kind() string { return "var" }
func (FileOpen) Kind() string { return "file_open" }
func (FileClose) Kind() string { return "file_close" }
func (FileRead) Kind() string { return "file_read" }
func (FileWrite) Kind() string { return "file_write" }

func (Poke) action() {}
func (Expect) action() {}
func (Eval) action() {}
func (Step) action() {}
func (Print) action() {}
func (Loop) action() {}
func (While) action() {}
func (If) action() {}
func (Var) action() {}
func (FileOpen) action() {}
func (FileClose) action() {}
func (FileRead) action() {}
func (FileWrite) action() {}

const (
	ModeRead  = "r"
	ModeWrite = "w"

	BigEndian    = "big"
	LittleEndian = "little"
)

// File describes a file accessed from the testbench in fixed-size chunks.
type File struct {
	Name       string
	Mode       string
	ChunkSize  int
	Endianness string
}

// Ident is the base identifier used for the file's handle and buffer
// signals: the file name without directory or extension, with characters
// that are not legal in identifiers replaced by underscores.
func (f *File) Ident() string {
	base := filepath.Base(f.Name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for i, r := range base {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_file"
	}
	return b.String()
}

func (f *File) HandleName() string { return f.Ident() + "_file" }
func (f *File) BufferName() string { return f.Ident() + "_in" }
