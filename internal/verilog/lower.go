package verilog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

var (
	ErrUnsupportedFileMode  = errors.New("unsupported file mode")
	ErrInvalidFile          = errors.New("invalid file descriptor")
	ErrUnsupportedDeclType  = errors.New("unsupported declaration type")
	ErrUnsupportedValueType = errors.New("unsupported value type")
	ErrLoopVarCollision     = errors.New("loop variable shadows an enclosing loop")
	ErrUnknownAction        = errors.New("unknown action")
)

const (
	// Indent is one level of block indentation.
	Indent = "    "

	// DefaultClockStepDelay is the delay after each poke.
	DefaultClockStepDelay = 5

	// halfPeriod is the delay before each clock toggle.
	halfPeriod = 5

	fileIndex = "__i"
)

// Lowerer translates actions into procedural statements. Declarations it
// needs are appended to the shared accumulator. A Lowerer serves a single
// compile pass.
type Lowerer struct {
	decls          *Declarations
	clockStepDelay int
	loops          map[string]bool
	files          map[string]int // buffer name -> chunk size
}

func NewLowerer(decls *Declarations, clockStepDelay int) *Lowerer {
	if clockStepDelay <= 0 {
		clockStepDelay = DefaultClockStepDelay
	}
	return &Lowerer{
		decls:          decls,
		clockStepDelay: clockStepDelay,
		loops:          make(map[string]bool),
		files:          make(map[string]int),
	}
}

// Lower returns the statements for action a recorded at index i.
func (l *Lowerer) Lower(i int, a actions.Action) ([]string, error) {
	switch act := a.(type) {
	case actions.Var:
		return l.lowerVar(act)
	case actions.Poke:
		return l.lowerPoke(act)
	case actions.Expect:
		return l.lowerExpect(i, act)
	case actions.Eval:
		// the simulator evaluates continuously
		return nil, nil
	case actions.Step:
		return l.lowerStep(act), nil
	case actions.Print:
		return l.lowerPrint(act), nil
	case actions.Loop:
		return l.lowerLoop(i, act)
	case actions.While:
		return l.lowerWhile(i, act)
	case actions.If:
		return l.lowerIf(i, act)
	case actions.FileOpen:
		return l.lowerFileOpen(act)
	case actions.FileClose:
		return []string{fmt.Sprintf("$fclose(%s);", act.File.HandleName())}, nil
	case actions.FileRead:
		return l.lowerFileRead(act)
	case actions.FileWrite:
		return l.lowerFileWrite(act)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
}

// lowerBlock lowers children one indentation level deeper.
func (l *Lowerer) lowerBlock(i int, children []actions.Action) ([]string, error) {
	var code []string
	for _, child := range children {
		inner, err := l.Lower(i, child)
		if err != nil {
			return nil, err
		}
		for _, line := range inner {
			code = append(code, Indent+line)
		}
	}
	return code, nil
}

func (l *Lowerer) lowerVar(v actions.Var) ([]string, error) {
	if !v.Type.IsBitVector() {
		return nil, fmt.Errorf("%w: variable %s", ErrUnsupportedDeclType, v.Name)
	}
	l.decls.Add(fmt.Sprintf("reg [%d:0] %s;", v.Type.BitWidth()-1, Name(v.Name)))
	return nil, nil
}

func (l *Lowerer) lowerPoke(p actions.Poke) ([]string, error) {
	if p.Value == nil || actions.IsAny(p.Value) {
		return nil, fmt.Errorf("%w: cannot poke %v into %s", ErrUnsupportedValueType, p.Value, debugName(p.Port))
	}
	name := ResolveName(p.Port)
	value := ResolveValue(p.Port, p.Value)
	return []string{
		fmt.Sprintf("%s = %s;", name, value),
		fmt.Sprintf("#%d;", l.clockStepDelay),
	}, nil
}

func (l *Lowerer) lowerExpect(i int, e actions.Expect) ([]string, error) {
	if actions.IsAny(e.Value) {
		return nil, nil
	}
	if e.Value == nil {
		return nil, fmt.Errorf("%w: missing expected value for %s", ErrUnsupportedValueType, debugName(e.Port))
	}

	name := ResolveName(e.Port)
	if wire, ok := shadowWire(e.Port); ok {
		name = wire
	}
	value := ResolveValue(e.Port, e.Value)

	msg := fmt.Sprintf("Failed on action=%d checking port %s.", i, formatSafe(debugName(e.Port)))
	var cond, args string
	if e.Exact() {
		if e.Strict {
			cond = name + " !== " + value
		} else {
			cond = name + " != " + value
		}
		msg += " Expected %x, got %x"
		args = value + ", " + name
	} else {
		// the relative band is taken from |nominal| so that negative
		// nominals keep lo <= hi
		nom := "(" + value + ")"
		abs := "((" + nom + " >= 0) ? " + nom + " : -" + nom + ")"
		rel := "(" + formatFloat(e.RelTol) + ")"
		absTol := "(" + formatFloat(e.AbsTol) + ")"
		lo := "(" + nom + " - " + rel + "*" + abs + " - " + absTol + ")"
		hi := "(" + nom + " + " + rel + "*" + abs + " + " + absTol + ")"
		cond = "!((" + lo + " <= " + name + ") && (" + name + " <= " + hi + "))"
		msg += " Expected %0f to %0f, got %0f"
		args = lo + ", " + hi + ", " + name
	}
	return []string{
		"if (" + cond + ") begin",
		Indent + "$error(" + quote(msg) + ", " + args + ");",
		"end",
	}, nil
}

// formatSafe keeps literal text from being read as format directives.
func formatSafe(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

func (l *Lowerer) lowerStep(s actions.Step) []string {
	name := Name(s.Clock.Name)
	code := make([]string, 0, s.Steps)
	for n := 0; n < s.Steps; n++ {
		code = append(code, fmt.Sprintf("#%d %s ^= 1;", halfPeriod, name))
	}
	return code
}

func (l *Lowerer) lowerPrint(p actions.Print) []string {
	var b strings.Builder
	b.WriteString("$write(")
	b.WriteString(quote(p.Format))
	for _, port := range p.Ports {
		b.WriteString(", ")
		b.WriteString(ResolveName(port))
	}
	b.WriteString(");")
	return []string{b.String()}
}

func (l *Lowerer) lowerLoop(i int, loop actions.Loop) ([]string, error) {
	if l.loops[loop.LoopVar] {
		return nil, fmt.Errorf("%w: %s", ErrLoopVarCollision, loop.LoopVar)
	}
	v := Name(loop.LoopVar)
	l.decls.AddOnce("integer " + v + ";")

	l.loops[loop.LoopVar] = true
	body, err := l.lowerBlock(i, loop.Actions)
	delete(l.loops, loop.LoopVar)
	if err != nil {
		return nil, err
	}

	code := []string{fmt.Sprintf("for (%s = 0; %s < %d; %s++) begin", v, v, loop.N, v)}
	code = append(code, body...)
	return append(code, "end"), nil
}

func (l *Lowerer) lowerWhile(i int, w actions.While) ([]string, error) {
	body, err := l.lowerBlock(i, w.Actions)
	if err != nil {
		return nil, err
	}
	code := []string{"while (" + CompileExpr(w.Cond) + ") begin"}
	code = append(code, body...)
	return append(code, "end"), nil
}

func (l *Lowerer) lowerIf(i int, cond actions.If) ([]string, error) {
	then, err := l.lowerBlock(i, cond.Then)
	if err != nil {
		return nil, err
	}
	code := []string{"if (" + CompileExpr(cond.Cond) + ") begin"}
	code = append(code, then...)
	code = append(code, "end")
	if len(cond.Else) == 0 {
		return code, nil
	}

	otherwise, err := l.lowerBlock(i, cond.Else)
	if err != nil {
		return nil, err
	}
	code[len(code)-1] += " else begin"
	code = append(code, otherwise...)
	return append(code, "end"), nil
}

// shadowWire returns the wire that carries the DUT side of a top-level
// inout port. Expects on such ports read the wire, not the register.
func shadowWire(ref circuit.PortRef) (string, bool) {
	t := ref.PortType()
	if t == nil || t.Dir != circuit.InOut {
		return "", false
	}
	switch p := ref.(type) {
	case circuit.Port:
		return InputWire(p.Name), true
	case circuit.SelectPath:
		if p.Len() == 2 {
			return InputWire(p.Leaf()), true
		}
	}
	return "", false
}

func checkFile(f *actions.File) error {
	if f == nil {
		return fmt.Errorf("%w: missing file", ErrInvalidFile)
	}
	if f.Mode != actions.ModeRead && f.Mode != actions.ModeWrite {
		return fmt.Errorf("%w: %q for %s", ErrUnsupportedFileMode, f.Mode, f.Name)
	}
	if f.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size %d for %s", ErrInvalidFile, f.ChunkSize, f.Name)
	}
	switch f.Endianness {
	case "", actions.BigEndian, actions.LittleEndian:
	default:
		return fmt.Errorf("%w: endianness %q for %s", ErrInvalidFile, f.Endianness, f.Name)
	}
	return nil
}

func (l *Lowerer) lowerFileOpen(op actions.FileOpen) ([]string, error) {
	if err := checkFile(op.File); err != nil {
		return nil, err
	}
	f := op.File
	buf := f.BufferName()
	if size, ok := l.files[buf]; ok && size != f.ChunkSize {
		return nil, fmt.Errorf("%w: %s reopened with chunk size %d, declared with %d", ErrInvalidFile, f.Name, f.ChunkSize, size)
	}
	l.files[buf] = f.ChunkSize
	handle := f.HandleName()
	l.decls.AddOnce(fmt.Sprintf("reg [%d:0] %s;", f.ChunkSize*8-1, f.BufferName()))
	l.decls.AddOnce("integer " + handle + ";")
	return []string{
		fmt.Sprintf("%s = $fopen(%s, %s);", handle, quote(f.Name), quote(f.Mode)),
		fmt.Sprintf("if (!%s) $error(%s, %s);", handle, quote(formatSafe("Could not open file "+f.Name)+": %0d"), handle),
	}, nil
}

// byteLoop is the header of the loop visiting each byte of a chunk, most
// significant first for big-endian files.
func byteLoop(f *actions.File) string {
	if f.Endianness == actions.BigEndian {
		return fmt.Sprintf("for (%s = %d; %s >= 0; %s--) begin", fileIndex, f.ChunkSize-1, fileIndex, fileIndex)
	}
	return fmt.Sprintf("for (%s = 0; %s < %d; %s++) begin", fileIndex, fileIndex, f.ChunkSize, fileIndex)
}

func (l *Lowerer) lowerFileRead(r actions.FileRead) ([]string, error) {
	if err := checkFile(r.File); err != nil {
		return nil, err
	}
	l.decls.AddOnce("integer " + fileIndex + ";")
	buf := r.File.BufferName()
	return []string{
		buf + " = 0;",
		byteLoop(r.File),
		fmt.Sprintf("%s%s |= $fgetc(%s) << (8 * %s);", Indent, buf, r.File.HandleName(), fileIndex),
		"end",
	}, nil
}

func (l *Lowerer) lowerFileWrite(w actions.FileWrite) ([]string, error) {
	if err := checkFile(w.File); err != nil {
		return nil, err
	}
	if w.Value == nil {
		return nil, fmt.Errorf("%w: nothing to write to %s", ErrUnsupportedValueType, w.File.Name)
	}
	l.decls.AddOnce("integer " + fileIndex + ";")
	value := ResolveName(w.Value)
	return []string{
		byteLoop(w.File),
		fmt.Sprintf(`%s$fwrite(%s, "%%c", (%s >> (8 * %s)) & %d'hFF);`, Indent, w.File.HandleName(), value, fileIndex, w.File.ChunkSize*8),
		"end",
	}, nil
}
