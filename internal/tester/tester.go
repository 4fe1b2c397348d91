// Package tester records test actions against a circuit's ports in the
// order they are issued.
package tester

import (
	"errors"
	"fmt"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// ErrNoClock is returned by Step when the tester was created without a
// clock.
var ErrNoClock = errors.New("stepping tester without a clock (did you specify a clock during initialization?)")

// Tester accumulates actions. Nested testers returned by Loop, While and If
// record the bodies of those blocks; the enclosing action is assembled from
// them whenever Actions is called.
type Tester struct {
	Circuit *circuit.Circuit
	clock   *circuit.Port
	items   []func() actions.Action

	// loops is shared by all testers under one root
	loops *int
}

// New creates a tester for circ. clock may be nil for purely
// combinational circuits; otherwise it must be a clock port.
func New(circ *circuit.Circuit, clock *circuit.Port) (*Tester, error) {
	if clock != nil && (clock.Type == nil || clock.Type.Kind != circuit.KindClock) {
		return nil, fmt.Errorf("expected clock port, got %s (%v)", clock.Name, kindOf(clock.Type))
	}
	return &Tester{Circuit: circ, clock: clock, loops: new(int)}, nil
}

func kindOf(t *circuit.Type) string {
	if t == nil {
		return "untyped"
	}
	return t.Kind.String()
}

// Clock returns the tester's clock, if any.
func (t *Tester) Clock() (circuit.Port, bool) {
	if t.clock == nil {
		return circuit.Port{}, false
	}
	return *t.clock, true
}

// Actions returns the recorded actions in order.
func (t *Tester) Actions() []actions.Action {
	out := make([]actions.Action, 0, len(t.items))
	for _, item := range t.items {
		out = append(out, item())
	}
	return out
}

// Len is the number of top-level actions recorded so far.
func (t *Tester) Len() int { return len(t.items) }

// Clear drops all recorded actions.
func (t *Tester) Clear() {
	t.items = nil
}

func (t *Tester) add(a actions.Action) {
	t.items = append(t.items, func() actions.Action { return a })
}

func (t *Tester) sub() *Tester {
	return &Tester{Circuit: t.Circuit, clock: t.clock, loops: t.loops}
}

// makeValue converts plain integers to constants of the port's width.
func makeValue(port circuit.PortRef, v actions.Value) actions.Value {
	typ := port.PortType()
	if typ == nil {
		return v
	}
	switch val := v.(type) {
	case actions.Int:
		switch {
		case typ.Kind == circuit.KindReal:
			return actions.Float(val)
		case typ.IsLeaf():
			return actions.BV(typ.BitWidth(), int64(val))
		}
	case actions.Float:
		if typ.Kind != circuit.KindReal && typ.IsLeaf() {
			return actions.BV(typ.BitWidth(), int64(val))
		}
	}
	return v
}

func (t *Tester) Poke(port circuit.PortRef, v actions.Value) {
	t.add(actions.Poke{Port: port, Value: makeValue(port, v)})
}

// ExpectOption adjusts how an Expect compares.
type ExpectOption func(*actions.Expect)

// Strict makes an exact comparison also distinguish unknown and
// high-impedance bits.
func Strict() ExpectOption {
	return func(e *actions.Expect) { e.Strict = true }
}

func AbsTol(tol float64) ExpectOption {
	return func(e *actions.Expect) { e.AbsTol = tol }
}

func RelTol(tol float64) ExpectOption {
	return func(e *actions.Expect) { e.RelTol = tol }
}

func (t *Tester) Expect(port circuit.PortRef, v actions.Value, opts ...ExpectOption) {
	e := actions.Expect{Port: port, Value: makeValue(port, v)}
	for _, opt := range opts {
		opt(&e)
	}
	t.add(e)
}

func (t *Tester) Eval() {
	t.add(actions.Eval{})
}

// Step toggles the clock n times.
func (t *Tester) Step(n int) error {
	if t.clock == nil {
		return ErrNoClock
	}
	if n < 0 {
		return fmt.Errorf("negative step count %d", n)
	}
	t.add(actions.Step{Clock: *t.clock, Steps: n})
	return nil
}

func (t *Tester) Print(format string, ports ...circuit.PortRef) {
	t.add(actions.Print{Format: format, Ports: ports})
}

// Var declares a testbench variable and returns it for use in expressions.
func (t *Tester) Var(name string, typ *circuit.Type) actions.Var {
	v := actions.Var{Name: name, Type: typ}
	t.add(v)
	return v
}

// Loop records a counted loop and returns the tester for its body. Every
// loop gets a counter name unique within the root tester.
func (t *Tester) Loop(n int) *Tester {
	name := fmt.Sprintf("__loop_var_%d", *t.loops)
	*t.loops++
	body := t.sub()
	t.items = append(t.items, func() actions.Action {
		return actions.Loop{LoopVar: name, N: n, Actions: body.Actions()}
	})
	return body
}

// While records a loop guarded by cond and returns the tester for its body.
func (t *Tester) While(cond actions.Expr) *Tester {
	body := t.sub()
	t.items = append(t.items, func() actions.Action {
		return actions.While{Cond: cond, Actions: body.Actions()}
	})
	return body
}

// IfTester records the then branch of an If; Else opens the else branch.
type IfTester struct {
	*Tester
	parent *Tester
	els    *Tester
}

// If records a conditional and returns the tester for its then branch.
func (t *Tester) If(cond actions.Expr) *IfTester {
	it := &IfTester{Tester: t.sub(), parent: t}
	t.items = append(t.items, func() actions.Action {
		var els []actions.Action
		if it.els != nil {
			els = it.els.Actions()
		}
		return actions.If{Cond: cond, Then: it.Tester.Actions(), Else: els}
	})
	return it
}

// Else returns the tester for the else branch, creating it on first use.
func (it *IfTester) Else() *Tester {
	if it.els == nil {
		it.els = it.parent.sub()
	}
	return it.els
}

// FileOpen records opening a file and returns its descriptor for the
// other file actions.
func (t *Tester) FileOpen(name, mode string, chunkSize int, endianness string) *actions.File {
	f := &actions.File{Name: name, Mode: mode, ChunkSize: chunkSize, Endianness: endianness}
	t.add(actions.FileOpen{File: f})
	return f
}

func (t *Tester) FileClose(f *actions.File) {
	t.add(actions.FileClose{File: f})
}

// FileRead records reading one chunk and returns the read as a value that
// names the file's input buffer.
func (t *Tester) FileRead(f *actions.File) actions.FileRead {
	r := actions.FileRead{File: f}
	t.add(r)
	return r
}

func (t *Tester) FileWrite(f *actions.File, port circuit.PortRef) {
	t.add(actions.FileWrite{File: f, Value: port})
}
