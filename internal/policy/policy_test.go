package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

func testCircuit() *circuit.Circuit {
	return &circuit.Circuit{
		Name: "dut",
		Ports: []circuit.Port{
			{Name: "CLK", Type: circuit.Clock()},
			{Name: "I", Type: circuit.Bits(4, circuit.In)},
			{Name: "O", Type: circuit.Bits(4, circuit.Out)},
			{Name: "V", Type: circuit.Real(circuit.Out)},
			{Name: "SLOW", Type: circuit.Bit(circuit.Out)},
		},
	}
}

func port(c *circuit.Circuit, name string) circuit.Port {
	p, ok := c.Port(name)
	if !ok {
		panic("no port " + name)
	}
	return p
}

func evaluate(t *testing.T, acts ...actions.Action) *Result {
	t.Helper()
	engine, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := testCircuit()
	result, err := engine.Evaluate(context.Background(), NewInput(c, "CLK", acts))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return result
}

func rules(r *Result) []string {
	var out []string
	for _, v := range r.Violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestCleanSequence(t *testing.T) {
	c := testCircuit()
	f := &actions.File{Name: "in.raw", Mode: actions.ModeRead, ChunkSize: 1, Endianness: actions.BigEndian}
	result := evaluate(t,
		actions.Poke{Port: port(c, "I"), Value: actions.BV(4, 3)},
		actions.Eval{},
		actions.Expect{Port: port(c, "O"), Value: actions.BV(4, 3)},
		actions.Expect{Port: port(c, "V"), Value: actions.Float(1.5), AbsTol: 0.1},
		actions.Step{Clock: port(c, "CLK"), Steps: 2},
		actions.FileOpen{File: f},
		actions.Loop{LoopVar: "__loop_var_0", N: 2, Actions: []actions.Action{
			actions.FileRead{File: f},
			actions.Poke{Port: port(c, "I"), Value: actions.FileRead{File: f}},
		}},
		actions.FileClose{File: f},
	)
	if len(result.Violations) != 0 {
		t.Fatalf("expected no violations, got %+v", result.Violations)
	}
	if result.HasErrors() {
		t.Fatalf("HasErrors on clean sequence")
	}
}

func TestRules(t *testing.T) {
	c := testCircuit()
	rf := &actions.File{Name: "in.raw", Mode: actions.ModeRead, ChunkSize: 1}
	wf := &actions.File{Name: "out.raw", Mode: actions.ModeWrite, ChunkSize: 1}

	tests := []struct {
		name     string
		acts     []actions.Action
		rule     string
		severity string
	}{
		{
			name:     "poke_output",
			acts:     []actions.Action{actions.Poke{Port: port(c, "O"), Value: actions.BV(4, 1)}},
			rule:     "poke_output",
			severity: SeverityError,
		},
		{
			name:     "step_on_output",
			acts:     []actions.Action{actions.Step{Clock: port(c, "SLOW"), Steps: 1}},
			rule:     "clock_direction",
			severity: SeverityError,
		},
		{
			name:     "read_before_open",
			acts:     []actions.Action{actions.FileRead{File: rf}, actions.FileOpen{File: rf}},
			rule:     "file_not_open",
			severity: SeverityError,
		},
		{
			name:     "write_after_close",
			acts:     []actions.Action{actions.FileOpen{File: wf}, actions.FileClose{File: wf}, actions.FileWrite{File: wf, Value: port(c, "O")}},
			rule:     "file_not_open",
			severity: SeverityError,
		},
		{
			name: "read_from_write_file",
			acts: []actions.Action{
				actions.FileOpen{File: wf},
				actions.FileRead{File: wf},
				actions.FileClose{File: wf},
			},
			rule:     "file_mode",
			severity: SeverityError,
		},
		{
			name:     "empty_loop",
			acts:     []actions.Action{actions.Loop{LoopVar: "__loop_var_0", N: 0}},
			rule:     "empty_loop",
			severity: SeverityWarning,
		},
		{
			name:     "tolerance_on_bits",
			acts:     []actions.Action{actions.Expect{Port: port(c, "O"), Value: actions.BV(4, 1), RelTol: 0.5}},
			rule:     "tolerance_on_bits",
			severity: SeverityInfo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := evaluate(t, tt.acts...)
			if len(result.Violations) != 1 {
				t.Fatalf("expected one violation, got %v", rules(result))
			}
			v := result.Violations[0]
			if v.Rule != tt.rule || v.Severity != tt.severity {
				t.Fatalf("got %s/%s, want %s/%s", v.Rule, v.Severity, tt.rule, tt.severity)
			}
			if result.Summary.TotalViolations != 1 {
				t.Fatalf("summary total = %d", result.Summary.TotalViolations)
			}
			if got := result.HasErrors(); got != (tt.severity == SeverityError) {
				t.Fatalf("HasErrors = %v", got)
			}
		})
	}
}

func TestNestedViolationPointsToTopLevelAction(t *testing.T) {
	c := testCircuit()
	result := evaluate(t,
		actions.Eval{},
		actions.If{
			Cond: actions.Binary(actions.Peek{Port: port(c, "O")}, actions.OpEq, actions.Const(0)),
			Then: []actions.Action{actions.Eval{}},
			Else: []actions.Action{actions.Poke{Port: port(c, "O"), Value: actions.BV(4, 1)}},
		},
	)
	if len(result.Violations) != 1 {
		t.Fatalf("expected one violation, got %v", rules(result))
	}
	v := result.Violations[0]
	if v.Action != 1 {
		t.Fatalf("action index = %d, want 1", v.Action)
	}
	if v.Seq != 3 {
		t.Fatalf("seq = %d, want 3", v.Seq)
	}
}

func TestViolationsOrderedBySequence(t *testing.T) {
	c := testCircuit()
	result := evaluate(t,
		actions.Loop{LoopVar: "__loop_var_0", N: 0},
		actions.Poke{Port: port(c, "O"), Value: actions.BV(4, 1)},
		actions.Poke{Port: port(c, "V"), Value: actions.Float(1)},
	)
	got := rules(result)
	want := []string{"empty_loop", "poke_output", "poke_output"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if result.Summary.Errors != 2 || result.Summary.Warnings != 1 {
		t.Fatalf("summary = %+v", result.Summary)
	}
}

func TestCustomPolicyDir(t *testing.T) {
	dir := t.TempDir()
	custom := `package tbgen.checks

import rego.v1

violations contains v if {
	some a in input.actions
	a.kind == "print"
	v := violation(a, "no_print", "warning", "print in testbench")
}
`
	if err := os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	engine, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := NewInput(testCircuit(), "CLK", []actions.Action{actions.Print{Format: "hi\n"}})
	result, err := engine.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Rule != "no_print" {
		t.Fatalf("got %v", rules(result))
	}
}

func TestNewInputFlattening(t *testing.T) {
	c := testCircuit()
	in := NewInput(c, "CLK", []actions.Action{
		actions.Loop{LoopVar: "__loop_var_0", N: 3, Actions: []actions.Action{
			actions.Expect{Port: port(c, "V"), Value: actions.Float(0), AbsTol: 0.5},
		}},
		actions.Expect{Port: circuit.InternalPort{Path: "dut.u0.q"}, Value: actions.BV(1, 0)},
	})

	if len(in.Ports) != 5 || in.Ports[1].Width != 4 || in.Ports[0].Kind != "clock" {
		t.Fatalf("unexpected ports %+v", in.Ports)
	}
	if len(in.Actions) != 3 {
		t.Fatalf("expected 3 flattened actions, got %d", len(in.Actions))
	}
	loop, body, internal := in.Actions[0], in.Actions[1], in.Actions[2]
	if loop.N == nil || *loop.N != 3 {
		t.Fatalf("loop n not recorded: %+v", loop)
	}
	if body.Depth != 1 || body.Index != 0 || !body.Tolerance || body.PortKind != "real" {
		t.Fatalf("unexpected body %+v", body)
	}
	if internal.Port != "dut.u0.q" || internal.Direction != "unknown" || internal.Index != 1 {
		t.Fatalf("unexpected internal expect %+v", internal)
	}
}

func TestEvaluateRejectsInvalidInput(t *testing.T) {
	engine, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := Input{Circuit: "dut", Ports: []Port{}, Actions: []Action{{Kind: "wiggle"}}}
	if _, err := engine.Evaluate(context.Background(), in); err == nil {
		t.Fatalf("expected validation error for unknown action kind")
	}
}
