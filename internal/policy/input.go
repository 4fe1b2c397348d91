package policy

import (
	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
)

// Input is the data structure passed to OPA
type Input struct {
	Circuit string   `json:"circuit"`
	Clock   string   `json:"clock,omitempty"`
	Ports   []Port   `json:"ports"`
	Actions []Action `json:"actions"`
}

type Port struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	Kind      string `json:"kind"`
	Width     int    `json:"width"`
}

// Action is one recorded action, flattened out of its enclosing blocks.
type Action struct {
	Seq       int    `json:"seq"`
	Index     int    `json:"index"`
	Depth     int    `json:"depth"`
	Kind      string `json:"kind"`
	Port      string `json:"port,omitempty"`
	Direction string `json:"direction,omitempty"`
	PortKind  string `json:"port_kind,omitempty"`
	File      string `json:"file,omitempty"`
	Mode      string `json:"mode,omitempty"`
	N         *int   `json:"n,omitempty"`
	Tolerance bool   `json:"tolerance,omitempty"`
}

// NewInput flattens acts in program order. Block actions precede their
// bodies; an If's then branch precedes its else branch.
func NewInput(circ *circuit.Circuit, clock string, acts []actions.Action) Input {
	in := Input{Clock: clock, Ports: []Port{}, Actions: []Action{}}
	if circ != nil {
		in.Circuit = circ.Name
		for _, p := range circ.Ports {
			in.Ports = append(in.Ports, Port{
				Name:      p.Name,
				Direction: direction(p.Type),
				Kind:      kind(p.Type),
				Width:     width(p.Type),
			})
		}
	}
	f := flattener{input: &in}
	for i, a := range acts {
		f.walk(i, 0, a)
	}
	return in
}

type flattener struct {
	input *Input
}

func (f *flattener) walk(index, depth int, a actions.Action) {
	rec := Action{Seq: len(f.input.Actions), Index: index, Depth: depth, Kind: a.Kind()}
	var children [][]actions.Action

	switch act := a.(type) {
	case actions.Poke:
		setPort(&rec, act.Port)
	case actions.Expect:
		setPort(&rec, act.Port)
		rec.Tolerance = !act.Exact()
	case actions.Step:
		setPort(&rec, act.Clock)
	case actions.Loop:
		n := act.N
		rec.N = &n
		children = append(children, act.Actions)
	case actions.While:
		children = append(children, act.Actions)
	case actions.If:
		children = append(children, act.Then, act.Else)
	case actions.FileOpen:
		setFile(&rec, act.File)
	case actions.FileClose:
		setFile(&rec, act.File)
	case actions.FileRead:
		setFile(&rec, act.File)
	case actions.FileWrite:
		setFile(&rec, act.File)
		if act.Value != nil {
			rec.Port = portName(act.Value)
		}
	}

	f.input.Actions = append(f.input.Actions, rec)
	for _, body := range children {
		for _, child := range body {
			f.walk(index, depth+1, child)
		}
	}
}

func setPort(rec *Action, ref circuit.PortRef) {
	if ref == nil {
		return
	}
	rec.Port = portName(ref)
	rec.Direction = direction(ref.PortType())
	rec.PortKind = kind(ref.PortType())
}

func setFile(rec *Action, f *actions.File) {
	if f == nil {
		return
	}
	rec.File = f.Name
	rec.Mode = f.Mode
}

func portName(ref circuit.PortRef) string {
	switch p := ref.(type) {
	case circuit.Port:
		return p.Name
	case circuit.SelectPath:
		return p.Path()
	case circuit.InternalPort:
		return p.Path
	}
	return ""
}

func direction(t *circuit.Type) string {
	if t == nil {
		return "unknown"
	}
	return t.Direction().String()
}

func kind(t *circuit.Type) string {
	if t == nil {
		return "unknown"
	}
	return t.Kind.String()
}

func width(t *circuit.Type) int {
	if t == nil || !t.IsLeaf() {
		return 0
	}
	return t.BitWidth()
}
