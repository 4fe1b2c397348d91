package circuit

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction is the direction of a port as seen from the device under test.
type Direction int

const (
	In Direction = iota
	Out
	InOut
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	}
	return "unknown"
}

// ParseDirection accepts "in", "out" and "inout".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "input":
		return In, nil
	case "out", "output":
		return Out, nil
	case "inout":
		return InOut, nil
	}
	return 0, fmt.Errorf("unknown port direction %q", s)
}

// Kind is the shape of a port type.
type Kind int

const (
	KindBit Kind = iota
	KindClock
	KindBits
	KindArray
	KindTuple
	KindReal
)

func (k Kind) String() string {
	switch k {
	case KindBit:
		return "bit"
	case KindClock:
		return "clock"
	case KindBits:
		return "bits"
	case KindArray:
		return "array"
	case KindTuple:
		return "tuple"
	case KindReal:
		return "real"
	}
	return "unknown"
}

// Type describes a port's shape. Leaf types carry their own direction;
// aggregates take it from their elements.
type Type struct {
	Kind   Kind
	Dir    Direction
	Width  int  // KindBits only
	Signed bool // KindBits only
	Len    int  // KindArray only
	Elem   *Type
	Fields []Field // KindTuple only
}

// Field is a named member of a tuple type.
type Field struct {
	Key  string
	Type *Type
}

func Bit(dir Direction) *Type { return &Type{Kind: KindBit, Dir: dir} }
func Clock() *Type { return &Type{Kind: KindClock, Dir: In} }
func Real(dir Direction) *Type { return &Type{Kind: KindReal, Dir: dir} }
func Bits(width int, dir Direction) *Type {
	return &Type{Kind: KindBits, Width: width, Dir: dir}
}
func SInt(width int, dir Direction) *Type {
	return &Type{Kind: KindBits, Width: width, Signed: true, Dir: dir}
}
func Array(n int, elem *Type) *Type {
	return &Type{Kind: KindArray, Len: n, Elem: elem, Dir: elem.Dir}
}
func Tuple(fields ...Field) *Type {
	return &Type{Kind: KindTuple, Fields: fields}
}

// IsBitVector reports whether the type is a packed vector of bits: either a
// Bits type or an array whose elements are single bits.
func (t *Type) IsBitVector() bool {
	if t == nil {
		return false
	}
	return t.Kind == KindBits || (t.Kind == KindArray && t.Elem.isBit())
}

func (t *Type) isBit() bool {
	return t != nil && (t.Kind == KindBit || t.Kind == KindClock)
}

// IsLeaf reports whether the type binds to a single testbench signal.
func (t *Type) IsLeaf() bool {
	return t.isBit() || t.Kind == KindReal || t.IsBitVector()
}

// BitWidth returns the packed width of a leaf type, 0 for reals and
// unpacked aggregates.
func (t *Type) BitWidth() int {
	switch {
	case t.isBit():
		return 1
	case t.Kind == KindBits:
		return t.Width
	case t.IsBitVector():
		return t.Len
	}
	return 0
}

// Direction of a leaf, or of the first element of an aggregate.
func (t *Type) Direction() Direction {
	if t.Kind == KindArray && !t.IsBitVector() {
		return t.Elem.Direction()
	}
	if t.Kind == KindTuple && len(t.Fields) > 0 {
		return t.Fields[0].Type.Direction()
	}
	return t.Dir
}

// IsSigned reports whether negative constants should be reinterpreted as
// two's complement at the port's width.
func (t *Type) IsSigned() bool {
	return t != nil && t.Kind == KindBits && t.Signed
}

// Leaves returns the number of scalar leaves reachable from t.
func (t *Type) Leaves() int {
	switch {
	case t.IsLeaf():
		return 1
	case t.Kind == KindArray:
		return t.Len * t.Elem.Leaves()
	case t.Kind == KindTuple:
		n := 0
		for _, f := range t.Fields {
			n += f.Type.Leaves()
		}
		return n
	}
	return 0
}

// PortRef identifies a signal targeted by an action: a top-level Port, a
// SelectPath or an InternalPort.
type PortRef interface {
	PortType() *Type
	portRef()
}

// Port is a top-level port of the circuit, or a flattened element of one.
type Port struct {
	Name string
	Type *Type
}

func (p Port) PortType() *Type { return p.Type }
func (Port) portRef() {}

// Elem returns element i of an array port. Elements of a bit vector are
// not addressable separately.
func (p Port) Elem(i int) (Port, error) {
	if p.Type == nil || p.Type.Kind != KindArray || p.Type.IsBitVector() {
		return Port{}, fmt.Errorf("port %s is not an array of aggregates", p.Name)
	}
	if i < 0 || i >= p.Type.Len {
		return Port{}, fmt.Errorf("index %d out of range for %s[%d]", i, p.Name, p.Type.Len)
	}
	return Port{Name: p.Name + "_" + strconv.Itoa(i), Type: p.Type.Elem}, nil
}

// Field returns the named member of a tuple port.
func (p Port) Field(key string) (Port, error) {
	if p.Type == nil || p.Type.Kind != KindTuple {
		return Port{}, fmt.Errorf("port %s is not a tuple", p.Name)
	}
	for _, f := range p.Type.Fields {
		if f.Key == key {
			return Port{Name: p.Name + "_" + key, Type: f.Type}, nil
		}
	}
	return Port{}, fmt.Errorf("tuple %s has no field %q", p.Name, key)
}

// SelectPath addresses a port through the instance hierarchy. The first
// segment names the top circuit, the last one the leaf port. A path of
// length 2 is a top-level port.
type SelectPath struct {
	segments []string
	leaf     *Type
}

// NewSelectPath builds a path from the top circuit name through instance
// names to the leaf port.
func NewSelectPath(leaf Port, top string, instances ...string) SelectPath {
	segs := make([]string, 0, len(instances)+2)
	segs = append(segs, top)
	segs = append(segs, instances...)
	segs = append(segs, leaf.Name)
	return SelectPath{segments: segs, leaf: leaf.Type}
}

func (s SelectPath) PortType() *Type { return s.leaf }
func (SelectPath) portRef() {}

func (s SelectPath) Len() int { return len(s.segments) }

// Leaf is the name of the addressed port.
func (s SelectPath) Leaf() string {
	if len(s.segments) == 0 {
		return ""
	}
	return s.segments[len(s.segments)-1]
}

// Path is the dotted path below the top circuit, e.g. "inst.sub.O".
func (s SelectPath) Path() string {
	if len(s.segments) < 2 {
		return s.Leaf()
	}
	return strings.Join(s.segments[1:], ".")
}

// Segments returns a copy of the path segments.
func (s SelectPath) Segments() []string {
	return append([]string(nil), s.segments...)
}

// InternalPort is a signal inside the device under test addressed by an
// explicit dotted path, bypassing hierarchy resolution.
type InternalPort struct {
	Path string
	Type *Type
}

func (p InternalPort) PortType() *Type { return p.Type }
func (InternalPort) portRef() {}

// Circuit is the port interface of the device under test. Ports keep
// their declaration order.
type Circuit struct {
	Name  string
	Ports []Port
}

// Port looks up a top-level port by name.
func (c *Circuit) Port(name string) (Port, bool) {
	for _, p := range c.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Lookup resolves references of the form NAME, NAME[i] and NAME.field,
// possibly chained, e.g. "A[1].x".
func (c *Circuit) Lookup(ref string) (Port, error) {
	head, rest := splitRef(ref)
	p, ok := c.Port(head)
	if !ok {
		return Port{}, fmt.Errorf("circuit %s has no port %q", c.Name, head)
	}
	for rest != "" {
		var err error
		switch rest[0] {
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return Port{}, fmt.Errorf("unterminated index in %q", ref)
			}
			i, convErr := strconv.Atoi(rest[1:end])
			if convErr != nil {
				return Port{}, fmt.Errorf("bad index in %q: %w", ref, convErr)
			}
			p, err = p.Elem(i)
			rest = rest[end+1:]
		case '.':
			var key string
			key, rest = splitRef(rest[1:])
			p, err = p.Field(key)
		default:
			return Port{}, fmt.Errorf("malformed port reference %q", ref)
		}
		if err != nil {
			return Port{}, err
		}
	}
	return p, nil
}

func splitRef(s string) (string, string) {
	i := strings.IndexAny(s, "[.")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}
