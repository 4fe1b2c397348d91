package suite

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
	"github.com/robert-at-pretension-io/tbgen/internal/tester"
)

func parseCircuit(m map[string]any) (*circuit.Circuit, error) {
	c := &circuit.Circuit{Name: getString(m, "name")}
	for i, raw := range asList(m["ports"]) {
		pm := asMap(raw)
		typ, err := parseType(pm)
		if err != nil {
			return nil, fmt.Errorf("circuit.ports[%d]: %w", i, err)
		}
		c.Ports = append(c.Ports, circuit.Port{Name: getString(pm, "name"), Type: typ})
	}
	return c, nil
}

func parseType(m map[string]any) (*circuit.Type, error) {
	dir := circuit.In
	if d := getString(m, "dir"); d != "" {
		var err error
		if dir, err = circuit.ParseDirection(d); err != nil {
			return nil, err
		}
	}
	width := getInt(m, "width", 1)

	switch kind := getString(m, "kind"); kind {
	case "bit":
		return circuit.Bit(dir), nil
	case "clock":
		return circuit.Clock(), nil
	case "real":
		return circuit.Real(dir), nil
	case "bits":
		if getBool(m, "signed") {
			return circuit.SInt(width, dir), nil
		}
		return circuit.Bits(width, dir), nil
	case "sint":
		return circuit.SInt(width, dir), nil
	case "array":
		elem, err := parseType(asMap(m["elem"]))
		if err != nil {
			return nil, fmt.Errorf("elem: %w", err)
		}
		return circuit.Array(getInt(m, "len", 1), elem), nil
	case "tuple":
		var fields []circuit.Field
		for i, raw := range asList(m["fields"]) {
			fm := asMap(raw)
			ft, err := parseType(fm)
			if err != nil {
				return nil, fmt.Errorf("fields[%d]: %w", i, err)
			}
			fields = append(fields, circuit.Field{Key: getString(fm, "name"), Type: ft})
		}
		return circuit.Tuple(fields...), nil
	default:
		return nil, fmt.Errorf("unknown port kind %q", kind)
	}
}

// positionError locates a decode failure within the suite document.
type positionError struct {
	at  string
	err error
}

func (e *positionError) Error() string { return e.at + ": " + e.err.Error() }
func (e *positionError) Unwrap() error { return e.err }

// builder records decoded actions. Files are looked up by name in the most
// recent file_open; vars by the name they were declared with.
type builder struct {
	circ  *circuit.Circuit
	files map[string]*actions.File
	vars  map[string]actions.Var
}

func (b *builder) record(t *tester.Tester, list []any, where string) error {
	for i, raw := range list {
		m := asMap(raw)
		for key, body := range m {
			at := fmt.Sprintf("%s[%d].%s", where, i, key)
			if err := b.action(t, key, asMap(body), at); err != nil {
				var pe *positionError
				if errors.As(err, &pe) {
					return err
				}
				return &positionError{at: at, err: err}
			}
		}
	}
	return nil
}

func (b *builder) action(t *tester.Tester, key string, m map[string]any, at string) error {
	switch key {
	case "poke":
		port, err := b.portRef(m["port"])
		if err != nil {
			return err
		}
		v, err := b.value(m["value"])
		if err != nil {
			return err
		}
		t.Poke(port, v)

	case "expect":
		port, err := b.portRef(m["port"])
		if err != nil {
			return err
		}
		v, err := b.value(m["value"])
		if err != nil {
			return err
		}
		var opts []tester.ExpectOption
		if getBool(m, "strict") {
			opts = append(opts, tester.Strict())
		}
		if tol, ok := getFloat(m, "abs_tol"); ok {
			opts = append(opts, tester.AbsTol(tol))
		}
		if tol, ok := getFloat(m, "rel_tol"); ok {
			opts = append(opts, tester.RelTol(tol))
		}
		t.Expect(port, v, opts...)

	case "eval":
		t.Eval()

	case "step":
		return t.Step(getInt(m, "steps", 1))

	case "print":
		var ports []circuit.PortRef
		for _, raw := range asList(m["ports"]) {
			p, err := b.portRef(raw)
			if err != nil {
				return err
			}
			ports = append(ports, p)
		}
		t.Print(getString(m, "format"), ports...)

	case "var":
		name := getString(m, "name")
		if _, dup := b.vars[name]; dup {
			return fmt.Errorf("variable %s declared twice", name)
		}
		typ := circuit.Bits(getInt(m, "width", 1), circuit.In)
		if getBool(m, "signed") {
			typ = circuit.SInt(typ.Width, circuit.In)
		}
		b.vars[name] = t.Var(name, typ)

	case "loop":
		return b.record(t.Loop(getInt(m, "n", 0)), asList(m["actions"]), at+".actions")

	case "while":
		cond, err := b.expr(m["cond"])
		if err != nil {
			return fmt.Errorf("cond: %w", err)
		}
		return b.record(t.While(cond), asList(m["actions"]), at+".actions")

	case "if":
		cond, err := b.expr(m["cond"])
		if err != nil {
			return fmt.Errorf("cond: %w", err)
		}
		it := t.If(cond)
		if err := b.record(it.Tester, asList(m["then"]), at+".then"); err != nil {
			return err
		}
		if els, ok := m["else"]; ok {
			return b.record(it.Else(), asList(els), at+".else")
		}

	case "file_open":
		endianness := getString(m, "endianness")
		if endianness == "" {
			endianness = actions.LittleEndian
		}
		name := getString(m, "name")
		b.files[name] = t.FileOpen(name, getString(m, "mode"), getInt(m, "chunk_size", 1), endianness)

	case "file_close":
		f, err := b.file(m)
		if err != nil {
			return err
		}
		t.FileClose(f)

	case "file_read":
		f, err := b.file(m)
		if err != nil {
			return err
		}
		t.FileRead(f)

	case "file_write":
		f, err := b.file(m)
		if err != nil {
			return err
		}
		port, err := b.portRef(m["port"])
		if err != nil {
			return err
		}
		t.FileWrite(f, port)

	default:
		return fmt.Errorf("unknown action %q", key)
	}
	return nil
}

func (b *builder) file(m map[string]any) (*actions.File, error) {
	name := getString(m, "name")
	f, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("file %s used before file_open", name)
	}
	return f, nil
}

// portRef resolves NAME, NAME[i], NAME.field or an internal {path} mapping.
func (b *builder) portRef(raw any) (circuit.PortRef, error) {
	switch r := raw.(type) {
	case string:
		return b.circ.Lookup(r)
	case map[string]any:
		p := circuit.InternalPort{Path: getString(r, "path")}
		if _, ok := r["width"]; !ok {
			return p, nil
		}
		dir := circuit.Out
		if d := getString(r, "dir"); d != "" {
			var err error
			if dir, err = circuit.ParseDirection(d); err != nil {
				return nil, err
			}
		}
		if getBool(r, "signed") {
			p.Type = circuit.SInt(getInt(r, "width", 1), dir)
		} else {
			p.Type = circuit.Bits(getInt(r, "width", 1), dir)
		}
		return p, nil
	}
	return nil, fmt.Errorf("bad port reference %v", raw)
}

func (b *builder) value(raw any) (actions.Value, error) {
	switch v := raw.(type) {
	case string:
		switch strings.ToLower(v) {
		case "x":
			return actions.Unknown, nil
		case "z":
			return actions.HiZ, nil
		case "any":
			return actions.Any, nil
		}
		return nil, fmt.Errorf("unknown value %q", v)
	case float64:
		return actions.Float(v), nil
	case map[string]any:
		if ref, ok := v["peek"]; ok {
			p, err := b.portRef(ref)
			if err != nil {
				return nil, err
			}
			return actions.Peek{Port: p}, nil
		}
		if _, ok := v["read"]; ok {
			f, err := b.file(map[string]any{"name": v["read"]})
			if err != nil {
				return nil, err
			}
			return actions.FileRead{File: f}, nil
		}
	}
	if n, ok := toInt64(raw); ok {
		return actions.Int(n), nil
	}

	e, err := b.expr(raw)
	if err != nil {
		return nil, err
	}
	val, ok := e.(actions.Value)
	if !ok {
		return nil, fmt.Errorf("expression %v cannot be used as a value", raw)
	}
	return val, nil
}

func (b *builder) expr(raw any) (actions.Expr, error) {
	if n, ok := toInt64(raw); ok {
		return actions.Const(n), nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("bad expression %v", raw)
	}

	if op, ok := m["op"]; ok {
		opStr, _ := op.(string)
		if operand, ok := m["operand"]; ok {
			x, err := b.expr(operand)
			if err != nil {
				return nil, err
			}
			return actions.Unary(opStr, x), nil
		}
		l, err := b.expr(m["left"])
		if err != nil {
			return nil, fmt.Errorf("left: %w", err)
		}
		r, err := b.expr(m["right"])
		if err != nil {
			return nil, fmt.Errorf("right: %w", err)
		}
		return actions.Binary(l, opStr, r), nil
	}
	if ref, ok := m["port"]; ok {
		p, err := b.portRef(ref)
		if err != nil {
			return nil, err
		}
		return actions.Peek{Port: p}, nil
	}
	if path, ok := m["signal"].(string); ok {
		return signal(b.circ, path), nil
	}
	if name, ok := m["var"].(string); ok {
		v, ok := b.vars[name]
		if !ok {
			return nil, fmt.Errorf("undeclared variable %s", name)
		}
		return v, nil
	}
	if c, ok := m["const"]; ok {
		n, ok := toInt64(c)
		if !ok {
			return nil, fmt.Errorf("bad constant %v", c)
		}
		return actions.Const(n), nil
	}
	return nil, fmt.Errorf("bad expression %v", raw)
}

// signal addresses "inst.sub.port" below the circuit.
func signal(c *circuit.Circuit, path string) actions.Signal {
	segs := strings.Split(path, ".")
	leaf := circuit.Port{Name: segs[len(segs)-1]}
	return actions.Signal{Path: circuit.NewSelectPath(leaf, c.Name, segs[:len(segs)-1]...)}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func getString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func getInt(m map[string]any, key string, def int) int {
	if n, ok := toInt64(m[key]); ok {
		return int(n)
	}
	return def
}

func getFloat(m map[string]any, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}
