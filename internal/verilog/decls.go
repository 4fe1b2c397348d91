package verilog

import "strings"

// Declarations accumulates signal and variable declarations in the order
// they are produced during one compile pass.
type Declarations struct {
	lines []string
	seen  map[string]struct{}
}

func NewDeclarations() *Declarations {
	return &Declarations{seen: make(map[string]struct{})}
}

// Add appends decls unconditionally.
func (d *Declarations) Add(decls ...string) {
	for _, decl := range decls {
		d.lines = append(d.lines, decl)
		d.seen[decl] = struct{}{}
	}
}

// AddOnce appends decl unless an identical declaration is already present.
// It reports whether decl was added.
func (d *Declarations) AddOnce(decl string) bool {
	if d.Has(decl) {
		return false
	}
	d.Add(decl)
	return true
}

func (d *Declarations) Has(decl string) bool {
	_, ok := d.seen[decl]
	return ok
}

func (d *Declarations) Len() int { return len(d.lines) }

// Lines returns a copy of the declarations.
func (d *Declarations) Lines() []string {
	return append([]string(nil), d.lines...)
}

// Render returns the declarations one per line, each indented by indent.
func (d *Declarations) Render(indent string) string {
	var b strings.Builder
	for i, line := range d.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(indent)
		b.WriteString(line)
	}
	return b.String()
}
