// Package suite loads YAML testbench suites: a circuit's ports together
// with the actions to record against it.
package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robert-at-pretension-io/tbgen/internal/actions"
	"github.com/robert-at-pretension-io/tbgen/internal/circuit"
	"github.com/robert-at-pretension-io/tbgen/internal/tester"
	"github.com/robert-at-pretension-io/tbgen/internal/validator"
)

// Suite is a decoded suite file.
type Suite struct {
	// Name defaults to the circuit name.
	Name    string
	File    string
	Circuit *circuit.Circuit
	Clock   string
	Actions []actions.Action
}

// LoadFile reads and decodes the suite at path.
func LoadFile(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.File = path
	return s, nil
}

// Parse decodes a suite document. The document is checked against the suite
// schema before any action is recorded, so structural mistakes are reported
// by field rather than as decode failures.
func Parse(data []byte) (*Suite, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing suite YAML: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("empty suite document")
	}

	v, err := validator.NewSuiteValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Validate(raw); err != nil {
		return nil, err
	}

	circ, err := parseCircuit(asMap(raw["circuit"]))
	if err != nil {
		return nil, err
	}

	s := &Suite{Name: getString(raw, "name"), Circuit: circ, Clock: getString(raw, "clock")}
	if s.Name == "" {
		s.Name = circ.Name
	}

	var clock *circuit.Port
	if s.Clock != "" {
		p, err := circ.Lookup(s.Clock)
		if err != nil {
			return nil, fmt.Errorf("clock: %w", err)
		}
		clock = &p
	}
	t, err := tester.New(circ, clock)
	if err != nil {
		return nil, err
	}

	b := &builder{
		circ:  circ,
		files: make(map[string]*actions.File),
		vars:  make(map[string]actions.Var),
	}
	if err := b.record(t, asList(raw["actions"]), "actions"); err != nil {
		return nil, err
	}
	s.Actions = t.Actions()
	return s, nil
}

// Discover expands args into suite files. Directories contribute their
// *.yaml and *.yml files in name order; other arguments are taken as files.
func Discover(args []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("suite %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading suite directory: %w", err)
		}
		var found []string
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	return files, nil
}
