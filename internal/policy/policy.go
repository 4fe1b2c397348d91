package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/robert-at-pretension-io/tbgen/internal/validator"
)

//go:embed checks.rego
var builtinChecks string

// Severity levels used by the checks.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Engine evaluates OPA policies against recorded action sequences
type Engine struct {
	queries   map[string]rego.PreparedEvalQuery
	validator *validator.Validator
}

// Violation represents a policy violation
type Violation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Action   int    `json:"action"`
	Seq      int    `json:"-"`
}

// Result contains the evaluation results
type Result struct {
	Violations []Violation
	Summary    Summary
}

// HasErrors reports whether any violation has error severity.
func (r *Result) HasErrors() bool {
	return r.Summary.Errors > 0
}

// Summary provides aggregate counts
type Summary struct {
	TotalViolations int `json:"total_violations"`
	Errors          int `json:"errors"`
	Warnings        int `json:"warnings"`
	Info            int `json:"info"`
}

// New creates a policy engine from the built-in checks plus every .rego file
// in policyDir. An empty policyDir loads the built-in checks only. Extra
// files add rules to package tbgen.checks.
func New(policyDir string) (*Engine, error) {
	v, err := validator.NewPolicyInputValidator()
	if err != nil {
		return nil, err
	}
	engine := &Engine{
		queries:   make(map[string]rego.PreparedEvalQuery),
		validator: v,
	}

	modules := []func(*rego.Rego){rego.Module("checks.rego", builtinChecks)}
	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, fmt.Errorf("finding policy files: %w", err)
		}
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f, err)
			}
			modules = append(modules, rego.Module(f, string(content)))
		}
	}

	for name, q := range map[string]string{
		"violations": "data.tbgen.checks.all_violations",
		"summary":    "data.tbgen.checks.summary",
	} {
		opts := append(append([]func(*rego.Rego){}, modules...), rego.Query(q))
		query, err := rego.New(opts...).PrepareForEval(context.Background())
		if err != nil {
			return nil, fmt.Errorf("preparing %s query: %w", name, err)
		}
		engine.queries[name] = query
	}

	return engine, nil
}

// Evaluate runs the policies against the input data. Violations are ordered
// by their position in the flattened action list.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	if err := e.validator.Validate(input); err != nil {
		return nil, err
	}

	inputMap, err := structToMap(input)
	if err != nil {
		return nil, fmt.Errorf("converting input: %w", err)
	}

	result := &Result{}

	rs, err := e.queries["violations"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating violations: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		violations, ok := rs[0].Expressions[0].Value.([]interface{})
		if ok {
			for _, v := range violations {
				vmap, ok := v.(map[string]interface{})
				if !ok {
					continue
				}
				result.Violations = append(result.Violations, Violation{
					Rule:     getString(vmap, "rule"),
					Severity: getString(vmap, "severity"),
					Message:  getString(vmap, "message"),
					Action:   getInt(vmap, "action"),
					Seq:      getInt(vmap, "seq"),
				})
			}
		}
	}
	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.Rule < b.Rule
	})

	rs, err = e.queries["summary"].Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		return nil, fmt.Errorf("evaluating summary: %w", err)
	}

	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		smap, ok := rs[0].Expressions[0].Value.(map[string]interface{})
		if ok {
			result.Summary = Summary{
				TotalViolations: getInt(smap, "total_violations"),
				Errors:          getInt(smap, "errors"),
				Warnings:        getInt(smap, "warnings"),
				Info:            getInt(smap, "info"),
			}
		}
	}

	return result, nil
}

// Helper functions
func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	err = json.Unmarshal(data, &result)
	return result, err
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getInt(m map[string]interface{}, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		case json.Number:
			i, _ := n.Int64()
			return int(i)
		}
	}
	return 0
}
