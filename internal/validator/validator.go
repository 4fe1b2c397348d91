package validator

// =============================================================================
// CRASH EARLY, CRASH LOUD
// =============================================================================
//
// The CUE schemas are the contract at every boundary where loosely typed data
// enters or leaves tbgen: the JSON config, YAML suites, the OPA input and the
// JSON run report.
//
// Without validation a misspelled config key is ignored, a suite action with
// a typo decodes to nothing, and a renamed OPA input field makes a rule stop
// firing. With validation the failure names the offending field.
//
// When validation fails, fix the document or the producer. Do not loosen the
// schema to make an error go away.
// =============================================================================

import (
	"embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed config_schema.cue suite_schema.cue policy_schema.cue report_schema.cue
var schemaFS embed.FS

// Validator checks documents against one definition of an embedded schema.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
	def    string
	what   string
}

func newValidator(file, def, what string) (*Validator, error) {
	ctx := cuecontext.New()

	schemaBytes, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading embedded %s schema: %w", what, err)
	}

	schema := ctx.CompileBytes(schemaBytes, cue.Filename(file))
	if schema.Err() != nil {
		return nil, fmt.Errorf("compiling %s schema: %w", what, schema.Err())
	}
	if d := schema.LookupPath(cue.ParsePath(def)); d.Err() != nil {
		return nil, fmt.Errorf("looking up %s definition: %w", def, d.Err())
	}

	return &Validator{
		ctx:    ctx,
		schema: schema,
		def:    def,
		what:   what,
	}, nil
}

// NewConfigValidator validates tbgen.json documents against #Config.
func NewConfigValidator() (*Validator, error) {
	return newValidator("config_schema.cue", "#Config", "config")
}

// NewSuiteValidator validates decoded suite documents against #Suite.
func NewSuiteValidator() (*Validator, error) {
	return newValidator("suite_schema.cue", "#Suite", "suite")
}

// NewPolicyInputValidator validates the OPA input against #PolicyInput.
func NewPolicyInputValidator() (*Validator, error) {
	return newValidator("policy_schema.cue", "#PolicyInput", "policy input")
}

// NewReportValidator validates run reports against #RunReport.
func NewReportValidator() (*Validator, error) {
	return newValidator("report_schema.cue", "#RunReport", "report")
}

// Validate marshals data to JSON and checks it against the definition.
// Required fields must be present. Returns nil if valid, or a detailed error
// explaining what failed.
func (v *Validator) Validate(data interface{}) error {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s to JSON: %w", v.what, err)
	}
	return v.ValidateJSON(jsonBytes)
}

// ValidateJSON validates JSON bytes directly against the definition.
func (v *Validator) ValidateJSON(jsonBytes []byte) error {
	unified, err := v.unify(jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", v.what, err)
	}
	return nil
}

func (v *Validator) unify(jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling %s as CUE: %w", v.what, dataValue.Err())
	}

	def := v.schema.LookupPath(cue.ParsePath(v.def))
	if def.Err() != nil {
		return cue.Value{}, fmt.Errorf("looking up %s definition: %w", v.def, def.Err())
	}

	return def.Unify(dataValue), nil
}

// ValidationErrors returns one message per validation error, or nil.
func (v *Validator) ValidationErrors(data interface{}) []string {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return []string{fmt.Sprintf("marshal error: %v", err)}
	}

	unified, err := v.unify(jsonBytes)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, e.Error())
	}
	return errs
}
