package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/matt-riley/cerebro/internal/core"
)

//go:embed schema/settings.schema.json
var defaultSchema []byte

const schemaURL = "https://github.com/matt-riley/cerebro/schema/settings.schema.json"

// ErrInvalidConfig is returned by [Report.Err] for a failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// reservedKeywords may not be used as template variables.
var reservedKeywords = map[string]struct{}{
	core.KeyValue:            {},
	core.KeySetting:          {},
	core.KeyPercentage:       {},
	core.KeyRandomPercentage: {},
	core.KeyEvaluator:        {},
	"except":                 {},
	"labels":                 {},
}

// Problem is one validation failure.
type Problem struct {
	Setting string
	Path    string
	Message string
}

func (p Problem) Error() string {
	switch {
	case p.Setting != "":
		return fmt.Sprintf("setting %q: %s", p.Setting, p.Message)
	case p.Path != "":
		return fmt.Sprintf("at %s: %s", p.Path, p.Message)
	default:
		return p.Message
	}
}

// Report collects every problem found in a document.
type Report struct {
	Valid  bool
	Errors []Problem
}

// Err returns nil for a valid report and otherwise wraps ErrInvalidConfig
// with every problem, one per line.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}

	messages := make([]string, len(r.Errors))
	for i, problem := range r.Errors {
		messages[i] = problem.Error()
	}

	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(messages, "\n"))
}

func (r *Report) add(problems ...Problem) {
	r.Errors = append(r.Errors, problems...)
	r.Valid = len(r.Errors) == 0
}

// Validator checks a settings document against a JSON Schema and the
// template rules.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaData, or the built-in settings schema when
// schemaData is empty.
func NewValidator(schemaData []byte) (*Validator, error) {
	if len(bytes.TrimSpace(schemaData)) == 0 {
		schemaData = defaultSchema
	}

	schema, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// Validate checks a document as returned by [ParseDocument].
func (v *Validator) Validate(document any) Report {
	report := Report{Valid: true}

	instance, err := jsonInstance(document)
	if err != nil {
		report.add(Problem{Message: err.Error()})
		return report
	}

	if err := v.schema.Validate(instance); err != nil {
		report.add(schemaProblems(err)...)
	}

	entries, err := Decode(document)
	if err != nil {
		report.add(Problem{Message: err.Error()})
		return report
	}
	report.add(ValidateTemplates(entries)...)

	return report
}

// ValidateEntries checks already decoded entries.
func (v *Validator) ValidateEntries(entries []core.Entry) Report {
	encoded, err := json.Marshal(entries)
	if err != nil {
		return Report{Errors: []Problem{{Message: fmt.Sprintf("encode entries: %v", err)}}}
	}

	var document any
	if err := json.Unmarshal(encoded, &document); err != nil {
		return Report{Errors: []Problem{{Message: fmt.Sprintf("decode entries: %v", err)}}}
	}

	return v.Validate(document)
}

// jsonInstance re-reads document through the schema library's decoder so
// numbers have the representation it expects.
func jsonInstance(document any) (any, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	return instance, nil
}

func schemaProblems(err error) []Problem {
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return []Problem{{Message: fmt.Sprintf("schema validation: %v", err)}}
	}

	var problems []Problem
	var walk func(*jsonschema.ValidationError)
	walk = func(current *jsonschema.ValidationError) {
		if len(current.Causes) == 0 {
			problems = append(problems, Problem{
				Path:    "/" + strings.Join(current.InstanceLocation, "/"),
				Message: current.Error(),
			})
			return
		}
		for _, cause := range current.Causes {
			walk(cause)
		}
	}
	walk(validationErr)

	return problems
}

// ValidateTemplates applies the template rules: no template as a default
// value, at most one variable per clause value, and the variable must be a
// non-reserved dimension that the clause constrains.
func ValidateTemplates(entries []core.Entry) []Problem {
	var problems []Problem
	for _, entry := range entries {
		if core.IsTemplate(entry.Value) {
			problems = append(problems, Problem{Setting: entry.Setting, Message: "has template as toplevel value"})
		}

		for i, clause := range entry.Except {
			text, ok := clause.Value.(string)
			if !ok {
				continue
			}

			variables := core.TemplateVariables(text)
			switch len(variables) {
			case 0:
				continue
			case 1:
			default:
				problems = append(problems, Problem{
					Setting: entry.Setting,
					Message: fmt.Sprintf("except[%d] has more than one variable", i),
				})
				continue
			}

			variable := variables[0]
			if _, reserved := reservedKeywords[variable]; reserved {
				problems = append(problems, Problem{
					Setting: entry.Setting,
					Message: fmt.Sprintf("except[%d] uses reserved keyword as variable", i),
				})
			}
			if _, constrained := clause.Conditions[variable]; !constrained && variable != core.KeyValue {
				problems = append(problems, Problem{
					Setting: entry.Setting,
					Message: fmt.Sprintf("except[%d] doesn't have condition on variable", i),
				})
			}
		}
	}

	return problems
}
