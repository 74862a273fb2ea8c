// Package core implements the setting resolution engine: condition matching,
// template interpolation, per-entry evaluation and the ordered resolution pass
// that turns a list of setting entries into one resolved value per setting.
package core

import (
	"encoding/json"
	"fmt"
)

// Reserved keys inside an exception clause and the evaluation context.
const (
	KeyValue            = "value"
	KeyPercentage       = "percentage"
	KeyRandomPercentage = "randomPercentage"
	KeySetting          = "setting"
	KeyPercentageSeed   = "percentageSeed"
	KeyEvaluator        = "evaluator"
	KeyDimensionValue   = "dimensionValue"
)

// Entry is a single setting: a default value plus ordered exception clauses.
type Entry struct {
	Setting string   `json:"setting"`
	Value   any      `json:"value"`
	Except  []Clause `json:"except,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

// Clause is one exception block. Value is used when every condition holds.
// Conditions maps a dimension name to its condition value and includes the
// reserved percentage, randomPercentage and setting dimensions.
type Clause struct {
	Value      any
	Conditions map[string]any
}

// MarshalJSON writes the clause in its flat wire form.
func (c Clause) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(c.Conditions)+1)
	for name, condition := range c.Conditions {
		flat[name] = condition
	}
	flat[KeyValue] = c.Value

	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat clause object.
func (c *Clause) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("decode clause: %w", err)
	}
	if flat == nil {
		return fmt.Errorf("decode clause: expected an object")
	}

	*c = ClauseFromMap(flat)
	return nil
}

// ClauseFromMap splits a flat clause object into its value and conditions.
func ClauseFromMap(flat map[string]any) Clause {
	clause := Clause{Conditions: make(map[string]any, len(flat))}
	for name, raw := range flat {
		if name == KeyValue {
			clause.Value = raw
			continue
		}
		clause.Conditions[name] = raw
	}

	return clause
}

// Context holds the caller-supplied facts for one resolution. A missing key
// and a nil value are both treated as undefined.
type Context map[string]any

// Lookup returns the context value for name and whether it is defined.
func (c Context) Lookup(name string) (any, bool) {
	value, ok := c[name]
	if !ok || value == nil {
		return nil, false
	}

	return value, true
}

// Overrides forces resolved values, bypassing rule evaluation. A nil value
// means the setting is not overridden.
type Overrides map[string]any

// Answers accumulates resolved values during one resolution pass.
type Answers map[string]any

// EvaluatorFunc is a caller-supplied condition. Its result is coerced with
// [Truthy].
type EvaluatorFunc func(dimensionValue, contextValue any) any

// Evaluators maps custom evaluator names to their functions.
type Evaluators map[string]EvaluatorFunc

// Answer is the resolved value of a single entry.
type Answer struct {
	Key   string
	Value any
}

// Resolution is the output of one resolution pass.
type Resolution struct {
	Answers       Answers                   `json:"answers"`
	Labels        map[string][]string       `json:"labels"`
	LabelResolved map[string]map[string]any `json:"labelResolved"`
}
