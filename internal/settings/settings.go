// Package settings wraps a resolution with typed, read-only accessors and a
// JSON form that can be shipped to another process and rehydrated there.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/matt-riley/cerebro/internal/core"
)

var (
	ErrNotBoolean   = errors.New("setting is not a boolean")
	ErrBoolean      = errors.New("setting is a boolean")
	ErrEmptyValue   = errors.New("setting is empty, null or undefined")
	ErrTypeMismatch = errors.New("setting has a different type")
	ErrMissingState = errors.New("dehydrated config has no resolved settings")
)

// Config is the resolved view of every setting for one context.
type Config struct {
	resolved      map[string]any
	labels        map[string][]string
	labelResolved map[string]map[string]any
}

type dehydrated struct {
	Resolved      map[string]any            `json:"_resolved"`
	Labels        map[string][]string       `json:"_labels"`
	LabelResolved map[string]map[string]any `json:"_labelResolved"`
}

// New wraps a resolution. Missing label maps are treated as empty.
func New(resolution core.Resolution) *Config {
	config := &Config{
		resolved:      resolution.Answers,
		labels:        resolution.Labels,
		labelResolved: resolution.LabelResolved,
	}
	if config.resolved == nil {
		config.resolved = map[string]any{}
	}
	if config.labels == nil {
		config.labels = map[string][]string{}
	}
	if config.labelResolved == nil {
		config.labelResolved = map[string]map[string]any{}
	}

	return config
}

// IsEnabled returns a boolean setting. ok is false when the setting does not
// exist; ErrNotBoolean is returned for any other type.
func (c *Config) IsEnabled(name string) (enabled bool, ok bool, err error) {
	value, exists := c.resolved[name]
	if !exists || value == nil {
		return false, false, nil
	}

	enabled, isBool := value.(bool)
	if !isBool {
		return false, true, fmt.Errorf("%w: %s is a %T, use Value instead", ErrNotBoolean, name, value)
	}

	return enabled, true, nil
}

// Value returns a non-boolean setting. ok is false when the setting does not
// exist; ErrBoolean is returned for booleans.
func (c *Config) Value(name string) (any, bool, error) {
	value, exists := c.resolved[name]
	if !exists || value == nil {
		return nil, false, nil
	}
	if _, isBool := value.(bool); isBool {
		return nil, true, fmt.Errorf("%w: %s, use IsEnabled instead", ErrBoolean, name)
	}

	return value, true, nil
}

// AssertValue is Value for settings that must be present and non-empty.
func (c *Config) AssertValue(name string) (any, error) {
	value, ok, err := c.Value(name)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyValue, name)
	}

	return value, nil
}

// RawValue returns the setting without any checks.
func (c *Config) RawValue(name string) any {
	return c.resolved[name]
}

// Raw returns every resolved setting. Callers must not modify it.
func (c *Config) Raw() map[string]any {
	return c.resolved
}

// Labels maps each setting to its labels; unlabelled settings map to an empty
// slice.
func (c *Config) Labels() map[string][]string {
	return c.labels
}

// ForLabel returns the settings tagged with label, or nil when no setting
// carries it.
func (c *Config) ForLabel(label string) map[string]any {
	return c.labelResolved[label]
}

// ValueForLabel returns one setting under label.
func (c *Config) ValueForLabel(label, name string) (any, bool) {
	value, ok := c.labelResolved[label][name]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

// Int returns a whole-number setting.
func (c *Config) Int(name string) (int64, bool, error) {
	value, ok, err := c.Value(name)
	if err != nil || !ok {
		return 0, ok, err
	}

	switch n := value.(type) {
	case int:
		return int64(n), true, nil
	case int32:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true, nil
		}
	case json.Number:
		if parsed, err := n.Int64(); err == nil {
			return parsed, true, nil
		}
	}

	return 0, true, mismatch(name, "integer", value)
}

// Float returns a numeric setting.
func (c *Config) Float(name string) (float64, bool, error) {
	value, ok, err := c.Value(name)
	if err != nil || !ok {
		return 0, ok, err
	}

	switch n := value.(type) {
	case float64:
		return n, true, nil
	case float32:
		return float64(n), true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case json.Number:
		if parsed, err := n.Float64(); err == nil {
			return parsed, true, nil
		}
	}

	return 0, true, mismatch(name, "number", value)
}

// String returns a string setting.
func (c *Config) String(name string) (string, bool, error) {
	value, ok, err := c.Value(name)
	if err != nil || !ok {
		return "", ok, err
	}

	text, isString := value.(string)
	if !isString {
		return "", true, mismatch(name, "string", value)
	}

	return text, true, nil
}

// Slice returns a list setting.
func (c *Config) Slice(name string) ([]any, bool, error) {
	value, ok, err := c.Value(name)
	if err != nil || !ok {
		return nil, ok, err
	}

	switch list := value.(type) {
	case []any:
		return list, true, nil
	case []string:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item
		}
		return out, true, nil
	}

	return nil, true, mismatch(name, "list", value)
}

// Object returns an object setting.
func (c *Config) Object(name string) (map[string]any, bool, error) {
	value, ok, err := c.Value(name)
	if err != nil || !ok {
		return nil, ok, err
	}

	object, isObject := value.(map[string]any)
	if !isObject {
		return nil, true, mismatch(name, "object", value)
	}

	return object, true, nil
}

func mismatch(name, want string, value any) error {
	return fmt.Errorf("%w: %s is a %T, not a %s", ErrTypeMismatch, name, value, want)
}

// Dehydrate serialises the config for [Rehydrate].
func (c *Config) Dehydrate() ([]byte, error) {
	encoded, err := json.Marshal(dehydrated{
		Resolved:      c.resolved,
		Labels:        c.labels,
		LabelResolved: c.labelResolved,
	})
	if err != nil {
		return nil, fmt.Errorf("dehydrate config: %w", err)
	}

	return encoded, nil
}

// Rehydrate rebuilds a config produced by [Config.Dehydrate].
func Rehydrate(data []byte) (*Config, error) {
	var state dehydrated
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("rehydrate config: %w", err)
	}
	if state.Resolved == nil {
		return nil, ErrMissingState
	}

	return New(core.Resolution{
		Answers:       state.Resolved,
		Labels:        state.Labels,
		LabelResolved: state.LabelResolved,
	}), nil
}
