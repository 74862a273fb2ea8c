// Package loader reads setting entries from YAML or JSON documents, derives
// overrides from the environment and validates entry lists before they are
// handed to an engine.
package loader

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/matt-riley/cerebro/internal/core"
	"github.com/matt-riley/cerebro/internal/engine"
)

var (
	ErrEmptyDocument = errors.New("settings document is empty")
	ErrInvalidEntry  = errors.New("invalid settings entry")
)

// LoadFile reads and decodes a settings file.
func LoadFile(path string) ([]core.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file %q: %w", path, err)
	}

	entries, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse settings file %q: %w", path, err)
	}

	return entries, nil
}

// LoadEngine reads a settings file into a ready engine.
func LoadEngine(path string, opts ...engine.Option) (*engine.Engine, error) {
	entries, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	return engine.New(entries, opts...)
}

// Parse decodes a YAML or JSON document holding a list of entries.
func Parse(data []byte) ([]core.Entry, error) {
	document, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	return Decode(document)
}

// ParseDocument decodes data into plain maps and slices with string keys.
func ParseDocument(data []byte) (any, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if document == nil {
		return nil, ErrEmptyDocument
	}

	return normalize(document), nil
}

// normalize converts yaml's map[any]any into map[string]any recursively.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalize(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalize(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}
		return v
	default:
		return value
	}
}

// Decode turns a normalised document into entries.
func Decode(document any) ([]core.Entry, error) {
	list, ok := document.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: document must be a list, got %T", ErrInvalidEntry, document)
	}

	entries := make([]core.Entry, 0, len(list))
	for i, item := range list {
		entry, err := decodeEntry(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeEntry(item any) (core.Entry, error) {
	object, ok := item.(map[string]any)
	if !ok {
		return core.Entry{}, fmt.Errorf("%w: expected an object, got %T", ErrInvalidEntry, item)
	}

	setting, ok := object["setting"].(string)
	if !ok || setting == "" {
		return core.Entry{}, fmt.Errorf("%w: missing setting name", ErrInvalidEntry)
	}

	entry := core.Entry{Setting: setting, Value: object["value"]}

	if raw, present := object["except"]; present && raw != nil {
		clauses, ok := raw.([]any)
		if !ok {
			return core.Entry{}, fmt.Errorf("%w: %s: except must be a list", ErrInvalidEntry, setting)
		}
		entry.Except = make([]core.Clause, 0, len(clauses))
		for i, rawClause := range clauses {
			flat, ok := rawClause.(map[string]any)
			if !ok {
				return core.Entry{}, fmt.Errorf("%w: %s: except[%d] must be an object", ErrInvalidEntry, setting, i)
			}
			entry.Except = append(entry.Except, core.ClauseFromMap(flat))
		}
	}

	if raw, present := object["labels"]; present && raw != nil {
		labels, ok := raw.([]any)
		if !ok {
			return core.Entry{}, fmt.Errorf("%w: %s: labels must be a list", ErrInvalidEntry, setting)
		}
		entry.Labels = make([]string, 0, len(labels))
		for _, label := range labels {
			text, ok := label.(string)
			if !ok {
				return core.Entry{}, fmt.Errorf("%w: %s: label %v is not a string", ErrInvalidEntry, setting, label)
			}
			entry.Labels = append(entry.Labels, text)
		}
	}

	return entry, nil
}
