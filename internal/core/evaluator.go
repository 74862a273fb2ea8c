package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type dimensionKind int

const (
	dimensionPercentage dimensionKind = iota
	dimensionRandomPercentage
	dimensionSetting
	dimensionContext
)

type dimension struct {
	name      string
	kind      dimensionKind
	threshold float64
	setting   string
	condition Condition
}

type preparedClause struct {
	value      any
	dimensions []dimension
	template   *Template
}

// PreparedEntry is an entry whose conditions have been classified and whose
// templates have been compiled. It is immutable.
type PreparedEntry struct {
	Entry
	clauses []preparedClause
}

// Prepare classifies every clause dimension of entry and compiles its
// templates. Dimensions are ordered percentage, randomPercentage, setting,
// then context dimensions by name.
func Prepare(entry Entry) *PreparedEntry {
	prepared := &PreparedEntry{
		Entry:   entry,
		clauses: make([]preparedClause, 0, len(entry.Except)),
	}
	for _, clause := range entry.Except {
		prepared.clauses = append(prepared.clauses, prepareClause(clause))
	}

	return prepared
}

func prepareClause(clause Clause) preparedClause {
	names := make([]string, 0, len(clause.Conditions))
	for name := range clause.Conditions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		left, right := dimensionRank(names[i]), dimensionRank(names[j])
		if left != right {
			return left < right
		}
		return names[i] < names[j]
	})

	prepared := preparedClause{
		value:      clause.Value,
		dimensions: make([]dimension, 0, len(names)),
	}
	declared := make([]string, 0, len(names))
	for _, name := range names {
		raw := clause.Conditions[name]
		switch name {
		case KeyPercentage:
			prepared.dimensions = append(prepared.dimensions, dimension{name: name, kind: dimensionPercentage, threshold: threshold(raw)})
		case KeyRandomPercentage:
			prepared.dimensions = append(prepared.dimensions, dimension{name: name, kind: dimensionRandomPercentage, threshold: threshold(raw)})
		case KeySetting:
			prepared.dimensions = append(prepared.dimensions, dimension{name: name, kind: dimensionSetting, setting: Stringify(raw)})
		default:
			prepared.dimensions = append(prepared.dimensions, dimension{name: name, kind: dimensionContext, condition: ParseCondition(raw)})
			declared = append(declared, name)
		}
	}

	prepared.template, _ = CompileTemplate(clause.Value, declared)

	return prepared
}

func dimensionRank(name string) int {
	switch name {
	case KeyPercentage:
		return 0
	case KeyRandomPercentage:
		return 1
	case KeySetting:
		return 2
	default:
		return 3
	}
}

// threshold reads a percentage threshold. Anything that is not a number or a
// numeric string never matches.
func threshold(raw any) float64 {
	if n, ok := asNumber(raw); ok {
		return n
	}
	if text, ok := raw.(string); ok {
		if n, ok := parseNumericString(text); ok {
			return n
		}
	}

	return math.NaN()
}

// Snapshot is an immutable, prepared entry list. Holders replace it
// wholesale; it is never mutated in place.
type Snapshot struct {
	entries []*PreparedEntry
}

// NewSnapshot prepares entries in order.
func NewSnapshot(entries []Entry) *Snapshot {
	snapshot := &Snapshot{entries: make([]*PreparedEntry, 0, len(entries))}
	for _, entry := range entries {
		snapshot.entries = append(snapshot.entries, Prepare(entry))
	}

	return snapshot
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns the entries as loaded.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}

	entries := make([]Entry, 0, len(s.entries))
	for _, prepared := range s.entries {
		entries = append(entries, prepared.Entry)
	}

	return entries
}

// Evaluator resolves prepared entries. It holds no per-resolution state and is
// safe for concurrent use.
type Evaluator struct {
	evaluators Evaluators
	random     RandomSource
}

// Option configures an [Evaluator].
type Option func(*Evaluator)

// WithEvaluators registers custom evaluators.
func WithEvaluators(evaluators Evaluators) Option {
	return func(e *Evaluator) {
		e.evaluators = evaluators
	}
}

// WithRandomSource replaces the source used by randomPercentage dimensions.
func WithRandomSource(random RandomSource) Option {
	return func(e *Evaluator) {
		if random != nil {
			e.random = random
		}
	}
}

// NewEvaluator builds an evaluator. It fails if a custom evaluator has an
// empty name or a nil function.
func NewEvaluator(opts ...Option) (*Evaluator, error) {
	e := &Evaluator{random: defaultRandom}
	for _, opt := range opts {
		opt(e)
	}

	if err := ValidateEvaluators(e.evaluators); err != nil {
		return nil, err
	}

	return e, nil
}

// ValidateEvaluators checks that every custom evaluator is callable.
func ValidateEvaluators(evaluators Evaluators) error {
	for name, fn := range evaluators {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: empty evaluator name", ErrInvalidEvaluator)
		}
		if fn == nil {
			return fmt.Errorf("%w: property %s is not a function", ErrInvalidEvaluator, name)
		}
	}

	return nil
}

// Evaluate resolves a single entry. Overrides win outright; otherwise the
// first clause whose dimensions all hold supplies the value, and the entry
// default is used when none does.
func (e *Evaluator) Evaluate(entry *PreparedEntry, ctx Context, overrides Overrides, answers Answers) (Answer, error) {
	if override, ok := overrides[entry.Setting]; ok && override != nil {
		return Answer{Key: entry.Setting, Value: CoerceToDeclaredKind(entry.Value, override)}, nil
	}

	for i, clause := range entry.clauses {
		matched, err := e.matchClause(clause, ctx, answers)
		if err != nil {
			return Answer{}, fmt.Errorf("setting %q except[%d]: %w", entry.Setting, i, err)
		}
		if !matched {
			continue
		}

		value := clause.value
		if clause.template != nil {
			value = clause.template.Render(ctx)
		}

		return Answer{Key: entry.Setting, Value: CoerceToDeclaredKind(entry.Value, value)}, nil
	}

	return Answer{Key: entry.Setting, Value: entry.Value}, nil
}

func (e *Evaluator) matchClause(clause preparedClause, ctx Context, answers Answers) (bool, error) {
	for _, d := range clause.dimensions {
		matched, err := e.matchDimension(d, ctx, answers)
		if err != nil {
			return false, fmt.Errorf("dimension %q: %w", d.name, err)
		}
		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func (e *Evaluator) matchDimension(d dimension, ctx Context, answers Answers) (bool, error) {
	switch d.kind {
	case dimensionPercentage:
		seed, ok := ctx.Lookup(KeyPercentageSeed)
		if !ok {
			return false, ErrMissingPercentageSeed
		}
		bucket, err := Bucket(seed)
		if err != nil {
			return false, err
		}
		return float64(bucket) < d.threshold, nil
	case dimensionRandomPercentage:
		return e.random.Float64()*bucketCount < d.threshold, nil
	case dimensionSetting:
		enabled, ok := answers[d.setting].(bool)
		return ok && enabled, nil
	default:
		value, _ := ctx.Lookup(d.name)
		return d.condition.Evaluate(value, e.evaluators)
	}
}

// Resolve runs one forward pass over snapshot. Each entry sees the answers of
// the entries before it; the first entry to resolve a setting name wins. Any
// error aborts the whole pass.
func (e *Evaluator) Resolve(snapshot *Snapshot, ctx Context, overrides Overrides) (Resolution, error) {
	size := snapshot.Len()
	resolution := Resolution{
		Answers:       make(Answers, size),
		Labels:        make(map[string][]string, size),
		LabelResolved: make(map[string]map[string]any),
	}
	if snapshot == nil {
		return resolution, nil
	}

	for _, entry := range snapshot.entries {
		answer, err := e.Evaluate(entry, ctx, overrides, resolution.Answers)
		if err != nil {
			return Resolution{}, err
		}
		if answer.Key == "" {
			continue
		}
		if _, resolved := resolution.Answers[answer.Key]; resolved {
			continue
		}

		resolution.Answers[answer.Key] = answer.Value

		labels := make([]string, len(entry.Labels))
		copy(labels, entry.Labels)
		resolution.Labels[answer.Key] = labels

		for _, label := range labels {
			byLabel, ok := resolution.LabelResolved[label]
			if !ok {
				byLabel = make(map[string]any)
				resolution.LabelResolved[label] = byLabel
			}
			byLabel[answer.Key] = answer.Value
		}
	}

	return resolution, nil
}
