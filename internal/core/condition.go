package core

import (
	"fmt"
	"regexp"
	"strconv"
)

// ConditionKind identifies the shape of a condition value.
type ConditionKind int

const (
	KindUnknown ConditionKind = iota
	KindEnumList
	KindPrimitive
	KindCustomEvaluator
)

func (k ConditionKind) String() string {
	switch k {
	case KindEnumList:
		return "enum"
	case KindPrimitive:
		return "primitive"
	case KindCustomEvaluator:
		return "evaluator"
	default:
		return "unknown"
	}
}

const (
	tokenAll  = "all"
	tokenNone = "none"
)

var rangePattern = regexp.MustCompile(`^(-?\d+)(\.\.\.|\.\.)(-?\d+)$`)

type elementKind int

const (
	elementLiteral elementKind = iota
	elementAll
	elementNone
	elementRange
)

type enumElement struct {
	kind    elementKind
	literal any
	bounds  numericRange
}

// numericRange is a parsed "a..b" or "a...b" range. The exclusive operator
// excludes the bound written last, so reversed ranges exclude their lower end.
type numericRange struct {
	min       float64
	max       float64
	end       float64
	exclusive bool
}

func (r numericRange) contains(value float64) bool {
	if value < r.min || value > r.max {
		return false
	}
	if r.exclusive && value == r.end {
		return false
	}
	return true
}

// Condition is a condition value classified once, when an entry is prepared.
type Condition struct {
	kind           ConditionKind
	raw            any
	elements       []enumElement
	evaluator      string
	dimensionValue any
}

// ParseCondition classifies a raw condition value. Values of an unknown shape
// are kept and fail with [ErrUnknownConditionType] when evaluated.
func ParseCondition(raw any) Condition {
	condition := Condition{raw: raw}

	if object, ok := raw.(map[string]any); ok {
		if name, ok := object[KeyEvaluator].(string); ok {
			condition.kind = KindCustomEvaluator
			condition.evaluator = name
			condition.dimensionValue = object[KeyDimensionValue]
		}
		return condition
	}

	switch raw.(type) {
	case nil:
		return condition
	case string, bool:
		condition.kind = KindPrimitive
		return condition
	}
	if isNumber(raw) {
		condition.kind = KindPrimitive
		return condition
	}

	if list, ok := asList(raw); ok {
		condition.kind = KindEnumList
		condition.elements = make([]enumElement, 0, len(list))
		for _, element := range list {
			condition.elements = append(condition.elements, parseElement(element))
		}
	}

	return condition
}

func parseElement(raw any) enumElement {
	text, ok := raw.(string)
	if !ok {
		return enumElement{kind: elementLiteral, literal: raw}
	}

	switch text {
	case tokenAll:
		return enumElement{kind: elementAll}
	case tokenNone:
		return enumElement{kind: elementNone}
	}

	if bounds, ok := parseRange(text); ok {
		return enumElement{kind: elementRange, bounds: bounds}
	}

	return enumElement{kind: elementLiteral, literal: raw}
}

func parseRange(text string) (numericRange, bool) {
	match := rangePattern.FindStringSubmatch(text)
	if match == nil {
		return numericRange{}, false
	}

	start, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return numericRange{}, false
	}
	end, err := strconv.ParseFloat(match[3], 64)
	if err != nil {
		return numericRange{}, false
	}

	bounds := numericRange{
		min:       min(start, end),
		max:       max(start, end),
		end:       end,
		exclusive: match[2] == "...",
	}

	return bounds, true
}

// Kind reports the classified shape.
func (c Condition) Kind() ConditionKind {
	return c.kind
}

// Raw returns the condition value as authored.
func (c Condition) Raw() any {
	return c.raw
}

// Evaluate matches contextValue against the condition. A nil contextValue is
// undefined.
func (c Condition) Evaluate(contextValue any, evaluators Evaluators) (bool, error) {
	switch c.kind {
	case KindCustomEvaluator:
		fn, ok := evaluators[c.evaluator]
		if !ok || fn == nil {
			return false, nil
		}
		return Truthy(fn(c.dimensionValue, contextValue)), nil
	case KindEnumList:
		return c.matchAny(contextValue), nil
	case KindPrimitive:
		return strictEqual(c.raw, contextValue), nil
	default:
		return false, fmt.Errorf("%w: %T", ErrUnknownConditionType, c.raw)
	}
}

func (c Condition) matchAny(contextValue any) bool {
	for _, element := range c.elements {
		if element.matches(contextValue) {
			return true
		}
	}

	return false
}

func (e enumElement) matches(contextValue any) bool {
	switch e.kind {
	case elementAll:
		return contextValue != nil
	case elementNone:
		return contextValue == nil
	case elementRange:
		number, ok := asNumber(contextValue)
		return ok && e.bounds.contains(number)
	default:
		if contextValue == nil {
			return false
		}
		if values, ok := asList(contextValue); ok {
			for _, value := range values {
				if looseEqual(value, e.literal) {
					return true
				}
			}
			return false
		}
		return looseEqual(contextValue, e.literal)
	}
}

// EvaluateCondition classifies conditionValue and matches contextValue
// against it in one step.
func EvaluateCondition(conditionValue, contextValue any, evaluators Evaluators) (bool, error) {
	return ParseCondition(conditionValue).Evaluate(contextValue, evaluators)
}

// CheckRange tests contextValue against a single range string. Unlike the
// enum path it fails on malformed input instead of reporting a non-match.
func CheckRange(rangeValue, contextValue any) (bool, error) {
	text, ok := rangeValue.(string)
	if !ok {
		return false, fmt.Errorf("%w: %v", ErrInvalidRangeFormat, rangeValue)
	}

	bounds, ok := parseRange(text)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrInvalidRangeFormat, text)
	}

	number, ok := asNumber(contextValue)
	if !ok {
		return false, fmt.Errorf("%w: %v", ErrNonNumericRangeContext, contextValue)
	}

	return bounds.contains(number), nil
}
