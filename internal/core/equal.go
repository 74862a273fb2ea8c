package core

import (
	"math"
	"reflect"
	"strconv"
	"strings"
)

// strictEqual compares primitives by kind and value. Numbers compare across Go
// numeric types without losing precision on large integers.
func strictEqual(left, right any) bool {
	if isNumber(left) && isNumber(right) {
		return numbersEqual(left, right)
	}

	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	default:
		return false
	}
}

// looseEqual applies the abstract equality rules used for enum literals:
// numeric strings equal their number, booleans compare as 0 or 1.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if strictEqual(left, right) {
		return true
	}

	if l, ok := left.(bool); ok {
		return looseEqual(boolNumber(l), right)
	}
	if r, ok := right.(bool); ok {
		return looseEqual(left, boolNumber(r))
	}

	if ls, ok := left.(string); ok && isNumber(right) {
		n, ok := parseNumericString(ls)
		return ok && numbersEqual(n, right)
	}
	if rs, ok := right.(string); ok && isNumber(left) {
		n, ok := parseNumericString(rs)
		return ok && numbersEqual(left, n)
	}

	return false
}

func boolNumber(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func parseNumericString(value string) (float64, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, true
	}

	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}

	return parsed, true
}

func isNumber(value any) bool {
	_, ok := asNumber(value)
	return ok
}

// asNumber converts any Go numeric value to float64.
func asNumber(value any) (float64, bool) {
	if i, ok := asInt64(value); ok {
		return float64(i), true
	}
	if u, ok := asUint64(value); ok {
		return float64(u), true
	}
	return asFloat64(value)
}

func numbersEqual(left, right any) bool {
	if leftInt, ok := asInt64(left); ok {
		if rightInt, ok := asInt64(right); ok {
			return leftInt == rightInt
		}

		if rightUint, ok := asUint64(right); ok {
			if leftInt < 0 {
				return false
			}
			return uint64(leftInt) == rightUint
		}

		if rightFloat, ok := asFloat64(right); ok {
			return floatEqualsInt64(rightFloat, leftInt)
		}
	}

	if leftUint, ok := asUint64(left); ok {
		if rightUint, ok := asUint64(right); ok {
			return leftUint == rightUint
		}

		if rightInt, ok := asInt64(right); ok {
			if rightInt < 0 {
				return false
			}
			return leftUint == uint64(rightInt)
		}

		if rightFloat, ok := asFloat64(right); ok {
			return floatEqualsUint64(rightFloat, leftUint)
		}
	}

	if leftFloat, ok := asFloat64(left); ok {
		if rightFloat, ok := asFloat64(right); ok {
			return leftFloat == rightFloat
		}

		if rightInt, ok := asInt64(right); ok {
			return floatEqualsInt64(leftFloat, rightInt)
		}

		if rightUint, ok := asUint64(right); ok {
			return floatEqualsUint64(leftFloat, rightUint)
		}
	}

	return false
}

func asInt64(value any) (int64, bool) {
	switch number := value.(type) {
	case int:
		return int64(number), true
	case int8:
		return int64(number), true
	case int16:
		return int64(number), true
	case int32:
		return int64(number), true
	case int64:
		return number, true
	default:
		return 0, false
	}
}

func asUint64(value any) (uint64, bool) {
	switch number := value.(type) {
	case uint:
		return uint64(number), true
	case uint8:
		return uint64(number), true
	case uint16:
		return uint64(number), true
	case uint32:
		return uint64(number), true
	case uint64:
		return number, true
	default:
		return 0, false
	}
}

func asFloat64(value any) (float64, bool) {
	switch number := value.(type) {
	case float32:
		return float64(number), true
	case float64:
		return number, true
	default:
		return 0, false
	}
}

func floatEqualsInt64(left float64, right int64) bool {
	if !isWholeFinite(left) {
		return false
	}

	if left < float64(math.MinInt64) || left > float64(math.MaxInt64) {
		return false
	}

	converted := int64(left)
	return float64(converted) == left && converted == right
}

func floatEqualsUint64(left float64, right uint64) bool {
	if !isWholeFinite(left) {
		return false
	}

	if left < 0 || left > float64(math.MaxUint64) {
		return false
	}

	converted := uint64(left)
	return float64(converted) == left && converted == right
}

func isWholeFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && math.Trunc(value) == value
}

// asList returns the elements of any slice or array value.
func asList(value any) ([]any, bool) {
	if list, ok := value.([]any); ok {
		return list, true
	}

	values := reflect.ValueOf(value)
	if !values.IsValid() {
		return nil, false
	}
	if values.Kind() != reflect.Slice && values.Kind() != reflect.Array {
		return nil, false
	}

	list := make([]any, values.Len())
	for i := range list {
		list[i] = values.Index(i).Interface()
	}

	return list, true
}
