package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Truthy reports whether value counts as true: false, nil, zero, NaN and the
// empty string are false, everything else is true.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}

	if n, ok := asNumber(value); ok {
		return n != 0 && !math.IsNaN(n)
	}

	return true
}

// CoerceToDeclaredKind converts value to a boolean when the declared default
// is a boolean and returns it unchanged otherwise.
func CoerceToDeclaredKind(declared, value any) any {
	if _, ok := declared.(bool); ok {
		return Truthy(value)
	}

	return value
}

// Stringify formats a context value for template substitution and seeding.
// Lists are joined with commas; objects are written as JSON.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	}

	if i, ok := asInt64(value); ok {
		return strconv.FormatInt(i, 10)
	}
	if u, ok := asUint64(value); ok {
		return strconv.FormatUint(u, 10)
	}
	if f, ok := asFloat64(value); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	if list, ok := asList(value); ok {
		parts := make([]string, len(list))
		for i, element := range list {
			parts[i] = Stringify(element)
		}
		return strings.Join(parts, ",")
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}

	return string(encoded)
}
