package service

import (
	"regexp"
	"strings"

	"github.com/matt-riley/cerebro/internal/core"
)

// BuiltinEvaluators returns the custom evaluators every namespace can use:
// contains, prefix, suffix and matches.
func BuiltinEvaluators() core.Evaluators {
	return core.Evaluators{
		"contains": containsEvaluator,
		"prefix":   stringEvaluator(strings.HasPrefix),
		"suffix":   stringEvaluator(strings.HasSuffix),
		"matches":  matchesEvaluator,
	}
}

// containsEvaluator matches a context list holding dimensionValue, or a
// context string containing it.
func containsEvaluator(dimensionValue, contextValue any) any {
	switch v := contextValue.(type) {
	case string:
		needle, ok := dimensionValue.(string)
		return ok && strings.Contains(v, needle)
	case []any:
		want := core.Stringify(dimensionValue)
		for _, item := range v {
			if core.Stringify(item) == want {
				return true
			}
		}
	}
	return false
}

func stringEvaluator(match func(s, affix string) bool) core.EvaluatorFunc {
	return func(dimensionValue, contextValue any) any {
		affix, ok := dimensionValue.(string)
		if !ok {
			return false
		}
		value, ok := contextValue.(string)
		return ok && match(value, affix)
	}
}

// matchesEvaluator treats dimensionValue as a regular expression. Invalid
// patterns never match.
func matchesEvaluator(dimensionValue, contextValue any) any {
	pattern, ok := dimensionValue.(string)
	if !ok {
		return false
	}
	value, ok := contextValue.(string)
	if !ok {
		return false
	}

	matched, err := regexp.MatchString(pattern, value)
	return err == nil && matched
}
