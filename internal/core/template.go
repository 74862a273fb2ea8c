package core

import (
	"regexp"
	"strings"
)

var templatePattern = regexp.MustCompile(`(?i)\$\{([a-z]+)\}`)

// TemplateStatus describes the outcome of compiling a clause value.
type TemplateStatus int

const (
	// TemplateNone means the value has no placeholder.
	TemplateNone TemplateStatus = iota
	// TemplateCompiled means the value has one usable placeholder.
	TemplateCompiled
	// TemplateTooManyVariables means two or more distinct placeholders.
	TemplateTooManyVariables
	// TemplateUndeclaredVariable means the placeholder names no dimension of
	// the clause.
	TemplateUndeclaredVariable
)

// Template is a precompiled "${name}" interpolation.
type Template struct {
	variable string
	parts    []string
}

// IsTemplate reports whether value is a string with at least one placeholder.
func IsTemplate(value any) bool {
	text, ok := value.(string)
	return ok && templatePattern.MatchString(text)
}

// TemplateVariables returns the distinct placeholder names in text, in order
// of first appearance.
func TemplateVariables(text string) []string {
	matches := templatePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	variables := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, ok := seen[match[1]]; ok {
			continue
		}
		seen[match[1]] = struct{}{}
		variables = append(variables, match[1])
	}

	return variables
}

// CompileTemplate precompiles value when it holds exactly one distinct
// placeholder naming one of dimensions. Only TemplateCompiled returns a
// non-nil template.
func CompileTemplate(value any, dimensions []string) (*Template, TemplateStatus) {
	text, ok := value.(string)
	if !ok {
		return nil, TemplateNone
	}

	variables := TemplateVariables(text)
	switch {
	case len(variables) == 0:
		return nil, TemplateNone
	case len(variables) > 1:
		return nil, TemplateTooManyVariables
	}

	variable := variables[0]
	declared := false
	for _, dimension := range dimensions {
		if dimension == variable {
			declared = true
			break
		}
	}
	if !declared {
		return nil, TemplateUndeclaredVariable
	}

	return &Template{
		variable: variable,
		parts:    strings.Split(text, "${"+variable+"}"),
	}, TemplateCompiled
}

// Variable returns the context dimension substituted by the template.
func (t *Template) Variable() string {
	return t.variable
}

// Render substitutes the context value for every occurrence of the
// placeholder.
func (t *Template) Render(ctx Context) string {
	value, _ := ctx.Lookup(t.variable)
	return strings.Join(t.parts, Stringify(value))
}
