package template

import (
	"regexp"
	"slices"

	"github.com/microcosm-cc/bluemonday"
)

// placeholder matches {{ name }} with any surrounding whitespace.
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// strict escapes everything; variable values never contribute markup.
var strict = bluemonday.StrictPolicy()

// ExtractVariables returns the distinct placeholder names referenced in
// content, in order of first appearance.
func ExtractVariables(content ...string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, c := range content {
		for _, m := range placeholder.FindAllStringSubmatch(c, -1) {
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}
	return names
}

// ValidationResult reports which declared variables were not supplied.
type ValidationResult struct {
	Missing []string
	Valid   bool
}

// Validate computes tpl.Variables minus the supplied keys.
func Validate(tpl *Template, supplied map[string]string) ValidationResult {
	var missing []string
	for _, name := range tpl.Variables {
		if _, ok := supplied[name]; !ok {
			missing = append(missing, name)
		}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

// Render replaces every placeholder whose key is supplied. Placeholders
// without a value stay verbatim.
func Render(content string, vars map[string]string) string {
	return replace(content, vars, func(s string) string { return s })
}

// RenderHTML is Render with every value HTML-escaped.
func RenderHTML(content string, vars map[string]string) string {
	return replace(content, vars, strict.Sanitize)
}

func replace(content string, vars map[string]string, transform func(string) string) string {
	if len(vars) == 0 {
		return content
	}
	return placeholder.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return transform(v)
		}
		return match
	})
}

// Consistency compares declared variables with those actually referenced.
type Consistency struct {
	Undeclared []string // referenced in content but not declared
	Unused     []string // declared but never referenced
}

// OK reports whether declared and referenced variables match.
func (c Consistency) OK() bool {
	return len(c.Undeclared) == 0 && len(c.Unused) == 0
}

// CheckConsistency reports drift between tpl.Variables and its content.
func CheckConsistency(tpl *Template) Consistency {
	used := ExtractVariables(tpl.Subject, tpl.HTMLContent, tpl.TextContent)
	var c Consistency
	for _, name := range used {
		if !slices.Contains(tpl.Variables, name) {
			c.Undeclared = append(c.Undeclared, name)
		}
	}
	for _, name := range tpl.Variables {
		if !slices.Contains(used, name) {
			c.Unused = append(c.Unused, name)
		}
	}
	return c
}
