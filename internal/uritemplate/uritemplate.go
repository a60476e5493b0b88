// Package uritemplate implements the RFC 6570 level-1 subset needed by the
// resource registry to match and expand `{var}`-style URI templates.
// When matching, each variable captures a single path segment (no '/').
package uritemplate

import (
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Template is a parsed level-1 URI template.
type Template struct {
	raw    string
	names  []string
	regex  *regexp.Regexp
}

// Parse compiles a template like "file:///{path}" into a matcher/expander.
func Parse(tmpl string) *Template {
	var names []string
	pattern := regexp.QuoteMeta(tmpl)
	// QuoteMeta escapes the braces; undo that so varPattern can find them in
	// the escaped string, then replace with a capturing group.
	pattern = strings.ReplaceAll(pattern, `\{`, "{")
	pattern = strings.ReplaceAll(pattern, `\}`, "}")
	pattern = varPattern.ReplaceAllStringFunc(pattern, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		names = append(names, name)
		return `([^/]+)`
	})
	return &Template{raw: tmpl, names: names, regex: regexp.MustCompile("^" + pattern + "$")}
}

// Raw returns the original template string.
func (t *Template) Raw() string { return t.raw }

// Match attempts to match uri against the template, returning extracted
// variable values keyed by name, or ok=false if the template doesn't apply.
func (t *Template) Match(uri string) (vars map[string]string, ok bool) {
	m := t.regex.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	vars = make(map[string]string, len(t.names))
	for i, name := range t.names {
		vars[name] = m[i+1]
	}
	return vars, true
}

// Expand substitutes variables into the template to produce a concrete URI.
func (t *Template) Expand(vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(t.raw, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		return vars[name]
	})
}
