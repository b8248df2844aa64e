// internal/template/template.go
package template

import (
	"regexp"
	"strings"

	"github.com/colebrumley/cortex/internal/security"
)

var templateVar = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Vars holds the substitution values for one violation.
type Vars map[string]string

// Expand replaces {{variable}} placeholders with sanitized values from vars.
// Unknown placeholders are left as-is.
func Expand(tmpl string, vars Vars) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return security.SanitizeValue(val)
		}
		return match
	})
}

// Placeholders lists the distinct variable names referenced by tmpl.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range templateVar.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
