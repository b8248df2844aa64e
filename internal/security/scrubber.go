// internal/security/scrubber.go
package security

import "regexp"

var (
	bearerPattern      = regexp.MustCompile(`Bearer\s+\S{20,}`)
	openRouterPattern  = regexp.MustCompile(`sk-or-[A-Za-z0-9-]{16,}`)
	apiKeyParamPattern = regexp.MustCompile(`(?i)(api[_-]?key|token)=[^&\s]+`)
	hexKeyPattern      = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
)

// ScrubOutput redacts credentials from text before it is logged or stored.
func ScrubOutput(output string) string {
	result := bearerPattern.ReplaceAllString(output, "Bearer [REDACTED]")
	result = openRouterPattern.ReplaceAllString(result, "[REDACTED]")
	result = apiKeyParamPattern.ReplaceAllString(result, "$1=[REDACTED]")
	result = hexKeyPattern.ReplaceAllString(result, "[REDACTED]")
	return result
}
