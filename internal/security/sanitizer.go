// internal/security/sanitizer.go
package security

import "strings"

const maxValueLen = 1024

// SanitizeValue cleans a value observed from the desktop (window titles,
// domains, app names) before it is interpolated into a message.
// Control characters other than tab and newline are removed, triple
// backticks are dropped and the result is capped at 1024 bytes.
func SanitizeValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		b.WriteRune(r)
	}
	result := strings.ReplaceAll(b.String(), "```", "")

	if len(result) > maxValueLen {
		result = truncateUTF8(result, maxValueLen)
	}
	return result
}

// AppleScriptString quotes s as an AppleScript string literal.
func AppleScriptString(s string) string {
	s = strings.ReplaceAll(SanitizeValue(s), `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func truncateUTF8(s string, n int) string {
	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
