// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
)

// maxMessageLen caps user-visible status messages.
const maxMessageLen = 512

// SanitizeMessage makes a string safe for single-line status fields: control
// characters are dropped, newlines become spaces, and the result is trimmed.
func SanitizeMessage(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(' ')
		case r >= 32 && r != 127:
			b.WriteRune(r)
		}
	}
	return Truncate(strings.TrimSpace(b.String()), maxMessageLen)
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// SafeSegment reduces s to characters safe for a single object-key path
// segment. Anything outside [A-Za-z0-9._-] becomes '-'; when nothing
// survives, fallback is returned.
func SafeSegment(s, fallback string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return fallback
	}
	return out
}
