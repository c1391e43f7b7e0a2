package util

import (
	"html"
	"strings"
)

// SanitizeNote trims and HTML-escapes operator-supplied free text before it is
// persisted (feedback notes, audit reasons).
func SanitizeNote(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// NormalizeBSSID canonicalizes a hardware address to upper-case colon form.
// Accepts AA:BB:CC:DD:EE:FF, aa-bb-cc-dd-ee-ff, or bare aabbccddeeff.
func NormalizeBSSID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", ":")
	if !strings.Contains(s, ":") && len(s) == 12 {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(s[i : i+2])
		}
		return b.String()
	}
	return s
}
