// Package policy masks sensitive text before it reaches the logs.
package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Rules run in order. Cards go before phones, or long card numbers match the
// phone pattern. Secrets go first so key material never reaches later rules.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`\b(?:sk|sk-ant|pk|rk)-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED_SECRET]"},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{16,}`), "[REDACTED_SECRET]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks emails, card and phone numbers, and API-key-shaped tokens.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogPreview returns a redacted prefix of at most maxRunes runes. A
// non-positive maxRunes disables truncation.
func LogPreview(input string, maxRunes int) string {
	out, _ := RedactPII(input)
	if maxRunes <= 0 {
		return out
	}
	runes := []rune(out)
	if len(runes) <= maxRunes {
		return out
	}
	return string(runes[:maxRunes]) + "…"
}
