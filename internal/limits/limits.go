// Package limits enforces the per-field free-text budgets configured in the
// catalog.
package limits

import (
	"strings"

	"filings/api/internal/catalog"
)

// Enforce truncates raw to the budget configured for the field title. Fields
// without a configured limit pass through unchanged. Enforce is idempotent:
// applying it twice yields the same text as applying it once.
func Enforce(fieldTitle, raw string) string {
	limit := catalog.LimitFor(fieldTitle)
	if limit == nil || limit.Max <= 0 {
		return raw
	}
	switch limit.Kind {
	case catalog.LimitChars:
		return truncateChars(raw, limit.Max)
	case catalog.LimitWords:
		return truncateWords(raw, limit.Max)
	}
	return raw
}

func truncateChars(raw string, max int) string {
	runes := []rune(raw)
	if len(runes) <= max {
		return raw
	}
	return string(runes[:max])
}

// truncateWords keeps the first max whitespace-delimited tokens, rejoined
// with single spaces. Rejoining normalizes whitespace, which is what makes
// the word-mode enforcement idempotent.
func truncateWords(raw string, max int) string {
	tokens := strings.Fields(raw)
	if len(tokens) <= max {
		return raw
	}
	return strings.Join(tokens[:max], " ")
}
