package patient

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a name for comparison: canonical decomposition, combining
// marks removed, lowercased and trimmed. It is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	// transform.Chain holds per-use state, so one is built per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	return strings.TrimSpace(strings.ToLower(folded))
}
