package attribute

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize removes diacritics and collapses runs of whitespace into a
// single space.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(out), " ")
}

// Fold normalizes s and upper-cases it, for case-insensitive comparisons of
// brands and labels.
func Fold(s string) string {
	return strings.ToUpper(Normalize(s))
}
