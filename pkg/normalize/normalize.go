// Package normalize canonicalizes free-form product names so that case,
// separator, and plural variants of one ingredient collapse onto a single
// catalog entry.
package normalize

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// ProductName returns the canonical form of a raw ingredient name:
// lowercased, underscores and hyphens turned into spaces, everything outside
// [a-z0-9 ] stripped, whitespace collapsed, and the final word singularized.
// Input that is empty or all symbols normalizes to "".
//
// Only the last word is singularized, so "red bell peppers" becomes
// "red bell pepper" while "swiss cheese" stays untouched.
func ProductName(raw string) string {
	s := strings.ToLower(raw)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, " ")
}
