package question

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var trailingPunctuation = regexp.MustCompile(`[ \t\x{00A0}]*[:;?.!…]+$`)

// NormalizeKey returns the identity used to group and deduplicate questions:
// NFKC form, trimmed, with trailing punctuation removed. Case is preserved.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(norm.NFKC.String(s))
	return trailingPunctuation.ReplaceAllString(s, "")
}
