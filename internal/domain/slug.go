package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugRunes caps the base slug; collision suffixes are added on top.
const maxSlugRunes = 80

// isLatinMark matches the Combining Diacritical Marks block only. Kana voicing
// marks are Mn too and must survive the fold.
func isLatinMark(r rune) bool { return r >= 0x0300 && r <= 0x036F }

// FoldLower strips Latin diacritics and lowercases s. Slugs and the search
// tokenizer share it so "Café" and "cafe" meet in both places.
func FoldLower(s string) string {
	// transform.Chain is stateful, so build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isLatinMark)), norm.NFC)
	out, _, err := transform.String(fold, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Slugify derives a URL slug from a mod title. Latin diacritics are folded
// ("Café" -> "cafe"), other scripts are kept as-is so Japanese titles still
// produce readable slugs. Runs of anything else collapse into one '-'.
// An empty result becomes "mod".
func Slugify(title string) string {
	s := FoldLower(title)

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	pendingDash := false
	for _, r := range s {
		if n >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
				n++
			}
			pendingDash = false
			b.WriteRune(r)
			n++
			continue
		}
		pendingDash = true
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "mod"
	}
	return out
}
