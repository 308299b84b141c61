package generation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "ae", "Ö", "oe", "Ü", "ue",
	"ß", "ss", "ẞ", "ss",
)

// DeriveSlug builds a lowercase, hyphen-separated ASCII slug from a title
func DeriveSlug(title string) string {
	s := umlauts.Replace(title)

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(fold, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// ResolveSlug keeps a usable provided slug and otherwise derives one from the title
func ResolveSlug(provided, title string) string {
	if slug := DeriveSlug(provided); slug != "" {
		return slug
	}
	if slug := DeriveSlug(title); slug != "" {
		return slug
	}
	return "article"
}
