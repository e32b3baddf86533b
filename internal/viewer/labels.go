package viewer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field names of a parsed hadith row.
const (
	FieldNarrator = "narrator"
	FieldScholar  = "scholar"
	FieldSource   = "source"
	FieldPage     = "page"
	FieldGrade    = "grade"
)

var knownLabels = map[string]string{
	"الراوي":            FieldNarrator,
	"المحدث":            FieldScholar,
	"المصدر":            FieldSource,
	"الصفحة أو الرقم":   FieldPage,
	"خلاصة حكم المحدث": FieldGrade,
}

// fieldByLabel maps normalized labels to field names.
var fieldByLabel = func() map[string]string {
	m := make(map[string]string, len(knownLabels))
	for label, field := range knownLabels {
		m[NormalizeLabel(label)] = field
	}
	return m
}()

const tatweel = 'ـ'

func dropRune(r rune) bool {
	return unicode.Is(unicode.Mn, r) || r == tatweel || r == ':' || r == '：' || unicode.IsSpace(r)
}

func unifyLetter(r rune) rune {
	switch r {
	case 'أ', 'إ', 'آ', 'ٱ':
		return 'ا'
	case 'ى', 'ی':
		return 'ي'
	}
	return unicode.ToLower(r)
}

// NormalizeLabel folds presentation variants of a field label: it strips
// Arabic diacritics and tatweel, unifies alef and yaa forms, and removes
// colons and whitespace.
func NormalizeLabel(s string) string {
	// Chains keep state, so each call gets its own.
	t := transform.Chain(
		runes.Map(unifyLetter),
		norm.NFD,
		runes.Remove(runes.Predicate(dropRune)),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.Map(func(r rune) rune {
			if dropRune(r) {
				return -1
			}
			return unifyLetter(r)
		}, s)
	}
	return out
}

// FieldFor returns the field name of a label, or "" when unknown.
func FieldFor(label string) string {
	return fieldByLabel[NormalizeLabel(label)]
}
