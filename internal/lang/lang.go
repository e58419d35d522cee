package lang

import (
	"unicode"

	"golang.org/x/text/language"
)

// scripts maps a dominant Unicode script to a BCP-47 language tag. Scripts
// shared by many languages (Latin, Cyrillic minorities, etc.) stay
// unmapped; detection is best-effort and empty means unknown.
var scripts = []struct {
	rangeTable *unicode.RangeTable
	tag        string
}{
	{unicode.Hiragana, "ja"},
	{unicode.Katakana, "ja"},
	{unicode.Hangul, "ko"},
	{unicode.Han, "zh"},
	{unicode.Cyrillic, "ru"},
	{unicode.Greek, "el"},
	{unicode.Arabic, "ar"},
	{unicode.Hebrew, "he"},
	{unicode.Thai, "th"},
	{unicode.Devanagari, "hi"},
}

// Detect guesses the language of a note's content and returns a canonical
// BCP-47 tag, or empty when no confident guess exists.
func Detect(content string) string {
	if content == "" {
		return ""
	}

	counts := make(map[string]int, 4)
	letters := 0
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for _, s := range scripts {
			if unicode.Is(s.rangeTable, r) {
				counts[s.tag]++
				break
			}
		}
	}
	if letters == 0 {
		return ""
	}

	best, bestCount := "", 0
	for tag, n := range counts {
		if n > bestCount {
			best, bestCount = tag, n
		}
	}

	// Require a clear majority before claiming a language
	if best == "" || bestCount*2 < letters {
		return ""
	}

	tag, err := language.Parse(best)
	if err != nil {
		return ""
	}
	return tag.String()
}
