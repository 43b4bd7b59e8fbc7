package assistant

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
)

// normalize lower-cases a message and collapses runs of whitespace.
func normalize(message string) string {
	return strings.Join(strings.Fields(strings.ToLower(message)), " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// containsTerm reports whether term occurs in text starting at a word
// boundary. Terms of three characters or fewer must also end on one, so
// "dob" does not fire inside "adobe" and "gp" not inside "gps".
func containsTerm(text, term string) bool {
	if term == "" {
		return false
	}
	needEnd := utf8.RuneCountInString(term) <= 3
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(term)
		startOK := start == 0
		if !startOK {
			r, _ := utf8.DecodeLastRuneInString(text[:start])
			startOK = !isWordRune(r)
		}
		endOK := !needEnd || end == len(text)
		if !endOK {
			r, _ := utf8.DecodeRuneInString(text[end:])
			endOK = !isWordRune(r)
		}
		if startOK && endOK {
			return true
		}
		offset = start + 1
	}
	return false
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if containsTerm(text, t) {
			return true
		}
	}
	return false
}

// matchField returns the field whose longest matching term is longest overall.
// Ties go to the field that appears first in the schema.
func matchField(schema *consentform.Schema, text string) (consentform.FieldKey, bool) {
	var best consentform.FieldKey
	bestLen := 0
	for _, f := range schema.Fields() {
		for _, term := range schema.Terms(f.Key) {
			if len(term) > bestLen && containsTerm(text, term) {
				best, bestLen = f.Key, len(term)
			}
		}
	}
	return best, bestLen > 0
}

// matchSection returns the first section with a matching synonym or title.
func matchSection(schema *consentform.Schema, text string) (consentform.SectionInfo, bool) {
	for _, sec := range schema.Sections() {
		if containsTerm(text, strings.ToLower(sec.Title)) || containsAny(text, sec.Synonyms) {
			return sec, true
		}
	}
	return consentform.SectionInfo{}, false
}
