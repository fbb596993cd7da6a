// Package retrieval implements fuzzy scheme lookup over normalized,
// script-aware text.
package retrieval

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const tamilVirama = '்'

// tamilPhonetic folds Tamil letters that speech-to-text output confuses
// onto one representative.
var tamilPhonetic = map[rune]rune{
	'ஸ': 'ச',
	'ஷ': 'ச',
	'ஜ': 'ச',
	'ண': 'ன',
	'ந': 'ன',
	'ள': 'ல',
	'ழ': 'ல',
	'ற': 'ர',
}

// Normalize prepares text for comparison: NFC composition, case folding,
// Latin diacritic stripping, Tamil phonetic folding, punctuation removal
// and collapsing of spelled-out Latin acronyms ("p m a y" → "pmay").
func Normalize(s string) string {
	s = stripLatinMarks(s)
	// A Caser keeps state, so each call gets its own.
	s = cases.Fold().String(norm.NFC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == tamilVirama:
			continue
		case unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r):
			if folded, ok := tamilPhonetic[r]; ok {
				r = folded
			}
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return collapseAcronyms(strings.Fields(b.String()))
}

// stripLatinMarks removes combining marks that follow a Latin base letter.
// Marks on Indic letters carry vowel signs and are kept.
func stripLatinMarks(s string) string {
	d := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(d))
	var base rune
	for _, r := range d {
		if unicode.Is(unicode.Mn, r) && unicode.Is(unicode.Latin, base) {
			continue
		}
		if !unicode.IsMark(r) {
			base = r
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseAcronyms(tokens []string) string {
	out := make([]string, 0, len(tokens))
	var run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			out = append(out, run.String())
			run.Reset()
		}
	}
	for _, tok := range tokens {
		if isSingleLatin(tok) {
			run.WriteString(tok)
			continue
		}
		flush()
		out = append(out, tok)
	}
	flush()
	return strings.Join(out, " ")
}

func isSingleLatin(tok string) bool {
	runes := []rune(tok)
	return len(runes) == 1 && runes[0] < unicode.MaxASCII && unicode.IsLetter(runes[0])
}
