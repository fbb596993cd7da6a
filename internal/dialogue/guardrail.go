package dialogue

import (
	"strings"
	"unicode"
)

// SchemeResolver resolves an exact scheme name or alias to its id.
// *retrieval.Retriever implements it.
type SchemeResolver interface {
	Lookup(query string) (string, bool)
}

// Guard holds the input checks applied in LISTENING.
type Guard struct {
	threshold float64
	schemes   SchemeResolver
}

// NewGuard creates the input guard.
func NewGuard(threshold float64, schemes SchemeResolver) *Guard {
	return &Guard{threshold: threshold, schemes: schemes}
}

// Check returns the error kind and the message key of a rejected turn, or
// ErrNone.
func (g *Guard) Check(lang, text string, confidence float64) (ErrorKind, string) {
	if strings.TrimSpace(text) == "" {
		return ErrLowConfidenceInput, "empty"
	}
	if confidence < g.threshold {
		return ErrLowConfidenceInput, "repeat"
	}
	if !g.languageOK(lang, text) {
		return ErrUnsupportedLanguage, "language_only"
	}
	return ErrNone, ""
}

// languageOK enforces the session language. A Tamil session accepts Latin
// text only when it spells a known scheme name or acronym, such as "PMAY".
// An English session rejects Tamil script. Devanagari is never accepted.
func (g *Guard) languageOK(lang, text string) bool {
	var latin strings.Builder
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Devanagari, r):
			return false
		case unicode.Is(unicode.Tamil, r):
			if lang != "tamil" {
				return false
			}
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			latin.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			latin.WriteRune(' ')
		}
	}
	if lang != "tamil" {
		return true
	}
	words := strings.Fields(latin.String())
	if len(words) == 0 {
		return true
	}
	_, ok := lookupWithin(g.schemes, words, 3)
	return ok
}

// lookupWithin tries every run of up to maxWords consecutive words,
// longest first, against the alias index.
func lookupWithin(schemes SchemeResolver, words []string, maxWords int) (string, bool) {
	if schemes == nil {
		return "", false
	}
	for size := min(len(words), maxWords); size > 0; size-- {
		for i := 0; i+size <= len(words); i++ {
			if id, ok := schemes.Lookup(strings.Join(words[i:i+size], " ")); ok {
				return id, true
			}
		}
	}
	return "", false
}
