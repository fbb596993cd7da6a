package retrieval

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/ashureev/sahayak/internal/domain"
)

const (
	// DefaultMinSimilarity drops weaker candidates.
	DefaultMinSimilarity = 0.3
	// DefaultLimit caps the result count when the caller passes none.
	DefaultLimit = 5

	containmentBase  = 0.85
	minWindowRunes   = 3
	minContainsRunes = 3
)

// Filters narrows a search.
type Filters struct {
	Category string `json:"category,omitempty"`
	State    string `json:"state,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool { return f.Category == "" && f.State == "" }

// Hit is one ranked candidate.
type Hit struct {
	Scheme     *domain.SchemeRecord `json:"-"`
	SchemeID   string               `json:"scheme_id"`
	Similarity float64              `json:"similarity"`
	Matched    string               `json:"matched"`
}

type target struct {
	text   string
	tokens []string
}

type entry struct {
	scheme  *domain.SchemeRecord
	targets []target
}

// Retriever ranks schemes against free-text queries. The normalized
// searchable text and the alias index are computed once in New.
type Retriever struct {
	entries      []entry
	aliases      map[string]string
	minSim       float64
	defaultLimit int
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMinSimilarity sets the similarity cut-off.
func WithMinSimilarity(v float64) Option {
	return func(r *Retriever) {
		if v > 0 && v <= 1 {
			r.minSim = v
		}
	}
}

// WithDefaultLimit sets the result cap used when Search gets limit <= 0.
func WithDefaultLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.defaultLimit = n
		}
	}
}

// New indexes schemes.
func New(schemes []*domain.SchemeRecord, opts ...Option) *Retriever {
	r := &Retriever{
		aliases:      make(map[string]string),
		minSim:       DefaultMinSimilarity,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, s := range schemes {
		e := entry{scheme: s}
		seen := make(map[string]bool)
		add := func(raw string, alias bool) {
			n := Normalize(raw)
			if n == "" || seen[n] {
				return
			}
			seen[n] = true
			e.targets = append(e.targets, target{text: n, tokens: strings.Fields(n)})
			if alias {
				if _, taken := r.aliases[n]; !taken {
					r.aliases[n] = s.ID
				}
			}
		}
		add(s.ID, true)
		for _, n := range s.Names {
			add(n, true)
		}
		for _, a := range s.Aliases {
			add(a, true)
		}
		for _, k := range s.Keywords {
			add(k, false)
		}
		r.entries = append(r.entries, e)
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].scheme.ID < r.entries[j].scheme.ID })
	return r
}

// Lookup resolves a query that is exactly a known name or alias.
func (r *Retriever) Lookup(query string) (string, bool) {
	id, ok := r.aliases[Normalize(query)]
	return id, ok
}

// Search ranks schemes by similarity to query. Results below the minimum
// similarity are dropped; ties are broken by scheme id.
func (r *Retriever) Search(query string, f Filters, limit int) []Hit {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	q := Normalize(query)
	if q == "" {
		return nil
	}
	qTokens := strings.Fields(q)
	exactID, exact := r.aliases[q]

	var hits []Hit
	for _, e := range r.entries {
		if f.Category != "" && !strings.EqualFold(e.scheme.Category, f.Category) {
			continue
		}
		if !e.scheme.AvailableIn(f.State) {
			continue
		}

		best, matched := 0.0, ""
		if exact && exactID == e.scheme.ID {
			best, matched = 1, q
		} else {
			for _, t := range e.targets {
				if s := similarity(q, qTokens, t); s > best {
					best, matched = s, t.text
				}
			}
		}
		if best < r.minSim {
			continue
		}
		hits = append(hits, Hit{Scheme: e.scheme, SchemeID: e.scheme.ID, Similarity: best, Matched: matched})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].SchemeID < hits[j].SchemeID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// similarity scores a normalized query against one target in [0,1].
func similarity(q string, qTokens []string, t target) float64 {
	if q == t.text {
		return 1
	}
	best := editSimilarity(q, t.text)

	switch {
	case len(t.tokens) < len(qTokens):
		for _, w := range windows(qTokens, len(t.tokens)) {
			if utf8.RuneCountInString(w) < minWindowRunes {
				continue
			}
			best = max(best, editSimilarity(w, t.text))
		}
	case len(qTokens) < len(t.tokens):
		for _, w := range windows(t.tokens, len(qTokens)) {
			if utf8.RuneCountInString(w) < minWindowRunes {
				continue
			}
			best = max(best, editSimilarity(q, w))
		}
	}

	short, long := q, t.text
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if n := utf8.RuneCountInString(short); n >= minContainsRunes && strings.Contains(long, short) {
		coverage := float64(n) / float64(utf8.RuneCountInString(long))
		best = max(best, containmentBase+(1-containmentBase)*coverage)
	}
	return best
}

func editSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func windows(tokens []string, size int) []string {
	if size <= 0 || size > len(tokens) {
		return nil
	}
	out := make([]string, 0, len(tokens)-size+1)
	for i := 0; i+size <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+size], " "))
	}
	return out
}
