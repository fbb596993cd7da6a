// Package eligibility scores a user profile against the scheme table.
package eligibility

import (
	"sort"

	"github.com/ashureev/sahayak/internal/domain"
)

// Verdict is the eligibility outcome for one scheme.
type Verdict string

const (
	Eligible   Verdict = "eligible"
	Possible   Verdict = "possible"
	Ineligible Verdict = "ineligible"
)

// Unmet describes a violated criterion.
type Unmet struct {
	Criterion domain.Criterion `json:"criterion"`
	Actual    domain.Value     `json:"actual"`
}

// Match is the scored result for one scheme.
type Match struct {
	Scheme     *domain.SchemeRecord `json:"-"`
	SchemeID   string               `json:"scheme_id"`
	Score      float64              `json:"match_score"`
	Verdict    Verdict              `json:"verdict"`
	Satisfied  []domain.Field       `json:"satisfied,omitempty"`
	Unmet      []Unmet              `json:"unmet,omitempty"`
	Missing    []domain.Field       `json:"missing,omitempty"`
	Applicable int                  `json:"applicable"`
}

// Score evaluates every scheme against profile. Only criteria whose field
// is present in the profile are applicable; schemes with no applicable
// criterion are left out. Any violated criterion makes a scheme
// ineligible. Without violations a scheme is eligible when every criterion
// was applicable and possible otherwise. Results are ordered by descending
// score, ties by scheme id.
func Score(profile map[domain.Field]domain.Value, schemes []*domain.SchemeRecord) []Match {
	out := make([]Match, 0, len(schemes))
	for _, s := range schemes {
		m, ok := scoreOne(profile, s)
		if ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SchemeID < out[j].SchemeID
	})
	return out
}

func scoreOne(profile map[domain.Field]domain.Value, s *domain.SchemeRecord) (Match, bool) {
	m := Match{Scheme: s, SchemeID: s.ID}
	for _, c := range s.Criteria {
		v, present := profile[c.Field]
		if !present {
			m.Missing = appendUnique(m.Missing, c.Field)
			continue
		}
		m.Applicable++
		if c.Satisfied(v) {
			m.Satisfied = append(m.Satisfied, c.Field)
		} else {
			m.Unmet = append(m.Unmet, Unmet{Criterion: c, Actual: v})
		}
	}
	if m.Applicable == 0 {
		return Match{}, false
	}

	m.Score = float64(len(m.Satisfied)) / float64(m.Applicable)
	switch {
	case len(m.Unmet) > 0:
		m.Verdict = Ineligible
	case len(m.Missing) > 0:
		m.Verdict = Possible
	default:
		m.Verdict = Eligible
	}
	return m, true
}

func appendUnique(fields []domain.Field, f domain.Field) []domain.Field {
	for _, x := range fields {
		if x == f {
			return fields
		}
	}
	return append(fields, f)
}

// Summary splits matches by verdict, preserving order.
type Summary struct {
	Eligible   []Match `json:"eligible"`
	Possible   []Match `json:"possible"`
	Ineligible []Match `json:"ineligible"`
}

// Summarize groups matches by verdict.
func Summarize(matches []Match) Summary {
	var s Summary
	for _, m := range matches {
		switch m.Verdict {
		case Eligible:
			s.Eligible = append(s.Eligible, m)
		case Possible:
			s.Possible = append(s.Possible, m)
		default:
			s.Ineligible = append(s.Ineligible, m)
		}
	}
	return s
}

// Top returns the best eligible match, or the best possible one.
func Top(matches []Match) (Match, bool) {
	for _, want := range []Verdict{Eligible, Possible} {
		for _, m := range matches {
			if m.Verdict == want {
				return m, true
			}
		}
	}
	return Match{}, false
}

// Fields lists the profile fields referenced by any scheme criterion, in
// first-seen order.
func Fields(schemes []*domain.SchemeRecord) []domain.Field {
	var out []domain.Field
	for _, s := range schemes {
		for _, c := range s.Criteria {
			out = appendUnique(out, c.Field)
		}
	}
	return out
}

// askOrder is the order in which unknown fields are requested.
var askOrder = []domain.Field{
	domain.FieldAge,
	domain.FieldIncome,
	domain.FieldGender,
	domain.FieldState,
	domain.FieldCasteCategory,
	domain.FieldIsFarmer,
	domain.FieldLandSize,
	domain.FieldIsBPL,
	domain.FieldIsWidow,
	domain.FieldIsDisabled,
}

// Ask returns up to n criterion fields absent from profile, most commonly
// useful first.
func Ask(profile map[domain.Field]domain.Value, schemes []*domain.SchemeRecord, n int) []domain.Field {
	used := make(map[domain.Field]bool)
	for _, f := range Fields(schemes) {
		used[f] = true
	}
	var out []domain.Field
	for _, f := range askOrder {
		if len(out) == n {
			break
		}
		if _, known := profile[f]; known || !used[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}
