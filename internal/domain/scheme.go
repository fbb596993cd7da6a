package domain

import "strings"

// CriterionKind selects how a criterion is checked.
type CriterionKind string

const (
	CriterionRange   CriterionKind = "range"
	CriterionBoolean CriterionKind = "boolean"
	CriterionEnum    CriterionKind = "enum"
)

// Criterion is one eligibility constraint on a profile field.
type Criterion struct {
	Field  Field         `yaml:"field" json:"field"`
	Kind   CriterionKind `yaml:"kind" json:"kind"`
	Min    *float64      `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64      `yaml:"max,omitempty" json:"max,omitempty"`
	Want   *bool         `yaml:"want,omitempty" json:"want,omitempty"`
	Values []string      `yaml:"values,omitempty" json:"values,omitempty"`
}

// Satisfied reports whether v meets the criterion.
func (c Criterion) Satisfied(v Value) bool {
	switch c.Kind {
	case CriterionRange:
		if v.Kind != KindNumeric {
			return false
		}
		if c.Min != nil && v.Num < *c.Min {
			return false
		}
		if c.Max != nil && v.Num > *c.Max {
			return false
		}
		return true
	case CriterionBoolean:
		if v.Kind != KindBoolean || c.Want == nil {
			return false
		}
		return v.Bool == *c.Want
	case CriterionEnum:
		if v.Kind != KindCategorical {
			return false
		}
		for _, want := range c.Values {
			if strings.EqualFold(strings.TrimSpace(want), v.Text) {
				return true
			}
		}
		return false
	}
	return false
}

// Office is a place where an application can be submitted.
type Office struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Timing  string `yaml:"timing" json:"timing"`
}

// SchemeRecord is a read-only welfare scheme entry. Localized fields are
// keyed by language code ("tamil", "english").
type SchemeRecord struct {
	ID          string              `yaml:"id" json:"id"`
	Category    string              `yaml:"category" json:"category"`
	Website     string              `yaml:"website" json:"website"`
	Names       map[string]string   `yaml:"names" json:"names"`
	Description map[string]string   `yaml:"description" json:"description"`
	Aliases     []string            `yaml:"aliases" json:"aliases"`
	Keywords    []string            `yaml:"keywords" json:"keywords"`
	States      []string            `yaml:"states,omitempty" json:"states,omitempty"`
	Criteria    []Criterion         `yaml:"criteria" json:"criteria"`
	Benefits    map[string][]string `yaml:"benefits" json:"benefits"`
	Documents   map[string][]string `yaml:"documents" json:"documents"`
	Steps       map[string][]string `yaml:"steps" json:"steps"`
}

// Name returns the display name in lang, falling back to English and then
// the id.
func (s *SchemeRecord) Name(lang string) string {
	if n := s.Names[lang]; n != "" {
		return n
	}
	if n := s.Names["english"]; n != "" {
		return n
	}
	return s.ID
}

// Localized picks the list for lang with an English fallback.
func Localized(m map[string][]string, lang string) []string {
	if v, ok := m[lang]; ok && len(v) > 0 {
		return v
	}
	return m["english"]
}

// AvailableIn reports whether the scheme applies to the given state.
// Schemes without a state list are national.
func (s *SchemeRecord) AvailableIn(state string) bool {
	if len(s.States) == 0 || state == "" {
		return true
	}
	for _, st := range s.States {
		if strings.EqualFold(st, state) {
			return true
		}
	}
	return false
}
