package tools

import (
	"context"
	"strings"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/eligibility"
)

// Binding keys produced by the built-in tools.
const (
	BindTopSchemeID = "top_scheme_id"
	BindSchemeIDs   = "scheme_ids"
	BindBestScore   = "best_score"
	BindFiltered    = "filtered"
	BindEmpty       = "empty"
)

const askLimit = 3

// EligibilityReport is the eligibility_checker payload.
type EligibilityReport struct {
	Matches []eligibility.Match `json:"matches"`
	Summary eligibility.Summary `json:"summary"`
}

// EligibilityChecker scores the profile against the catalog.
type EligibilityChecker struct {
	cat *catalog.Catalog
}

// NewEligibilityChecker creates the eligibility_checker tool.
func NewEligibilityChecker(cat *catalog.Catalog) *EligibilityChecker {
	return &EligibilityChecker{cat: cat}
}

func (*EligibilityChecker) Name() string { return NameEligibility }

func (*EligibilityChecker) Description() string {
	return "Score the user's profile against every welfare scheme and report eligible, possible and ineligible schemes with reasons."
}

func (*EligibilityChecker) Schema() string {
	return `{
  "$schema":"http://json-schema.org/draft-07/schema#",
  "type":"object",
  "properties":{
    "profile":{"type":"object","description":"field name to value, e.g. {\"age\":45,\"is_farmer\":true}"},
    "categories":{"type":"array","items":{"type":"string"}}
  },
  "required":["profile"],
  "additionalProperties":false
}`
}

func (e *EligibilityChecker) Run(ctx context.Context, args Args) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	profile, err := profileArg(args, "profile")
	if err != nil {
		return Output{}, err
	}
	categories, err := stringsArg(args, "categories")
	if err != nil {
		return Output{}, err
	}

	schemes := filterCategories(e.cat.Schemes(), categories)
	if len(profile) == 0 {
		return Output{}, &MissingFieldsError{Fields: eligibility.Ask(profile, schemes, askLimit)}
	}

	matches := eligibility.Score(profile, schemes)
	if len(matches) == 0 {
		// Nothing the profile says is relevant to any scheme yet.
		return Output{}, &MissingFieldsError{Fields: eligibility.Ask(profile, schemes, askLimit)}
	}

	report := EligibilityReport{Matches: matches, Summary: eligibility.Summarize(matches)}
	bindings := map[string]any{
		BindSchemeIDs: schemeIDs(report.Summary),
		BindBestScore: 0.0,
	}
	if top, ok := eligibility.Top(matches); ok {
		bindings[BindTopSchemeID] = top.SchemeID
		bindings[BindBestScore] = top.Score
	}
	return Output{Payload: report, Bindings: bindings}, nil
}

func schemeIDs(s eligibility.Summary) []string {
	out := make([]string, 0, len(s.Eligible)+len(s.Possible))
	for _, m := range s.Eligible {
		out = append(out, m.SchemeID)
	}
	for _, m := range s.Possible {
		out = append(out, m.SchemeID)
	}
	return out
}

func filterCategories(schemes []*domain.SchemeRecord, categories []string) []*domain.SchemeRecord {
	if len(categories) == 0 {
		return schemes
	}
	out := make([]*domain.SchemeRecord, 0, len(schemes))
	for _, s := range schemes {
		for _, c := range categories {
			if strings.EqualFold(s.Category, c) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
