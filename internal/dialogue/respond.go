package dialogue

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/eligibility"
	"github.com/ashureev/sahayak/internal/memory"
	"github.com/ashureev/sahayak/internal/retrieval"
	"github.com/ashureev/sahayak/internal/tools"
)

// reply is a rendered response before the optional rewrite.
type reply struct {
	key         string
	lines       []string
	flow        *FlowCursor
	suggestions []string
	data        map[string]any
}

func (r *reply) add(lines ...string) {
	for _, l := range lines {
		if l != "" {
			r.lines = append(r.lines, l)
		}
	}
}

func (r *reply) text() string { return strings.Join(r.lines, "\n") }

// pick lists scheme id under the next number. The number shown is always
// the id's position in suggestions; ids already listed are skipped.
func (r *reply) pick(id, line string) {
	if slices.Contains(r.suggestions, id) {
		return
	}
	r.suggestions = append(r.suggestions, id)
	r.add(fmt.Sprintf("%d. %s", len(r.suggestions), line))
}

// responder renders tool results through the catalog's message table.
type responder struct {
	cat *catalog.Catalog
}

func (rs responder) msg(lang, key string, args ...any) string {
	return rs.cat.Message(lang, key, args...)
}

func (rs responder) simple(lang, key string, args ...any) reply {
	return reply{key: key, lines: []string{rs.msg(lang, key, args...)}}
}

// compose renders the outcome of the plan loop.
func (rs responder) compose(lang string, ev Evaluation, ec *ExecutionContext) reply {
	switch ev.ErrorKind {
	case ErrMissingRequiredFields:
		return rs.askFields(lang, ev.MissingFields)
	case ErrToolStructuralFailure, ErrPlanUnsatisfiable:
		return rs.simple(lang, "apology_structural")
	}

	out := rs.results(lang, ec)
	switch ev.ErrorKind {
	case ErrToolTransientFailure:
		if len(out.lines) == 0 {
			return rs.simple(lang, "apology_transient_empty")
		}
		out.lines = append([]string{rs.msg(lang, "apology_transient")}, out.lines...)
		out.key = "apology_transient"
	case ErrReplanLimitExceeded:
		out.lines = append([]string{rs.msg(lang, "best_effort")}, out.lines...)
		out.key = "best_effort"
	}
	if len(out.lines) == 0 {
		return rs.simple(lang, "not_found")
	}
	if len(ev.FollowUp) > 0 {
		out.add(rs.askFields(lang, ev.FollowUp).lines...)
	}
	return out
}

// results renders every successful result, helper guidance first.
func (rs responder) results(lang string, ec *ExecutionContext) reply {
	var (
		out   reply
		hits  *tools.RetrievalReport
		elig  *tools.EligibilityReport
		guide *tools.Guidance
	)
	for _, r := range ec.Results {
		if r.Status != TaskSucceeded {
			continue
		}
		switch p := r.Result.Payload.(type) {
		case tools.RetrievalReport:
			hits = &p
		case tools.EligibilityReport:
			elig = &p
		case tools.Guidance:
			guide = &p
		}
	}

	switch {
	case guide != nil:
		return rs.guidance(lang, *guide)
	case hits != nil:
		out = rs.hits(lang, hits.Hits)
		if elig != nil {
			rs.addEligible(lang, &out, elig.Summary.Eligible)
		}
		if len(out.suggestions) > 0 {
			out.add(rs.msg(lang, "suggestions_pick"))
		}
	case elig != nil:
		out = rs.eligibility(lang, *elig)
	}
	return out
}

func (rs responder) askFields(lang string, fields []domain.Field) reply {
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		labels = append(labels, rs.cat.Label(lang, f))
	}
	out := rs.simple(lang, "ask_fields", strings.Join(labels, ", "))
	out.data = map[string]any{"missing_fields": fields}
	return out
}

func (rs responder) hits(lang string, hits []retrieval.Hit) reply {
	if len(hits) == 0 {
		out := rs.simple(lang, "not_found")
		out.add(rs.msg(lang, "suggestions_category"))
		return out
	}
	out := reply{key: "suggestions"}
	out.add(rs.msg(lang, "suggestions_header"))
	for _, h := range hits {
		out.pick(h.SchemeID, h.Scheme.Name(lang))
	}
	return out
}

// addEligible continues out's numbered list with eligible schemes it does
// not already show.
func (rs responder) addEligible(lang string, out *reply, matches []eligibility.Match) {
	var fresh []eligibility.Match
	for _, m := range matches {
		if !slices.Contains(out.suggestions, m.SchemeID) {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return
	}
	out.add(rs.msg(lang, "eligible_header"))
	for _, m := range fresh {
		out.pick(m.SchemeID, m.Scheme.Name(lang))
	}
}

func (rs responder) eligibility(lang string, rep tools.EligibilityReport) reply {
	out := reply{key: "eligibility"}
	s := rep.Summary
	rs.addEligible(lang, &out, s.Eligible)
	if len(s.Possible) > 0 {
		out.add(rs.msg(lang, "possible_header"))
		for _, m := range s.Possible {
			out.pick(m.SchemeID, rs.msg(lang, "possible_line", m.Scheme.Name(lang), rs.labels(lang, m.Missing)))
		}
	}
	if len(out.suggestions) == 0 {
		out.key = "none_eligible"
		out.add(rs.msg(lang, "none_eligible"))
		for _, m := range s.Ineligible {
			reasons := make([]string, 0, len(m.Unmet))
			for _, u := range m.Unmet {
				reasons = append(reasons, rs.reason(lang, u))
			}
			out.add("- " + rs.msg(lang, "ineligible_line", m.Scheme.Name(lang), strings.Join(reasons, "; ")))
		}
		return out
	}
	out.add(rs.msg(lang, "suggestions_pick"))
	return out
}

// reason renders an unmet criterion.
func (rs responder) reason(lang string, u eligibility.Unmet) string {
	c := u.Criterion
	label := rs.cat.Label(lang, c.Field)
	switch c.Kind {
	case domain.CriterionRange:
		if c.Min != nil && u.Actual.Num < *c.Min {
			return rs.msg(lang, "reason_min", label, formatNum(*c.Min))
		}
		if c.Max != nil {
			return rs.msg(lang, "reason_max", label, formatNum(*c.Max))
		}
	case domain.CriterionBoolean:
		if c.Want != nil && *c.Want {
			return rs.msg(lang, "reason_bool_true", label)
		}
		return rs.msg(lang, "reason_bool_false", label)
	case domain.CriterionEnum:
		return rs.msg(lang, "reason_enum", label, strings.Join(c.Values, ", "))
	}
	return label
}

// guidance renders application_helper output. Overview and document
// answers start the document checklist.
func (rs responder) guidance(lang string, g tools.Guidance) reply {
	out := reply{key: "guidance_" + string(g.Action), suggestions: []string{g.SchemeID}}
	out.add(rs.msg(lang, "scheme_intro", g.Name))

	switch g.Action {
	case tools.ActionOverview:
		out.add(g.Description)
		if len(g.Benefits) > 0 {
			out.add(rs.msg(lang, "benefits_header"))
			out.add(bullets(g.Benefits)...)
		}
		if g.Website != "" {
			out.add(rs.msg(lang, "website", g.Website))
		}
	case tools.ActionGetProcess:
		out.add(rs.steps(lang, g.Steps)...)
		out.add(rs.offices(lang, g.Offices)...)
		return out
	case tools.ActionFindOffice:
		out.add(rs.offices(lang, g.Offices)...)
		return out
	case tools.ActionCheckStatus:
		out.add(rs.msg(lang, "status", g.Website))
		return out
	}

	if len(g.Documents) == 0 {
		out.add(rs.steps(lang, g.Steps)...)
		return out
	}
	out.flow = &FlowCursor{SchemeID: g.SchemeID, Items: append([]string(nil), g.Documents...)}
	out.add(rs.msg(lang, "checklist_intro"))
	out.add(rs.question(lang, out.flow))
	return out
}

func (rs responder) question(lang string, f *FlowCursor) string {
	return rs.msg(lang, "checklist_question", f.Index+1, len(f.Items), f.Items[f.Index])
}

// finishChecklist lists the documents answered "no" and how to apply.
func (rs responder) finishChecklist(lang string, f *FlowCursor) reply {
	out := reply{key: "checklist_done"}
	if len(f.Missing) > 0 {
		out.add(rs.msg(lang, "missing_docs_header"))
		out.add(bullets(f.Missing)...)
		out.add(rs.msg(lang, "missing_docs_note"))
	}
	s, err := rs.cat.Scheme(f.SchemeID)
	if err != nil {
		out.add(rs.msg(lang, "apply_fallback"))
		return out
	}
	out.add(rs.steps(lang, domain.Localized(s.Steps, lang))...)
	if s.Website != "" {
		out.add(rs.msg(lang, "website", s.Website))
	}
	return out
}

func (rs responder) steps(lang string, steps []string) []string {
	if len(steps) == 0 {
		return []string{rs.msg(lang, "apply_header"), rs.msg(lang, "apply_fallback")}
	}
	out := []string{rs.msg(lang, "apply_header")}
	for i, s := range steps {
		out = append(out, fmt.Sprintf("%d. %s", i+1, s))
	}
	return out
}

func (rs responder) offices(lang string, offices []domain.Office) []string {
	if len(offices) == 0 {
		return nil
	}
	out := []string{rs.msg(lang, "offices_header")}
	for _, o := range offices {
		out = append(out, fmt.Sprintf("- %s, %s (%s)", o.Name, o.Address, o.Timing))
	}
	return out
}

func (rs responder) contradiction(lang string, c memory.Contradiction) reply {
	label := rs.cat.Label(lang, c.Field)
	out := rs.simple(lang, "contradiction", label, c.OldValue.String(), c.NewValue.String(), c.NewValue.String())
	out.data = map[string]any{"field": c.Field, "old": c.OldValue.Any(), "new": c.NewValue.Any()}
	return out
}

// badPick answers an ordinal that points past the listed suggestions.
func (rs responder) badPick(lang string, listed int) reply {
	if listed == 0 {
		return rs.simple(lang, "pick_none")
	}
	return rs.simple(lang, "pick_out_of_range", listed)
}

func (rs responder) contradictionReask(lang string, c memory.Contradiction) reply {
	label := rs.cat.Label(lang, c.Field)
	return rs.simple(lang, "contradiction_reask", label, c.OldValue.String(), c.NewValue.String())
}

func (rs responder) labels(lang string, fields []domain.Field) string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, rs.cat.Label(lang, f))
	}
	return strings.Join(out, ", ")
}

func bullets(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, "- "+it)
	}
	return out
}

func formatNum(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
