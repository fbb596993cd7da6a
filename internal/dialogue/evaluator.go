package dialogue

import (
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/memory"
	"github.com/ashureev/sahayak/internal/tools"
)

// Evaluation is the verdict on one execution of a plan. RelaxFilters asks
// the next plan to rerun a filtered retrieval without its filters.
// FollowUp lists fields only optional tasks were missing.
// Confidence is bookkeeping only and never gates control flow.
type Evaluation struct {
	Success         bool                   `json:"success"`
	Partial         bool                   `json:"partial"`
	NeedsReplanning bool                   `json:"needs_replanning"`
	RelaxFilters    bool                   `json:"relax_filters,omitempty"`
	MissingFields   []domain.Field         `json:"missing_fields,omitempty"`
	FollowUp        []domain.Field         `json:"follow_up,omitempty"`
	Contradictions  []memory.Contradiction `json:"contradictions,omitempty"`
	Confidence      float64                `json:"confidence"`
	ErrorKind       ErrorKind              `json:"error_kind,omitempty"`
}

// Evaluator applies the turn policy to an execution context.
type Evaluator struct {
	transientRetries int
}

// NewEvaluator creates an evaluator that allows transientRetries replans
// per turn for timeout-class tool failures.
func NewEvaluator(transientRetries int) *Evaluator {
	if transientRetries < 0 {
		transientRetries = 0
	}
	return &Evaluator{transientRetries: transientRetries}
}

// Evaluate inspects ec. transientReplans is how many replans this turn
// already spent on timeout-class failures. Rules apply in order: pending
// contradictions, missing fields, transient failures, structural failures
// or an unsatisfiable plan, an empty filtered retrieval, success.
func (e *Evaluator) Evaluate(plan Plan, ec *ExecutionContext, pending []memory.Contradiction, inputConfidence float64, transientReplans int) Evaluation {
	ev := Evaluation{Confidence: confidence(inputConfidence, ec)}

	if len(pending) > 0 {
		ev.Contradictions = pending
		ev.Partial = true
		ev.ErrorKind = ErrContradictionUnresolved
		return ev
	}

	var (
		succeeded, transient, structural int
		filteredEmpty                    bool
	)
	for _, r := range ec.Results {
		switch {
		case r.Status == TaskSucceeded:
			succeeded++
			if r.Tool == tools.NameRetriever && ec.emptyFiltered(r.TaskID) {
				filteredEmpty = true
			}
		case r.Result.ErrKind == tools.ErrKindMissingFields && r.Optional:
			for _, f := range r.Result.MissingFields {
				ev.FollowUp = appendField(ev.FollowUp, f)
			}
		case r.Result.ErrKind == tools.ErrKindMissingFields:
			for _, f := range r.Result.MissingFields {
				ev.MissingFields = appendField(ev.MissingFields, f)
			}
		case r.Result.ErrKind == tools.ErrKindTransient:
			transient++
		case r.Result.ErrKind == tools.ErrKindStructural:
			structural++
		}
	}
	ev.Partial = succeeded > 0

	switch {
	case len(ev.MissingFields) > 0:
		ev.Partial = true
		ev.ErrorKind = ErrMissingRequiredFields
	case transient > 0:
		ev.ErrorKind = ErrToolTransientFailure
		ev.NeedsReplanning = transientReplans < e.transientRetries
	case structural > 0:
		ev.ErrorKind = ErrToolStructuralFailure
	case len(ec.Unsatisfiable) > 0:
		ev.ErrorKind = ErrPlanUnsatisfiable
	case filteredEmpty && !plan.Empty():
		ev.NeedsReplanning = true
		ev.RelaxFilters = true
	default:
		// Skipped tasks here only follow a definitive empty answer, such
		// as a retrieval that found nothing to hand to the helper.
		ev.Success = true
		ev.Partial = false
	}
	return ev
}

func confidence(input float64, ec *ExecutionContext) float64 {
	best := 0.0
	for _, r := range ec.Results {
		if r.Status != TaskSucceeded {
			continue
		}
		if v, ok := r.Result.Bindings[tools.BindBestScore].(float64); ok && v > best {
			best = v
		}
	}
	return 0.5*clamp01(input) + 0.5*clamp01(best)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func appendField(fields []domain.Field, f domain.Field) []domain.Field {
	for _, have := range fields {
		if have == f {
			return fields
		}
	}
	return append(fields, f)
}
