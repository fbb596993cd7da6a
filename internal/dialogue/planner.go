package dialogue

import (
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/eligibility"
	"github.com/ashureev/sahayak/internal/llm"
	"github.com/ashureev/sahayak/internal/tools"
	"github.com/google/uuid"
)

// PlanInput is everything the planner reads for one turn.
type PlanInput struct {
	Understanding Understanding
	Profile       map[domain.Field]domain.Value
	Language      string
}

// Planner maps an understanding to a task template.
type Planner struct {
	minFields int
	schemes   []*domain.SchemeRecord
}

// NewPlanner creates a planner. minFields is the profile size below which
// eligibility work turns into a gather_info request.
func NewPlanner(schemes []*domain.SchemeRecord, minFields int) *Planner {
	if minFields <= 0 {
		minFields = 1
	}
	return &Planner{minFields: minFields, schemes: schemes}
}

// Plan builds the first plan of a turn. It never fails; unknown intents
// yield an empty plan.
func (p *Planner) Plan(in PlanInput) Plan {
	u := in.Understanding
	plan := Plan{ID: newPlanID(), Intent: u.Intent}
	enough := len(in.Profile) >= p.minFields

	switch u.Intent {
	case llm.IntentSchemeSearch:
		if u.SchemeID != "" {
			plan.Tasks = []Task{p.helper("t1", u.SchemeID, u.Action, in.Language)}
			break
		}
		plan.Tasks = []Task{p.retrieve("t1", u, in.Profile)}
		if enough {
			t := p.eligibility("t2", u, in.Profile)
			t.Optional = true
			plan.Tasks = append(plan.Tasks, t)
		}

	case llm.IntentEligibilityCheck, llm.IntentProvideInfo:
		if !enough {
			plan.Tasks = []Task{p.gather("t1", in.Profile)}
			break
		}
		plan.Tasks = []Task{p.eligibility("t1", u, in.Profile)}

	case llm.IntentApplicationHelp:
		switch {
		case u.SchemeID != "":
			plan.Tasks = []Task{p.helper("t1", u.SchemeID, u.Action, in.Language)}
		case enough:
			plan.Tasks = []Task{
				p.eligibility("t1", u, in.Profile),
				p.helper("t2", Ref{Task: "t1", Key: tools.BindTopSchemeID}, u.Action, in.Language, "t1"),
			}
		default:
			plan.Tasks = []Task{
				p.retrieve("t1", u, in.Profile),
				p.helper("t2", Ref{Task: "t1", Key: tools.BindTopSchemeID}, u.Action, in.Language, "t1"),
			}
		}
	}
	return plan
}

// Replan builds the next revision after a failed attempt. Tasks that
// already succeeded are dropped and their bindings are inlined into the
// tasks that referenced them. relax drops retrieval filters.
func (p *Planner) Replan(failed Plan, ec *ExecutionContext, relax bool) Plan {
	next := Plan{ID: newPlanID(), Intent: failed.Intent, Revision: failed.Revision + 1}
	done := make(map[string]bool)
	for _, r := range ec.Results {
		if r.Status == TaskSucceeded {
			done[r.TaskID] = true
		}
	}

	for _, t := range failed.Tasks {
		if done[t.ID] && !(relax && t.Tool == tools.NameRetriever && ec.emptyFiltered(t.ID)) {
			continue
		}
		nt := Task{ID: t.ID, Tool: t.Tool, Args: make(tools.Args, len(t.Args)), Optional: t.Optional}
		for k, v := range t.Args {
			if ref, ok := v.(Ref); ok && done[ref.Task] && !relaxed(relax, failed, ref.Task, ec) {
				if bound, ok := ec.Binding(ref.Task, ref.Key); ok {
					v = bound
				}
			}
			nt.Args[k] = v
		}
		if relax && t.Tool == tools.NameRetriever {
			delete(nt.Args, "category")
			delete(nt.Args, "state")
		}
		for _, d := range t.DependsOn {
			if !done[d] || relaxed(relax, failed, d, ec) {
				nt.DependsOn = append(nt.DependsOn, d)
			}
		}
		next.Tasks = append(next.Tasks, nt)
	}
	return next
}

// relaxed reports whether task id is a filtered retrieval that is being
// rerun without filters, so its dependents must wait for the new run.
func relaxed(relax bool, plan Plan, id string, ec *ExecutionContext) bool {
	if !relax {
		return false
	}
	for _, t := range plan.Tasks {
		if t.ID == id {
			return t.Tool == tools.NameRetriever && ec.emptyFiltered(id)
		}
	}
	return false
}

func (p *Planner) retrieve(id string, u Understanding, profile map[domain.Field]domain.Value) Task {
	args := tools.Args{"query": u.Text}
	if u.Category != "" {
		args["category"] = u.Category
	}
	if st, ok := profile[domain.FieldState]; ok {
		args["state"] = st.Text
	}
	return Task{ID: id, Tool: tools.NameRetriever, Args: args}
}

func (p *Planner) eligibility(id string, u Understanding, profile map[domain.Field]domain.Value) Task {
	args := tools.Args{"profile": profile}
	if u.Category != "" {
		args["categories"] = []string{u.Category}
	}
	return Task{ID: id, Tool: tools.NameEligibility, Args: args}
}

func (p *Planner) helper(id string, scheme any, action tools.Action, lang string, deps ...string) Task {
	if action == "" {
		action = tools.ActionOverview
	}
	return Task{
		ID:        id,
		Tool:      tools.NameApplication,
		Args:      tools.Args{"scheme_id": scheme, "action": string(action), "language": lang},
		DependsOn: deps,
	}
}

func (p *Planner) gather(id string, profile map[domain.Field]domain.Value) Task {
	need := p.minFields - len(profile)
	return Task{
		ID:   id,
		Tool: ToolGatherInfo,
		Args: tools.Args{"fields": eligibility.Ask(profile, p.schemes, max(need, 1))},
	}
}

func newPlanID() uuid.UUID { return uuid.Must(uuid.NewV7()) }
