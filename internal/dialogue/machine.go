package dialogue

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/llm"
	"github.com/ashureev/sahayak/internal/memory"
	"github.com/ashureev/sahayak/internal/tools"
)

// Config tunes the turn loop.
type Config struct {
	ConfidenceThreshold float64
	MaxReplans          int
	TransientRetries    int
	MinProfileFields    int
	// ExtractTimeout bounds entity extraction; zero leaves it to ctx.
	ExtractTimeout time.Duration
	Rewrite        bool
	RewriteTimeout time.Duration
	HistoryTurns   int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		MaxReplans:          2,
		TransientRetries:    1,
		MinProfileFields:    2,
		ExtractTimeout:      8 * time.Second,
		RewriteTimeout:      3 * time.Second,
		HistoryTurns:        6,
	}
}

// Turn is one transcribed utterance.
type Turn struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TurnOutput is what the presentation layer gets back for a turn.
type TurnOutput struct {
	Response    string     `json:"response"`
	NextAction  NextAction `json:"next_action"`
	ExpectInput bool       `json:"expect_input"`
	State       State      `json:"state"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Intent      llm.Intent `json:"intent,omitempty"`
	Confidence  float64    `json:"confidence"`
	Replans     int        `json:"replans"`
	ToolsUsed   []string   `json:"tools_used,omitempty"`
	Trace       []State    `json:"trace"`
}

// Machine drives one turn at a time through the dialogue states. It holds
// no per-session data and is safe to share; each Session must only be
// handled by one goroutine at a time.
type Machine struct {
	cfg      Config
	lm       llm.Capability
	schemes  SchemeResolver
	guard    *Guard
	planner  *Planner
	executor *Executor
	eval     *Evaluator
	resp     responder
	logger   *slog.Logger
}

// NewMachine wires the turn loop.
func NewMachine(cat *catalog.Catalog, lm llm.Capability, schemes SchemeResolver, inv Invoker, cfg Config, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReplans < 0 {
		cfg.MaxReplans = 0
	}
	return &Machine{
		cfg:      cfg,
		lm:       lm,
		schemes:  schemes,
		guard:    NewGuard(cfg.ConfidenceThreshold, schemes),
		planner:  NewPlanner(cat.Schemes(), cfg.MinProfileFields),
		executor: NewExecutor(inv, logger),
		eval:     NewEvaluator(cfg.TransientRetries),
		resp:     responder{cat: cat},
		logger:   logger,
	}
}

type turnRun struct {
	s   *Session
	in  Turn
	out TurnOutput
}

func (r *turnRun) enter(st State) {
	r.out.Trace = append(r.out.Trace, st)
	r.s.State = st
}

// HandleTurn processes one utterance and returns the response. It never
// fails: every error kind ends in a response and a next state.
func (m *Machine) HandleTurn(ctx context.Context, s *Session, in Turn) TurnOutput {
	s.Turn++
	s.Profile.SetTurn(s.Turn)
	run := &turnRun{s: s, in: in}
	run.out.Confidence = 0.5 * clamp01(in.Confidence)
	lang := s.Language

	run.enter(StateListening)
	if kind, key := m.guard.Check(lang, in.Text, in.Confidence); kind != ErrNone {
		run.enter(StateErrorRecovery)
		run.out.ErrorKind = kind
		m.logger.Info("Turn rejected", "session_id", s.ID, "turn", s.Turn, "error_kind", kind, "confidence", in.Confidence)
		return m.settle(ctx, run, m.resp.simple(lang, key), StateWaitingForInput, false)
	}

	run.enter(StateUnderstanding)
	ex, err := m.extract(ctx, s, in.Text)
	if err != nil {
		m.logger.Warn("Entity extraction failed", "session_id", s.ID, "turn", s.Turn, "error", err)
		run.enter(StateErrorRecovery)
		run.out.ErrorKind = ErrToolTransientFailure
		return m.settle(ctx, run, m.resp.simple(lang, "repeat"), StateWaitingForInput, false)
	}
	run.out.Intent = ex.Intent

	if ex.Intent == llm.IntentClosing {
		s.Reset()
		out := m.respond(ctx, run, m.resp.simple(lang, "closing"), StateIdle)
		out.NextAction = NextEnd
		return out
	}

	if pending := s.Profile.Pending(); len(pending) > 0 {
		return m.resolveContradiction(ctx, run, ex, pending[0])
	}

	if s.Flow != nil {
		return m.advanceChecklist(ctx, run, ex)
	}

	if ex.Intent == llm.IntentGreeting {
		return m.respond(ctx, run, m.resp.simple(lang, "greet"), StateIdle)
	}

	m.merge(s, ex.Entities, "")
	u := m.understand(s, in.Text, ex)
	if u.Pick > 0 {
		return m.respond(ctx, run, m.resp.badPick(lang, len(s.LastSuggestions)), StateWaitingForInput)
	}
	if pending := s.Profile.Pending(); len(pending) > 0 {
		s.Blocked = &u
		run.out.ErrorKind = ErrContradictionUnresolved
		m.logger.Info("Contradiction raised", "session_id", s.ID, "turn", s.Turn, "field", pending[0].Field)
		return m.settle(ctx, run, m.resp.contradiction(lang, pending[0]), StateWaitingForInput, false)
	}

	return m.respond(ctx, run, m.runPlan(ctx, run, u), StateWaitingForInput)
}

func (m *Machine) extract(ctx context.Context, s *Session, text string) (llm.Extraction, error) {
	if m.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ExtractTimeout)
		defer cancel()
	}
	prior := llm.Prior{
		Language:    s.Language,
		ExpectYesNo: s.Flow != nil || len(s.Profile.Pending()) > 0,
	}
	for _, t := range s.Window.Last(m.cfg.HistoryTurns) {
		prior.History = append(prior.History, t.Utterance)
	}
	ex, err := m.lm.ExtractEntities(ctx, text, prior)
	if err != nil {
		return llm.Extraction{}, err
	}
	if !ex.Intent.Valid() {
		ex.Intent = llm.IntentUnknown
	}
	return ex, nil
}

// merge writes extracted entities into the profile, skipping skip and any
// value that does not fit its field.
func (m *Machine) merge(s *Session, entities map[string]any, skip domain.Field) {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := domain.Field(k)
		if f == skip {
			continue
		}
		v, err := domain.Coerce(f, entities[k])
		if err != nil {
			m.logger.Debug("Dropping entity", "session_id", s.ID, "field", k, "error", err)
			continue
		}
		if _, err := s.Profile.Update(f, v, domain.SourceExtracted); err != nil {
			m.logger.Debug("Profile update rejected", "session_id", s.ID, "field", k, "error", err)
		}
	}
}

// understand resolves which scheme, if any, the utterance is about.
func (m *Machine) understand(s *Session, text string, ex llm.Extraction) Understanding {
	u := Understanding{Text: text, Intent: ex.Intent, Category: ex.Category, Action: tools.Action(ex.Action)}
	switch {
	case ex.Ordinal > 0 && ex.Ordinal <= len(s.LastSuggestions):
		u.SchemeID = s.LastSuggestions[ex.Ordinal-1]
		u.Intent = llm.IntentApplicationHelp
	case ex.Intent == llm.IntentAffirm && len(s.LastSuggestions) > 0:
		u.SchemeID = s.LastSuggestions[0]
		u.Intent = llm.IntentApplicationHelp
	default:
		if id, ok := lookupWithin(m.schemes, strings.Fields(text), 4); ok {
			u.SchemeID = id
			switch u.Intent {
			case llm.IntentUnknown, llm.IntentAffirm, llm.IntentDeny:
				u.Intent = llm.IntentSchemeSearch
			}
		} else if ex.Ordinal > 0 && ex.Action == "" {
			u.Pick = ex.Ordinal
		} else if u.Intent == llm.IntentApplicationHelp && len(s.LastSuggestions) > 0 {
			u.SchemeID = s.LastSuggestions[0]
		}
	}
	return u
}

// runPlan is the PLANNING, EXECUTING, EVALUATING loop. It runs at most
// MaxReplans+1 times.
func (m *Machine) runPlan(ctx context.Context, run *turnRun, u Understanding) reply {
	s := run.s
	in := PlanInput{Understanding: u, Profile: s.Profile.Snapshot(), Language: s.Language}

	var (
		plan      Plan
		ec        *ExecutionContext
		ev        Evaluation
		transient int
	)
	for cycle := 0; ; cycle++ {
		run.enter(StatePlanning)
		if cycle == 0 {
			plan = m.planner.Plan(in)
		} else {
			if ev.ErrorKind == ErrToolTransientFailure {
				transient++
			}
			plan = m.planner.Replan(plan, ec, ev.RelaxFilters)
			run.out.Replans++
		}

		run.enter(StateExecuting)
		next := m.executor.Run(ctx, plan)
		for _, r := range next.Results {
			if r.Status != TaskSkipped && r.Tool != ToolGatherInfo {
				run.out.ToolsUsed = appendTool(run.out.ToolsUsed, r.Tool)
			}
		}
		next.carry(ec)
		ec = next

		run.enter(StateEvaluating)
		ev = m.eval.Evaluate(plan, ec, s.Profile.Pending(), run.in.Confidence, transient)
		if !ev.NeedsReplanning {
			break
		}
		if cycle >= m.cfg.MaxReplans {
			ev.NeedsReplanning = false
			ev.ErrorKind = ErrReplanLimitExceeded
			m.logger.Warn("Replan limit exceeded", "session_id", s.ID, "turn", s.Turn, "plan_id", plan.ID)
			break
		}
	}

	run.out.Confidence = ev.Confidence
	run.out.ErrorKind = ev.ErrorKind
	switch ev.ErrorKind {
	case ErrToolStructuralFailure, ErrPlanUnsatisfiable:
		m.logger.Error("Turn failed", "session_id", s.ID, "turn", s.Turn, "error_kind", ev.ErrorKind, "plan_id", plan.ID)
	}

	if plan.Empty() {
		return m.resp.simple(s.Language, "suggestions_category")
	}
	rep := m.resp.compose(s.Language, ev, ec)
	if rep.flow != nil {
		s.Flow = rep.flow
	}
	if len(rep.suggestions) > 0 {
		s.LastSuggestions = rep.suggestions
	}
	return rep
}

func (m *Machine) resolveContradiction(ctx context.Context, run *turnRun, ex llm.Extraction, c memory.Contradiction) TurnOutput {
	s := run.s
	lang := s.Language

	keepNew, decided := decide(ex, c)
	if !decided {
		run.out.ErrorKind = ErrContradictionUnresolved
		return m.respond(ctx, run, m.resp.contradictionReask(lang, c), StateWaitingForInput)
	}
	if err := s.Profile.Resolve(c.Field, keepNew); err != nil {
		m.logger.Error("Failed to resolve contradiction", "session_id", s.ID, "field", c.Field, "error", err)
	}
	m.merge(s, ex.Entities, c.Field)

	if pending := s.Profile.Pending(); len(pending) > 0 {
		run.out.ErrorKind = ErrContradictionUnresolved
		return m.respond(ctx, run, m.resp.contradiction(lang, pending[0]), StateWaitingForInput)
	}

	entry, _ := s.Profile.Get(c.Field)
	confirmed := m.resp.msg(lang, "confirmed", m.resp.cat.Label(lang, c.Field), entry.Value.String())
	if s.Blocked == nil {
		return m.respond(ctx, run, reply{key: "confirmed", lines: []string{confirmed}}, StateWaitingForInput)
	}
	u := *s.Blocked
	s.Blocked = nil
	rep := m.runPlan(ctx, run, u)
	rep.lines = append([]string{confirmed}, rep.lines...)
	return m.respond(ctx, run, rep, StateWaitingForInput)
}

// decide reads a confirmation answer. Restating one of the two values
// picks it.
func decide(ex llm.Extraction, c memory.Contradiction) (keepNew, ok bool) {
	switch ex.Intent {
	case llm.IntentAffirm:
		return true, true
	case llm.IntentDeny:
		return false, true
	}
	raw, has := ex.Entities[string(c.Field)]
	if !has {
		return false, false
	}
	v, err := domain.Coerce(c.Field, raw)
	if err != nil {
		return false, false
	}
	switch {
	case v.Equal(c.NewValue):
		return true, true
	case v.Equal(c.OldValue):
		return false, true
	}
	return false, false
}

func (m *Machine) advanceChecklist(ctx context.Context, run *turnRun, ex llm.Extraction) TurnOutput {
	s := run.s
	lang := s.Language
	f := s.Flow

	switch ex.Intent {
	case llm.IntentAffirm, llm.IntentDeny:
	default:
		rep := m.resp.simple(lang, "yes_no_only")
		rep.add(m.resp.question(lang, f))
		return m.respond(ctx, run, rep, StateWaitingForInput)
	}

	if ex.Intent == llm.IntentDeny {
		f.Missing = append(f.Missing, f.Items[f.Index])
	}
	f.Index++
	if !f.Done() {
		return m.respond(ctx, run, reply{key: "checklist_question", lines: []string{m.resp.question(lang, f)}}, StateWaitingForInput)
	}

	rep := m.resp.finishChecklist(lang, f)
	m.logger.Info("Checklist complete", "session_id", s.ID, "scheme_id", f.SchemeID, "missing", len(f.Missing))
	s.Reset()
	return m.respond(ctx, run, rep, StateIdle)
}

// respond passes through RESPONDING before settling in final.
func (m *Machine) respond(ctx context.Context, run *turnRun, rep reply, final State) TurnOutput {
	run.enter(StateResponding)
	return m.settle(ctx, run, rep, final, m.cfg.Rewrite)
}

func (m *Machine) settle(ctx context.Context, run *turnRun, rep reply, final State, rewrite bool) TurnOutput {
	s := run.s
	text := rep.text()
	if rewrite {
		text = m.rewrite(ctx, s, rep, text)
	}
	run.enter(final)

	out := run.out
	out.Response = text
	out.State = final
	out.ExpectInput = final == StateWaitingForInput
	out.NextAction = NextIdle
	if out.ExpectInput {
		out.NextAction = NextAwaitInput
	}

	s.Window.Add(memory.Turn{
		Index:      s.Turn,
		Utterance:  run.in.Text,
		Response:   text,
		Intent:     string(out.Intent),
		Confidence: run.in.Confidence,
		At:         time.Now(),
	})
	m.logger.Debug("Turn complete",
		"session_id", s.ID,
		"turn", s.Turn,
		"state", out.State,
		"intent", out.Intent,
		"error_kind", out.ErrorKind,
		"replans", out.Replans,
	)
	return out
}

// rewrite asks the language model to polish text, keeping the template on
// failure.
func (m *Machine) rewrite(ctx context.Context, s *Session, rep reply, text string) string {
	if m.cfg.RewriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RewriteTimeout)
		defer cancel()
	}
	out, err := m.lm.GenerateResponse(ctx, llm.TemplateContext{Key: rep.key, Text: text, Data: rep.data}, s.Language)
	if err != nil {
		m.logger.Warn("Response rewrite failed", "session_id", s.ID, "turn", s.Turn, "error_kind", ErrToolTransientFailure, "error", err)
		return text
	}
	if strings.TrimSpace(out) == "" {
		return text
	}
	return out
}

func appendTool(list []string, name string) []string {
	for _, have := range list {
		if have == name {
			return list
		}
	}
	return append(list, name)
}
