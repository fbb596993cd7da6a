// Package dialogue is the conversational reasoning engine: the per-turn
// state machine and its plan, execute and evaluate loop.
package dialogue

import (
	"github.com/ashureev/sahayak/internal/llm"
	"github.com/ashureev/sahayak/internal/tools"
	"github.com/google/uuid"
)

// State is a dialogue state.
type State string

const (
	StateIdle            State = "IDLE"
	StateListening       State = "LISTENING"
	StateUnderstanding   State = "UNDERSTANDING"
	StatePlanning        State = "PLANNING"
	StateExecuting       State = "EXECUTING"
	StateEvaluating      State = "EVALUATING"
	StateResponding      State = "RESPONDING"
	StateWaitingForInput State = "WAITING_FOR_INPUT"
	StateErrorRecovery   State = "ERROR_RECOVERY"
)

// ErrorKind classifies why a turn did not complete normally. The empty
// value means no error.
type ErrorKind string

const (
	ErrNone                    ErrorKind = ""
	ErrLowConfidenceInput      ErrorKind = "LowConfidenceInput"
	ErrUnsupportedLanguage     ErrorKind = "UnsupportedLanguageInput"
	ErrContradictionUnresolved ErrorKind = "ContradictionUnresolved"
	ErrMissingRequiredFields   ErrorKind = "MissingRequiredFields"
	ErrToolTransientFailure    ErrorKind = "ToolTransientFailure"
	ErrToolStructuralFailure   ErrorKind = "ToolStructuralFailure"
	ErrPlanUnsatisfiable       ErrorKind = "PlanUnsatisfiable"
	ErrReplanLimitExceeded     ErrorKind = "ReplanLimitExceeded"
)

// NextAction tells the presentation layer what to do after a response.
type NextAction string

const (
	NextAwaitInput NextAction = "await_input"
	NextIdle       NextAction = "idle"
	NextEnd        NextAction = "end"
)

// ToolGatherInfo is the pseudo-tool that asks the user for missing fields
// instead of invoking a real tool.
const ToolGatherInfo = "gather_info"

// Ref is an argument bound to another task's output.
type Ref struct {
	Task string `json:"task"`
	Key  string `json:"key"`
}

// Task is one tool invocation in a plan.
type Task struct {
	ID        string     `json:"id"`
	Tool      string     `json:"tool"`
	Args      tools.Args `json:"args,omitempty"`
	DependsOn []string   `json:"depends_on,omitempty"`
	// Optional tasks enrich the answer; their missing-field markers
	// become a follow-up question instead of blocking the turn.
	Optional bool `json:"optional,omitempty"`
}

// Plan is the task list for one turn. A replan produces a new Plan.
type Plan struct {
	ID       uuid.UUID  `json:"id"`
	Intent   llm.Intent `json:"intent"`
	Revision int        `json:"revision"`
	Tasks    []Task     `json:"tasks"`
}

// Empty reports whether the plan has no tasks.
func (p Plan) Empty() bool { return len(p.Tasks) == 0 }

// Understanding is the machine's reading of one utterance after
// extraction and scheme resolution.
type Understanding struct {
	Text     string
	Intent   llm.Intent
	Category string
	Action   tools.Action
	// SchemeID is set when the utterance names a scheme exactly or picks
	// one from earlier suggestions.
	SchemeID string
	// Pick is an ordinal that matched no earlier suggestion.
	Pick int
}
