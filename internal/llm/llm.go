// Package llm is the narrow language-model capability the dialogue engine
// consumes: entity/intent extraction and response rewriting.
//
// The backend (offline rules, Gemini or a gRPC sidecar) is chosen once at
// process start; callers only see Capability.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("language model timed out")
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("language model unavailable")
	// ErrMalformed is returned when the backend answer cannot be decoded.
	ErrMalformed = errors.New("malformed language model response")
)

// Intent is the coarse purpose of an utterance.
type Intent string

const (
	IntentGreeting         Intent = "greeting"
	IntentClosing          Intent = "closing"
	IntentSchemeSearch     Intent = "scheme_search"
	IntentEligibilityCheck Intent = "eligibility_check"
	IntentApplicationHelp  Intent = "application_help"
	IntentAffirm           Intent = "affirm"
	IntentDeny             Intent = "deny"
	IntentProvideInfo      Intent = "provide_info"
	IntentUnknown          Intent = "unknown"
)

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	switch i {
	case IntentGreeting, IntentClosing, IntentSchemeSearch, IntentEligibilityCheck,
		IntentApplicationHelp, IntentAffirm, IntentDeny, IntentProvideInfo, IntentUnknown:
		return true
	}
	return false
}

// Extraction is the structured reading of one utterance.
type Extraction struct {
	Intent Intent `json:"intent"`
	// Entities maps profile field names to loosely typed values.
	Entities map[string]any `json:"entities,omitempty"`
	Category string         `json:"category,omitempty"`
	// Action is an application-help sub-request such as get_documents.
	Action string `json:"action,omitempty"`
	// Ordinal is a 1-based pick from earlier suggestions, 0 when absent.
	Ordinal int `json:"ordinal,omitempty"`
}

// Prior is the conversational context handed to the extractor.
type Prior struct {
	Language string
	History  []string
	// ExpectYesNo is set when the last response asked a yes/no question.
	ExpectYesNo bool
}

// TemplateContext is a rendered response and the data it was built from.
type TemplateContext struct {
	Key  string         `json:"key"`
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

// Capability is the language-model contract.
type Capability interface {
	ExtractEntities(ctx context.Context, text string, prior Prior) (Extraction, error)
	GenerateResponse(ctx context.Context, tc TemplateContext, lang string) (string, error)
}

type timeoutCapability struct {
	next Capability
	d    time.Duration
}

// WithTimeout bounds every call to c by d and maps deadline overruns to
// ErrTimeout.
func WithTimeout(c Capability, d time.Duration) Capability {
	if d <= 0 {
		return c
	}
	return &timeoutCapability{next: c, d: d}
}

func (t *timeoutCapability) ExtractEntities(ctx context.Context, text string, prior Prior) (Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	ex, err := t.next.ExtractEntities(ctx, text, prior)
	return ex, mapDeadline(ctx, err)
}

func (t *timeoutCapability) GenerateResponse(ctx context.Context, tc TemplateContext, lang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	out, err := t.next.GenerateResponse(ctx, tc, lang)
	return out, mapDeadline(ctx, err)
}

func mapDeadline(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// Provider names accepted by New.
const (
	ProviderRules  = "rules"
	ProviderGemini = "gemini"
	ProviderGRPC   = "grpc"
)
