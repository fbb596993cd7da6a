// Package tools exposes the scorer, the retriever and the application
// guidance lookup behind one invocation surface.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/domain"
)

var (
	// ErrUnknownTool is returned when no tool is registered under a name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArgument marks a call that cannot succeed when retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable marks a backend that may recover on retry.
	ErrUnavailable = errors.New("tool backend unavailable")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// MissingFieldsError reports profile fields a tool needs before it can run.
type MissingFieldsError struct {
	Fields []domain.Field
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %v", e.Fields)
}

// Names of the built-in tools.
const (
	NameEligibility = "eligibility_checker"
	NameRetriever   = "scheme_retriever"
	NameApplication = "application_helper"
)

// Args carries tool arguments keyed by parameter name.
type Args map[string]any

// Output is what a tool returns on success. Bindings are named values
// that later tasks in the same plan may reference.
type Output struct {
	Payload  any
	Bindings map[string]any
}

// Tool is one invocable capability.
type Tool interface {
	Name() string
	Description() string
	// Schema is the JSON schema of the accepted arguments.
	Schema() string
	Run(ctx context.Context, args Args) (Output, error)
}

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	ErrKindNone          ErrorKind = ""
	ErrKindTransient     ErrorKind = "transient"
	ErrKindStructural    ErrorKind = "structural"
	ErrKindMissingFields ErrorKind = "missing_fields"
)

// Result is the structured outcome of one invocation.
type Result struct {
	Tool          string         `json:"tool"`
	Success       bool           `json:"success"`
	Payload       any            `json:"payload,omitempty"`
	ErrKind       ErrorKind      `json:"error_kind,omitempty"`
	Err           string         `json:"error,omitempty"`
	MissingFields []domain.Field `json:"missing_fields,omitempty"`
	Bindings      map[string]any `json:"bindings,omitempty"`
}

// Registry is the name-keyed lookup of tools. It is safe for concurrent
// use once populated.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	timeout time.Duration
	logger  *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeout bounds every invocation.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithLogger sets the logger used for failed invocations.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry registers the three built-in tools over cat.
func NewDefaultRegistry(cat *catalog.Catalog, retr SchemeSearcher, opts ...RegistryOption) (*Registry, error) {
	r := NewRegistry(opts...)
	for _, t := range []Tool{
		NewEligibilityChecker(cat),
		NewSchemeRetriever(retr),
		NewApplicationHelper(cat),
	} {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t under its name.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named tool. It never returns a Go error: every failure
// is folded into the Result with its ErrorKind.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) Result {
	t, ok := r.Get(name)
	if !ok {
		return Result{Tool: name, ErrKind: ErrKindStructural, Err: fmt.Errorf("%w: %s", ErrUnknownTool, name).Error()}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := t.Run(ctx, args)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		res := Result{Tool: name, ErrKind: Classify(err), Err: err.Error()}
		var mf *MissingFieldsError
		if errors.As(err, &mf) {
			res.MissingFields = mf.Fields
		}
		r.logger.Warn("Tool invocation failed", "tool", name, "error_kind", res.ErrKind, "error", err)
		return res
	}
	return Result{Tool: name, Success: true, Payload: out.Payload, Bindings: out.Bindings}
}

// Classify maps an error to its ErrorKind.
func Classify(err error) ErrorKind {
	var mf *MissingFieldsError
	switch {
	case err == nil:
		return ErrKindNone
	case errors.As(err, &mf):
		return ErrKindMissingFields
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, ErrUnavailable):
		return ErrKindTransient
	default:
		return ErrKindStructural
	}
}
