// Package session is the presentation-facing lifecycle around the dialogue
// engine: it creates sessions, serializes turns per session and retires
// idle ones.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/sahayak/internal/dialogue"
	"github.com/ashureev/sahayak/internal/identity"
	"github.com/ashureev/sahayak/internal/memory"
	"github.com/ashureev/sahayak/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for unknown or ended sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned by Create when the live session cap
	// is reached.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrUnsupportedLanguage is returned by Create for a language without
	// localized messages.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Engine runs one turn on a session. *dialogue.Machine implements it.
type Engine interface {
	HandleTurn(ctx context.Context, s *dialogue.Session, in dialogue.Turn) dialogue.TurnOutput
}

// Recorder receives turn telemetry. *store.Recorder implements it.
type Recorder interface {
	Record(ev store.TurnEvent)
}

// Options configures a Manager.
type Options struct {
	Engine          Engine
	Session         dialogue.SessionOptions
	DefaultLanguage string
	Languages       []string
	MaxSessions     int
	Recorder        Recorder
	Logger          *slog.Logger
}

// TurnResult is the per-turn answer handed to the presentation layer.
type TurnResult struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
	dialogue.TurnOutput
}

// StateView is a read-only snapshot of a session.
type StateView struct {
	ID              string                 `json:"id"`
	Owner           string                 `json:"-"`
	Language        string                 `json:"language"`
	State           dialogue.State         `json:"state"`
	Turn            int                    `json:"turn"`
	Profile         []memory.Entry         `json:"profile"`
	Contradictions  []memory.Contradiction `json:"contradictions,omitempty"`
	Flow            *dialogue.FlowCursor   `json:"flow,omitempty"`
	LastSuggestions []string               `json:"last_suggestions,omitempty"`
	History         []memory.Turn          `json:"history,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LastActive      time.Time              `json:"last_active"`
}

type entry struct {
	mu         sync.Mutex
	sess       *dialogue.Session
	owner      string
	lastActive time.Time
	ended      bool
}

// Manager owns live sessions. Turns of one session run one at a time;
// distinct sessions run in parallel.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	engine      Engine
	sessOpts    dialogue.SessionOptions
	defaultLang string
	languages   []string
	maxSessions int
	recorder    Recorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "tamil"
	}
	return &Manager{
		sessions:    make(map[string]*entry),
		engine:      opts.Engine,
		sessOpts:    opts.Session,
		defaultLang: opts.DefaultLanguage,
		languages:   opts.Languages,
		maxSessions: opts.MaxSessions,
		recorder:    opts.Recorder,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// Create starts a session in lang, or the default language when lang is
// empty, and returns its id. The caller identity on ctx, if any, becomes
// the session owner.
func (m *Manager) Create(ctx context.Context, lang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if lang == "" {
		lang = m.defaultLang
	}
	if len(m.languages) > 0 && !slices.Contains(m.languages, lang) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		return "", ErrTooManySessions
	}
	sess := dialogue.NewSession(id.String(), lang, m.sessOpts)
	m.sessions[sess.ID] = &entry{sess: sess, owner: identity.CallerIDFromContext(ctx), lastActive: m.now()}

	m.logger.Info("Session created", "session_id", sess.ID, "language", lang, "live_sessions", len(m.sessions))
	return sess.ID, nil
}

func (m *Manager) get(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// ProcessTurn runs one utterance through the session's dialogue.
func (m *Manager) ProcessTurn(ctx context.Context, id, text string, confidence float64) (TurnResult, error) {
	e, err := m.get(id)
	if err != nil {
		return TurnResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}

	start := m.now()
	out := m.engine.HandleTurn(ctx, e.sess, dialogue.Turn{Text: text, Confidence: confidence})
	e.lastActive = m.now()

	res := TurnResult{SessionID: id, Turn: e.sess.Turn, TurnOutput: out}
	m.record(e.sess, text, confidence, out, e.lastActive.Sub(start))
	return res, nil
}

func (m *Manager) record(s *dialogue.Session, text string, confidence float64, out dialogue.TurnOutput, took time.Duration) {
	if m.recorder == nil {
		return
	}
	trace := make([]string, len(out.Trace))
	for i, st := range out.Trace {
		trace[i] = string(st)
	}
	m.recorder.Record(store.TurnEvent{
		SessionID:  s.ID,
		Turn:       s.Turn,
		Language:   s.Language,
		Utterance:  text,
		Confidence: confidence,
		Intent:     string(out.Intent),
		State:      string(out.State),
		NextAction: string(out.NextAction),
		ErrorKind:  string(out.ErrorKind),
		Replans:    out.Replans,
		Tools:      out.ToolsUsed,
		Trace:      trace,
		Response:   out.Response,
		LatencyMS:  took.Milliseconds(),
		At:         m.now(),
	})
}

// End tears a session down. A pending contradiction is dropped, which
// keeps the old value.
func (m *Manager) End(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.mu.Lock()
	e.ended = true
	e.sess.Reset()
	e.mu.Unlock()

	m.logger.Info("Session ended", "session_id", id)
	return nil
}

// State returns a snapshot of the session.
func (m *Manager) State(id string) (StateView, error) {
	e, err := m.get(id)
	if err != nil {
		return StateView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	v := StateView{
		ID:              s.ID,
		Owner:           e.owner,
		Language:        s.Language,
		State:           s.State,
		Turn:            s.Turn,
		Profile:         s.Profile.Entries(),
		Contradictions:  s.Profile.Pending(),
		LastSuggestions: slices.Clone(s.LastSuggestions),
		History:         s.Window.Turns(),
		CreatedAt:       s.CreatedAt,
		LastActive:      e.lastActive,
	}
	if s.Flow != nil {
		f := *s.Flow
		f.Items = slices.Clone(f.Items)
		f.Missing = slices.Clone(f.Missing)
		v.Flow = &f
	}
	return v, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep ends sessions idle for longer than ttl and returns how many it
// removed. Sessions with a turn in flight are left alone.
func (m *Manager) Sweep(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var expired []*entry
	for id, e := range m.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastActive.Before(cutoff) {
			e.ended = true
			delete(m.sessions, id)
			expired = append(expired, e)
			continue
		}
		e.mu.Unlock()
	}
	m.mu.Unlock()

	for _, e := range expired {
		e.sess.Reset()
		m.logger.Info("Session expired", "session_id", e.sess.ID, "idle_since", e.lastActive)
		e.mu.Unlock()
	}
	return len(expired)
}
