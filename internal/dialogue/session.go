package dialogue

import (
	"time"

	"github.com/ashureev/sahayak/internal/domain"
	"github.com/ashureev/sahayak/internal/memory"
)

// FlowCursor tracks the document checklist walkthrough.
type FlowCursor struct {
	SchemeID string   `json:"scheme_id"`
	Items    []string `json:"items"`
	Index    int      `json:"index"`
	// Missing holds items the user answered "no" to.
	Missing []string `json:"missing,omitempty"`
}

// Done reports whether every item was answered.
func (f *FlowCursor) Done() bool { return f.Index >= len(f.Items) }

// Session is the per-conversation state owned by the machine. It is not
// safe for concurrent use; callers run one turn at a time per session.
type Session struct {
	ID              string
	Language        string
	State           State
	Profile         *memory.Profile
	Window          *memory.Window
	LastSuggestions []string
	Flow            *FlowCursor
	// Blocked is the understanding held back by a pending contradiction.
	Blocked   *Understanding
	Turn      int
	CreatedAt time.Time
}

// SessionOptions sizes per-session memory.
type SessionOptions struct {
	WindowSize int
	Tolerances map[domain.Field]float64
}

// NewSession creates an idle session.
func NewSession(id, lang string, opts SessionOptions) *Session {
	return &Session{
		ID:        id,
		Language:  lang,
		State:     StateIdle,
		Profile:   memory.NewProfile(opts.Tolerances),
		Window:    memory.NewWindow(opts.WindowSize),
		CreatedAt: time.Now(),
	}
}

// Reset clears the profile and every flow, keeping the turn window. A
// pending contradiction is dropped, which keeps the old value.
func (s *Session) Reset() {
	s.Profile.Reset()
	s.Flow = nil
	s.Blocked = nil
	s.LastSuggestions = nil
	s.State = StateIdle
}
