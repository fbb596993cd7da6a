// Package memory holds per-session conversational state: the user profile
// with contradiction tracking and the bounded turn window.
package memory

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ashureev/sahayak/internal/domain"
)

var (
	// ErrNoContradiction is returned by Resolve when the field has no
	// pending contradiction.
	ErrNoContradiction = errors.New("no pending contradiction")
	// ErrUnknownField is returned for fields outside the profile schema.
	ErrUnknownField = errors.New("unknown profile field")
)

// Entry is the stored state of one profile attribute.
type Entry struct {
	Field                domain.Field  `json:"field"`
	Value                domain.Value  `json:"value"`
	Source               domain.Source `json:"source"`
	PreviousValue        *domain.Value `json:"previous_value,omitempty"`
	ContradictionPending bool          `json:"contradiction_pending"`
	// Pending holds the disputed incoming value while ContradictionPending.
	Pending *domain.Value `json:"pending,omitempty"`
	// PendingTurn is the turn index at which the contradiction was detected.
	PendingTurn int `json:"pending_turn,omitempty"`
}

// Contradiction is a conflict between a stored and an incoming value.
type Contradiction struct {
	Field    domain.Field `json:"field"`
	OldValue domain.Value `json:"old_value"`
	NewValue domain.Value `json:"new_value"`
	Turn     int          `json:"turn"`
}

// UpdateOutcome reports what Update did.
type UpdateOutcome struct {
	Applied       bool
	Contradiction *Contradiction
}

// Profile is the per-session attribute store. It is not safe for
// concurrent use; the session owner serializes access.
type Profile struct {
	entries    map[domain.Field]*Entry
	tolerances map[domain.Field]float64
	turn       int
}

// NewProfile creates an empty profile. tolerances gives the allowed numeric
// drift per field before a change counts as a contradiction; missing fields
// use zero.
func NewProfile(tolerances map[domain.Field]float64) *Profile {
	tol := make(map[domain.Field]float64, len(tolerances))
	for f, v := range tolerances {
		tol[f] = v
	}
	return &Profile{
		entries:    make(map[domain.Field]*Entry),
		tolerances: tol,
	}
}

// SetTurn records the current turn index for contradiction bookkeeping.
func (p *Profile) SetTurn(turn int) { p.turn = turn }

// Update stores value for field. A value that differs from the stored one
// beyond the field's tolerance raises a Contradiction and leaves the stored
// value untouched until Resolve.
func (p *Profile) Update(field domain.Field, value domain.Value, source domain.Source) (UpdateOutcome, error) {
	kind, ok := domain.KindOf(field)
	if !ok {
		return UpdateOutcome{}, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if value.Kind != kind {
		return UpdateOutcome{}, fmt.Errorf("field %s expects %s value, got %s", field, kind, value.Kind)
	}
	if kind == domain.KindNumeric && (math.IsNaN(value.Num) || math.IsInf(value.Num, 0)) {
		return UpdateOutcome{}, fmt.Errorf("field %s: %v is not a finite number", field, value.Num)
	}

	e, exists := p.entries[field]
	if !exists {
		p.entries[field] = &Entry{Field: field, Value: value, Source: source}
		return UpdateOutcome{Applied: true}, nil
	}

	if e.ContradictionPending {
		c := Contradiction{Field: field, OldValue: e.Value, NewValue: *e.Pending, Turn: e.PendingTurn}
		return UpdateOutcome{Contradiction: &c}, nil
	}

	if !e.Value.Differs(value, p.tolerances[field]) {
		if source == domain.SourceUserConfirmed {
			e.Source = source
		}
		return UpdateOutcome{Applied: false}, nil
	}

	pending := value
	e.ContradictionPending = true
	e.Pending = &pending
	e.PendingTurn = p.turn
	c := Contradiction{Field: field, OldValue: e.Value, NewValue: value, Turn: p.turn}
	return UpdateOutcome{Contradiction: &c}, nil
}

// Resolve settles a pending contradiction. keepNew commits the incoming
// value as user_confirmed; otherwise the old value stays.
func (p *Profile) Resolve(field domain.Field, keepNew bool) error {
	e, ok := p.entries[field]
	if !ok || !e.ContradictionPending {
		return fmt.Errorf("%w: %s", ErrNoContradiction, field)
	}
	if keepNew {
		old := e.Value
		e.PreviousValue = &old
		e.Value = *e.Pending
		e.Source = domain.SourceUserConfirmed
	}
	e.ContradictionPending = false
	e.Pending = nil
	e.PendingTurn = 0
	return nil
}

// Pending lists unresolved contradictions ordered by field name.
func (p *Profile) Pending() []Contradiction {
	var out []Contradiction
	for _, e := range p.entries {
		if e.ContradictionPending {
			out = append(out, Contradiction{Field: e.Field, OldValue: e.Value, NewValue: *e.Pending, Turn: e.PendingTurn})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Get returns the stored entry for field.
func (p *Profile) Get(field domain.Field) (Entry, bool) {
	e, ok := p.entries[field]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns field → committed value. Disputed fields report their
// committed (old) value.
func (p *Profile) Snapshot() map[domain.Field]domain.Value {
	out := make(map[domain.Field]domain.Value, len(p.entries))
	for f, e := range p.entries {
		out[f] = e.Value
	}
	return out
}

// Entries returns a copy of every entry ordered by field name.
func (p *Profile) Entries() []Entry {
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Len returns the number of known fields.
func (p *Profile) Len() int { return len(p.entries) }

// Reset clears every entry. Pending contradictions are dropped, which keeps
// the old value by never committing the new one.
func (p *Profile) Reset() {
	p.entries = make(map[domain.Field]*Entry)
}
