// Package store persists turn telemetry. It is a write-mostly audit trail;
// nothing in it is read back into a live session.
package store

import (
	"context"
	"time"
)

// TurnEvent is the audit record of one processed turn.
type TurnEvent struct {
	SessionID  string    `json:"session_id"`
	Turn       int       `json:"turn"`
	Language   string    `json:"language"`
	Utterance  string    `json:"utterance"`
	Confidence float64   `json:"confidence"`
	Intent     string    `json:"intent,omitempty"`
	State      string    `json:"state"`
	NextAction string    `json:"next_action"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Replans    int       `json:"replans"`
	Tools      []string  `json:"tools,omitempty"`
	Trace      []string  `json:"trace,omitempty"`
	Response   string    `json:"response"`
	LatencyMS  int64     `json:"latency_ms"`
	At         time.Time `json:"at"`
}

// Repository defines the telemetry persistence surface.
type Repository interface {
	// RecordTurn appends one turn event.
	RecordTurn(ctx context.Context, ev TurnEvent) error

	// SessionTurns returns a session's events ordered by turn.
	SessionTurns(ctx context.Context, sessionID string) ([]TurnEvent, error)

	// CleanupOlderThan deletes events recorded before cutoff.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
