package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/sahayak/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS turn_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn INTEGER NOT NULL,
		language TEXT NOT NULL,
		utterance TEXT NOT NULL,
		confidence REAL NOT NULL,
		intent TEXT,
		state TEXT NOT NULL,
		next_action TEXT NOT NULL,
		error_kind TEXT,
		replans INTEGER NOT NULL DEFAULT 0,
		tools_json TEXT,
		trace_json TEXT,
		response TEXT NOT NULL,
		latency_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turn_events_session ON turn_events(session_id, turn);
	CREATE INDEX IF NOT EXISTS idx_turn_events_created ON turn_events(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordTurn inserts one turn event, retrying briefly when the database is
// locked by another writer.
func (s *SQLiteStore) RecordTurn(ctx context.Context, ev TurnEvent) error {
	tools, err := json.Marshal(ev.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	trace, err := json.Marshal(ev.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	query := `
	INSERT INTO turn_events (
		session_id, turn, language, utterance, confidence, intent, state,
		next_action, error_kind, replans, tools_json, trace_json, response,
		latency_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			ev.SessionID, ev.Turn, ev.Language, ev.Utterance, ev.Confidence,
			nullString(ev.Intent), ev.State, ev.NextAction, nullString(ev.ErrorKind),
			ev.Replans, string(tools), string(trace), ev.Response,
			ev.LatencyMS, ev.At.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert turn event: %w", err)
		}
		return nil
	})
}

// SessionTurns returns every recorded turn of a session.
func (s *SQLiteStore) SessionTurns(ctx context.Context, sessionID string) ([]TurnEvent, error) {
	query := `
		SELECT session_id, turn, language, utterance, confidence, intent, state,
		       next_action, error_kind, replans, tools_json, trace_json, response,
		       latency_ms, created_at
		FROM turn_events WHERE session_id = ? ORDER BY turn, id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turn events: %w", err)
	}
	defer rows.Close()

	var out []TurnEvent
	for rows.Next() {
		var (
			ev                 TurnEvent
			intent, errKind    sql.NullString
			toolsJSON, traceJS sql.NullString
			createdAt          int64
		)
		if err := rows.Scan(
			&ev.SessionID, &ev.Turn, &ev.Language, &ev.Utterance, &ev.Confidence,
			&intent, &ev.State, &ev.NextAction, &errKind, &ev.Replans,
			&toolsJSON, &traceJS, &ev.Response, &ev.LatencyMS, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn event: %w", err)
		}
		ev.Intent = intent.String
		ev.ErrorKind = errKind.String
		ev.At = time.UnixMilli(createdAt)
		if toolsJSON.Valid {
			if err := json.Unmarshal([]byte(toolsJSON.String), &ev.Tools); err != nil {
				return nil, fmt.Errorf("decode tools: %w", err)
			}
		}
		if traceJS.Valid {
			if err := json.Unmarshal([]byte(traceJS.String), &ev.Trace); err != nil {
				return nil, fmt.Errorf("decode trace: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn events: %w", err)
	}
	return out, nil
}

// CleanupOlderThan removes events recorded before cutoff.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM turn_events WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("delete turn events: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.Info("Turn telemetry cleanup", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// withRetry runs fn with exponential backoff while it fails with a SQLite
// conflict.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < writeRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == writeRetries-1 {
			break
		}
		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite write conflict, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", writeRetries, err)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
