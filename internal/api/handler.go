// Package api provides HTTP handlers for the Sahayak API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/sahayak/internal/identity"
	"github.com/ashureev/sahayak/internal/session"
)

// Sessions is the session lifecycle the handlers drive.
// *session.Manager implements it.
type Sessions interface {
	Create(ctx context.Context, lang string) (string, error)
	ProcessTurn(ctx context.Context, id, text string, confidence float64) (session.TurnResult, error)
	End(ctx context.Context, id string) error
	State(id string) (session.StateView, error)
}

// Handler provides common handler utilities.
type Handler struct {
	sessions    Sessions
	maxBodySize int64
	logger      *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions Sessions, maxBodySize int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodySize <= 0 {
		maxBodySize = 64 * 1024
	}
	return &Handler{
		sessions:    sessions,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v. An empty body leaves v
// untouched.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// sessionError maps session sentinels to HTTP statuses.
func (h *Handler) sessionError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrTooManySessions):
		Error(w, http.StatusServiceUnavailable, "too many active sessions")
	case errors.Is(err, session.ErrUnsupportedLanguage):
		Error(w, http.StatusBadRequest, "unsupported language")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusRequestTimeout, "request cancelled")
	default:
		h.logger.Error("Session operation failed", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// lookup returns the session when it exists and belongs to the caller.
// Sessions of other callers read as missing.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, id string) (session.StateView, bool) {
	view, err := h.sessions.State(id)
	if err != nil {
		h.sessionError(w, err, id)
		return session.StateView{}, false
	}
	if view.Owner != "" && view.Owner != identity.CallerIDFromContext(r.Context()) {
		h.logger.Warn("Session accessed by another caller", "session_id", id)
		Error(w, http.StatusNotFound, "session not found")
		return session.StateView{}, false
	}
	return view, true
}
