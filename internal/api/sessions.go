package api

import (
	"net/http"

	"github.com/ashureev/sahayak/internal/identity"
	"github.com/go-chi/chi/v5"
)

// SessionHandler serves the session lifecycle over plain HTTP.
type SessionHandler struct {
	*Handler
	limiter *RateLimiter
}

// NewSessionHandler creates a session handler. limiter may be nil.
func NewSessionHandler(base *Handler, limiter *RateLimiter) *SessionHandler {
	return &SessionHandler{Handler: base, limiter: limiter}
}

// RegisterRoutes registers the session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.End)
			r.Post("/turns", h.Turn)
		})
	})
}

type createSessionRequest struct {
	Language string `json:"language"`
}

type turnRequest struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Create starts a new session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.sessions.Create(r.Context(), req.Language)
	if err != nil {
		h.sessionError(w, err, "")
		return
	}
	view, err := h.sessions.State(id)
	if err != nil {
		h.sessionError(w, err, id)
		return
	}
	JSON(w, http.StatusCreated, view)
}

// Get returns the session snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	JSON(w, http.StatusOK, view)
}

// End tears the session down.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.lookup(w, r, id); !ok {
		return
	}
	if err := h.sessions.End(r.Context(), id); err != nil {
		h.sessionError(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Turn processes one utterance.
func (h *SessionHandler) Turn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.lookup(w, r, id); !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		w.Header().Set("Retry-After", h.limiter.RetryAfter())
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req turnRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	confidence, ok := turnConfidence(req.Confidence)
	if !ok {
		Error(w, http.StatusBadRequest, "confidence must be within [0, 1]")
		return
	}

	res, err := h.sessions.ProcessTurn(r.Context(), id, req.Text, confidence)
	if err != nil {
		h.sessionError(w, err, id)
		return
	}
	JSON(w, http.StatusOK, res)
}

// turnConfidence defaults a missing confidence to 1 (typed input).
func turnConfidence(c *float64) (float64, bool) {
	if c == nil {
		return 1, true
	}
	if *c < 0 || *c > 1 {
		return 0, false
	}
	return *c, true
}

// clientKey is the rate-limit key: the caller address, never the session
// id.
func clientKey(r *http.Request) string {
	return identity.IPFromRequest(r)
}
