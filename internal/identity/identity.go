// Package identity provides anonymous per-device caller identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	CallerCookieName = "sahayak_caller"
	callerCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const callerIDKey contextKey = iota

var callerIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// CallerIDFromContext extracts the caller ID from the request context. It is
// empty outside HTTP requests.
func CallerIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCallerID returns a copy of ctx carrying id.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

func generateCallerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate caller id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidCallerID(id string) bool {
	return callerIDPattern.MatchString(id)
}

func setCallerCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CallerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(callerCookieAge.Seconds()),
		Expires:  time.Now().Add(callerCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateCallerID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(CallerCookieName); err == nil && isValidCallerID(c.Value) {
		setCallerCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateCallerID()
	if err != nil {
		return "", err
	}
	setCallerCookie(w, id, isDev)
	return id, nil
}

// Middleware injects an anonymous per-device caller ID, issuing a cookie on
// first contact.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID, err := getOrCreateCallerID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCallerID(r.Context(), callerID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
