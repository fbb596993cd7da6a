package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  string
		wantStatus int
	}{
		{"wildcard echoes origin without credentials", []string{"*"}, "https://a.example", http.MethodGet, "https://a.example", "", http.StatusTeapot},
		{"explicit origin gets credentials", []string{"https://a.example"}, "https://a.example", http.MethodPost, "https://a.example", "true", http.StatusTeapot},
		{"unlisted origin gets no headers", []string{"https://a.example"}, "https://b.example", http.MethodGet, "", "", http.StatusTeapot},
		{"no origin header", []string{"*"}, "", http.MethodGet, "", "", http.StatusTeapot},
		{"preflight short-circuits", []string{"*"}, "https://a.example", http.MethodOptions, "https://a.example", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/sessions", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
