//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/dialogue"
	"github.com/ashureev/sahayak/internal/identity"
	"github.com/ashureev/sahayak/internal/llm"
	"github.com/ashureev/sahayak/internal/retrieval"
	"github.com/ashureev/sahayak/internal/session"
	"github.com/ashureev/sahayak/internal/tools"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type testServer struct {
	*httptest.Server
	sessions *session.Manager
}

func newTestServer(t *testing.T, turnsPerWindow int) *testServer {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)
	retr := retrieval.New(cat.Schemes())
	reg, err := tools.NewDefaultRegistry(cat, retr)
	require.NoError(t, err)
	machine := dialogue.NewMachine(cat, llm.NewRules(cat.Categories()), retr, reg, dialogue.DefaultConfig(), nil)
	mgr := session.NewManager(session.Options{
		Engine:          machine,
		Session:         dialogue.SessionOptions{WindowSize: 10},
		DefaultLanguage: "english",
		Languages:       cat.Languages(),
	})

	limiter := NewRateLimiter(turnsPerWindow, time.Minute)
	t.Cleanup(limiter.Close)

	base := NewHandler(mgr, 4096, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHealthHandler(nil, mgr).RegisterHealth(r)
	NewSessionHandler(base, limiter).RegisterRoutes(r)
	NewSchemeHandler(cat, retr, "english").RegisterRoutes(r)
	NewWebSocketHandler(base, limiter, "*", true).RegisterRoutes(r)
	toolHandler, err := NewToolHandler(base, reg)
	require.NoError(t, err)
	toolHandler.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	srv.Client().Jar = jar
	return &testServer{Server: srv, sessions: mgr}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (s *testServer) create(t *testing.T, lang string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/sessions/", `{"language":"`+lang+`"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)

	resp, body := s.do(t, http.MethodPost, "/api/sessions/", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "english", body["language"])
	assert.Equal(t, "IDLE", body["state"])

	resp, body = s.do(t, http.MethodPost, "/api/sessions/", `{"language":"tamil"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "tamil", body["language"])

	resp, _ = s.do(t, http.MethodPost, "/api/sessions/", `{"language":"klingon"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/sessions/", `{"lang":"tamil"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTurnLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)
	id := s.create(t, "english")

	resp, body := s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":"hello","confidence":0.2}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "LowConfidenceInput", body["error_kind"])
	assert.Equal(t, "await_input", body["next_action"])
	assert.Equal(t, id, body["session_id"])
	assert.EqualValues(t, 1, body["turn"])

	resp, body = s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "IDLE", body["state"])

	resp, body = s.do(t, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["turn"])

	resp, _ = s.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":"hello"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsAreScopedToCaller(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)
	id := s.create(t, "english")

	stranger := &http.Client{}
	for _, req := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/sessions/" + id, ""},
		{http.MethodPost, "/api/sessions/" + id + "/turns", `{"text":"hello"}`},
		{http.MethodDelete, "/api/sessions/" + id, ""},
	} {
		r, err := http.NewRequest(req.method, s.URL+req.path, strings.NewReader(req.body))
		require.NoError(t, err)
		resp, err := stranger.Do(r)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, req.method+" "+req.path)
	}

	resp, body := s.do(t, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["turn"])
	assert.NotContains(t, body, "owner")
}

func TestTurnRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)
	id := s.create(t, "english")

	resp, _ := s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":"hi","confidence":1.5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	big := `{"text":"` + strings.Repeat("a", 5000) + `"}`
	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", big)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTurnRateLimited(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 2)
	id := s.create(t, "english")

	for range 2 {
		resp, _ := s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":"hello"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := s.do(t, http.MethodPost, "/api/sessions/"+id+"/turns", `{"text":"hello"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	// A fresh session does not reset the caller's budget.
	other := s.create(t, "english")
	resp, _ = s.do(t, http.MethodPost, "/api/sessions/"+other+"/turns", `{"text":"hello"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestListSchemes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)

	resp, body := s.do(t, http.MethodGet, "/api/schemes", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	all := body["schemes"].([]any)
	assert.NotEmpty(t, all)
	assert.EqualValues(t, len(all), body["count"])

	resp, body = s.do(t, http.MethodGet, "/api/schemes?category=housing", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, raw := range body["schemes"].([]any) {
		assert.Equal(t, "housing", raw.(map[string]any)["category"])
	}

	resp, body = s.do(t, http.MethodGet, "/api/schemes?q=pmay&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hits := body["schemes"].([]any)
	require.Len(t, hits, 1)
	first := hits[0].(map[string]any)
	assert.Equal(t, "pmay", first["id"])
	assert.InDelta(t, 1.0, first["similarity"], 1e-9)

	resp, _ = s.do(t, http.MethodGet, "/api/schemes?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/schemes?lang=klingon", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToolManifestAndCall(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)

	resp, body := s.do(t, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, body["count"])
	var slugs []string
	for _, raw := range body["tools"].([]any) {
		slugs = append(slugs, raw.(map[string]any)["slug"].(string))
	}
	assert.ElementsMatch(t, []string{
		"sahayak." + tools.NameApplication,
		"sahayak." + tools.NameEligibility,
		"sahayak." + tools.NameRetriever,
	}, slugs)

	resp, body = s.do(t, http.MethodPost, "/api/tools/"+tools.NameRetriever, `{"query":"pmay"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	hits := body["payload"].(map[string]any)["hits"].([]any)
	require.NotEmpty(t, hits)
	assert.Equal(t, "pmay", hits[0].(map[string]any)["scheme_id"])

	resp, body = s.do(t, http.MethodPost, "/api/tools/"+tools.NameEligibility, `{"profile":{"age":45,"is_farmer":true,"land_size":2}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = s.do(t, http.MethodPost, "/api/tools/"+tools.NameEligibility, `{"profile":{"age":-3}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(tools.ErrKindStructural), body["error_kind"])

	resp, _ = s.do(t, http.MethodPost, "/api/tools/"+tools.NameRetriever, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/tools/nope", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("disk gone") }

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)

	resp, body := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disabled", body["checks"].(map[string]any)["database"])

	w := httptest.NewRecorder()
	NewHealthHandler(failingPinger{}, nil).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unreachable")
}

func TestWebSocketTurns(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)
	id := s.create(t, "english")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/sessions/" + id
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: s.Client()})
	require.NoError(t, err)
	defer ws.CloseNow()

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"type": "ping"}))
	var reply wsReply
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	assert.Equal(t, "pong", reply.Type)

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"type": "turn", "text": "hello", "confidence": 0.9}))
	reply = wsReply{}
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	require.Equal(t, "response", reply.Type)
	require.NotNil(t, reply.Turn)
	assert.Equal(t, id, reply.Turn.SessionID)
	assert.Equal(t, dialogue.StateIdle, reply.Turn.State)

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"type": "dance"}))
	reply = wsReply{}
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	assert.Equal(t, "error", reply.Type)

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"type": "end"}))
	reply = wsReply{}
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	assert.Equal(t, "ended", reply.Type)
	assert.Zero(t, s.sessions.Len())
}

func TestWebSocketUnknownSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
