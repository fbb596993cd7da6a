package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/sahayak/internal/catalog"
	"github.com/ashureev/sahayak/internal/dialogue"
	"github.com/ashureev/sahayak/internal/identity"
	"github.com/ashureev/sahayak/internal/llm"
	"github.com/ashureev/sahayak/internal/retrieval"
	"github.com/ashureev/sahayak/internal/store"
	"github.com/ashureev/sahayak/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// genai's telemetry dependency starts its stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// echoEngine answers with the utterance and tracks concurrent turns per
// session.
type echoEngine struct {
	delay    time.Duration
	inFlight sync.Map // session id -> *int32
	overlap  atomic.Bool
}

func (e *echoEngine) HandleTurn(_ context.Context, s *dialogue.Session, in dialogue.Turn) dialogue.TurnOutput {
	v, _ := e.inFlight.LoadOrStore(s.ID, new(int32))
	n := v.(*int32)
	if atomic.AddInt32(n, 1) > 1 {
		e.overlap.Store(true)
	}
	defer atomic.AddInt32(n, -1)

	time.Sleep(e.delay)
	s.Turn++
	s.State = dialogue.StateWaitingForInput
	return dialogue.TurnOutput{
		Response:    in.Text,
		NextAction:  dialogue.NextAwaitInput,
		ExpectInput: true,
		State:       dialogue.StateWaitingForInput,
		Trace:       []dialogue.State{dialogue.StateListening, dialogue.StateWaitingForInput},
	}
}

type captureRecorder struct {
	mu     sync.Mutex
	events []store.TurnEvent
}

func (c *captureRecorder) Record(ev store.TurnEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureRecorder) snapshot() []store.TurnEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.TurnEvent(nil), c.events...)
}

func newTestManager(engine Engine, rec Recorder, maxSessions int) *Manager {
	return NewManager(Options{
		Engine:          engine,
		Session:         dialogue.SessionOptions{WindowSize: 4},
		DefaultLanguage: "tamil",
		Languages:       []string{"tamil", "english"},
		MaxSessions:     maxSessions,
		Recorder:        rec,
	})
}

func TestCreateAndProcessTurn(t *testing.T) {
	t.Parallel()

	rec := &captureRecorder{}
	m := newTestManager(&echoEngine{}, rec, 0)
	ctx := context.Background()

	id, err := m.Create(ctx, "")
	require.NoError(t, err)
	assert.Len(t, id, 36)

	res, err := m.ProcessTurn(ctx, id, "hello", 0.8)
	require.NoError(t, err)
	assert.Equal(t, id, res.SessionID)
	assert.Equal(t, 1, res.Turn)
	assert.Equal(t, "hello", res.Response)
	assert.Equal(t, dialogue.NextAwaitInput, res.NextAction)

	view, err := m.State(id)
	require.NoError(t, err)
	assert.Equal(t, "tamil", view.Language)
	assert.Equal(t, dialogue.StateWaitingForInput, view.State)
	assert.Equal(t, 1, view.Turn)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].SessionID)
	assert.Equal(t, "tamil", events[0].Language)
	assert.Equal(t, 0.8, events[0].Confidence)
	assert.Equal(t, []string{"LISTENING", "WAITING_FOR_INPUT"}, events[0].Trace)
	assert.Equal(t, "await_input", events[0].NextAction)
}

func TestCreateRecordsOwner(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 0)
	id, err := m.Create(identity.WithCallerID(context.Background(), "anon_owner"), "english")
	require.NoError(t, err)
	view, err := m.State(id)
	require.NoError(t, err)
	assert.Equal(t, "anon_owner", view.Owner)

	anon, err := m.Create(context.Background(), "english")
	require.NoError(t, err)
	view, err = m.State(anon)
	require.NoError(t, err)
	assert.Empty(t, view.Owner)
}

func TestCreateRejectsUnsupportedLanguage(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 0)
	_, err := m.Create(context.Background(), "hindi")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.Zero(t, m.Len())
}

func TestCreateHonorsSessionCap(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 2)
	ctx := context.Background()
	first, err := m.Create(ctx, "english")
	require.NoError(t, err)
	_, err = m.Create(ctx, "english")
	require.NoError(t, err)

	_, err = m.Create(ctx, "english")
	assert.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, m.End(ctx, first))
	_, err = m.Create(ctx, "english")
	assert.NoError(t, err)
}

func TestUnknownAndEndedSessions(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 0)
	ctx := context.Background()

	_, err := m.ProcessTurn(ctx, "nope", "hi", 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.State("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.End(ctx, "nope"), ErrSessionNotFound)

	id, err := m.Create(ctx, "english")
	require.NoError(t, err)
	require.NoError(t, m.End(ctx, id))

	_, err = m.ProcessTurn(ctx, id, "hi", 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.End(ctx, id), ErrSessionNotFound)
}

func TestProcessTurnHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 0)
	id, err := m.Create(context.Background(), "english")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.ProcessTurn(ctx, id, "hi", 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTurnsSerializePerSession(t *testing.T) {
	t.Parallel()

	engine := &echoEngine{delay: 5 * time.Millisecond}
	m := newTestManager(engine, nil, 0)
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		id, err := m.Create(ctx, "english")
		require.NoError(t, err)
		ids[i] = id
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.ProcessTurn(ctx, id, "x", 1)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	assert.False(t, engine.overlap.Load(), "turns of one session overlapped")
	for _, id := range ids {
		view, err := m.State(id)
		require.NoError(t, err)
		assert.Equal(t, 5, view.Turn)
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 0)
	ctx := context.Background()
	clock := time.Now()
	m.now = func() time.Time { return clock }

	stale, err := m.Create(ctx, "english")
	require.NoError(t, err)
	clock = clock.Add(10 * time.Minute)
	fresh, err := m.Create(ctx, "english")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	assert.Equal(t, 1, m.Sweep(5*time.Minute))
	assert.Equal(t, 1, m.Len())

	_, err = m.State(stale)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.State(fresh)
	assert.NoError(t, err)
}

func TestSweepSkipsBusySession(t *testing.T) {
	t.Parallel()

	m := newTestManager(&echoEngine{}, nil, 0)
	id, err := m.Create(context.Background(), "english")
	require.NoError(t, err)

	m.mu.RLock()
	e := m.sessions[id]
	m.mu.RUnlock()
	e.mu.Lock()
	assert.Zero(t, m.Sweep(-time.Hour))
	e.mu.Unlock()

	assert.Equal(t, 1, m.Sweep(-time.Hour))
}

func TestManagerWithDialogueMachine(t *testing.T) {
	t.Parallel()

	cat, err := catalog.Default()
	require.NoError(t, err)
	retr := retrieval.New(cat.Schemes())
	reg, err := tools.NewDefaultRegistry(cat, retr)
	require.NoError(t, err)
	machine := dialogue.NewMachine(cat, llm.NewRules(cat.Categories()), retr, reg, dialogue.DefaultConfig(), nil)

	m := newTestManager(machine, nil, 0)
	ctx := context.Background()
	id, err := m.Create(ctx, "tamil")
	require.NoError(t, err)

	res, err := m.ProcessTurn(ctx, id, "வணக்கம்", 0.9)
	require.NoError(t, err)
	assert.Equal(t, dialogue.StateIdle, res.State)
	assert.NotEmpty(t, res.Response)

	view, err := m.State(id)
	require.NoError(t, err)
	assert.Len(t, view.History, 1)
}
