package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder queues turn events and writes them in the background so a turn
// never waits on the database. When the queue is full the oldest event is
// dropped.
type Recorder struct {
	repo   Repository
	queue  chan TurnEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewRecorder starts a recorder writing to repo with room for size queued
// events.
func NewRecorder(repo Repository, size int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		repo:   repo,
		queue:  make(chan TurnEvent, size),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record queues ev. It never blocks.
func (r *Recorder) Record(ev TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- ev:
		return
	default:
	}

	// Queue full: drop the oldest event to make room.
	select {
	case <-r.queue:
		r.dropped++
	default:
	}
	select {
	case r.queue <- ev:
	default:
		r.dropped++
	}
	r.logger.Warn("Telemetry queue full, dropped oldest event",
		"session_id", ev.SessionID,
		"dropped_total", r.dropped,
	)
}

// Dropped returns how many events were discarded under backpressure.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.queue:
			r.write(ev)
		}
	}
}

func (r *Recorder) write(ev TurnEvent) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.RecordTurn(ctx, ev); err != nil {
		r.logger.Error("Failed to record turn", "session_id", ev.SessionID, "turn", ev.Turn, "error", err)
		return
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		r.logger.Warn("Slow telemetry write", "session_id", ev.SessionID, "duration_ms", d.Milliseconds())
	}
}

// Close stops the worker and writes whatever is still queued.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	flushed := 0
	for {
		select {
		case ev := <-r.queue:
			r.write(ev)
			flushed++
		default:
			if flushed > 0 {
				r.logger.Info("Telemetry recorder flushed on close", "count", flushed)
			}
			return nil
		}
	}
}
