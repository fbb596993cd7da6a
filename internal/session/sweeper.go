package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Janitor runs periodic housekeeping jobs on a cron schedule. Jobs share a
// context that is cancelled by Stop.
type Janitor struct {
	cron   *rcron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewJanitor creates a janitor. Schedules use the standard five-field cron
// syntax and descriptors such as "@every 1m".
func NewJanitor(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Janitor{
		cron:   rcron.New(rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// AddJob registers fn under name. Overlapping runs of the same job are
// skipped.
func (j *Janitor) AddJob(schedule, name string, fn func(ctx context.Context) error) error {
	_, err := j.cron.AddFunc(schedule, func() {
		start := time.Now()
		if err := fn(j.ctx); err != nil {
			j.logger.Warn("Janitor job failed", "job", name, "error", err)
			return
		}
		j.logger.Debug("Janitor job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, schedule, err)
	}
	return nil
}

// Start begins running jobs in the background.
func (j *Janitor) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started || j.stopped {
		return
	}
	j.started = true
	j.cron.Start()
	j.logger.Info("Janitor started", "jobs", len(j.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return nil
	}
	j.stopped = true
	j.mu.Unlock()

	j.cancel()
	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.logger.Info("Janitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("janitor stop: %w", ctx.Err())
	}
}

// Retention is the telemetry side of housekeeping.
type Retention interface {
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RegisterSweeps wires the standard housekeeping jobs: idle session expiry
// and, when repo is set and retention is positive, telemetry pruning.
func RegisterSweeps(j *Janitor, m *Manager, schedule string, idleTTL time.Duration, repo Retention, retention time.Duration) error {
	if idleTTL > 0 {
		err := j.AddJob(schedule, "session_sweep", func(context.Context) error {
			if n := m.Sweep(idleTTL); n > 0 {
				m.logger.Info("Idle sessions swept", "expired", n, "live_sessions", m.Len())
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if repo != nil && retention > 0 {
		err := j.AddJob(schedule, "telemetry_retention", func(ctx context.Context) error {
			_, err := repo.CleanupOlderThan(ctx, time.Now().Add(-retention))
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
