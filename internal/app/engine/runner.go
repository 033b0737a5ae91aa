package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ─── Daily Runner ───────────────────────────────────────────────────────────

// RunnerConfig controls when the daily inactivity pass fires.
type RunnerConfig struct {
	RunAt    string         // wall-clock "HH:MM" (default: "03:00")
	Location *time.Location // calendar of RunAt (default: UTC)
}

// DefaultRunnerConfig returns safe runner defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		RunAt:    "03:00",
		Location: time.UTC,
	}
}

// RunnerStats reports what the runner has done so far.
type RunnerStats struct {
	Runs      int64     `json:"runs"`
	Failed    int64     `json:"failed"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastAsOf  time.Time `json:"last_as_of,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	NextRunAt time.Time `json:"next_run_at,omitzero"`
}

// Runner triggers RunInactivityPass once a day.
type Runner struct {
	svc    *Service
	cfg    RunnerConfig
	hour   int
	minute int
	log    *zap.Logger
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time

	mu      sync.RWMutex
	stats   RunnerStats
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewRunner creates a runner for svc.
func NewRunner(svc *Service, cfg RunnerConfig, log *zap.Logger) (*Runner, error) {
	if cfg.RunAt == "" {
		cfg.RunAt = DefaultRunnerConfig().RunAt
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	t, err := time.Parse("15:04", cfg.RunAt)
	if err != nil {
		return nil, fmt.Errorf("run_at %q: want HH:MM", cfg.RunAt)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		svc:    svc,
		cfg:    cfg,
		hour:   t.Hour(),
		minute: t.Minute(),
		log:    log.Named("runner"),
		now:    time.Now,
		after:  time.After,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background loop. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.run(ctx)
	r.log.Info("daily runner started",
		zap.String("run_at", r.cfg.RunAt),
		zap.String("timezone", r.cfg.Location.String()))
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	<-r.doneCh
	r.log.Info("daily runner stopped")
}

// Stats returns a copy of the runner counters.
func (r *Runner) Stats() RunnerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// NextRun returns the first RunAt instant strictly after now.
func (r *Runner) NextRun(now time.Time) time.Time {
	local := now.In(r.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), r.hour, r.minute, 0, 0, r.cfg.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, r.hour, r.minute, 0, 0, r.cfg.Location)
	}
	return next
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	for {
		next := r.NextRun(r.now())
		r.mu.Lock()
		r.stats.NextRunAt = next
		r.mu.Unlock()

		select {
		case <-r.after(next.Sub(r.now())):
			r.RunOnce(ctx, next)
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs the pass as of asOf and records the outcome in Stats.
func (r *Runner) RunOnce(ctx context.Context, asOf time.Time) {
	run, err := r.svc.RunInactivityPass(ctx, asOf)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Runs++
	r.stats.LastAsOf = asOf
	if err != nil {
		r.stats.Failed++
		r.stats.LastError = err.Error()
		r.log.Error("scheduled pass failed", zap.Time("as_of", asOf), zap.Error(err))
		return
	}
	r.stats.LastRunID = run.ID
	r.stats.LastError = ""
}
