package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affnet-network/affnet/internal/domain"
)

func TestNewRunner_RejectsBadRunAt(t *testing.T) {
	for _, runAt := range []string{"3am", "25:00", "03:60"} {
		_, err := NewRunner(nil, RunnerConfig{RunAt: runAt}, nil)
		assert.Error(t, err, runAt)
	}
}

func TestRunner_NextRun(t *testing.T) {
	brt := time.FixedZone("BRT", -3*60*60)
	r, err := NewRunner(nil, RunnerConfig{RunAt: "03:00", Location: brt}, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before run time", time.Date(2026, 5, 10, 2, 0, 0, 0, brt), time.Date(2026, 5, 10, 3, 0, 0, 0, brt)},
		{"exactly at run time", time.Date(2026, 5, 10, 3, 0, 0, 0, brt), time.Date(2026, 5, 11, 3, 0, 0, 0, brt)},
		{"after run time", time.Date(2026, 5, 10, 15, 0, 0, 0, brt), time.Date(2026, 5, 11, 3, 0, 0, 0, brt)},
		{"utc input", time.Date(2026, 5, 10, 5, 30, 0, 0, time.UTC), time.Date(2026, 5, 11, 3, 0, 0, 0, brt)},
		{"month end", time.Date(2026, 5, 31, 4, 0, 0, 0, brt), time.Date(2026, 6, 1, 3, 0, 0, 0, brt)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.NextRun(tt.now)
			assert.True(t, got.Equal(tt.want), "NextRun(%v) = %v, want %v", tt.now, got, tt.want)
		})
	}
}

func TestRunner_FiresPass(t *testing.T) {
	h := newHarness(t)
	h.register(t, "a", "", 0)
	h.clock.Set(day(40))

	r, err := NewRunner(h.svc, RunnerConfig{RunAt: "03:00"}, nil)
	require.NoError(t, err)
	r.now = h.clock.Now
	tick := make(chan time.Time)
	r.after = func(time.Duration) <-chan time.Time { return tick }

	r.Start(context.Background())
	tick <- day(40)
	require.Eventually(t, func() bool { return r.Stats().Runs == 1 }, 5*time.Second, 10*time.Millisecond)
	r.Stop()

	st := r.Stats()
	assert.Zero(t, st.Failed)
	assert.NotEmpty(t, st.LastRunID)
	assert.True(t, st.LastAsOf.Equal(r.NextRun(day(40))))

	a, err := h.svc.Affiliate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, a.Inactivity.Status)
}

func TestRunner_StopWithoutStart(t *testing.T) {
	r, err := NewRunner(nil, DefaultRunnerConfig(), nil)
	require.NoError(t, err)
	r.Stop()
}

func TestRunner_StopsOnContextCancel(t *testing.T) {
	h := newHarness(t)
	r, err := NewRunner(h.svc, DefaultRunnerConfig(), nil)
	require.NoError(t, err)
	r.after = func(time.Duration) <-chan time.Time { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	r.Stop()
	assert.Zero(t, r.Stats().Runs)
}
