package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govid/internal/ratelimit/metrics"
	"govid/internal/ratelimit/store/window"
	"govid/pkg/requestcontext"
)

func TestSweepOnce(t *testing.T) {
	start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	store := window.NewInMemory()
	ctx := requestcontext.WithTime(context.Background(), start)
	_, _ = store.Increment(ctx, "a", 10, time.Minute)
	_, _ = store.Increment(ctx, "b", 10, time.Hour)

	m := metrics.New(prometheus.NewRegistry())
	s := New(store, time.Second, WithMetrics(m), WithClock(func() time.Time { return start.Add(5 * time.Minute) }))

	assert.Equal(t, 1, s.SweepOnce())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweptRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrackedKeys))
}

func TestRunStopsOnCancel(t *testing.T) {
	store := window.NewInMemory()
	_, _ = store.Increment(context.Background(), "k", 1, time.Nanosecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(store, 5*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
