package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medintel/geocoding-service/internal/observability"
)

func newTestLimiter(maxWait time.Duration) (*Limiter, *clockwork.FakeClock) {
	clk := clockwork.NewFakeClock()
	return New(clk, maxWait, observability.NewMetricsForTesting()), clk
}

func TestLimiter_BurstUpToCapacity(t *testing.T) {
	l, _ := newTestLimiter(time.Minute)
	l.Register("mapbox", 10, 5)
	ctx := context.Background()

	// Bucket starts full: capacity tokens are immediately available.
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "mapbox"), "token %d", i)
	}
}

func TestLimiter_RefillOverTime(t *testing.T) {
	l, clk := newTestLimiter(time.Minute)
	l.Register("mapbox", 2, 1) // 2 tokens/s, capacity 1
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "mapbox"))

	clk.Advance(500 * time.Millisecond)
	require.NoError(t, l.Acquire(ctx, "mapbox"), "one token should have accrued")
}

// The defining property of the bucket: over any window T the limiter
// admits at most capacity + rate*T calls, regardless of demand.
func TestLimiter_AdmissionBound(t *testing.T) {
	const (
		rate     = 10.0
		capacity = 5
		window   = 3 * time.Second
	)
	l, clk := newTestLimiter(time.Hour)
	l.Register("mapbox", rate, capacity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := l.Acquire(ctx, "mapbox"); err != nil {
					return
				}
				admitted.Add(1)
			}
		}()
	}

	// Step the fake clock through the window so blocked acquirers wake up.
	for elapsed := time.Duration(0); elapsed < window; elapsed += 50 * time.Millisecond {
		require.NoError(t, clk.BlockUntilContext(ctx, 1))
		clk.Advance(50 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return admitted.Load() > int64(capacity)
	}, 2*time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	bound := int64(capacity) + int64(rate*window.Seconds())
	assert.LessOrEqual(t, admitted.Load(), bound)
	assert.Greater(t, admitted.Load(), int64(capacity), "refill should admit more than the initial burst")
}

func TestLimiter_BucketsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Minute)
	l.Register("mapbox", 1, 1)
	l.Register("nominatim", 1, 1)
	ctx := context.Background()

	// Drain mapbox completely; nominatim must still admit immediately.
	require.NoError(t, l.Acquire(ctx, "mapbox"))
	require.NoError(t, l.Acquire(ctx, "nominatim"))
}

func TestLimiter_TimeoutWhenTokenCannotArrive(t *testing.T) {
	l, _ := newTestLimiter(100 * time.Millisecond)
	l.Register("mapbox", 0.1, 1) // next token 10s away
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "mapbox"))

	// The next token arrives long after maxWait: fail fast, no blocking.
	err := l.Acquire(ctx, "mapbox")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitTimeout)
}

func TestLimiter_ContextCancellationUnblocks(t *testing.T) {
	l, clk := newTestLimiter(time.Hour)
	l.Register("mapbox", 1, 1)

	require.NoError(t, l.Acquire(context.Background(), "mapbox"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Acquire(ctx, "mapbox")
	}()

	require.NoError(t, clk.BlockUntilContext(context.Background(), 1))
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return after context cancellation")
	}
}

func TestLimiter_UnknownProvider(t *testing.T) {
	l, _ := newTestLimiter(time.Minute)

	err := l.Acquire(context.Background(), "ghost")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimitTimeout)
}
