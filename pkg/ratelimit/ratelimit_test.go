package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(rate float64, burst int) Config {
	cfg := DefaultConfig()
	cfg.Rate = rate
	cfg.Burst = burst
	return cfg
}

func TestAcquireWithinBurst(t *testing.T) {
	limiter := NewLimiter(testConfig(2.0, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		delay, err := limiter.Acquire(ctx, "svc")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), delay, "call %d should be admitted instantly", i+1)
	}
}

func TestAcquireBeyondBurstPaces(t *testing.T) {
	limiter := NewLimiter(testConfig(2.0, 2))
	ctx := context.Background()

	start := time.Now()
	var delayed time.Duration
	for i := 0; i < 3; i++ {
		delay, err := limiter.Acquire(ctx, "svc")
		require.NoError(t, err)
		delayed += delay
	}
	elapsed := time.Since(start)

	// The third call must either report a delay or have blocked for at
	// least most of the 0.5s inter-call interval.
	if delayed == 0 {
		assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
	} else {
		assert.Greater(t, delayed, time.Duration(0))
	}
}

func TestAcquireDelayCoversQueuedWait(t *testing.T) {
	limiter := NewLimiter(testConfig(5.0, 1))
	ctx := context.Background()

	_, err := limiter.Acquire(ctx, "svc")
	require.NoError(t, err)

	// Two callers contend after the burst is spent. Each reported delay
	// must cover the caller's full wall time inside Acquire, including
	// time queued behind the other caller's pacing sleep.
	type result struct {
		delay   time.Duration
		elapsed time.Duration
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			delay, err := limiter.Acquire(ctx, "svc")
			assert.NoError(t, err)
			results <- result{delay: delay, elapsed: time.Since(start)}
		}()
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.delay > 0 {
			assert.GreaterOrEqual(t, r.delay, r.elapsed-75*time.Millisecond,
				"reported delay must account for time spent queued")
		}
	}
}

func TestWindowReset(t *testing.T) {
	limiter := NewLimiter(testConfig(2.0, 2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := limiter.Acquire(ctx, "svc")
		require.NoError(t, err)
	}

	// A full window later the burst allowance is fresh again
	time.Sleep(1100 * time.Millisecond)

	delay, err := limiter.Acquire(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), delay)
}

func TestServicesAreIndependent(t *testing.T) {
	limiter := NewLimiter(testConfig(1.0, 1))
	ctx := context.Background()

	_, err := limiter.Acquire(ctx, "busy")
	require.NoError(t, err)

	// Exhausting "busy" must not delay a first call to "idle"
	start := time.Now()
	delay, err := limiter.Acquire(ctx, "idle")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), delay)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireCancelled(t *testing.T) {
	limiter := NewLimiter(testConfig(0.5, 1))
	ctx := context.Background()

	_, err := limiter.Acquire(ctx, "svc")
	require.NoError(t, err)

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	// Burst exhausted and the 2s interval has not elapsed, so this waits
	// and must abort on the context instead.
	_, err = limiter.Acquire(cancelCtx, "svc")
	assert.Error(t, err)
}

func TestAcquireAlreadyCancelled(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Acquire(ctx, "svc")
	assert.Error(t, err)
}

func TestSetServiceConfig(t *testing.T) {
	limiter := NewLimiter(testConfig(1.0, 1))
	limiter.SetServiceConfig("bulk", testConfig(100.0, 50))

	assert.Equal(t, 50, limiter.ConfigFor("bulk").Burst)
	assert.Equal(t, 1, limiter.ConfigFor("other").Burst)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		delay, err := limiter.Acquire(ctx, "bulk")
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), delay)
	}
}

func TestStats(t *testing.T) {
	limiter := NewLimiter(testConfig(5.0, 10))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := limiter.Acquire(ctx, "svc")
		require.NoError(t, err)
	}

	stats := limiter.Stats("svc")
	assert.Equal(t, "svc", stats.Service)
	assert.Equal(t, int64(4), stats.AdmittedRequests)
	assert.Equal(t, int64(0), stats.DelayedRequests)

	all := limiter.StatsAll()
	assert.Contains(t, all, "svc")
}
