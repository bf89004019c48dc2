package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/pkg/cache"
	"github.com/quotaflow/quotaflow/pkg/config"
	qferrors "github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/metrics"
	"github.com/quotaflow/quotaflow/pkg/ratelimit"
)

// fastLimiter admits everything instantly so tests exercise batching, not
// pacing
func fastLimiter() *ratelimit.Limiter {
	cfg := ratelimit.DefaultConfig()
	cfg.Rate = 1e6
	cfg.Burst = 1 << 20
	return ratelimit.NewLimiter(cfg)
}

func fastRetry(maxRetries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func testProcessor(batchSize, workers, maxRetries int) *BatchProcessor {
	perf := config.PerformanceConfig{
		BatchSize:       batchSize,
		MaxWorkers:      workers,
		StreamThreshold: 50,
	}
	return NewBatchProcessor(perf, fastLimiter(), nil, "test", fastRetry(maxRetries), nil, zap.NewNop())
}

func makeItems(n int) []interface{} {
	items := make([]interface{}, n)
	for i := range items {
		items[i] = i + 1
	}
	return items
}

// itemSet collects succeeded items and failed items (from error records)
// into one sorted slice for conservation checks
func itemSet(succeeded []interface{}, failures []ItemError) []int {
	out := make([]int, 0, len(succeeded)+len(failures))
	for _, item := range succeeded {
		out = append(out, item.(int))
	}
	for _, f := range failures {
		out = append(out, f.Item.(int))
	}
	sort.Ints(out)
	return out
}

func TestRunConservation(t *testing.T) {
	bp := testProcessor(7, 4, 0)
	m := metrics.NewOperationMetrics("op")
	items := makeItems(100)

	succeeded, failures := bp.Run(context.Background(), items, "target", func(ctx context.Context, target, item interface{}) error {
		if item.(int)%9 == 0 {
			return qferrors.New(qferrors.ErrorTypeValidation, "rejected")
		}
		return nil
	}, m)

	assert.Equal(t, 100, len(succeeded)+len(failures))
	assert.Equal(t, itemSet(makeItems(100), nil), itemSet(succeeded, failures),
		"every input item must appear exactly once across the outputs")

	s := m.Snapshot()
	assert.Equal(t, int64(100), s.TotalItems)
	assert.Equal(t, int64(len(succeeded)), s.Processed)
	assert.Equal(t, int64(len(failures)), s.Failed)
}

func TestPermanentFailureScenario(t *testing.T) {
	// 3 workers, batch size 2, 5 items; item 3 always fails permanently
	bp := testProcessor(2, 3, 3)
	m := metrics.NewOperationMetrics("op")

	succeeded, failures := bp.Run(context.Background(), makeItems(5), "target", func(ctx context.Context, target, item interface{}) error {
		if item.(int) == 3 {
			return qferrors.New(qferrors.ErrorTypeValidation, "field value rejected")
		}
		return nil
	}, m)

	assert.Len(t, succeeded, 4)
	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].Item)
	assert.Contains(t, failures[0].Message, "field value rejected")

	s := m.Snapshot()
	assert.Equal(t, int64(0), s.RetryAttempts, "permanent failures must not be retried")
	assert.Equal(t, int64(4), s.Processed)
	assert.Equal(t, int64(1), s.Failed)
}

func TestRetryCeiling(t *testing.T) {
	bp := testProcessor(10, 2, 3)
	m := metrics.NewOperationMetrics("op")

	var attempts int64
	succeeded, failures := bp.Run(context.Background(), makeItems(1), "target", func(ctx context.Context, target, item interface{}) error {
		atomic.AddInt64(&attempts, 1)
		return qferrors.New(qferrors.ErrorTypeRateLimit, "throttled")
	}, m)

	assert.Empty(t, succeeded)
	require.Len(t, failures, 1, "exhausted item must appear in the error list exactly once")
	assert.Equal(t, int64(4), atomic.LoadInt64(&attempts), "initial attempt plus max_retries")
	assert.Equal(t, int64(3), m.Snapshot().RetryAttempts)
}

func TestTransientEventuallySucceeds(t *testing.T) {
	bp := testProcessor(10, 1, 5)
	m := metrics.NewOperationMetrics("op")

	var attempts int64
	succeeded, failures := bp.Run(context.Background(), makeItems(1), "target", func(ctx context.Context, target, item interface{}) error {
		if atomic.AddInt64(&attempts, 1) <= 2 {
			return qferrors.New(qferrors.ErrorTypeServer, "server overloaded")
		}
		return nil
	}, m)

	assert.Len(t, succeeded, 1)
	assert.Empty(t, failures)
	assert.Equal(t, int64(2), m.Snapshot().RetryAttempts)
}

func TestPanicAccounting(t *testing.T) {
	bp := testProcessor(5, 1, 0)
	m := metrics.NewOperationMetrics("op")

	succeeded, failures := bp.Run(context.Background(), makeItems(5), "target", func(ctx context.Context, target, item interface{}) error {
		if item.(int) == 2 {
			panic("operation blew up")
		}
		return nil
	}, m)

	assert.Equal(t, 5, len(succeeded)+len(failures),
		"a panicking batch must still account for every item")
	assert.GreaterOrEqual(t, len(failures), 1)

	found := false
	for _, f := range failures {
		if f.Item.(int) == 2 {
			found = true
			assert.Contains(t, f.Message, "panic")
		}
	}
	assert.True(t, found, "the in-flight item must be in the error list")
}

func TestCancelledContextAccountsAllItems(t *testing.T) {
	bp := testProcessor(10, 2, 3)
	m := metrics.NewOperationMetrics("op")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	succeeded, failures := bp.Run(ctx, makeItems(30), "target", func(ctx context.Context, target, item interface{}) error {
		return nil
	}, m)

	assert.Empty(t, succeeded)
	assert.Len(t, failures, 30)
	for _, f := range failures {
		assert.Contains(t, f.Message, "cancelled")
	}
	assert.Equal(t, int64(30), m.Snapshot().Failed)
}

func TestEmptyItems(t *testing.T) {
	bp := testProcessor(10, 2, 0)
	m := metrics.NewOperationMetrics("op")

	succeeded, failures := bp.Run(context.Background(), nil, "target", func(ctx context.Context, target, item interface{}) error {
		return nil
	}, m)

	assert.Nil(t, succeeded)
	assert.Nil(t, failures)
	assert.Equal(t, int64(0), m.Snapshot().TotalItems)
}

func TestWorkerBound(t *testing.T) {
	const workers = 3
	bp := testProcessor(1, workers, 0)
	m := metrics.NewOperationMetrics("op")

	var inFlight, peak int64
	var mu sync.Mutex

	succeeded, failures := bp.Run(context.Background(), makeItems(24), "target", func(ctx context.Context, target, item interface{}) error {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	}, m)

	assert.Len(t, succeeded, 24)
	assert.Empty(t, failures)
	assert.LessOrEqual(t, peak, int64(workers),
		"in-flight remote calls must never exceed max_workers")
}

func TestRemoteCallAccounting(t *testing.T) {
	bp := testProcessor(10, 2, 0)
	m := metrics.NewOperationMetrics("op")

	bp.Run(context.Background(), makeItems(10), "target", func(ctx context.Context, target, item interface{}) error {
		return nil
	}, m)

	assert.Equal(t, int64(10), m.Snapshot().RemoteCalls)
}

func TestResolveCached(t *testing.T) {
	perf := config.PerformanceConfig{BatchSize: 10, MaxWorkers: 2}
	lookupCache := cache.NewBoundedCache(cache.Config{MaxSize: 100, EvictionSlack: 0.1}, zap.NewNop())
	bp := NewBatchProcessor(perf, fastLimiter(), lookupCache, "test", fastRetry(0), nil, zap.NewNop())
	m := metrics.NewOperationMetrics("op")

	var fetches int64
	fetch := func(ctx context.Context, key string) (interface{}, error) {
		atomic.AddInt64(&fetches, 1)
		return "resolved:" + key, nil
	}

	v1, err := bp.ResolveCached(context.Background(), cache.NamespaceEntity, "e-1", fetch, m)
	require.NoError(t, err)
	v2, err := bp.ResolveCached(context.Background(), cache.NamespaceEntity, "e-1", fetch, m)
	require.NoError(t, err)

	assert.Equal(t, "resolved:e-1", v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&fetches), "second lookup must hit the cache")

	s := m.Snapshot()
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.RemoteCalls)
}

func TestResolveCachedFetchError(t *testing.T) {
	lookupCache := cache.NewBoundedCache(cache.DefaultConfig(), zap.NewNop())
	bp := NewBatchProcessor(config.PerformanceConfig{}, fastLimiter(), lookupCache, "test", fastRetry(0), nil, zap.NewNop())
	m := metrics.NewOperationMetrics("op")

	_, err := bp.ResolveCached(context.Background(), cache.NamespaceEntity, "e-1", func(ctx context.Context, key string) (interface{}, error) {
		return nil, fmt.Errorf("entity not found")
	}, m)

	assert.Error(t, err)
	_, ok := lookupCache.Get(cache.NamespaceEntity, "e-1")
	assert.False(t, ok, "failed fetches must not be cached")
}
