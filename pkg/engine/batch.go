// Package engine implements the rate-limited, cached, parallel batch and
// stream execution engine. BatchProcessor applies an operation to a
// collection of items in fixed-size batches over a bounded worker pool;
// StreamProcessor wraps it to process very large collections in sequential
// bounded-memory chunks; PerformanceOptimizer owns configuration, operation
// lifecycle, and tuning recommendations.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/pkg/cache"
	"github.com/quotaflow/quotaflow/pkg/config"
	qferrors "github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
	"github.com/quotaflow/quotaflow/pkg/metrics"
	"github.com/quotaflow/quotaflow/pkg/observability"
	"github.com/quotaflow/quotaflow/pkg/ratelimit"
)

// Operation applies one item to a target, returning a typed error on
// failure. The engine treats both target and item as opaque.
type Operation func(ctx context.Context, target interface{}, item interface{}) error

// Lookup fetches one value from the remote API for cache-backed resolution
type Lookup func(ctx context.Context, key string) (interface{}, error)

// ItemError records the terminal failure of one item. Every submitted item
// appears exactly once across the success list and the error list.
type ItemError struct {
	Item    interface{} `json:"item"`
	Message string      `json:"message"`
}

// BatchProcessor executes an operation across a collection of items in
// fixed-size batches. Batches are dispatched to a bounded worker pool;
// within a batch, items run sequentially on the worker that owns it, so at
// most MaxWorkers remote calls are in flight regardless of batch size.
type BatchProcessor struct {
	perf      config.PerformanceConfig
	limiter   *ratelimit.Limiter
	cache     *cache.BoundedCache
	service   string
	retry     *RetryPolicy
	classify  ErrorClassifier
	collector *metrics.Collector
	log       *zap.Logger
}

// NewBatchProcessor creates a batch processor for one downstream service.
// Nil collaborators fall back to defaults so tests can construct one with
// minimal wiring.
func NewBatchProcessor(perf config.PerformanceConfig, limiter *ratelimit.Limiter, lookupCache *cache.BoundedCache, service string, retry *RetryPolicy, classify ErrorClassifier, log *zap.Logger) *BatchProcessor {
	if perf.BatchSize <= 0 || perf.MaxWorkers <= 0 {
		defaults := config.DefaultConfig().Performance
		if perf.BatchSize <= 0 {
			perf.BatchSize = defaults.BatchSize
		}
		if perf.MaxWorkers <= 0 {
			perf.MaxWorkers = defaults.MaxWorkers
		}
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if retry == nil {
		retry = PolicyFromConfig(limiter.ConfigFor(service))
	}
	if classify == nil {
		classify = DefaultClassifier
	}
	if log == nil {
		log = logger.Get()
	}

	return &BatchProcessor{
		perf:      perf,
		limiter:   limiter,
		cache:     lookupCache,
		service:   service,
		retry:     retry,
		classify:  classify,
		collector: metrics.NewCollector("batch"),
		log:       log.With(zap.String("service", service)),
	}
}

// Run applies op to every item and returns the full success list and the
// full per-item error list. Item failures are collected, never raised; the
// run continues through partial failure. Completion order across batches is
// unspecified. Cancelling ctx stops work between items; items not yet
// attempted are accounted as failed with a cancellation message so the
// output still covers every input.
func (bp *BatchProcessor) Run(ctx context.Context, items []interface{}, target interface{}, op Operation, m *metrics.OperationMetrics) ([]interface{}, []ItemError) {
	if len(items) == 0 {
		return nil, nil
	}

	m.AddTotalItems(int64(len(items)))

	ctx, span := observability.Tracer().Start(ctx, "engine.batch_run",
		trace.WithAttributes(
			attribute.Int("items", len(items)),
			attribute.String("service", bp.service),
		))
	defer span.End()

	batches := partition(items, bp.perf.BatchSize)

	workers := bp.perf.MaxWorkers
	if workers > len(batches) {
		workers = len(batches)
	}

	var (
		mu        sync.Mutex
		succeeded []interface{}
		failures  []ItemError
	)

	batchCh := make(chan []interface{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				ok, failed := bp.processBatch(ctx, batch, target, op, m)
				mu.Lock()
				succeeded = append(succeeded, ok...)
				failures = append(failures, failed...)
				mu.Unlock()
			}
		}()
	}

	for _, batch := range batches {
		batchCh <- batch
	}
	close(batchCh)
	wg.Wait()

	span.SetAttributes(
		attribute.Int("succeeded", len(succeeded)),
		attribute.Int("failed", len(failures)),
	)

	bp.log.Debug("batch run complete",
		zap.Int("items", len(items)),
		zap.Int("succeeded", len(succeeded)),
		zap.Int("failed", len(failures)))

	return succeeded, failures
}

// partition splits items into consecutive batches of at most size
func partition(items []interface{}, size int) [][]interface{} {
	batches := make([][]interface{}, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// processBatch runs one batch sequentially on the calling worker. A panic
// in the operation marks the in-flight item and every item after it as
// failed with a synthetic message; items are never silently dropped.
func (bp *BatchProcessor) processBatch(ctx context.Context, batch []interface{}, target interface{}, op Operation, m *metrics.OperationMetrics) (succeeded []interface{}, failures []ItemError) {
	start := time.Now()
	defer func() {
		bp.collector.ObserveBatchDuration(bp.service, time.Since(start))
	}()

	done := 0
	defer func() {
		if r := recover(); r != nil {
			remaining := batch[done:]
			for _, item := range remaining {
				failures = append(failures, ItemError{
					Item:    item,
					Message: fmt.Sprintf("batch worker panic: %v", r),
				})
				m.AddFailed(1)
				bp.collector.RecordItem("failure")
			}
			bp.log.Error("batch worker panicked",
				zap.Any("panic", r),
				zap.Int("items_accounted", len(remaining)))
		}
	}()

	for _, item := range batch {
		if err := bp.processItem(ctx, target, item, op, m); err != nil {
			failures = append(failures, ItemError{Item: item, Message: err.Error()})
			m.AddFailed(1)
			bp.collector.RecordItem("failure")
		} else {
			succeeded = append(succeeded, item)
			m.AddProcessed(1)
			bp.collector.RecordItem("success")
		}
		done++
	}

	return succeeded, failures
}

// processItem drives one item through attempt, retry, and terminal state.
// Permanent errors fail immediately; transient errors retry with backoff up
// to the policy's ceiling.
func (bp *BatchProcessor) processItem(ctx context.Context, target, item interface{}, op Operation, m *metrics.OperationMetrics) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return qferrors.Wrap(err, qferrors.ErrorTypeCancelled, "operation cancelled")
		}

		delay, err := bp.limiter.Acquire(ctx, bp.service)
		if err != nil {
			return err
		}
		m.AddRateLimitDelay(delay)
		bp.collector.RecordRateLimitDelay(bp.service, delay)

		m.AddRemoteCalls(1)
		bp.collector.RecordRemoteCall(bp.service)

		err = op(ctx, target, item)
		if err == nil {
			return nil
		}

		if bp.classify(err) != ErrorClassTransient {
			return err
		}
		if attempt >= bp.retry.MaxRetries {
			return err
		}

		m.AddRetries(1)
		bp.collector.RecordRetry(bp.service)

		backoff := bp.retry.Delay(attempt)
		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return qferrors.Wrap(ctx.Err(), qferrors.ErrorTypeCancelled, "retry backoff aborted")
		}
	}
}

// ResolveCached resolves a key through the bounded cache, falling back to
// the supplied fetch on a miss. Hits are counted in the operation metrics;
// misses go through the rate limiter like any other remote call and the
// fetched value is cached for subsequent lookups.
func (bp *BatchProcessor) ResolveCached(ctx context.Context, namespace cache.Namespace, key string, fetch Lookup, m *metrics.OperationMetrics) (interface{}, error) {
	if bp.cache != nil {
		if value, ok := bp.cache.Get(namespace, key); ok {
			m.AddCacheHits(1)
			return value, nil
		}
	}

	delay, err := bp.limiter.Acquire(ctx, bp.service)
	if err != nil {
		return nil, err
	}
	m.AddRateLimitDelay(delay)
	bp.collector.RecordRateLimitDelay(bp.service, delay)

	m.AddRemoteCalls(1)
	bp.collector.RecordRemoteCall(bp.service)

	value, err := fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	if bp.cache != nil {
		bp.cache.Put(namespace, key, value)
	}
	return value, nil
}
