package engine

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/pkg/cache"
	"github.com/quotaflow/quotaflow/pkg/config"
	qferrors "github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
	"github.com/quotaflow/quotaflow/pkg/metrics"
	"github.com/quotaflow/quotaflow/pkg/ratelimit"
)

// Recommendation thresholds. These are heuristics feeding advisory strings,
// never hard errors.
const (
	minThroughputPerSec = 10.0
	minSuccessRate      = 0.95
	minCacheHitRate     = 0.5
	maxDelayFraction    = 0.10
	maxRetryFraction    = 0.05
	maxMemoryUsedPct    = 85.0
)

// PerformanceOptimizer coordinates the engine: it owns configuration,
// constructs processors, tracks metrics lifecycle per operation id, and
// derives tuning recommendations from finished operations. Multiple
// optimizers coexist freely; each owns its registry, limiter, and cache.
type PerformanceOptimizer struct {
	config    *config.Config
	limiter   *ratelimit.Limiter
	cache     *cache.BoundedCache
	classify  ErrorClassifier
	collector *metrics.Collector
	log       *zap.Logger

	mu     sync.RWMutex
	active map[string]*metrics.OperationMetrics
}

// NewPerformanceOptimizer builds the engine from configuration. A nil
// config uses defaults; a nil logger uses the global logger.
func NewPerformanceOptimizer(cfg *config.Config, log *zap.Logger) *PerformanceOptimizer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.Get()
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimit.Default)
	for service, serviceCfg := range cfg.RateLimit.Services {
		limiter.SetServiceConfig(service, serviceCfg)
	}

	return &PerformanceOptimizer{
		config:    cfg,
		limiter:   limiter,
		cache:     cache.NewBoundedCache(cfg.Cache, log),
		classify:  DefaultClassifier,
		collector: metrics.NewCollector("optimizer"),
		log:       log,
		active:    make(map[string]*metrics.OperationMetrics),
	}
}

// SetClassifier replaces the default error classifier for processors
// constructed after the call
func (po *PerformanceOptimizer) SetClassifier(classify ErrorClassifier) {
	if classify != nil {
		po.classify = classify
	}
}

// Limiter returns the shared per-service rate limiter
func (po *PerformanceOptimizer) Limiter() *ratelimit.Limiter {
	return po.limiter
}

// Cache returns the shared bounded lookup cache, for warming before bulk
// runs and for inspection afterwards
func (po *PerformanceOptimizer) Cache() *cache.BoundedCache {
	return po.cache
}

// BatchProcessor constructs a processor bound to one downstream service
func (po *PerformanceOptimizer) BatchProcessor(service string) *BatchProcessor {
	retry := PolicyFromConfig(po.limiter.ConfigFor(service))
	return NewBatchProcessor(po.config.Performance, po.limiter, po.cache, service, retry, po.classify, po.log)
}

// StreamProcessor constructs a chunking processor bound to one service
func (po *PerformanceOptimizer) StreamProcessor(service string) *StreamProcessor {
	return NewStreamProcessor(po.BatchProcessor(service))
}

// StartOperation registers a new operation and returns its id plus the
// metrics handle its workers mutate
func (po *PerformanceOptimizer) StartOperation() (string, *metrics.OperationMetrics) {
	id := uuid.NewString()
	m := metrics.NewOperationMetrics(id)

	po.mu.Lock()
	po.active[id] = m
	po.mu.Unlock()

	po.log.Debug("operation started", zap.String("operation_id", id))
	return id, m
}

// Operation returns the live metrics for an active operation
func (po *PerformanceOptimizer) Operation(id string) (*metrics.OperationMetrics, bool) {
	po.mu.RLock()
	defer po.mu.RUnlock()
	m, ok := po.active[id]
	return m, ok
}

// FinishOperation removes the operation from the registry, stamps its end
// time, and returns a frozen snapshot. Finishing an unknown or already
// finished operation is an error.
func (po *PerformanceOptimizer) FinishOperation(id string) (metrics.Snapshot, error) {
	po.mu.Lock()
	m, ok := po.active[id]
	if ok {
		delete(po.active, id)
	}
	po.mu.Unlock()

	if !ok {
		return metrics.Snapshot{}, qferrors.Newf(qferrors.ErrorTypeNotFound, "no active operation with id %s", id)
	}

	m.Finish()
	snapshot := m.Snapshot()

	po.log.Info("operation finished",
		zap.String("operation_id", id),
		zap.Int64("processed", snapshot.Processed),
		zap.Int64("failed", snapshot.Failed),
		zap.Duration("duration", snapshot.Duration),
		zap.Float64("throughput", snapshot.Throughput))

	return snapshot, nil
}

// ActiveOperations returns the number of operations currently in flight
func (po *PerformanceOptimizer) ActiveOperations() int {
	po.mu.RLock()
	defer po.mu.RUnlock()
	return len(po.active)
}

// Recommend analyzes a finished operation's snapshot and produces advisory
// findings for the next run
func (po *PerformanceOptimizer) Recommend(s metrics.Snapshot) []string {
	findings := []string{}

	if s.Processed > 0 && s.Throughput < minThroughputPerSec {
		findings = append(findings,
			fmt.Sprintf("Throughput was %.1f items/sec. Consider increasing batch size to reduce per-call overhead.", s.Throughput))
	}

	if terminal := s.Processed + s.Failed; terminal > 0 && s.SuccessRate < minSuccessRate {
		findings = append(findings,
			fmt.Sprintf("Success rate was %.1f%%. Consider smaller batches and check permissions on the target.", s.SuccessRate*100))
	}

	if lookups := s.CacheHits + s.RemoteCalls; lookups > 0 && s.CacheHitRate() < minCacheHitRate {
		findings = append(findings,
			fmt.Sprintf("Cache hit ratio was %.1f%%. Warm the cache with known entities before the bulk run.", s.CacheHitRate()*100))
	}

	if s.Duration > 0 && float64(s.RateLimitDelay) > float64(s.Duration)*maxDelayFraction {
		findings = append(findings,
			fmt.Sprintf("Rate limiting accounted for %.1f%% of the run. Consider lowering concurrency to smooth admission.", float64(s.RateLimitDelay)/float64(s.Duration)*100))
	}

	if s.TotalItems > 0 && float64(s.RetryAttempts) > float64(s.TotalItems)*maxRetryFraction {
		findings = append(findings,
			fmt.Sprintf("%d retries across %d items. Consider smaller batches and check connectivity to the remote API.", s.RetryAttempts, s.TotalItems))
	}

	// Memory pressure is sampled best-effort; sampling failures are not
	// findings.
	if vm, err := mem.VirtualMemory(); err == nil && vm.UsedPercent > maxMemoryUsedPct {
		findings = append(findings,
			fmt.Sprintf("Host memory is %.0f%% used. Consider a lower stream threshold to reduce the working set.", vm.UsedPercent))
	}

	if hint := po.config.Performance.MaxMemoryHintMB; hint > 0 {
		if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
			if mi, err := proc.MemoryInfo(); err == nil && mi.RSS > uint64(hint)*1024*1024 {
				findings = append(findings,
					fmt.Sprintf("Process memory is %dMB against a %dMB working-set hint. Lower the stream threshold so less of the collection is live per chunk.", mi.RSS/(1024*1024), hint))
			}
		}
	}

	return findings
}
