// Package quotaflow provides a rate-limited, cached, parallel batch and
// stream execution engine for applying large numbers of write operations
// against throttled remote APIs.
//
// The engine is a library, not a service. A caller hands it a collection of
// opaque items plus an operation function; the engine partitions the items
// into batches, fans them out across a bounded worker pool, admits each
// remote call through a per-service rate limiter, retries transient failures
// with exponential backoff, and returns a complete accounting of successes
// and per-item failures. Very large collections are processed in sequential
// bounded-memory chunks so peak memory stays proportional to one chunk.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/quotaflow/quotaflow/pkg/config"
//	    "github.com/quotaflow/quotaflow/pkg/engine"
//	)
//
//	cfg := config.DefaultConfig()
//	opt := engine.NewPerformanceOptimizer(cfg, nil)
//
//	opID, m := opt.StartOperation()
//	stream := opt.StreamProcessor("default")
//	succeeded, errs := stream.Run(context.Background(), items, target,
//	    func(ctx context.Context, target, item any) error {
//	        return client.Apply(ctx, target, item)
//	    }, m, nil)
//
//	snap, _ := opt.FinishOperation(opID)
//	for _, finding := range opt.Recommend(snap) {
//	    log.Println(finding)
//	}
//
// # Key Packages
//
//	pkg/engine        - Batch/stream processors and the performance optimizer
//	pkg/ratelimit     - Per-service blocking rate limiter with burst allowance
//	pkg/cache         - Namespaced, size-bounded LRU lookup cache
//	pkg/metrics       - Per-operation metrics and Prometheus collectors
//	pkg/errors        - Structured errors with transient/permanent taxonomy
//	pkg/config        - Unified configuration with YAML loading
//	pkg/logger        - Structured logging built on zap
//	pkg/observability - OpenTelemetry tracing setup
package quotaflow
