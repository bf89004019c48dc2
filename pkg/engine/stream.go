package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/pkg/metrics"
	"github.com/quotaflow/quotaflow/pkg/observability"
)

// ProgressFunc reports items completed so far out of the total submitted.
// On the streaming path it fires once per chunk; below the streaming
// threshold it fires once after the whole collection completes. Cadence is
// informational, not a contract.
type ProgressFunc func(done, total int)

// StreamProcessor processes very large item collections in sequential
// bounded-memory chunks. Chunks run strictly in order; parallelism lives
// inside each chunk via the wrapped BatchProcessor, so peak memory is
// proportional to one chunk's items plus its partial results. Results are
// identical in shape to a single BatchProcessor run.
type StreamProcessor struct {
	batch     *BatchProcessor
	threshold int
	log       *zap.Logger
}

// NewStreamProcessor wraps a batch processor with chunked streaming. The
// chunk size is the configured stream threshold.
func NewStreamProcessor(batch *BatchProcessor) *StreamProcessor {
	threshold := batch.perf.StreamThreshold
	if threshold <= 0 {
		threshold = batch.perf.BatchSize * 10
	}

	return &StreamProcessor{
		batch:     batch,
		threshold: threshold,
		log:       batch.log,
	}
}

// Run processes items, chunking only when the collection is at least the
// stream threshold. Successes and errors accumulate across chunks and are
// returned combined; callers cannot distinguish streamed from non-streamed
// results except by progress callback cadence.
func (sp *StreamProcessor) Run(ctx context.Context, items []interface{}, target interface{}, op Operation, m *metrics.OperationMetrics, onProgress ProgressFunc) ([]interface{}, []ItemError) {
	total := len(items)
	if total == 0 {
		return nil, nil
	}

	if total < sp.threshold {
		succeeded, failures := sp.batch.Run(ctx, items, target, op, m)
		if onProgress != nil {
			onProgress(total, total)
		}
		return succeeded, failures
	}

	ctx, span := observability.Tracer().Start(ctx, "engine.stream_run",
		trace.WithAttributes(
			attribute.Int("items", total),
			attribute.Int("chunk_size", sp.threshold),
		))
	defer span.End()

	sp.log.Info("streaming large collection",
		zap.Int("items", total),
		zap.Int("chunk_size", sp.threshold))

	var (
		succeeded []interface{}
		failures  []ItemError
	)

	for start := 0; start < total; start += sp.threshold {
		end := start + sp.threshold
		if end > total {
			end = total
		}

		// The chunk slice header is scoped to this iteration; nothing from
		// a processed chunk stays live except its accumulated results.
		chunk := items[start:end]
		ok, failed := sp.batch.Run(ctx, chunk, target, op, m)
		succeeded = append(succeeded, ok...)
		failures = append(failures, failed...)

		if onProgress != nil {
			onProgress(end, total)
		}
	}

	span.SetAttributes(
		attribute.Int("succeeded", len(succeeded)),
		attribute.Int("failed", len(failures)),
	)

	return succeeded, failures
}
