package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// OperationMetrics tracks one logical engine operation, identified by an
// opaque id assigned by the coordinator. Counters are mutated only by the
// workers executing that operation; once the operation is finished the
// coordinator hands callers an immutable Snapshot instead.
type OperationMetrics struct {
	id        string
	startTime time.Time

	totalItems     int64
	processed      int64
	failed         int64
	cacheHits      int64
	remoteCalls    int64
	retryCount     int64
	rateLimitDelay int64 // nanoseconds

	mu       sync.Mutex
	endTime  time.Time
	finished bool
}

// NewOperationMetrics creates metrics for one operation id
func NewOperationMetrics(id string) *OperationMetrics {
	return &OperationMetrics{
		id:        id,
		startTime: time.Now(),
	}
}

// ID returns the operation id
func (m *OperationMetrics) ID() string {
	return m.id
}

// AddTotalItems records items submitted for processing
func (m *OperationMetrics) AddTotalItems(n int64) {
	atomic.AddInt64(&m.totalItems, n)
}

// AddProcessed records items that succeeded
func (m *OperationMetrics) AddProcessed(n int64) {
	atomic.AddInt64(&m.processed, n)
}

// AddFailed records items that terminally failed
func (m *OperationMetrics) AddFailed(n int64) {
	atomic.AddInt64(&m.failed, n)
}

// AddCacheHits records lookups served from the bounded cache
func (m *OperationMetrics) AddCacheHits(n int64) {
	atomic.AddInt64(&m.cacheHits, n)
}

// AddRemoteCalls records admitted calls to the remote API
func (m *OperationMetrics) AddRemoteCalls(n int64) {
	atomic.AddInt64(&m.remoteCalls, n)
}

// AddRetries records retry attempts
func (m *OperationMetrics) AddRetries(n int64) {
	atomic.AddInt64(&m.retryCount, n)
}

// AddRateLimitDelay accumulates time spent blocked in the rate limiter
func (m *OperationMetrics) AddRateLimitDelay(d time.Duration) {
	if d > 0 {
		atomic.AddInt64(&m.rateLimitDelay, int64(d))
	}
}

// Finish stamps the end time. Subsequent calls are no-ops so a finished
// operation's duration never moves.
func (m *OperationMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.finished {
		m.finished = true
		m.endTime = time.Now()
	}
}

// Snapshot represents a frozen, read-only view of operation metrics with
// the derived read-only properties callers log, display, or feed into the
// optimizer's recommendations.
type Snapshot struct {
	OperationID    string        `json:"operation_id"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time,omitempty"`
	TotalItems     int64         `json:"total_items"`
	Processed      int64         `json:"processed"`
	Failed         int64         `json:"failed"`
	CacheHits      int64         `json:"cache_hits"`
	RemoteCalls    int64         `json:"api_calls"`
	RetryAttempts  int64         `json:"retry_attempts"`
	RateLimitDelay time.Duration `json:"rate_limit_delay_ns"`
	Duration       time.Duration `json:"duration_ns"`
	Throughput     float64       `json:"throughput_per_sec"`
	SuccessRate    float64       `json:"success_rate"`
}

// Snapshot derives the current read-only view. For a live operation the
// duration runs to now; after Finish it is fixed at the recorded end time.
func (m *OperationMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	endTime := m.endTime
	finished := m.finished
	m.mu.Unlock()

	duration := time.Since(m.startTime)
	if finished {
		duration = endTime.Sub(m.startTime)
	}

	processed := atomic.LoadInt64(&m.processed)
	failed := atomic.LoadInt64(&m.failed)

	throughput := 0.0
	if duration > 0 {
		throughput = float64(processed) / duration.Seconds()
	}

	successRate := 0.0
	if terminal := processed + failed; terminal > 0 {
		successRate = float64(processed) / float64(terminal)
	}

	return Snapshot{
		OperationID:    m.id,
		StartTime:      m.startTime,
		EndTime:        endTime,
		TotalItems:     atomic.LoadInt64(&m.totalItems),
		Processed:      processed,
		Failed:         failed,
		CacheHits:      atomic.LoadInt64(&m.cacheHits),
		RemoteCalls:    atomic.LoadInt64(&m.remoteCalls),
		RetryAttempts:  atomic.LoadInt64(&m.retryCount),
		RateLimitDelay: time.Duration(atomic.LoadInt64(&m.rateLimitDelay)),
		Duration:       duration,
		Throughput:     throughput,
		SuccessRate:    successRate,
	}
}

// CacheHitRate returns the fraction of lookups served from cache
func (s Snapshot) CacheHitRate() float64 {
	if total := s.CacheHits + s.RemoteCalls; total > 0 {
		return float64(s.CacheHits) / float64(total)
	}
	return 0
}

// JSON renders the snapshot for logging or CLI display
func (s Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
