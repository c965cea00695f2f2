// Package telemetry aggregates per-process query metrics. Everything
// stays in memory and is served through the admin stats endpoint; no
// external reporting.
package telemetry

import (
	"sync"
	"time"
)

// LatencyBucket is one histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Queries        int64                   `json:"queries"`
	Degraded       int64                   `json:"degraded"`
	ZeroResults    int64                   `json:"zero_results"`
	Ingests        int64                   `json:"ingests"`
	ChunksIndexed  int64                   `json:"chunks_indexed"`
	LatencyBuckets map[LatencyBucket]int64 `json:"latency_buckets"`
	StartedAt      time.Time               `json:"started_at"`
}

// Metrics accumulates query and ingestion counters.
type Metrics struct {
	mu            sync.Mutex
	queries       int64
	degraded      int64
	zeroResults   int64
	ingests       int64
	chunksIndexed int64
	latency       map[LatencyBucket]int64
	startedAt     time.Time
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		latency:   make(map[LatencyBucket]int64),
		startedAt: time.Now().UTC(),
	}
}

// RecordQuery counts one completed query.
func (m *Metrics) RecordQuery(elapsed time.Duration, degraded, zeroResults bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if degraded {
		m.degraded++
	}
	if zeroResults {
		m.zeroResults++
	}
	m.latency[LatencyToBucket(elapsed)]++
}

// RecordIngest counts one ingestion and the chunks it produced.
func (m *Metrics) RecordIngest(chunks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingests++
	m.chunksIndexed += int64(chunks)
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := make(map[LatencyBucket]int64, len(m.latency))
	for k, v := range m.latency {
		buckets[k] = v
	}
	return Snapshot{
		Queries:        m.queries,
		Degraded:       m.degraded,
		ZeroResults:    m.zeroResults,
		Ingests:        m.ingests,
		ChunksIndexed:  m.chunksIndexed,
		LatencyBuckets: buckets,
		StartedAt:      m.startedAt,
	}
}
