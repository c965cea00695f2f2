// Package ready tracks the health of the engine's dependencies and
// answers readiness probes without running a full query.
package ready

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds each dependency check.
const DefaultProbeTimeout = 2 * time.Second

// Prober is a cheap health check against one dependency.
type Prober interface {
	Healthy(ctx context.Context) error
}

// CollectionLister reports which collections have a built lexical
// index.
type CollectionLister interface {
	Collections() []string
	Has(collection string) bool
}

// State is one readiness snapshot. The vector store is the minimum
// viable dependency: lexical-only and vector-only operation are both
// tolerated, but a dead vector store means no hybrid answers at all.
type State struct {
	OverallReady       bool            `json:"overall_ready"`
	VectorStoreOK      bool            `json:"vector_store_ok"`
	EmbeddingServiceOK bool            `json:"embedding_service_ok"`
	Collections        map[string]bool `json:"collections"`
	CheckedAt          time.Time       `json:"checked_at"`
}

// Tracker probes dependencies on demand and optionally on a timer.
type Tracker struct {
	vectors      Prober
	embedder     Prober
	lexical      CollectionLister
	probeTimeout time.Duration

	mu   sync.RWMutex
	last *State
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithProbeTimeout overrides the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.probeTimeout = d }
}

// NewTracker creates a tracker over the engine's dependencies.
func NewTracker(vectors, embedder Prober, lexical CollectionLister, opts ...Option) *Tracker {
	t := &Tracker{
		vectors:      vectors,
		embedder:     embedder,
		lexical:      lexical,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot probes every dependency and returns the resulting state.
// OverallReady requires only the vector store; lexical indices are
// reported per collection and never gate overall readiness.
func (t *Tracker) Snapshot(ctx context.Context) State {
	state := State{
		Collections: make(map[string]bool),
		CheckedAt:   time.Now().UTC(),
	}

	state.VectorStoreOK = t.probe(ctx, "vector", t.vectors)
	state.EmbeddingServiceOK = t.probe(ctx, "embedding", t.embedder)
	state.OverallReady = state.VectorStoreOK

	if t.lexical != nil {
		for _, name := range t.lexical.Collections() {
			state.Collections[name] = t.lexical.Has(name)
		}
	}

	t.mu.Lock()
	t.last = &state
	t.mu.Unlock()
	return state
}

// Last returns the most recent snapshot, or a fresh one when none has
// been taken yet.
func (t *Tracker) Last(ctx context.Context) State {
	t.mu.RLock()
	last := t.last
	t.mu.RUnlock()
	if last != nil {
		return *last
	}
	return t.Snapshot(ctx)
}

// Watch refreshes the snapshot every interval until ctx is cancelled.
func (t *Tracker) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Snapshot(ctx)
		}
	}
}

func (t *Tracker) probe(ctx context.Context, name string, p Prober) bool {
	if p == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, t.probeTimeout)
	defer cancel()

	if err := p.Healthy(ctx); err != nil {
		slog.Warn("readiness_probe_failed",
			slog.String("dependency", name),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
