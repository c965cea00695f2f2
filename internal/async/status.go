// Package async runs full index rebuilds in the background with
// progress tracking, so the admin surface can kick off a rebuild and
// poll instead of holding a request open.
package async

import (
	"sync"
	"time"
)

// RebuildStatus represents the overall state of a background rebuild.
type RebuildStatus string

const (
	// StatusIdle indicates no rebuild has run yet.
	StatusIdle RebuildStatus = "idle"
	// StatusRunning indicates a rebuild is in progress.
	StatusRunning RebuildStatus = "running"
	// StatusDone indicates the last rebuild completed.
	StatusDone RebuildStatus = "done"
	// StatusError indicates the last rebuild failed.
	StatusError RebuildStatus = "error"
)

// ProgressSnapshot is an immutable snapshot of rebuild progress.
type ProgressSnapshot struct {
	Status            string    `json:"status"`
	CollectionsTotal  int       `json:"collections_total"`
	CollectionsDone   int       `json:"collections_done"`
	CollectionsFailed int       `json:"collections_failed"`
	ChunksIndexed     int       `json:"chunks_indexed"`
	ProgressPct       float64   `json:"progress_pct"`
	ElapsedSeconds    int       `json:"elapsed_seconds"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// Progress provides thread-safe tracking of rebuild progress.
type Progress struct {
	mu sync.RWMutex

	status            RebuildStatus
	collectionsTotal  int
	collectionsDone   int
	collectionsFailed int
	chunksIndexed     int
	startedAt         time.Time
	finishedAt        time.Time
	errMsg            string
}

// NewProgress creates a progress tracker in the idle state.
func NewProgress() *Progress {
	return &Progress{status: StatusIdle}
}

func (p *Progress) start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = StatusRunning
	p.collectionsTotal = total
	p.collectionsDone = 0
	p.collectionsFailed = 0
	p.chunksIndexed = 0
	p.startedAt = time.Now()
	p.finishedAt = time.Time{}
	p.errMsg = ""
}

func (p *Progress) collectionDone(indexed int, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectionsDone++
	p.chunksIndexed += indexed
	if failed {
		p.collectionsFailed++
	}
}

func (p *Progress) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishedAt = time.Now()
	if err != nil {
		p.status = StatusError
		p.errMsg = err.Error()
		return
	}
	p.status = StatusDone
}

// Snapshot returns the current progress as an immutable snapshot.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := ProgressSnapshot{
		Status:            string(p.status),
		CollectionsTotal:  p.collectionsTotal,
		CollectionsDone:   p.collectionsDone,
		CollectionsFailed: p.collectionsFailed,
		ChunksIndexed:     p.chunksIndexed,
		StartedAt:         p.startedAt,
		ErrorMessage:      p.errMsg,
	}

	if p.collectionsTotal > 0 {
		snap.ProgressPct = float64(p.collectionsDone) / float64(p.collectionsTotal) * 100
	}
	if !p.startedAt.IsZero() {
		end := p.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		snap.ElapsedSeconds = int(end.Sub(p.startedAt).Seconds())
	}
	return snap
}
