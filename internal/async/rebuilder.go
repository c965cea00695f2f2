package async

import (
	"context"
	"log/slog"
	"sync"

	cserr "github.com/citeseek/citeseek/internal/errors"
	"github.com/citeseek/citeseek/internal/index"
)

// IndexRebuilder rebuilds lexical indexes from stored chunks.
type IndexRebuilder interface {
	RebuildAll(ctx context.Context, source index.ChunkSource, collections []string) []index.RebuildResult
}

// Rebuilder runs a full rebuild in a background goroutine with
// per-collection progress. Only one rebuild runs at a time.
type Rebuilder struct {
	lexical  IndexRebuilder
	source   index.ChunkSource
	progress *Progress

	mu      sync.Mutex
	running bool
	doneCh  chan struct{}
}

// NewRebuilder creates a rebuilder over the given index manager and
// chunk source.
func NewRebuilder(lexical IndexRebuilder, source index.ChunkSource) *Rebuilder {
	return &Rebuilder{
		lexical:  lexical,
		source:   source,
		progress: NewProgress(),
	}
}

// Progress returns the current rebuild progress.
func (r *Rebuilder) Progress() ProgressSnapshot {
	return r.progress.Snapshot()
}

// IsRunning reports whether a rebuild is currently in flight.
func (r *Rebuilder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ErrRebuildInProgress is returned by Start when a rebuild is already
// running.
var ErrRebuildInProgress = cserr.Validation("a rebuild is already in progress")

// Start begins a rebuild in the background and returns immediately.
// The context bounds the whole rebuild, not just this call.
func (r *Rebuilder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRebuildInProgress
	}
	r.running = true
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.run(ctx)
	return nil
}

// Wait blocks until the current rebuild completes. Returns immediately
// when nothing is running.
func (r *Rebuilder) Wait() {
	r.mu.Lock()
	done := r.doneCh
	r.mu.Unlock()
	if done == nil {
		return
	}
	<-done
}

func (r *Rebuilder) run(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.running = false
		close(r.doneCh)
		r.mu.Unlock()
	}()

	collections, err := r.source.ListCollections(ctx)
	if err != nil {
		r.progress.start(0)
		r.progress.finish(err)
		slog.Error("background_rebuild_failed", slog.String("error", err.Error()))
		return
	}

	r.progress.start(len(collections))
	slog.Info("background_rebuild_started", slog.Int("collections", len(collections)))

	var failures int
	for _, name := range collections {
		if err := ctx.Err(); err != nil {
			r.progress.finish(err)
			slog.Warn("background_rebuild_canceled", slog.String("collection", name))
			return
		}

		results := r.lexical.RebuildAll(ctx, r.source, []string{name})
		for _, res := range results {
			failed := res.Err != nil
			if failed {
				failures++
			}
			r.progress.collectionDone(res.Indexed, failed)
		}
	}

	r.progress.finish(nil)
	slog.Info("background_rebuild_done",
		slog.Int("collections", len(collections)),
		slog.Int("failed", failures))
}
