package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/citeseek/citeseek/internal/chunk"
	cserr "github.com/citeseek/citeseek/internal/errors"
)

const (
	artifactPrefix = "bm25_"
	artifactSuffix = ".json"
	lockFileName   = ".index.lock"
)

var collectionNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

// ValidateCollectionName rejects names that cannot be used as part of a
// persisted artifact filename.
func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return cserr.Validation(fmt.Sprintf("invalid collection name %q", name))
	}
	return nil
}

// CollectionStats describes one known collection.
type CollectionStats struct {
	Name       string `json:"name"`
	ChunkCount int    `json:"chunk_count"`
	IndexBuilt bool   `json:"index_built"`
}

// RebuildResult is the per-collection outcome of RebuildAll.
type RebuildResult struct {
	Collection string `json:"collection"`
	Indexed    int    `json:"indexed"`
	Err        error  `json:"-"`
}

// ChunkSource is the authoritative chunk store consulted by RebuildAll.
type ChunkSource interface {
	ListCollections(ctx context.Context) ([]string, error)
	ChunksByCollection(ctx context.Context, collection string) ([]chunk.Chunk, error)
}

// Manager owns one CollectionIndex per collection. It is the single
// writer for all lexical indices: builds construct a fresh immutable
// index off to the side, persist it, and commit with an atomic pointer
// swap, so readers always observe either the old or the new index in
// full. Cross-collection operations never block each other beyond the
// registry map access.
type Manager struct {
	mu       sync.RWMutex
	indexes  map[string]*CollectionIndex // loaded indices
	onDisk   map[string]struct{}         // persisted but not yet loaded
	dir      string
	params   Params
	tok      Tokenizer
	eager    bool
	fileLock *flock.Flock

	// buildMu guards builders; each per-collection mutex is held across
	// persist+swap so the artifact on disk and the in-memory index can
	// never come from different builds.
	buildMu  sync.Mutex
	builders map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithParams overrides the BM25 constants.
func WithParams(p Params) Option {
	return func(m *Manager) { m.params = p }
}

// WithTokenizer overrides the default tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(m *Manager) { m.tok = t }
}

// WithEagerLoad loads every persisted index at startup instead of on
// first access.
func WithEagerLoad(eager bool) Option {
	return func(m *Manager) { m.eager = eager }
}

// NewManager creates the index manager rooted at dir. It takes an
// exclusive file lock on the directory so exactly one process owns the
// on-disk copies; a second process fails fast with ERR_204_INDEX_LOCKED.
func NewManager(dir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("create index directory %s: %w", dir, err))
	}

	m := &Manager{
		indexes:  make(map[string]*CollectionIndex),
		onDisk:   make(map[string]struct{}),
		builders: make(map[string]*sync.Mutex),
		dir:      dir,
		params:   DefaultParams(),
		tok:      NewSimpleTokenizer(nil),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.fileLock = flock.New(filepath.Join(dir, lockFileName))
	locked, err := m.fileLock.TryLock()
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("acquire index lock: %w", err))
	}
	if !locked {
		return nil, cserr.Newf(cserr.ErrCodeIndexLocked,
			"index directory %s is locked by another process", dir)
	}

	m.scanArtifacts()

	if m.eager {
		for name := range m.onDisk {
			if _, err := m.loadLocked(name); err != nil {
				// Corrupt artifacts are demoted to absent, never fatal.
				slog.Warn("lexical_index_load_failed",
					slog.String("collection", name),
					slog.String("error", err.Error()))
			}
		}
	}

	return m, nil
}

// Close releases the directory lock.
func (m *Manager) Close() error {
	if m.fileLock != nil {
		return m.fileLock.Unlock()
	}
	return nil
}

// scanArtifacts records persisted collections without loading them.
func (m *Manager) scanArtifacts() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		slog.Warn("lexical_index_scan_failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, artifactPrefix) || !strings.HasSuffix(name, artifactSuffix) {
			continue
		}
		collection := strings.TrimSuffix(strings.TrimPrefix(name, artifactPrefix), artifactSuffix)
		if collection != "" {
			m.onDisk[collection] = struct{}{}
		}
	}
}

func (m *Manager) artifactPath(collection string) string {
	return filepath.Join(m.dir, artifactPrefix+collection+artifactSuffix)
}

// builderFor returns the per-collection build mutex, creating it on
// first use.
func (m *Manager) builderFor(collection string) *sync.Mutex {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	l, ok := m.builders[collection]
	if !ok {
		l = &sync.Mutex{}
		m.builders[collection] = l
	}
	return l
}

// Build replaces the entire index for collection with one built from
// chunks. The new index is persisted first, then swapped into the
// registry; a failure at any point leaves the prior index untouched.
// An empty chunk set is an IndexBuildError, not a silent wipe.
func (m *Manager) Build(ctx context.Context, collection string, chunks []chunk.Chunk) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return cserr.IndexBuild(fmt.Sprintf("no chunks to index for collection %q", collection)).
			WithDetail("collection", collection)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = Document{ID: c.ID, Text: c.Text}
	}

	idx := buildIndex(collection, docs, m.tok, m.params)

	// Serialize persist+swap per collection: without this, two
	// concurrent builds could rename their artifacts in one order and
	// swap the registry pointer in the other, leaving disk and memory
	// from different builds.
	builder := m.builderFor(collection)
	builder.Lock()
	defer builder.Unlock()

	if err := m.persist(idx); err != nil {
		return err
	}

	m.mu.Lock()
	m.indexes[collection] = idx
	delete(m.onDisk, collection)
	m.mu.Unlock()

	slog.Info("lexical_index_built",
		slog.String("collection", collection),
		slog.Int("chunks", idx.DocCount),
		slog.Int("terms", idx.TermCount()))
	return nil
}

// persist writes the artifact through a temp file and commits with an
// atomic rename so a crashed build never leaves a torn artifact behind.
func (m *Manager) persist(idx *CollectionIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("encode index %s: %w", idx.Collection, err))
	}

	final := m.artifactPath(idx.Collection)
	tmp, err := os.CreateTemp(m.dir, artifactPrefix+idx.Collection+".tmp-*")
	if err != nil {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("create temp artifact: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("write artifact: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("sync artifact: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("close artifact: %w", err))
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("commit artifact: %w", err))
	}
	return nil
}

// get returns the loaded index for collection, lazily loading a
// persisted artifact on first access. Returns nil when the collection
// has no usable index.
func (m *Manager) get(collection string) *CollectionIndex {
	m.mu.RLock()
	idx, loaded := m.indexes[collection]
	_, pending := m.onDisk[collection]
	m.mu.RUnlock()

	if loaded {
		return idx
	}
	if !pending {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, loaded = m.indexes[collection]; loaded {
		return idx
	}
	if _, pending = m.onDisk[collection]; !pending {
		return nil
	}

	idx, err := m.loadLocked(collection)
	if err != nil {
		slog.Warn("lexical_index_load_failed",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
		return nil
	}
	return idx
}

// loadLocked reads a persisted artifact. Caller holds m.mu (or is in
// single-threaded startup). A corrupt artifact is removed from the
// registry and reported via CorruptIndex.
func (m *Manager) loadLocked(collection string) (*CollectionIndex, error) {
	path := m.artifactPath(collection)

	data, err := os.ReadFile(path)
	if err != nil {
		delete(m.onDisk, collection)
		return nil, cserr.CorruptIndex(collection, err)
	}

	var idx CollectionIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		delete(m.onDisk, collection)
		return nil, cserr.CorruptIndex(collection, err)
	}
	if idx.DocCount <= 0 || idx.Postings == nil || idx.DocLengths == nil {
		delete(m.onDisk, collection)
		return nil, cserr.CorruptIndex(collection, fmt.Errorf("artifact missing required fields"))
	}

	m.indexes[collection] = &idx
	delete(m.onDisk, collection)

	slog.Info("lexical_index_loaded",
		slog.String("collection", collection),
		slog.Int("chunks", idx.DocCount))
	return &idx, nil
}

// Search tokenizes query exactly like Build and returns the topK
// highest-scoring chunk IDs with raw BM25 scores. A collection with no
// index yields an empty result, not an error.
func (m *Manager) Search(ctx context.Context, collection, query string, topK int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := m.get(collection)
	if idx == nil {
		return []Result{}, nil
	}
	return idx.Search(m.tok.Tokenize(query), topK), nil
}

// Has reports whether collection currently has a usable index, loading
// lazily if needed.
func (m *Manager) Has(collection string) bool {
	return m.get(collection) != nil
}

// Delete removes the in-memory and persisted index for collection.
// Deleting a collection that was never built is a no-op.
func (m *Manager) Delete(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	// Same exclusion as Build so a delete cannot interleave with a
	// concurrent persist+swap.
	builder := m.builderFor(collection)
	builder.Lock()
	defer builder.Unlock()

	m.mu.Lock()
	delete(m.indexes, collection)
	delete(m.onDisk, collection)
	m.mu.Unlock()

	if err := os.Remove(m.artifactPath(collection)); err != nil && !os.IsNotExist(err) {
		return cserr.Wrap(cserr.ErrCodeIndexIO, fmt.Errorf("remove artifact for %s: %w", collection, err))
	}

	slog.Info("lexical_index_deleted", slog.String("collection", collection))
	return nil
}

// Collections returns every known collection name, loaded or persisted,
// sorted ascending.
func (m *Manager) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.indexes)+len(m.onDisk))
	for name := range m.indexes {
		names = append(names, name)
	}
	for name := range m.onDisk {
		if _, ok := m.indexes[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats returns per-collection chunk counts and build freshness for
// every known collection.
func (m *Manager) Stats() []CollectionStats {
	names := m.Collections()

	stats := make([]CollectionStats, 0, len(names))
	for _, name := range names {
		idx := m.get(name)
		if idx == nil {
			stats = append(stats, CollectionStats{Name: name})
			continue
		}
		stats = append(stats, CollectionStats{
			Name:       name,
			ChunkCount: idx.DocCount,
			IndexBuilt: true,
		})
	}
	return stats
}

// RebuildAll sequentially rebuilds every named collection from the
// authoritative chunk source, collecting per-collection outcomes rather
// than aborting on first failure. With a nil or empty collections slice
// it rebuilds everything the source knows about.
func (m *Manager) RebuildAll(ctx context.Context, source ChunkSource, collections []string) []RebuildResult {
	if len(collections) == 0 {
		names, err := source.ListCollections(ctx)
		if err != nil {
			return []RebuildResult{{Err: cserr.Wrap(cserr.ErrCodeIndexIO, err)}}
		}
		collections = names
	}

	results := make([]RebuildResult, 0, len(collections))
	for _, name := range collections {
		if err := ctx.Err(); err != nil {
			results = append(results, RebuildResult{Collection: name, Err: err})
			continue
		}

		chunks, err := source.ChunksByCollection(ctx, name)
		if err != nil {
			results = append(results, RebuildResult{Collection: name, Err: err})
			continue
		}

		if err := m.Build(ctx, name, chunks); err != nil {
			slog.Warn("lexical_index_rebuild_failed",
				slog.String("collection", name),
				slog.String("error", err.Error()))
			results = append(results, RebuildResult{Collection: name, Err: err})
			continue
		}
		results = append(results, RebuildResult{Collection: name, Indexed: len(chunks)})
	}
	return results
}
