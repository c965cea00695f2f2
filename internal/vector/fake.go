package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

// FakeStore is an in-memory Store doing exact cosine search. It backs
// tests and offline runs where no engine is available.
type FakeStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point // collection -> chunkID -> point
	down        bool
}

var _ Store = (*FakeStore)(nil)

// NewFakeStore creates an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{collections: make(map[string]map[string]Point)}
}

// SetDown makes every call fail with a dependency error, simulating an
// engine outage.
func (s *FakeStore) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *FakeStore) check() error {
	if s.down {
		return cserr.DependencyUnavailable("vector", nil)
	}
	return nil
}

func (s *FakeStore) Search(_ context.Context, collection string, query []float32, topK int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	points, ok := s.collections[collection]
	if !ok {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(points))
	for id, p := range points {
		hits = append(hits, Hit{ChunkID: id, Score: cosine(query, p.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *FakeStore) EnsureCollection(_ context.Context, collection string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.collections[collection]; !ok {
		s.collections[collection] = make(map[string]Point)
	}
	return nil
}

func (s *FakeStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Point)
		s.collections[collection] = coll
	}
	for _, p := range points {
		coll[p.ChunkID] = p
	}
	return nil
}

func (s *FakeStore) DeleteDocument(_ context.Context, collection, sourceDocumentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	for id, p := range s.collections[collection] {
		if doc, _ := p.Payload["source_document_id"].(string); doc == sourceDocumentID {
			delete(s.collections[collection], id)
		}
	}
	return nil
}

func (s *FakeStore) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.collections, collection)
	return nil
}

func (s *FakeStore) Healthy(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check()
}

// Count returns the number of points in collection.
func (s *FakeStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
