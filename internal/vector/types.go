// Package vector talks to the external vector search engine. The
// engine owns ANN retrieval; this package scopes it to collections and
// maps chunk IDs to and from point IDs.
package vector

import "context"

// Hit is one vector search result.
type Hit struct {
	ChunkID string
	Score   float64
}

// Point is one embedded chunk ready for upsert.
type Point struct {
	ChunkID string
	Vector  []float32
	Payload map[string]any
}

// Searcher is the read path into the vector engine.
type Searcher interface {
	// Search returns the topK nearest chunks in collection. A missing
	// collection yields an empty result, not an error.
	Search(ctx context.Context, collection string, query []float32, topK int) ([]Hit, error)

	// Healthy probes the engine.
	Healthy(ctx context.Context) error
}

// Store is the full read/write surface of the vector engine.
type Store interface {
	Searcher

	// EnsureCollection creates collection with the given vector size if
	// it does not exist.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// Upsert writes points into collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// DeleteDocument removes every point of one source document.
	DeleteDocument(ctx context.Context, collection, sourceDocumentID string) error

	// DeleteCollection drops the whole collection. Unknown collections
	// are a no-op.
	DeleteCollection(ctx context.Context, collection string) error
}
