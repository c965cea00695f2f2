// Package embed turns text into dense vectors through an external
// embedding service, with LRU caching and client-side rate limiting
// layered on top.
package embed

import (
	"context"
	"time"
)

const (
	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// MaxBatchSize caps one request's batch to prevent oversized payloads.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 30 * time.Second

	// DefaultCacheSize is the number of query embeddings kept in memory.
	DefaultCacheSize = 1000
)

// Embedder generates dense vectors for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts, preserving
	// input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimensionality.
	Dimensions() int

	// ModelName returns the model identifier used for embedding.
	ModelName() string

	// Healthy probes the backing service.
	Healthy(ctx context.Context) error
}
