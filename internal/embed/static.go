package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// StaticEmbedder generates deterministic hash-based vectors with no
// external service. Quality is far below a real model; it exists for
// tests and offline smoke runs.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder producing dims-wide
// vectors.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes each token into a bucket and L2-normalizes the result.
func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dims)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the vector width.
func (e *StaticEmbedder) Dimensions() int { return e.dims }

// ModelName identifies the hash scheme.
func (e *StaticEmbedder) ModelName() string { return "static-fnv" }

// Healthy always succeeds.
func (e *StaticEmbedder) Healthy(context.Context) error { return nil }
