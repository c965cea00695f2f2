package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

func newFakeEmbeddingServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp embeddingResponse
		// Reversed order exercises index-based reassembly.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(len(req.Input[i])), 1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	var calls atomic.Int64
	srv := newFakeEmbeddingServer(t, &calls)
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "test-model", Dimensions: 2})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
}

func TestHTTPEmbedder_SplitsLargeBatches(t *testing.T) {
	var calls atomic.Int64
	srv := newFakeEmbeddingServer(t, &calls)
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "m", BatchSize: 2})
	require.NoError(t, err)

	texts := []string{"one", "two", "three", "four", "five"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, int64(3), calls.Load())
}

// fastRetries shrinks the backoff so failure-path tests don't sleep.
func fastRetries(e *HTTPEmbedder) {
	e.retry.InitialDelay = time.Millisecond
	e.retry.MaxDelay = time.Millisecond
}

func TestHTTPEmbedder_ServerErrorIsDependencyError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	fastRetries(e)

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, cserr.IsDependency(err))
	assert.Equal(t, cserr.ErrCodeDependencyUnavailable, cserr.GetCode(err))
	// Unavailability is retryable, so every attempt was spent.
	assert.Equal(t, int64(e.retry.MaxAttempts), calls.Load())
}

func TestHTTPEmbedder_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,2]}]}`)
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	fastRetries(e)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, int64(2), calls.Load())
}

func TestHTTPEmbedder_UnreachableHostIsDependencyError(t *testing.T) {
	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: "http://127.0.0.1:1", Model: "m"})
	require.NoError(t, err)
	fastRetries(e)

	_, err = e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, cserr.IsDependency(err))
}

func TestHTTPEmbedder_CountMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,2]}]}`)
	}))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	fastRetries(e)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.True(t, cserr.IsDependency(err))
}

func TestHTTPEmbedder_RequiresConfig(t *testing.T) {
	_, err := NewHTTPEmbedder(HTTPConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewHTTPEmbedder(HTTPConfig{BaseURL: "http://localhost:9999"})
	require.Error(t, err)
}

func TestCachedEmbedder_SecondCallHitsCache(t *testing.T) {
	var calls atomic.Int64
	srv := newFakeEmbeddingServer(t, &calls)
	defer srv.Close()

	inner, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	cached := NewCachedEmbedder(inner, 10)

	first, err := cached.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_BatchOnlyFetchesMisses(t *testing.T) {
	var calls atomic.Int64
	srv := newFakeEmbeddingServer(t, &calls)
	defer srv.Close()

	inner, err := NewHTTPEmbedder(HTTPConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	cached := NewCachedEmbedder(inner, 10)

	_, err = cached.Embed(context.Background(), "warm")
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	vecs, err := cached.EmbedBatch(context.Background(), []string{"cold", "warm", "colder"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)
	// One extra request carrying only the two misses.
	assert.Equal(t, int64(2), calls.Load())
}

func TestStaticEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewStaticEmbedder(32)

	a, err := e.Embed(context.Background(), "hybrid retrieval engine")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hybrid retrieval engine")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 32)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}
