package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citeseek/citeseek/internal/async"
	"github.com/citeseek/citeseek/internal/config"
	"github.com/citeseek/citeseek/internal/embed"
	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/ready"
	"github.com/citeseek/citeseek/internal/rerank"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/telemetry"
	"github.com/citeseek/citeseek/internal/vector"
)

type apiFixture struct {
	handler http.Handler
	vectors *vector.FakeStore
	lexical *index.Manager
	rebuild *async.Rebuilder
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	catalog, err := store.NewCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	lexical, err := index.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vectors := vector.NewFakeStore()
	embedder := embed.NewStaticEmbedder(16)
	metrics := telemetry.NewMetrics()

	pipeline, err := search.NewPipeline(lexical, vectors, embedder, catalog,
		search.DefaultFusionConfig(),
		search.WithReranker(rerank.NoOp{}),
		search.WithRecorder(metrics))
	require.NoError(t, err)

	ingestor := ingest.NewService(catalog, lexical, vectors, embedder, 16,
		ingest.WithRecorder(metrics))

	rebuild := async.NewRebuilder(lexical, catalog)

	handler := NewRouter(Deps{
		Pipeline: pipeline,
		Ingestor: ingestor,
		Admin:    NewAdminService(lexical, catalog),
		Ready:    ready.NewTracker(vectors, embedder, lexical),
		Metrics:  metrics,
		Catalog:  catalog,
		Rebuild:  rebuild,
	})

	return &apiFixture{handler: handler, vectors: vectors, lexical: lexical, rebuild: rebuild}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) ingest(t *testing.T, docID, collection, text string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/admin/ingest", map[string]any{
		"document_id": docID,
		"collection":  collection,
		"text":        text,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_ReflectsVectorStore(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var state ready.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.OverallReady)

	f.vectors.SetDown(true)
	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestAndQuery(t *testing.T) {
	f := newAPIFixture(t)

	f.ingest(t, "doc-1", "finance", "invoice total 500")
	f.ingest(t, "doc-2", "finance", "payment received 500")
	f.ingest(t, "doc-3", "finance", "contract terms")

	rec := f.do(t, http.MethodPost, "/rag", map[string]any{
		"query":      "invoice payment",
		"collection": "finance",
		"top_k":      3,
		"final_k":    3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Degraded)
	require.GreaterOrEqual(t, len(resp.Passages), 2)

	// The two money chunks outrank the contract chunk.
	top := map[string]bool{
		resp.Passages[0].SourceDocumentID: true,
		resp.Passages[1].SourceDocumentID: true,
	}
	assert.True(t, top["doc-1"])
	assert.True(t, top["doc-2"])
}

func TestRag_ValidationErrors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/rag", map[string]any{
		"collection": "docs",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error.Code)

	rec = f.do(t, http.MethodPost, "/rag", map[string]any{
		"query": "x", "collection": "docs", "top_k": 5, "final_k": 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRag_VectorOutageReturnsDegraded(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "docs", "searchable content body")

	f.vectors.SetDown(true)
	rec := f.do(t, http.MethodPost, "/rag", map[string]any{
		"query": "searchable", "collection": "docs",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp search.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Passages)
}

func TestListCollections(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "alpha", "first body of text")
	f.ingest(t, "doc-2", "beta", "second body of text")

	rec := f.do(t, http.MethodGet, "/admin/collections", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Collections []CollectionInfo `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Collections, 2)
	assert.Equal(t, "alpha", body.Collections[0].Name)
	assert.True(t, body.Collections[0].IndexBuilt)
	assert.Equal(t, 1, body.Collections[0].ChunkCount)
}

func TestRebuildCollection(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "docs", "content to rebuild")

	rec := f.do(t, http.MethodPost, "/admin/collections/docs/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Indexed int `json:"indexed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Indexed)

	// Rebuilding an empty collection is reported, not swallowed.
	rec = f.do(t, http.MethodPost, "/admin/collections/ghost/rebuild", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRebuildAll(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "alpha", "alpha body text")
	f.ingest(t, "doc-2", "beta", "beta body text")

	rec := f.do(t, http.MethodPost, "/admin/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []RebuildOutcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	for _, r := range body.Results {
		assert.Empty(t, r.Error)
		assert.Equal(t, 1, r.Indexed)
	}
}

func TestRebuildAll_Async(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "alpha", "alpha body text")
	f.ingest(t, "doc-2", "beta", "beta body text")

	rec := f.do(t, http.MethodPost, "/admin/rebuild?async=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	f.rebuild.Wait()

	status := f.do(t, http.MethodGet, "/admin/rebuild/status", nil)
	require.Equal(t, http.StatusOK, status.Code)

	var snap async.ProgressSnapshot
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &snap))
	assert.Equal(t, "done", snap.Status)
	assert.Equal(t, 2, snap.CollectionsTotal)
	assert.Equal(t, 2, snap.CollectionsDone)
	assert.Equal(t, 0, snap.CollectionsFailed)
}

func TestRebuildAll_AsyncRejectsCollectionFilter(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/rebuild?async=true", map[string]any{
		"collections": []string{"alpha"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRebuildStatus_Idle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/admin/rebuild/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap async.ProgressSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "idle", snap.Status)
}

func TestDeleteCollection(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "docs", "content to be deleted")

	rec := f.do(t, http.MethodDelete, "/admin/collections/docs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.lexical.Has("docs"))

	// Deleting a collection that was never built succeeds.
	rec = f.do(t, http.MethodDelete, "/admin/collections/never-built", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	list := f.do(t, http.MethodGet, "/admin/collections", nil)
	var body struct {
		Collections []CollectionInfo `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &body))
	for _, c := range body.Collections {
		assert.NotEqual(t, "docs", c.Name)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "docs", "first document")
	f.ingest(t, "doc-2", "docs", "second document")

	rec := f.do(t, http.MethodDelete, "/admin/collections/docs/documents/doc-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ChunksRemoved int `json:"chunks_removed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.ChunksRemoved)
	assert.True(t, f.lexical.Has("docs"))
}

func TestStats(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest(t, "doc-1", "docs", "stat tracked body")

	rec := f.do(t, http.MethodPost, "/rag", map[string]any{
		"query": "tracked", "collection": "docs",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stats := f.do(t, http.MethodGet, "/admin/stats", nil)
	require.Equal(t, http.StatusOK, stats.Code)

	var body struct {
		Metrics telemetry.Snapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Metrics.Queries)
	assert.Equal(t, int64(1), body.Metrics.Ingests)
}

func TestIngest_BadBody(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/ingest", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GracefulShutdown(t *testing.T) {
	f := newAPIFixture(t)
	srv := New(config.ServerConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second}, f.handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	cancel()
	require.NoError(t, <-done)
}
