package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citeseek/citeseek/internal/chunk"
	"github.com/citeseek/citeseek/internal/embed"
	cserr "github.com/citeseek/citeseek/internal/errors"
	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/vector"
)

type fixture struct {
	service *Service
	catalog *store.Catalog
	lexical *index.Manager
	vectors *vector.FakeStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	catalog, err := store.NewCatalog("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = catalog.Close() })

	lexical, err := index.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	vectors := vector.NewFakeStore()
	embedder := embed.NewStaticEmbedder(16)

	return &fixture{
		service: NewService(catalog, lexical, vectors, embedder, 16, opts...),
		catalog: catalog,
		lexical: lexical,
		vectors: vectors,
	}
}

func TestIngest_EndToEnd(t *testing.T) {
	f := newFixture(t, WithChunkOptions(chunk.Options{Size: 40, Overlap: 10}))
	ctx := context.Background()

	res, err := f.service.Ingest(ctx, Document{
		DocumentID: "doc-1",
		Collection: "docs",
		Text:       strings.Repeat("searchable retrieval text ", 10),
		Metadata:   map[string]string{"source": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "docs", res.Collection)
	assert.Greater(t, res.ChunksIndexed, 1)
	assert.True(t, res.VectorsStored)

	stored, err := f.catalog.ChunksByCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Len(t, stored, res.ChunksIndexed)

	assert.True(t, f.lexical.Has("docs"))
	hits, err := f.lexical.Search(ctx, "docs", "retrieval", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	assert.Equal(t, res.ChunksIndexed, f.vectors.Count("docs"))
}

func TestIngest_ValidationRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, Document{Collection: "docs", Text: "x"})
	require.Error(t, err)
	assert.True(t, cserr.IsValidation(err))

	_, err = f.service.Ingest(ctx, Document{DocumentID: "d", Collection: "docs"})
	require.Error(t, err)
	assert.True(t, cserr.IsValidation(err))

	_, err = f.service.Ingest(ctx, Document{DocumentID: "d", Collection: "../bad", Text: "x"})
	require.Error(t, err)
	assert.True(t, cserr.IsValidation(err))
}

func TestIngest_VectorOutageStillIndexesLexically(t *testing.T) {
	f := newFixture(t)
	f.vectors.SetDown(true)
	ctx := context.Background()

	res, err := f.service.Ingest(ctx, Document{
		DocumentID: "doc-1",
		Collection: "docs",
		Text:       "invoice total and payment",
	})
	require.NoError(t, err)
	assert.False(t, res.VectorsStored)

	hits, err := f.lexical.Search(ctx, "docs", "invoice", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIngest_ReingestReplacesDocumentChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, Document{
		DocumentID: "doc-1", Collection: "docs", Text: "original text here",
	})
	require.NoError(t, err)

	_, err = f.service.Ingest(ctx, Document{
		DocumentID: "doc-1", Collection: "docs", Text: "replacement text here",
	})
	require.NoError(t, err)

	stored, err := f.catalog.ChunksByCollection(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "replacement text here", stored[0].Text)
}

func TestIngest_ReingestShrinkingDocumentDropsStaleChunks(t *testing.T) {
	f := newFixture(t, WithChunkOptions(chunk.Options{Size: 40, Overlap: 10}))
	ctx := context.Background()

	first, err := f.service.Ingest(ctx, Document{
		DocumentID: "doc-1",
		Collection: "docs",
		Text:       strings.Repeat("zanzibar payload body ", 20),
	})
	require.NoError(t, err)
	require.Greater(t, first.ChunksIndexed, 1)

	second, err := f.service.Ingest(ctx, Document{
		DocumentID: "doc-1",
		Collection: "docs",
		Text:       "condensed summary",
	})
	require.NoError(t, err)
	require.Equal(t, 1, second.ChunksIndexed)

	// The catalog holds only the new chunk; none of the old
	// high-sequence rows survive the replacement.
	stored, err := f.catalog.ChunksByCollection(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "condensed summary", stored[0].Text)

	// The rebuilt lexical index no longer serves the replaced text.
	hits, err := f.lexical.Search(ctx, "docs", "zanzibar", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = f.lexical.Search(ctx, "docs", "condensed", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	// Stale vector points are deleted before the new upsert.
	assert.Equal(t, 1, f.vectors.Count("docs"))
}

func TestDeleteDocument_RebuildsOrDropsIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, Document{DocumentID: "a", Collection: "docs", Text: "first document body"})
	require.NoError(t, err)
	_, err = f.service.Ingest(ctx, Document{DocumentID: "b", Collection: "docs", Text: "second document body"})
	require.NoError(t, err)

	removed, err := f.service.DeleteDocument(ctx, "docs", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, f.lexical.Has("docs"))

	removed, err = f.service.DeleteDocument(ctx, "docs", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, f.lexical.Has("docs"))
}

func TestDeleteCollection_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Ingest(ctx, Document{DocumentID: "a", Collection: "docs", Text: "some indexed text"})
	require.NoError(t, err)

	removed, err := f.service.DeleteCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, f.lexical.Has("docs"))
	assert.Zero(t, f.vectors.Count("docs"))

	// Idempotent.
	removed, err = f.service.DeleteCollection(ctx, "docs")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

type captureRecorder struct{ chunks int }

func (c *captureRecorder) RecordIngest(chunks int) { c.chunks += chunks }

func TestIngest_RecordsTelemetry(t *testing.T) {
	rec := &captureRecorder{}
	f := newFixture(t, WithRecorder(rec))

	res, err := f.service.Ingest(context.Background(), Document{
		DocumentID: "a", Collection: "docs", Text: "short text",
	})
	require.NoError(t, err)
	assert.Equal(t, res.ChunksIndexed, rec.chunks)
}
