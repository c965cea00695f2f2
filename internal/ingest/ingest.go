// Package ingest turns raw documents into indexed chunks: split,
// catalog, embed, upsert into the vector engine, and rebuild the
// collection's lexical index.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/citeseek/citeseek/internal/chunk"
	"github.com/citeseek/citeseek/internal/embed"
	cserr "github.com/citeseek/citeseek/internal/errors"
	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/vector"
)

// DefaultEmbedWorkers bounds concurrent embedding batches per
// ingestion.
const DefaultEmbedWorkers = 4

// Document is one ingestion input.
type Document struct {
	DocumentID string            `json:"document_id"`
	Collection string            `json:"collection"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Result reports what one ingestion produced.
type Result struct {
	Collection    string `json:"collection"`
	ChunksIndexed int    `json:"chunks_indexed"`
	VectorsStored bool   `json:"vectors_stored"`
}

// Recorder receives per-ingest telemetry.
type Recorder interface {
	RecordIngest(chunks int)
}

// Service drives the ingestion path.
type Service struct {
	catalog      *store.Catalog
	lexical      *index.Manager
	vectors      vector.Store
	embedder     embed.Embedder
	chunkOpts    chunk.Options
	vectorSize   int
	embedWorkers int
	recorder     Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithChunkOptions overrides the default chunking parameters.
func WithChunkOptions(opts chunk.Options) Option {
	return func(s *Service) { s.chunkOpts = opts }
}

// WithEmbedWorkers bounds concurrent embedding batches.
func WithEmbedWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.embedWorkers = n
		}
	}
}

// WithRecorder attaches ingestion telemetry.
func WithRecorder(rec Recorder) Option {
	return func(s *Service) { s.recorder = rec }
}

// NewService assembles the ingestion path.
func NewService(
	catalog *store.Catalog,
	lexical *index.Manager,
	vectors vector.Store,
	embedder embed.Embedder,
	vectorSize int,
	opts ...Option,
) *Service {
	s := &Service{
		catalog:      catalog,
		lexical:      lexical,
		vectors:      vectors,
		embedder:     embedder,
		chunkOpts:    chunk.DefaultOptions(),
		vectorSize:   vectorSize,
		embedWorkers: DefaultEmbedWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes one document end to end. The chunk catalog and the
// lexical index are authoritative and must succeed; a vector-side
// failure leaves the document lexically searchable and is reported in
// the result rather than failing the call.
func (s *Service) Ingest(ctx context.Context, doc Document) (*Result, error) {
	if doc.DocumentID == "" {
		return nil, cserr.Validation("document_id must not be empty")
	}
	if doc.Text == "" {
		return nil, cserr.Validation("text must not be empty")
	}
	if err := index.ValidateCollectionName(doc.Collection); err != nil {
		return nil, err
	}

	start := time.Now()
	opts := s.chunkOpts
	if opts.Metadata == nil {
		opts.Metadata = doc.Metadata
	}
	chunks, err := chunk.Split(doc.Text, doc.Collection, doc.DocumentID, opts)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, cserr.Validation("document produced no chunks")
	}

	// Replace, not append: a shrinking document must not leave its old
	// high-sequence chunks behind anywhere.
	if err := s.catalog.ReplaceDocument(ctx, doc.Collection, doc.DocumentID, chunks); err != nil {
		return nil, err
	}

	if err := s.rebuildLexical(ctx, doc.Collection); err != nil {
		return nil, err
	}

	vectorsStored := true
	if err := s.storeVectors(ctx, doc.Collection, doc.DocumentID, chunks); err != nil {
		slog.Warn("ingest_vector_store_failed",
			slog.String("collection", doc.Collection),
			slog.String("document_id", doc.DocumentID),
			slog.String("error", err.Error()))
		vectorsStored = false
	}

	if s.recorder != nil {
		s.recorder.RecordIngest(len(chunks))
	}
	slog.Info("document_ingested",
		slog.String("collection", doc.Collection),
		slog.String("document_id", doc.DocumentID),
		slog.Int("chunks", len(chunks)),
		slog.Bool("vectors_stored", vectorsStored),
		slog.Duration("elapsed", time.Since(start)))

	return &Result{
		Collection:    doc.Collection,
		ChunksIndexed: len(chunks),
		VectorsStored: vectorsStored,
	}, nil
}

// DeleteDocument removes one document from the catalog, the lexical
// index, and the vector engine.
func (s *Service) DeleteDocument(ctx context.Context, collection, documentID string) (int, error) {
	if err := index.ValidateCollectionName(collection); err != nil {
		return 0, err
	}

	removed, err := s.catalog.DeleteDocument(ctx, collection, documentID)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		if err := s.rebuildOrDropLexical(ctx, collection); err != nil {
			return removed, err
		}
	}

	if err := s.vectors.DeleteDocument(ctx, collection, documentID); err != nil {
		slog.Warn("delete_vector_side_failed",
			slog.String("collection", collection),
			slog.String("document_id", documentID),
			slog.String("error", err.Error()))
	}
	return removed, nil
}

// DeleteCollection drops a collection everywhere. Idempotent.
func (s *Service) DeleteCollection(ctx context.Context, collection string) (int, error) {
	if err := index.ValidateCollectionName(collection); err != nil {
		return 0, err
	}

	removed, err := s.catalog.DeleteCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	if err := s.lexical.Delete(ctx, collection); err != nil {
		return removed, err
	}
	if err := s.vectors.DeleteCollection(ctx, collection); err != nil {
		slog.Warn("delete_collection_vector_side_failed",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
	}
	return removed, nil
}

// rebuildLexical rebuilds the collection's index from the catalog.
func (s *Service) rebuildLexical(ctx context.Context, collection string) error {
	chunks, err := s.catalog.ChunksByCollection(ctx, collection)
	if err != nil {
		return err
	}
	return s.lexical.Build(ctx, collection, chunks)
}

// rebuildOrDropLexical rebuilds the index, or deletes it when the last
// document left the collection.
func (s *Service) rebuildOrDropLexical(ctx context.Context, collection string) error {
	chunks, err := s.catalog.ChunksByCollection(ctx, collection)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return s.lexical.Delete(ctx, collection)
	}
	return s.lexical.Build(ctx, collection, chunks)
}

// storeVectors embeds chunks in bounded parallel batches and upserts
// them into the vector engine. The document's prior points are deleted
// first so re-ingestion replaces rather than accumulates.
func (s *Service) storeVectors(ctx context.Context, collection, documentID string, chunks []chunk.Chunk) error {
	if err := s.vectors.EnsureCollection(ctx, collection, s.vectorSize); err != nil {
		return err
	}

	if err := s.vectors.DeleteDocument(ctx, collection, documentID); err != nil {
		return err
	}

	batch := embed.DefaultBatchSize
	points := make([]vector.Point, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.embedWorkers)
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			texts := make([]string, end-start)
			for i, ch := range chunks[start:end] {
				texts[i] = ch.Text
			}
			vecs, err := s.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			for i, vec := range vecs {
				ch := chunks[start+i]
				points[start+i] = vector.Point{
					ChunkID: ch.ID,
					Vector:  vec,
					Payload: map[string]any{
						"source_document_id": ch.SourceDocumentID,
						"sequence":           ch.Sequence,
					},
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.vectors.Upsert(ctx, collection, points)
}
