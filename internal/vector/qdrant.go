package vector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

// pointNamespace seeds deterministic point IDs so re-upserting a chunk
// overwrites its previous point instead of duplicating it.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// PointID derives the stable engine point ID for a chunk.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// QdrantStore implements Store against a Qdrant instance.
type QdrantStore struct {
	client *qdrant.Client
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to the Qdrant at urlStr, given as
// "http://host:port" with the HTTP port; the gRPC port is derived as
// port+1.
func NewQdrantStore(urlStr string) (*QdrantStore, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return nil, cserr.Configuration(fmt.Sprintf("invalid vector engine URL %q: %v", urlStr, err))
	}

	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if parsed.Port() != "" {
		if httpPort, err := strconv.Atoi(parsed.Port()); err == nil {
			port = httpPort + 1
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, cserr.DependencyUnavailable("vector", err)
	}
	return &QdrantStore{client: client}, nil
}

// Search returns the topK nearest chunks in collection. A collection
// the engine does not know yields an empty result.
func (s *QdrantStore) Search(ctx context.Context, collection string, query []float32, topK int) ([]Hit, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, cserr.DependencyUnavailable("vector", err)
	}
	if !exists {
		return []Hit{}, nil
	}

	limit := uint64(topK)
	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, cserr.DependencyUnavailable("vector", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, p := range scored {
		chunkID := ""
		if p.Payload != nil {
			if v, ok := p.Payload["chunk_id"]; ok {
				chunkID = v.GetStringValue()
			}
		}
		if chunkID == "" {
			slog.Warn("vector_hit_missing_chunk_id", slog.String("collection", collection))
			continue
		}
		hits = append(hits, Hit{ChunkID: chunkID, Score: float64(p.Score)})
	}
	return hits, nil
}

// EnsureCollection creates collection with cosine distance when absent.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	slog.Info("vector_collection_created",
		slog.String("collection", collection),
		slog.Int("vector_size", vectorSize))
	return nil
}

// Upsert writes points with deterministic IDs derived from chunk IDs.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := map[string]any{"chunk_id": p.ChunkID}
		for k, v := range p.Payload {
			payload[k] = v
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(p.ChunkID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qpoints,
	}); err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	return nil
}

// DeleteDocument removes every point whose payload names the source
// document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, collection, sourceDocumentID string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	if !exists {
		return nil
	}

	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source_document_id", sourceDocumentID),
			},
		}),
	}); err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	return nil
}

// DeleteCollection drops the collection if the engine knows it.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	if !exists {
		return nil
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	slog.Info("vector_collection_deleted", slog.String("collection", collection))
	return nil
}

// Healthy verifies the engine answers a cheap metadata call.
func (s *QdrantStore) Healthy(ctx context.Context) error {
	if _, err := s.client.ListCollections(ctx); err != nil {
		return cserr.DependencyUnavailable("vector", err)
	}
	return nil
}
