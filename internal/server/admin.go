package server

import (
	"context"
	"sort"

	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/store"
)

// AdminService backs the index-management endpoints: collection
// listings joined across the catalog and the lexical registry, and
// rebuilds driven from the authoritative chunk source.
type AdminService struct {
	lexical *index.Manager
	catalog *store.Catalog
}

// NewAdminService creates the admin surface over the index manager and
// chunk catalog.
func NewAdminService(lexical *index.Manager, catalog *store.Catalog) *AdminService {
	return &AdminService{lexical: lexical, catalog: catalog}
}

// CollectionInfo is one row of the collection listing.
type CollectionInfo struct {
	Name       string `json:"name"`
	ChunkCount int    `json:"chunk_count"`
	IndexBuilt bool   `json:"index_built"`
}

// Collections lists every collection known to the catalog or the
// lexical registry. Chunk counts come from the catalog; a collection
// only present in the lexical registry reports its index size.
func (a *AdminService) Collections(ctx context.Context) ([]CollectionInfo, error) {
	counts, err := a.catalog.CountByCollection(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]CollectionInfo, 0, len(counts))
	for _, s := range a.lexical.Stats() {
		count := s.ChunkCount
		if n, ok := counts[s.Name]; ok {
			count = n
		}
		out = append(out, CollectionInfo{Name: s.Name, ChunkCount: count, IndexBuilt: s.IndexBuilt})
		seen[s.Name] = true
	}
	for name, n := range counts {
		if !seen[name] {
			out = append(out, CollectionInfo{Name: name, ChunkCount: n})
		}
	}

	sortCollections(out)
	return out, nil
}

// Rebuild rebuilds one collection's lexical index from the catalog.
func (a *AdminService) Rebuild(ctx context.Context, collection string) (int, error) {
	chunks, err := a.catalog.ChunksByCollection(ctx, collection)
	if err != nil {
		return 0, err
	}
	if err := a.lexical.Build(ctx, collection, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// RebuildOutcome is the JSON shape of one collection's rebuild result.
type RebuildOutcome struct {
	Collection string `json:"collection"`
	Indexed    int    `json:"indexed"`
	Error      string `json:"error,omitempty"`
}

// RebuildAll rebuilds every collection (or the named subset) from the
// catalog, reporting per-collection outcomes.
func (a *AdminService) RebuildAll(ctx context.Context, collections []string) []RebuildOutcome {
	results := a.lexical.RebuildAll(ctx, a.catalog, collections)

	out := make([]RebuildOutcome, len(results))
	for i, r := range results {
		out[i] = RebuildOutcome{Collection: r.Collection, Indexed: r.Indexed}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

func sortCollections(infos []CollectionInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
}
