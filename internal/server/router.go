package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/citeseek/citeseek/internal/async"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/ready"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/telemetry"
)

// Deps wires the router's collaborators.
type Deps struct {
	Pipeline *search.Pipeline
	Ingestor *ingest.Service
	Admin    *AdminService
	Ready    *ready.Tracker
	Metrics  *telemetry.Metrics
	Catalog  *store.Catalog
	Rebuild  *async.Rebuilder
}

// NewRouter builds the HTTP routing table.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/rag", h.rag)
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/ingest", h.ingestDoc)
		r.Get("/collections", h.listCollections)
		r.Post("/collections/{name}/rebuild", h.rebuildCollection)
		r.Delete("/collections/{name}", h.deleteCollection)
		r.Delete("/collections/{name}/documents/{id}", h.deleteDocument)
		r.Post("/rebuild", h.rebuildAll)
		r.Get("/rebuild/status", h.rebuildStatus)
		r.Get("/stats", h.stats)
	})

	return r
}
