package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/citeseek/citeseek/internal/async"
	"github.com/citeseek/citeseek/internal/chunk"
	"github.com/citeseek/citeseek/internal/config"
	"github.com/citeseek/citeseek/internal/embed"
	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/ingest"
	"github.com/citeseek/citeseek/internal/logging"
	"github.com/citeseek/citeseek/internal/profiling"
	"github.com/citeseek/citeseek/internal/ready"
	"github.com/citeseek/citeseek/internal/rerank"
	"github.com/citeseek/citeseek/internal/search"
	"github.com/citeseek/citeseek/internal/server"
	"github.com/citeseek/citeseek/internal/store"
	"github.com/citeseek/citeseek/internal/telemetry"
	"github.com/citeseek/citeseek/internal/vector"
)

const readinessRefreshInterval = 15 * time.Second

type serveFlags struct {
	offline    bool
	cpuProfile string
	memProfile string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the retrieval HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	cmd.Flags().BoolVar(&flags.offline, "offline", false,
		"Use in-process embeddings and vector search (no external services)")
	cmd.Flags().StringVar(&flags.cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&flags.memProfile, "memprofile", "", "Write a heap profile to this file on shutdown")
	return cmd
}

func runServe(ctx context.Context, flags serveFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	profiler, err := profiling.Start(flags.cpuProfile, flags.memProfile)
	if err != nil {
		return err
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			slog.Warn("profile_flush_failed", slog.String("error", err.Error()))
		}
	}()

	logCleanup, err := logging.SetupDefault(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := store.NewCatalog(filepath.Join(cfg.Data.Dir, "catalog.db"))
	if err != nil {
		return err
	}
	defer catalog.Close()

	lexical, err := index.NewManager(
		filepath.Join(cfg.Data.Dir, "index"),
		index.WithParams(cfg.Index.Params),
		index.WithEagerLoad(cfg.Index.EagerLoad),
	)
	if err != nil {
		return err
	}
	defer lexical.Close()

	var (
		vectors  vector.Store
		embedder embed.Embedder
	)
	if flags.offline {
		slog.Warn("offline_mode", slog.String("detail", "using hash embeddings and in-memory vector search"))
		vectors = vector.NewFakeStore()
		embedder = embed.NewStaticEmbedder(cfg.Vector.VectorSize)
	} else {
		vectors, err = vector.NewQdrantStore(cfg.Vector.URL)
		if err != nil {
			return err
		}
		httpEmbedder, err := embed.NewHTTPEmbedder(cfg.Embedding)
		if err != nil {
			return err
		}
		embedder = embed.NewCachedEmbedder(httpEmbedder, embed.DefaultCacheSize)
	}

	metrics := telemetry.NewMetrics()

	pipelineOpts := []search.PipelineOption{search.WithRecorder(metrics)}
	if cfg.Rerank.Enabled {
		reranker, err := rerank.NewHTTPReranker(cfg.Rerank.HTTPConfig)
		if err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts, search.WithReranker(reranker))
	}

	pipeline, err := search.NewPipeline(lexical, vectors, embedder, catalog, cfg.Fusion, pipelineOpts...)
	if err != nil {
		return err
	}

	ingestor := ingest.NewService(catalog, lexical, vectors, embedder, cfg.Vector.VectorSize,
		ingest.WithChunkOptions(chunk.Options{
			Size:    cfg.Chunking.Size,
			Overlap: cfg.Chunking.Overlap,
		}),
		ingest.WithRecorder(metrics),
	)

	tracker := ready.NewTracker(vectors, embedder, lexical)
	tracker.Snapshot(ctx)
	go tracker.Watch(ctx, readinessRefreshInterval)

	handler := server.NewRouter(server.Deps{
		Pipeline: pipeline,
		Ingestor: ingestor,
		Admin:    server.NewAdminService(lexical, catalog),
		Ready:    tracker,
		Metrics:  metrics,
		Catalog:  catalog,
		Rebuild:  async.NewRebuilder(lexical, catalog),
	})

	return server.New(cfg.Server, handler).Start(ctx)
}
