package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/citeseek/citeseek/internal/chunk"
	"github.com/citeseek/citeseek/internal/embed"
	cserr "github.com/citeseek/citeseek/internal/errors"
	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/rerank"
	"github.com/citeseek/citeseek/internal/vector"
)

// Query limits and defaults.
const (
	DefaultTopK   = 20
	DefaultFinalK = 5
	MaxTopK       = 100
	MaxQueryChars = 2000
)

// Pipeline stages, logged as each query advances.
type stage string

const (
	stageReceived   stage = "received"
	stageEmbedding  stage = "embedding"
	stageRetrieving stage = "retrieving"
	stageFusing     stage = "fusing"
	stageReranking  stage = "reranking"
	stageDone       stage = "done"
	stageError      stage = "error"
)

// PassageSource resolves chunk IDs to full chunks for the final
// passages and the reranker's candidate texts.
type PassageSource interface {
	GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error)
}

// Pipeline drives one query through embedding, parallel retrieval,
// fusion, and reranking. Retrieval-path failures degrade the answer
// instead of aborting it; only the loss of every signal fails a query.
type Pipeline struct {
	lexical  LexicalSearcher
	vectors  vector.Searcher
	embedder embed.Embedder
	reranker rerank.Reranker
	passages PassageSource
	fuser    *Fuser
	recorder Recorder
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithReranker sets the reranker. Without one, fusion order is final.
func WithReranker(r rerank.Reranker) PipelineOption {
	return func(p *Pipeline) { p.reranker = r }
}

// WithRecorder attaches query telemetry.
func WithRecorder(rec Recorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = rec }
}

// NewPipeline assembles the query pipeline.
func NewPipeline(
	lexical LexicalSearcher,
	vectors vector.Searcher,
	embedder embed.Embedder,
	passages PassageSource,
	fusionCfg FusionConfig,
	opts ...PipelineOption,
) (*Pipeline, error) {
	fuser, err := NewFuser(fusionCfg)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		lexical:  lexical,
		vectors:  vectors,
		embedder: embedder,
		passages: passages,
		fuser:    fuser,
		reranker: rerank.NoOp{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// validate applies defaults and rejects bad input before any work
// starts.
func validate(req *Request) error {
	if req.Query == "" {
		return cserr.New(cserr.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	if len(req.Query) > MaxQueryChars {
		return cserr.Newf(cserr.ErrCodeQueryTooLong,
			"query exceeds %d characters", MaxQueryChars)
	}
	if req.Collection == "" {
		return cserr.Validation("collection must not be empty")
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		return cserr.Validation(fmt.Sprintf("top_k must not exceed %d", MaxTopK))
	}
	if req.FinalK <= 0 {
		req.FinalK = DefaultFinalK
	}
	if req.FinalK > req.TopK {
		return cserr.Validation("final_k must not exceed top_k")
	}
	return nil
}

// Run executes one query. The returned Response carries an explicit
// Degraded flag whenever any signal or service failed along the way.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := p.run(ctx, &req, start)

	if p.recorder != nil {
		degraded := err == nil && resp.Degraded
		zero := err == nil && len(resp.Passages) == 0
		p.recorder.RecordQuery(time.Since(start), degraded, zero)
	}
	return resp, err
}

func (p *Pipeline) run(ctx context.Context, req *Request, start time.Time) (*Response, error) {
	log := slog.With(slog.String("collection", req.Collection))

	p.transition(log, stageReceived)
	if err := validate(req); err != nil {
		p.transition(log, stageError)
		return nil, err
	}

	debug := &DebugInfo{}
	degraded := false

	// EMBEDDING: an embedding failure drops the vector signal, it never
	// aborts the query.
	p.transition(log, stageEmbedding)
	var queryVec []float32
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, req.Query)
		if err != nil {
			log.Warn("query_embedding_failed", slog.String("error", err.Error()))
			degraded = true
		} else {
			queryVec = vec
			debug.EmbeddingOK = true
		}
	}

	useLexical := req.UseLexical
	if useLexical && !p.lexical.Has(req.Collection) {
		// No lexical index for this collection: proceed vector-only.
		log.Warn("lexical_index_missing")
		useLexical = false
		degraded = true
	}

	// RETRIEVING: both signals run concurrently; one failing path does
	// not abort the other.
	p.transition(log, stageRetrieving)
	var (
		lexResults []index.Result
		vecHits    []vector.Hit
		lexErr     error
		vecErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	if useLexical {
		g.Go(func() error {
			lexResults, lexErr = p.lexical.Search(gctx, req.Collection, req.Query, req.TopK)
			return nil
		})
	}
	if queryVec != nil {
		g.Go(func() error {
			vecHits, vecErr = p.vectors.Search(gctx, req.Collection, queryVec, req.TopK)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.transition(log, stageError)
		return nil, err
	}

	if lexErr != nil {
		log.Warn("lexical_search_failed", slog.String("error", lexErr.Error()))
		debug.LexicalError = lexErr.Error()
		degraded = true
	}
	if vecErr != nil {
		log.Warn("vector_search_failed", slog.String("error", vecErr.Error()))
		debug.VectorError = vecErr.Error()
		degraded = true
	}

	lexOK := useLexical && lexErr == nil
	vecOK := queryVec != nil && vecErr == nil
	if !lexOK && !vecOK {
		p.transition(log, stageError)
		return nil, cserr.New(cserr.ErrCodeSearchFailed,
			"all retrieval signals unavailable", errors.Join(lexErr, vecErr))
	}

	debug.LexicalHits = len(lexResults)
	debug.VectorHits = len(vecHits)

	// FUSING
	p.transition(log, stageFusing)
	fused := p.fuser.Fuse(lexicalCandidates(lexResults), vectorCandidates(vecHits), req.TopK)
	if req.Debug {
		debug.Fused = fused
	}

	if len(fused) == 0 {
		p.transition(log, stageDone)
		return p.finish(req, debug, nil, degraded, start), nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
	}
	chunks, err := p.passages.GetChunks(ctx, ids)
	if err != nil {
		p.transition(log, stageError)
		return nil, err
	}
	byID := make(map[string]chunk.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	// RERANKING: failure falls back to the fusion order.
	p.transition(log, stageReranking)
	scored := p.rerankOrFallback(ctx, log, req, fused, byID, &degraded, debug)

	p.transition(log, stageDone)
	passages := make([]RankedPassage, 0, len(scored))
	for _, s := range scored {
		ch, ok := byID[s.ChunkID]
		if !ok {
			continue
		}
		passages = append(passages, RankedPassage{
			ChunkID:          ch.ID,
			Collection:       ch.Collection,
			SourceDocumentID: ch.SourceDocumentID,
			Text:             ch.Text,
			Score:            s.Score,
			Metadata:         ch.Metadata,
		})
	}
	return p.finish(req, debug, passages, degraded, start), nil
}

// rerankOrFallback runs the reranker over fused candidates that have
// retrievable text. Any reranker failure keeps the fused order.
func (p *Pipeline) rerankOrFallback(
	ctx context.Context,
	log *slog.Logger,
	req *Request,
	fused []FusedResult,
	byID map[string]chunk.Chunk,
	degraded *bool,
	debug *DebugInfo,
) []rerank.Scored {
	candidates := make([]rerank.Candidate, 0, len(fused))
	fallback := make([]rerank.Scored, 0, len(fused))
	for _, f := range fused {
		ch, ok := byID[f.ChunkID]
		if !ok {
			continue
		}
		candidates = append(candidates, rerank.Candidate{ChunkID: f.ChunkID, Text: ch.Text})
		fallback = append(fallback, rerank.Scored{ChunkID: f.ChunkID, Score: f.FusedScore})
	}
	if len(fallback) > req.FinalK {
		fallback = fallback[:req.FinalK]
	}
	if len(candidates) == 0 {
		return fallback
	}

	scored, err := p.reranker.Rerank(ctx, req.Query, candidates, req.FinalK)
	if err != nil {
		log.Warn("rerank_failed", slog.String("error", err.Error()))
		*degraded = true
		return fallback
	}
	debug.Reranked = true
	return scored
}

func (p *Pipeline) finish(req *Request, debug *DebugInfo, passages []RankedPassage, degraded bool, start time.Time) *Response {
	if passages == nil {
		passages = []RankedPassage{}
	}
	resp := &Response{Passages: passages, Degraded: degraded}
	if req.Debug {
		debug.Elapsed = time.Since(start)
		resp.Debug = debug
	}
	return resp
}

func (p *Pipeline) transition(log *slog.Logger, s stage) {
	log.Debug("pipeline_stage", slog.String("stage", string(s)))
}
