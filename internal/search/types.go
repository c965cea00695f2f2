// Package search combines lexical and vector retrieval into one
// ranked answer: fusion of the two signals, cross-encoder reranking,
// and the per-query pipeline that drives them.
package search

import (
	"context"
	"time"

	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/vector"
)

// Candidate is one raw result from a single retrieval signal.
type Candidate struct {
	ChunkID string
	Score   float64
}

// FusedResult is a candidate after fusion. Raw scores and ranks from
// both signals are preserved for diagnostics.
type FusedResult struct {
	ChunkID     string  `json:"chunk_id"`
	FusedScore  float64 `json:"fused_score"`
	LexScore    float64 `json:"lexical_score"`
	LexRank     int     `json:"lexical_rank"` // 1-indexed, 0 if absent
	VecScore    float64 `json:"vector_score"`
	VecRank     int     `json:"vector_rank"` // 1-indexed, 0 if absent
	InBothLists bool    `json:"in_both"`
}

// RankedPassage is one final answer-ready passage.
type RankedPassage struct {
	ChunkID          string            `json:"chunk_id"`
	Collection       string            `json:"collection"`
	SourceDocumentID string            `json:"source_document_id"`
	Text             string            `json:"text"`
	Score            float64           `json:"score"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Request is one retrieval query.
type Request struct {
	Query      string `json:"query"`
	Collection string `json:"collection"`
	TopK       int    `json:"top_k"`
	FinalK     int    `json:"final_k"`
	UseLexical bool   `json:"use_lexical"`
	Debug      bool   `json:"debug"`
}

// Response is the pipeline's answer. Degraded is set whenever any
// signal or service failed and the answer is best-effort.
type Response struct {
	Passages []RankedPassage `json:"passages"`
	Degraded bool            `json:"degraded"`
	Debug    *DebugInfo      `json:"debug,omitempty"`
}

// DebugInfo carries per-stage diagnostics, returned only on request.
type DebugInfo struct {
	LexicalHits  int           `json:"lexical_hits"`
	VectorHits   int           `json:"vector_hits"`
	Fused        []FusedResult `json:"fused"`
	Reranked     bool          `json:"reranked"`
	EmbeddingOK  bool          `json:"embedding_ok"`
	LexicalError string        `json:"lexical_error,omitempty"`
	VectorError  string        `json:"vector_error,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// LexicalSearcher is the lexical side of retrieval.
type LexicalSearcher interface {
	Search(ctx context.Context, collection, query string, topK int) ([]index.Result, error)
	Has(collection string) bool
}

// Recorder receives per-query telemetry.
type Recorder interface {
	RecordQuery(elapsed time.Duration, degraded, zeroResults bool)
}

func lexicalCandidates(results []index.Result) []Candidate {
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{ChunkID: r.ChunkID, Score: r.Score}
	}
	return out
}

func vectorCandidates(hits []vector.Hit) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ChunkID: h.ChunkID, Score: h.Score}
	}
	return out
}
