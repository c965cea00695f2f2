// Package rerank reorders fused candidates through an external
// cross-encoder service. The service sees the query next to each
// passage text, which beats bi-encoder similarity on precision.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

// DefaultTimeout bounds one rerank request.
const DefaultTimeout = 15 * time.Second

// Candidate pairs a chunk ID with the text shown to the scorer.
type Candidate struct {
	ChunkID string
	Text    string
}

// Scored is one reranked candidate.
type Scored struct {
	ChunkID string
	Score   float64
}

// Reranker reorders candidates by relevance to query, best first.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topN int) ([]Scored, error)
}

// NoOp keeps the incoming order and assigns descending placeholder
// scores.
type NoOp struct{}

var _ Reranker = NoOp{}

func (NoOp) Rerank(_ context.Context, _ string, candidates []Candidate, topN int) ([]Scored, error) {
	if topN > len(candidates) || topN <= 0 {
		topN = len(candidates)
	}
	out := make([]Scored, topN)
	for i := 0; i < topN; i++ {
		out[i] = Scored{ChunkID: candidates[i].ChunkID, Score: float64(len(candidates) - i)}
	}
	return out, nil
}

// HTTPConfig configures the rerank service client.
type HTTPConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	APIKey  string        `yaml:"api_key" json:"-"`
	Model   string        `yaml:"model" json:"model"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// HTTPReranker calls a /v1/rerank endpoint in the Cohere-compatible
// shape.
type HTTPReranker struct {
	client *http.Client
	config HTTPConfig
	retry  cserr.RetryConfig
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a client for the rerank service at
// cfg.BaseURL.
func NewHTTPReranker(cfg HTTPConfig) (*HTTPReranker, error) {
	if cfg.BaseURL == "" {
		return nil, cserr.Configuration("rerank base_url is required")
	}
	if cfg.Model == "" {
		return nil, cserr.Configuration("rerank model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPReranker{client: &http.Client{}, config: cfg, retry: cserr.DefaultRetryConfig()}, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores candidates against query and returns the topN best.
// Failures surface as dependency errors so the caller can fall back to
// the incoming order.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topN int) ([]Scored, error) {
	if len(candidates) == 0 {
		return []Scored{}, nil
	}
	if topN > len(candidates) || topN <= 0 {
		topN = len(candidates)
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}
	body, err := json.Marshal(rerankRequest{
		Model:     r.config.Model,
		Query:     query,
		Documents: docs,
		TopN:      topN,
	})
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeInternal, fmt.Errorf("encode rerank request: %w", err))
	}

	// Transient service failures retry with backoff before the caller
	// falls back.
	var out []Scored
	err = cserr.Retry(ctx, r.retry, "rerank", func() error {
		var attemptErr error
		out, attemptErr = r.rerankOnce(ctx, body, candidates, topN)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *HTTPReranker) rerankOnce(ctx context.Context, body []byte, candidates []Candidate, topN int) ([]Scored, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.config.BaseURL+"/v1/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeInternal, fmt.Errorf("build rerank request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, cserr.DependencyTimeout("rerank", err)
		}
		return nil, cserr.DependencyUnavailable("rerank", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, cserr.DependencyUnavailable("rerank",
			fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cserr.DependencyUnavailable("rerank", fmt.Errorf("decode rerank response: %w", err))
	}
	if len(parsed.Results) == 0 {
		return nil, cserr.DependencyUnavailable("rerank", fmt.Errorf("rerank service returned no results"))
	}

	out := make([]Scored, 0, topN)
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, cserr.DependencyUnavailable("rerank",
				fmt.Errorf("rerank response index %d out of range", res.Index))
		}
		out = append(out, Scored{ChunkID: candidates[res.Index].ChunkID, Score: res.RelevanceScore})
		if len(out) == topN {
			break
		}
	}
	return out, nil
}
