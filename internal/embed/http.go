package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

// HTTPConfig configures the embedding service client.
type HTTPConfig struct {
	BaseURL    string        `yaml:"base_url" json:"base_url"`
	APIKey     string        `yaml:"api_key" json:"-"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// RequestsPerSecond throttles outbound calls. Zero disables the
	// limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// HTTPEmbedder calls an OpenAI-compatible /v1/embeddings endpoint.
type HTTPEmbedder struct {
	client  *http.Client
	config  HTTPConfig
	limiter *rate.Limiter
	retry   cserr.RetryConfig
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates a client for the embedding service at
// cfg.BaseURL.
func NewHTTPEmbedder(cfg HTTPConfig) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, cserr.Configuration("embedding base_url is required")
	}
	if cfg.Model == "" {
		return nil, cserr.Configuration("embedding model is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &HTTPEmbedder{
		// Per-request context timeouts, not a static client timeout.
		client:  &http.Client{},
		config:  cfg,
		limiter: limiter,
		retry:   cserr.DefaultRetryConfig(),
	}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into requests of
// at most BatchSize inputs and preserving input order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		var vecs [][]float32
		// Transient service failures retry with backoff; the limiter
		// sits inside the attempt so retries are throttled too.
		err := cserr.Retry(ctx, e.retry, "embed_batch", func() error {
			var embedErr error
			vecs, embedErr = e.embedOnce(ctx, batch)
			return embedErr
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embeddingRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeInternal, fmt.Errorf("encode embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.config.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, cserr.Wrap(cserr.ErrCodeInternal, fmt.Errorf("build embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, cserr.DependencyTimeout("embedding", err)
		}
		return nil, cserr.DependencyUnavailable("embedding", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, cserr.DependencyUnavailable("embedding",
			fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cserr.DependencyUnavailable("embedding", fmt.Errorf("decode embedding response: %w", err))
	}
	if len(parsed.Data) != len(texts) {
		return nil, cserr.DependencyUnavailable("embedding",
			fmt.Errorf("embedding service returned %d vectors for %d inputs", len(parsed.Data), len(texts)))
	}

	// The API may return entries out of order; index restores it.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, cserr.DependencyUnavailable("embedding",
				fmt.Errorf("embedding response index %d out of range", d.Index))
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, cserr.DependencyUnavailable("embedding",
				fmt.Errorf("embedding response missing vector for input %d", i))
		}
	}
	return vecs, nil
}

// Dimensions returns the configured vector dimensionality.
func (e *HTTPEmbedder) Dimensions() int { return e.config.Dimensions }

// ModelName returns the configured model identifier.
func (e *HTTPEmbedder) ModelName() string { return e.config.Model }

// Healthy embeds a short probe text to verify the service responds.
func (e *HTTPEmbedder) Healthy(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}
