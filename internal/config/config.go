// Package config loads the engine configuration from YAML with
// CITESEEK_* environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/citeseek/citeseek/internal/chunk"
	"github.com/citeseek/citeseek/internal/embed"
	cserr "github.com/citeseek/citeseek/internal/errors"
	"github.com/citeseek/citeseek/internal/index"
	"github.com/citeseek/citeseek/internal/logging"
	"github.com/citeseek/citeseek/internal/rerank"
	"github.com/citeseek/citeseek/internal/search"
)

// Config is the complete engine configuration.
type Config struct {
	Server    ServerConfig        `yaml:"server" json:"server"`
	Data      DataConfig          `yaml:"data" json:"data"`
	Chunking  ChunkingConfig      `yaml:"chunking" json:"chunking"`
	Index     IndexConfig         `yaml:"index" json:"index"`
	Vector    VectorConfig        `yaml:"vector" json:"vector"`
	Embedding embed.HTTPConfig    `yaml:"embedding" json:"embedding"`
	Rerank    RerankConfig        `yaml:"rerank" json:"rerank"`
	Fusion    search.FusionConfig `yaml:"fusion" json:"fusion"`
	Logging   logging.Config      `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DataConfig locates durable state on disk.
type DataConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// ChunkingConfig configures the document chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// IndexConfig configures the lexical index manager.
type IndexConfig struct {
	Params    index.Params `yaml:"params" json:"params"`
	EagerLoad bool         `yaml:"eager_load" json:"eager_load"`
}

// VectorConfig locates the vector engine.
type VectorConfig struct {
	URL        string `yaml:"url" json:"url"`
	VectorSize int    `yaml:"vector_size" json:"vector_size"`
}

// RerankConfig configures the optional reranker service.
type RerankConfig struct {
	Enabled           bool `yaml:"enabled" json:"enabled"`
	rerank.HTTPConfig `yaml:",inline"`
}

// NewConfig returns the defaults used when no file or environment
// override says otherwise.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Data: DataConfig{Dir: "data"},
		Chunking: ChunkingConfig{
			Size:    chunk.DefaultChunkSize,
			Overlap: chunk.DefaultOverlap,
		},
		Index: IndexConfig{Params: index.DefaultParams()},
		Vector: VectorConfig{
			URL:        "http://localhost:6333",
			VectorSize: 768,
		},
		Embedding: embed.HTTPConfig{
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: embed.DefaultBatchSize,
			Timeout:   embed.DefaultTimeout,
		},
		Rerank: RerankConfig{
			HTTPConfig: rerank.HTTPConfig{Timeout: rerank.DefaultTimeout},
		},
		Fusion: search.DefaultFusionConfig(),
		Logging: logging.Config{
			Level:         "info",
			WriteToStderr: true,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (optional when path is empty), then environment overrides. A .env
// file in the working directory is read first so local development can
// keep secrets out of the shell.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, cserr.New(cserr.ErrCodeConfigNotFound,
				fmt.Sprintf("read config file %s", path), err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, cserr.New(cserr.ErrCodeConfigInvalid,
				fmt.Sprintf("parse config file %s", path), err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CITESEEK_* environment variables, the
// highest-priority configuration layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CITESEEK_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CITESEEK_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("CITESEEK_QDRANT_URL"); v != "" {
		c.Vector.URL = v
	}
	if v := os.Getenv("CITESEEK_EMBEDDING_URL"); v != "" {
		c.Embedding.BaseURL = v
	}
	if v := os.Getenv("CITESEEK_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("CITESEEK_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("CITESEEK_RERANK_URL"); v != "" {
		c.Rerank.BaseURL = v
		c.Rerank.Enabled = true
	}
	if v := os.Getenv("CITESEEK_RERANK_MODEL"); v != "" {
		c.Rerank.Model = v
	}
	if v := os.Getenv("CITESEEK_RERANK_API_KEY"); v != "" {
		c.Rerank.APIKey = v
	}
	if v := os.Getenv("CITESEEK_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Fusion.LexicalWeight = f
		}
	}
	if v := os.Getenv("CITESEEK_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Fusion.VectorWeight = f
		}
	}
	if v := os.Getenv("CITESEEK_FUSION_STRATEGY"); v != "" {
		c.Fusion.Strategy = v
	}
	if v := os.Getenv("CITESEEK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CITESEEK_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.Size = n
		}
	}
	if v := os.Getenv("CITESEEK_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.Overlap = n
		}
	}
}

// Validate rejects configurations that cannot produce a working
// engine.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return cserr.Configuration("server addr must not be empty")
	}
	if c.Data.Dir == "" {
		return cserr.Configuration("data dir must not be empty")
	}
	if c.Chunking.Size <= 0 {
		return cserr.Configuration("chunk size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return cserr.Configuration("chunk overlap must be non-negative and smaller than chunk size")
	}
	if c.Index.Params.K1 <= 0 || c.Index.Params.B < 0 || c.Index.Params.B > 1 {
		return cserr.Configuration("bm25 parameters out of range: k1 must be positive, b in [0,1]")
	}
	if c.Vector.URL == "" {
		return cserr.Configuration("vector url must not be empty")
	}
	if c.Vector.VectorSize <= 0 {
		return cserr.Configuration("vector size must be positive")
	}
	if c.Rerank.Enabled {
		if c.Rerank.BaseURL == "" {
			return cserr.Configuration("rerank enabled but base_url is empty")
		}
		if c.Rerank.Model == "" {
			return cserr.Configuration("rerank enabled but model is empty")
		}
	}
	return c.Fusion.Validate()
}
