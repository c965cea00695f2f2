package search

import (
	"fmt"
	"sort"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

// Fusion strategies.
const (
	// StrategyMinMax min-max normalizes each signal independently and
	// combines with a weighted sum.
	StrategyMinMax = "minmax"

	// StrategyRRF uses Reciprocal Rank Fusion, ignoring raw score
	// magnitudes entirely.
	StrategyRRF = "rrf"
)

// DefaultRRFConstant is the standard RRF smoothing parameter,
// empirically validated across domains.
const DefaultRRFConstant = 60

// FusionConfig selects and parameterizes the fusion strategy.
type FusionConfig struct {
	Strategy      string  `yaml:"strategy" json:"strategy"`
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	RRFK          int     `yaml:"rrf_k" json:"rrf_k"`
}

// DefaultFusionConfig treats both signals equally under min-max
// normalization.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Strategy:      StrategyMinMax,
		LexicalWeight: 0.5,
		VectorWeight:  0.5,
		RRFK:          DefaultRRFConstant,
	}
}

// Validate rejects unusable fusion parameters.
func (c FusionConfig) Validate() error {
	switch c.Strategy {
	case StrategyMinMax, StrategyRRF:
	default:
		return cserr.Configuration(fmt.Sprintf("unknown fusion strategy %q", c.Strategy))
	}
	if c.LexicalWeight < 0 || c.VectorWeight < 0 {
		return cserr.Configuration("fusion weights must be non-negative")
	}
	if c.LexicalWeight+c.VectorWeight <= 0 {
		return cserr.Configuration("fusion weights must not both be zero")
	}
	if c.Strategy == StrategyRRF && c.RRFK <= 0 {
		return cserr.Configuration("rrf_k must be positive")
	}
	return nil
}

// Fuser merges lexical and vector candidate sets into one ranking.
type Fuser struct {
	config FusionConfig
}

// NewFuser creates a Fuser after validating cfg.
func NewFuser(cfg FusionConfig) (*Fuser, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Fuser{config: cfg}, nil
}

// Fuse combines both signals and returns at most topK results sorted
// by fused score descending. A chunk in both lists receives the sum of
// its two contributions so agreement is rewarded; a chunk in one list
// still participates with that signal's contribution alone. Raw scores
// from different signals are never compared directly.
func (f *Fuser) Fuse(lexical, vec []Candidate, topK int) []FusedResult {
	if len(lexical) == 0 && len(vec) == 0 {
		return []FusedResult{}
	}

	var results []FusedResult
	switch f.config.Strategy {
	case StrategyRRF:
		results = f.fuseRRF(lexical, vec)
	default:
		results = f.fuseMinMax(lexical, vec)
	}

	sort.Slice(results, func(i, j int) bool {
		return compareFused(results[i], results[j])
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

// fuseMinMax normalizes each signal to [0,1] within its own candidate
// set, then sums weighted contributions.
func (f *Fuser) fuseMinMax(lexical, vec []Candidate) []FusedResult {
	lexNorm := minMaxNormalize(lexical)
	vecNorm := minMaxNormalize(vec)

	merged := make(map[string]*FusedResult, len(lexical)+len(vec))
	for i, c := range lexical {
		r := getOrCreate(merged, c.ChunkID)
		r.LexScore = c.Score
		r.LexRank = i + 1
		r.FusedScore += f.config.LexicalWeight * lexNorm[i]
	}
	for i, c := range vec {
		r := getOrCreate(merged, c.ChunkID)
		r.VecScore = c.Score
		r.VecRank = i + 1
		r.FusedScore += f.config.VectorWeight * vecNorm[i]
		if r.LexRank > 0 {
			r.InBothLists = true
		}
	}
	return flatten(merged)
}

// fuseRRF scores each chunk as Σ weight_i / (k + rank_i). Chunks
// missing from one list contribute that signal at rank
// max(len(lexical), len(vec)) + 1, then scores are normalized to [0,1].
func (f *Fuser) fuseRRF(lexical, vec []Candidate) []FusedResult {
	k := float64(f.config.RRFK)

	merged := make(map[string]*FusedResult, len(lexical)+len(vec))
	for i, c := range lexical {
		r := getOrCreate(merged, c.ChunkID)
		r.LexScore = c.Score
		r.LexRank = i + 1
		r.FusedScore += f.config.LexicalWeight / (k + float64(i+1))
	}
	for i, c := range vec {
		r := getOrCreate(merged, c.ChunkID)
		r.VecScore = c.Score
		r.VecRank = i + 1
		r.FusedScore += f.config.VectorWeight / (k + float64(i+1))
		if r.LexRank > 0 {
			r.InBothLists = true
		}
	}

	missingRank := len(lexical)
	if len(vec) > missingRank {
		missingRank = len(vec)
	}
	missing := k + float64(missingRank+1)
	for _, r := range merged {
		if r.LexRank == 0 {
			r.FusedScore += f.config.LexicalWeight / missing
		}
		if r.VecRank == 0 {
			r.FusedScore += f.config.VectorWeight / missing
		}
	}

	results := flatten(merged)
	normalizeFused(results)
	return results
}

// compareFused orders by fused score desc, then chunk ID asc so exact
// ties are deterministic regardless of which signal produced them.
func compareFused(a, b FusedResult) bool {
	if a.FusedScore != b.FusedScore {
		return a.FusedScore > b.FusedScore
	}
	return a.ChunkID < b.ChunkID
}

// minMaxNormalize maps scores to [0,1] within one signal. With one
// candidate or all scores equal every candidate gets 1.
func minMaxNormalize(candidates []Candidate) []float64 {
	if len(candidates) == 0 {
		return nil
	}
	lo, hi := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}

	norm := make([]float64, len(candidates))
	if hi == lo {
		for i := range norm {
			norm[i] = 1
		}
		return norm
	}
	for i, c := range candidates {
		norm[i] = (c.Score - lo) / (hi - lo)
	}
	return norm
}

func normalizeFused(results []FusedResult) {
	if len(results) == 0 {
		return
	}
	lo, hi := results[0].FusedScore, results[0].FusedScore
	for _, r := range results[1:] {
		if r.FusedScore < lo {
			lo = r.FusedScore
		}
		if r.FusedScore > hi {
			hi = r.FusedScore
		}
	}
	if hi == lo {
		for i := range results {
			results[i].FusedScore = 1
		}
		return
	}
	for i := range results {
		results[i].FusedScore = (results[i].FusedScore - lo) / (hi - lo)
	}
}

func getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

func flatten(m map[string]*FusedResult) []FusedResult {
	out := make([]FusedResult, 0, len(m))
	for _, r := range m {
		out = append(out, *r)
	}
	return out
}
