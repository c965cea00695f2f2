// Package index implements the per-collection lexical index: a BM25
// inverted index with durable persistence and a collection registry.
package index

import (
	"math"
	"sort"
	"time"
)

// BM25 parameterization. K1 controls per-term saturation, B controls
// document-length normalization.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Params configures BM25 scoring.
type Params struct {
	K1 float64 `yaml:"k1" json:"k1"`
	B  float64 `yaml:"b" json:"b"`
}

// DefaultParams returns the standard BM25 constants.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// Posting records one chunk containing a term and the term's frequency
// within that chunk.
type Posting struct {
	ChunkID string `json:"c"`
	TF      int    `json:"f"`
}

// Document is the input unit for index construction.
type Document struct {
	ID   string
	Text string
}

// Result is one lexical search candidate with its raw BM25 score.
type Result struct {
	ChunkID string
	Score   float64
}

// CollectionIndex is the lexical index for one collection. It is
// immutable after construction: searches read it without locking and
// the Manager swaps whole instances atomically.
type CollectionIndex struct {
	Collection string               `json:"collection"`
	Postings   map[string][]Posting `json:"postings"`
	DocLengths map[string]int       `json:"doc_lengths"`
	DocCount   int                  `json:"doc_count"`
	AvgDocLen  float64              `json:"avg_doc_len"`
	Params     Params               `json:"params"`
	BuiltAt    time.Time            `json:"built_at"`
}

// buildIndex constructs a CollectionIndex from documents. The caller
// guarantees docs is non-empty.
func buildIndex(collection string, docs []Document, tok Tokenizer, params Params) *CollectionIndex {
	idx := &CollectionIndex{
		Collection: collection,
		Postings:   make(map[string][]Posting),
		DocLengths: make(map[string]int, len(docs)),
		Params:     params,
		BuiltAt:    time.Now().UTC(),
	}

	totalLen := 0
	for _, doc := range docs {
		tokens := tok.Tokenize(doc.Text)
		idx.DocLengths[doc.ID] = len(tokens)
		totalLen += len(tokens)

		freq := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freq[t]++
		}
		for term, tf := range freq {
			idx.Postings[term] = append(idx.Postings[term], Posting{ChunkID: doc.ID, TF: tf})
		}
	}

	// Deterministic posting order keeps the persisted artifact stable
	// across rebuilds of the same chunk set.
	for term := range idx.Postings {
		plist := idx.Postings[term]
		sort.Slice(plist, func(i, j int) bool { return plist[i].ChunkID < plist[j].ChunkID })
	}

	idx.DocCount = len(docs)
	if idx.DocCount > 0 {
		idx.AvgDocLen = float64(totalLen) / float64(idx.DocCount)
	}
	return idx
}

// Search scores every chunk containing at least one query term and
// returns the topK highest-scoring candidates. Ties break by chunk ID
// ascending for determinism.
func (idx *CollectionIndex) Search(queryTokens []string, topK int) []Result {
	if len(queryTokens) == 0 || topK <= 0 || idx.DocCount == 0 {
		return []Result{}
	}

	// Collapse duplicate query terms; BM25 already saturates repeats
	// through term frequency on the document side.
	seen := make(map[string]struct{}, len(queryTokens))
	scores := make(map[string]float64)

	for _, term := range queryTokens {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		plist, ok := idx.Postings[term]
		if !ok {
			continue
		}

		idf := idx.idf(len(plist))
		for _, p := range plist {
			scores[p.ChunkID] += idf * idx.termScore(p)
		}
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ChunkID: id, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// idf computes the inverse document frequency for a term present in df
// documents, using the standard BM25+1 formulation which never goes
// negative.
func (idx *CollectionIndex) idf(df int) float64 {
	n := float64(idx.DocCount)
	return math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
}

// termScore computes the saturated, length-normalized term contribution.
func (idx *CollectionIndex) termScore(p Posting) float64 {
	k1 := idx.Params.K1
	b := idx.Params.B

	tf := float64(p.TF)
	docLen := float64(idx.DocLengths[p.ChunkID])
	norm := 1 - b + b*(docLen/idx.AvgDocLen)

	return tf * (k1 + 1) / (tf + k1*norm)
}

// TermCount returns the number of distinct terms in the index.
func (idx *CollectionIndex) TermCount() int {
	return len(idx.Postings)
}
