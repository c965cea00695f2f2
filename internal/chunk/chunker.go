// Package chunk splits extracted document text into overlapping
// fixed-size spans used as the unit of indexing and retrieval.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	cserr "github.com/citeseek/citeseek/internal/errors"
)

// Defaults match the ingestion pipeline's tuning for ~512-token
// embedding models.
const (
	DefaultChunkSize = 800
	DefaultOverlap   = 100
)

// Chunk is an immutable unit of indexed text. It is created at ingestion
// time and never mutated; deletion happens only through explicit
// document or collection deletion.
type Chunk struct {
	ID               string            `json:"id"`
	Collection       string            `json:"collection"`
	SourceDocumentID string            `json:"source_document_id"`
	Text             string            `json:"text"`
	StartOffset      int               `json:"start_offset"`
	EndOffset        int               `json:"end_offset"`
	Sequence         int               `json:"sequence"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Options controls chunking. Size and Overlap are character (rune) counts.
type Options struct {
	Size     int
	Overlap  int
	Metadata map[string]string
}

// DefaultOptions returns the standard chunking parameters.
func DefaultOptions() Options {
	return Options{Size: DefaultChunkSize, Overlap: DefaultOverlap}
}

// Validate checks the chunking parameters.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return cserr.Configuration(fmt.Sprintf("chunk size must be positive, got %d", o.Size))
	}
	if o.Overlap < 0 {
		return cserr.Configuration(fmt.Sprintf("chunk overlap must not be negative, got %d", o.Overlap))
	}
	if o.Overlap >= o.Size {
		return cserr.Configuration(fmt.Sprintf("chunk overlap %d must be smaller than chunk size %d", o.Overlap, o.Size))
	}
	return nil
}

// ChunkID derives the stable chunk identifier from the source document
// and sequence index. Re-chunking the same document with the same
// parameters therefore reproduces identical IDs.
func ChunkID(sourceDocumentID string, sequence int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sourceDocumentID, sequence)))
	return hex.EncodeToString(sum[:])[:16]
}

// Split walks text in strides of Size-Overlap and produces the chunk
// sequence for one document. Empty input yields an empty slice, not an
// error. Split has no side effects.
func Split(text, collection, sourceDocumentID string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{}, nil
	}

	stride := opts.Size - opts.Overlap
	chunks := make([]Chunk, 0, (len(runes)+stride-1)/stride)

	seq := 0
	for start := 0; start < len(runes); start += stride {
		end := start + opts.Size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			ID:               ChunkID(sourceDocumentID, seq),
			Collection:       collection,
			SourceDocumentID: sourceDocumentID,
			Text:             string(runes[start:end]),
			StartOffset:      start,
			EndOffset:        end,
			Sequence:         seq,
			Metadata:         copyMetadata(opts.Metadata),
		})
		seq++

		// The final chunk may be shorter than Size but is never empty;
		// once it reaches the end of the text we are done.
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
