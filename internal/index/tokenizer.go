package index

import (
	"strings"
	"unicode"
)

// Tokenizer converts text into index terms. Build and search must use
// the same tokenizer so query terms line up with indexed terms.
type Tokenizer interface {
	Tokenize(text string) []string
}

// SimpleTokenizer lowercases, strips punctuation (apostrophes survive so
// contractions stay intact), and splits on whitespace. No stemming.
type SimpleTokenizer struct {
	stopWords map[string]struct{}
}

// NewSimpleTokenizer creates the default tokenizer. stopWords may be nil.
func NewSimpleTokenizer(stopWords []string) *SimpleTokenizer {
	return &SimpleTokenizer{stopWords: BuildStopWordMap(stopWords)}
}

// Tokenize implements Tokenizer.
func (t *SimpleTokenizer) Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" {
			continue
		}
		if _, stop := t.stopWords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// BuildStopWordMap converts a stop-word slice to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

var _ Tokenizer = (*SimpleTokenizer)(nil)
