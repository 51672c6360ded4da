package embedding

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"unicode"
)

// DefaultLocalDimension is the vector size used when NewLocal is given a non-positive dimension.
const DefaultLocalDimension = 512

// Local generates hashed term-frequency embeddings entirely in memory.
// Each token is hashed into one of a fixed number of buckets, so vectors produced
// by different calls (or different processes) share the same space.
type Local struct {
	dimension int
	stopWords map[string]bool
	logger    *slog.Logger
}

// NewLocal creates a new offline embedding provider
func NewLocal(dimension int, logger *slog.Logger) *Local {
	if dimension <= 0 {
		dimension = DefaultLocalDimension
	}
	return &Local{
		dimension: dimension,
		stopWords: buildStopWords(),
		logger:    logger,
	}
}

// EmbedDocuments embeds every text independently
func (e *Local) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embed(text)
	}

	e.logger.Debug("Generated local embeddings", "count", len(texts), "dimension", e.dimension)
	return vectors, nil
}

// EmbedQuery embeds a single query text
func (e *Local) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// Dimension returns the dimensionality of generated embeddings
func (e *Local) Dimension() int {
	return e.dimension
}

func (e *Local) embed(text string) []float32 {
	words := tokenize(text, e.stopWords)
	embedding := make([]float32, e.dimension)
	if len(words) == 0 {
		return embedding
	}

	// TF = count / total_terms, accumulated per bucket
	weight := 1 / float32(len(words))
	for _, word := range words {
		embedding[e.bucket(word)] += weight
	}

	return normalize(embedding)
}

func (e *Local) bucket(word string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int(h.Sum32() % uint32(e.dimension))
}

// tokenize converts text to lowercase tokens without stop words
func tokenize(text string, stopWords map[string]bool) []string {
	text = strings.ToLower(text)

	// Split on whitespace, punctuation and underscores
	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '_'
	})

	filtered := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) > 1 && !stopWords[word] {
			filtered = append(filtered, word)
		}
	}

	return filtered
}

func buildStopWords() map[string]bool {
	return map[string]bool{
		"a": true, "an": true, "the": true, "and": true, "or": true,
		"but": true, "in": true, "on": true, "at": true, "to": true,
		"for": true, "of": true, "with": true, "by": true, "from": true,
		"as": true, "is": true, "was": true, "are": true, "were": true,
		"be": true, "been": true, "being": true, "have": true, "has": true,
		"had": true, "do": true, "does": true, "did": true, "will": true,
		"would": true, "could": true, "should": true, "may": true, "might": true,
		"can": true, "this": true, "that": true, "these": true, "those": true,
		"tool": true,
	}
}

// normalize performs L2 normalization on the embedding
func normalize(embedding []float32) []float32 {
	var norm float64
	for _, val := range embedding {
		norm += float64(val) * float64(val)
	}
	if norm == 0 {
		return embedding
	}

	norm = math.Sqrt(norm)
	normalized := make([]float32, len(embedding))
	for i, val := range embedding {
		normalized[i] = float32(float64(val) / norm)
	}
	return normalized
}
