package embedding

import "context"

// Provider generates embeddings for tool texts and queries.
// EmbedDocuments must return exactly one vector per input text, in input order.
type Provider interface {
	// EmbedDocuments embeds a batch of texts in a single call
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query text
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
