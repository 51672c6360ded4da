package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel is used when neither the config nor EMBED_MODEL names a model.
const DefaultOpenAIModel = "text-embedding-3-small"

// ErrEmbeddingCount is returned when a provider answers with a different number
// of vectors than texts it was given.
var ErrEmbeddingCount = errors.New("embedding count mismatch")

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
// Empty fields fall back to EMBED_API_KEY, EMBED_MODEL and EMBED_API_BASE.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int // 0 keeps the model's native size
}

// OpenAI embeds texts through the /embeddings endpoint of an OpenAI-compatible API.
type OpenAI struct {
	client     openai.Client
	model      string
	dimensions int
	logger     *slog.Logger
}

// NewOpenAI creates a new OpenAI embedding provider
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("EMBED_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("EMBED_MODEL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("EMBED_API_BASE")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing embedding api key: set embedding.apiKey or EMBED_API_KEY")
	}

	// Failures surface to the caller unchanged; this layer does not retry.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	logger.Info("Created OpenAI embedder", "model", cfg.Model, "base_url", cfg.BaseURL, "dimensions", cfg.Dimensions)

	return &OpenAI{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		logger:     logger,
	}, nil
}

// EmbedDocuments embeds all texts with a single API request
func (e *OpenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrEmbeddingCount, len(texts), len(resp.Data))
	}

	// The API reports each vector's position; do not rely on response order
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) || vectors[idx] != nil {
			return nil, fmt.Errorf("%w: unexpected index %d", ErrEmbeddingCount, item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		vectors[idx] = vec
	}

	e.logger.Debug("Generated OpenAI embeddings",
		"count", len(vectors),
		"model", e.model,
		"prompt_tokens", resp.Usage.PromptTokens)

	return vectors, nil
}

// EmbedQuery embeds a single query text
func (e *OpenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
