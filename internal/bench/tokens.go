package bench

import (
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens the way an OpenAI chat model would see them.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter uses o200k_base and falls back to cl100k_base.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, fmt.Errorf("failed to get fallback tokenizer: %w", err)
		}
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("failed to encode text: %w", err)
	}
	return len(ids), nil
}

// CountJSON returns the number of tokens in the JSON rendering of v.
func (c *TokenCounter) CountJSON(v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode value: %w", err)
	}
	return c.Count(string(data))
}
