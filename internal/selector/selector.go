// Package selector turns a free-text query into the set of tools handed to an agent.
package selector

import (
	"context"
	"maps"

	"github.com/radutopala/toolsee/internal/toolmemory"
)

// Reserved metadata keys added to every selected tool.
const (
	KeyToolID = "_tool_id"
	KeyScore  = "_score"
)

// DefaultTopK is used when Options.TopK is not positive.
const DefaultTopK = 5

// Querier is the part of the tool memory used for selection.
type Querier interface {
	Query(ctx context.Context, queryText string, topK int) ([]toolmemory.Result, error)
}

// Options controls a selection.
type Options struct {
	TopK int
	// ScoreThreshold drops results scoring below it. Nil disables filtering;
	// a threshold of 0 still filters negative scores.
	ScoreThreshold *float64
}

// Threshold returns a pointer suitable for Options.ScoreThreshold.
func Threshold(v float64) *float64 {
	return &v
}

// Selection is a selected tool. Metadata is a copy of the stored metadata
// annotated with KeyToolID and KeyScore.
type Selection struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Name returns the tool's metadata name, or its ID when the name is missing.
func (s Selection) Name() string {
	if name, ok := s.Metadata["name"].(string); ok && name != "" {
		return name
	}
	return s.ID
}

// Description returns the tool's metadata description.
func (s Selection) Description() string {
	desc, _ := s.Metadata["description"].(string)
	return desc
}

// SelectToolsForQuery returns the top tools for query, optionally gated by a minimum score.
func SelectToolsForQuery(ctx context.Context, memory Querier, query string, opts Options) ([]Selection, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	results, err := memory.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	selected := make([]Selection, 0, len(results))
	for _, result := range results {
		if opts.ScoreThreshold != nil && result.Score < *opts.ScoreThreshold {
			continue
		}

		metadata := make(map[string]any, len(result.Metadata)+2)
		maps.Copy(metadata, result.Metadata)
		metadata[KeyToolID] = result.ID
		metadata[KeyScore] = result.Score

		selected = append(selected, Selection{
			ID:       result.ID,
			Score:    result.Score,
			Metadata: metadata,
		})
	}

	return selected, nil
}
