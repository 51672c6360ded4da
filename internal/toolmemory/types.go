package toolmemory

import "errors"

var (
	// ErrNoPersistPath is returned by Save/Load when no path was given and none is configured.
	ErrNoPersistPath = errors.New("persist path not set")

	// ErrInvalidTopK is returned when a query asks for fewer than one result.
	ErrInvalidTopK = errors.New("top_k must be at least 1")
)

// DefaultTextKeys are the metadata keys embedded when Add is called without explicit keys.
var DefaultTextKeys = []string{"name", "description"}

// ToolRecord is a tool identifier with its metadata, as passed to Add.
type ToolRecord struct {
	ID       string
	Metadata map[string]any
}

// Entry is a stored record. Its JSON form is the persisted file layout.
type Entry struct {
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

// Result is a single ranked match returned by Query.
type Result struct {
	ID       string
	Metadata map[string]any
	Score    float64 // Cosine similarity
}
