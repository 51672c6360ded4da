package toolmemory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/radutopala/toolsee/internal/embedding"
)

// Memory holds tool embeddings and full metadata in memory.
// Queries are a linear cosine-similarity scan over every stored record.
type Memory struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	provider    embedding.Provider
	dimension   int // Probed provider dimension, 0 until known
	persistPath string
	logger      *slog.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithPersistPath makes Add save the whole store to path after every insertion,
// and makes New try to load path on startup.
func WithPersistPath(path string) Option {
	return func(m *Memory) {
		m.persistPath = path
	}
}

// New creates a new tool memory backed by the given embedding provider
func New(provider embedding.Provider, logger *slog.Logger, opts ...Option) *Memory {
	m := &Memory{
		entries:  make(map[string]*Entry),
		provider: provider,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.persistPath != "" {
		if err := m.Load(""); err != nil {
			m.logger.Warn("Could not load tool memory, starting fresh", "path", m.persistPath, "error", err)
		}
	}

	return m
}

// Add embeds and stores the given tools, overwriting records with the same ID.
// All texts are embedded in one provider call; on failure nothing is stored.
// textKeys selects the metadata fields that make up the embedded text (nil means DefaultTextKeys).
func (m *Memory) Add(ctx context.Context, records []ToolRecord, textKeys []string) error {
	if len(records) == 0 {
		return nil
	}
	if textKeys == nil {
		textKeys = DefaultTextKeys
	}

	texts := make([]string, len(records))
	for i, record := range records {
		texts[i] = SearchableText(record.Metadata, textKeys)
	}

	embeddings, err := m.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed %d tools: %w", len(records), err)
	}
	if len(embeddings) != len(records) {
		return fmt.Errorf("failed to embed tools: %w: sent %d texts, got %d vectors",
			embedding.ErrEmbeddingCount, len(records), len(embeddings))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, record := range records {
		m.entries[record.ID] = &Entry{
			Metadata:  record.Metadata,
			Embedding: embeddings[i],
		}
	}

	m.logger.Info("Added tools to memory", "added", len(records), "total", len(m.entries))

	if m.persistPath != "" {
		if err := m.saveLocked(m.persistPath); err != nil {
			return err
		}
	}

	return nil
}

// Query embeds queryText and returns the topK most similar tools
func (m *Memory) Query(ctx context.Context, queryText string, topK int) ([]Result, error) {
	if topK < 1 {
		return nil, ErrInvalidTopK
	}
	if m.Len() == 0 {
		return []Result{}, nil
	}

	queryEmbedding, err := m.provider.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := m.QueryVector(queryEmbedding, topK)
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		m.logger.Debug("Tool memory query completed",
			"query", queryText,
			"results", len(results),
			"top_score", results[0].Score)
	}

	return results, nil
}

// QueryVector ranks stored tools against a precomputed query embedding.
// Ties are ordered by ID so results are deterministic.
func (m *Memory) QueryVector(queryEmbedding []float32, topK int) ([]Result, error) {
	if topK < 1 {
		return nil, ErrInvalidTopK
	}

	m.mu.RLock()
	results := make([]Result, 0, len(m.entries))
	mismatched := 0
	for id, entry := range m.entries {
		if len(entry.Embedding) != len(queryEmbedding) {
			mismatched++
		}
		results = append(results, Result{
			ID:       id,
			Metadata: entry.Metadata,
			Score:    CosineSimilarity(queryEmbedding, entry.Embedding),
		})
	}
	m.mu.RUnlock()

	if mismatched > 0 {
		m.logger.Warn("Stored embeddings differ in dimension from the query and score 0, re-ingest the tools",
			"mismatched", mismatched, "query_dimension", len(queryEmbedding))
	}

	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Dimension returns the length of the vectors the provider currently produces.
// Providers reporting a positive Dimension() are trusted, others embed a short text once.
func (m *Memory) Dimension(ctx context.Context) (int, error) {
	if d, ok := m.provider.(interface{ Dimension() int }); ok && d.Dimension() > 0 {
		return d.Dimension(), nil
	}

	m.mu.RLock()
	dimension := m.dimension
	m.mu.RUnlock()
	if dimension > 0 {
		return dimension, nil
	}

	vec, err := m.provider.EmbedQuery(ctx, "dimension")
	if err != nil {
		return 0, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}

	m.mu.Lock()
	m.dimension = len(vec)
	m.mu.Unlock()
	return len(vec), nil
}

// Current reports whether the entry stored for id has metadata equal to metadata
// and an embedding of the given dimension. Metadata is compared by its JSON form,
// so values that went through a save and load still compare equal.
func (m *Memory) Current(id string, metadata map[string]any, dimension int) bool {
	entry, ok := m.Get(id)
	if !ok || len(entry.Embedding) != dimension {
		return false
	}

	stored, err := json.Marshal(entry.Metadata)
	if err != nil {
		return false
	}
	fresh, err := json.Marshal(metadata)
	if err != nil {
		return false
	}
	return string(stored) == string(fresh)
}

// Get returns the stored entry for id
func (m *Memory) Get(id string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// IDs returns all stored identifiers in sorted order
func (m *Memory) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.entries))
}

// Len returns the number of stored tools
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Save writes the whole store as JSON. An empty path uses the configured persist path.
func (m *Memory) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked(path)
}

func (m *Memory) saveLocked(path string) error {
	if path == "" {
		path = m.persistPath
	}
	if path == "" {
		return ErrNoPersistPath
	}

	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tool memory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tool memory: %w", err)
	}

	m.logger.Debug("Saved tool memory", "path", path, "tools", len(m.entries), "size_bytes", len(data))
	return nil
}

// Load replaces the store with the JSON file at path. An empty path uses the configured persist path.
func (m *Memory) Load(path string) error {
	if path == "" {
		path = m.persistPath
	}
	if path == "" {
		return ErrNoPersistPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tool memory: %w", err)
	}

	entries := make(map[string]*Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse tool memory: %w", err)
	}
	for id, entry := range entries {
		if entry == nil {
			return fmt.Errorf("failed to parse tool memory: null record %q", id)
		}
	}

	m.mu.Lock()
	m.entries = entries
	m.mu.Unlock()

	m.logger.Info("Loaded tool memory", "path", path, "tools", len(entries))
	return nil
}

// SearchableText builds the text embedded for a tool: "Tool: " followed by the present
// values of keys joined by " \n", or the JSON form of metadata when none are present.
func SearchableText(metadata map[string]any, keys []string) string {
	var parts []string
	for _, key := range keys {
		if value, ok := metadata[key]; ok && present(value) {
			parts = append(parts, stringify(value))
		}
	}
	if len(parts) > 0 {
		return "Tool: " + strings.Join(parts, " \n")
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Sprint(metadata)
	}
	return string(data)
}

// present reports whether a metadata value carries content: not nil, zero, false or empty.
func present(value any) bool {
	if value == nil {
		return false
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil()
	case reflect.Struct:
		return true
	}
	return !v.IsZero()
}

func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Struct:
		if data, err := json.Marshal(value); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(value)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// It is 0 when either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
