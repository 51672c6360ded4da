package toolmemory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/radutopala/toolsee/internal/embedding"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// stubProvider returns fixed vectors keyed by the exact embedded text.
type stubProvider struct {
	vectors      map[string][]float32
	documentErr  error
	wrongCount   bool
	queries      []string
	batches      [][]string
	defaultQuery []float32
}

func (p *stubProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.batches = append(p.batches, texts)
	if p.documentErr != nil {
		return nil, p.documentErr
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, p.vectors[text])
	}
	if p.wrongCount {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (p *stubProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.queries = append(p.queries, text)
	if vec, ok := p.vectors[text]; ok {
		return vec, nil
	}
	return p.defaultQuery, nil
}

type ToolMemoryTestSuite struct {
	suite.Suite
	logger   *slog.Logger
	provider *stubProvider
	memory   *Memory
	ctx      context.Context
}

func TestToolMemoryTestSuite(t *testing.T) {
	suite.Run(t, new(ToolMemoryTestSuite))
}

func (s *ToolMemoryTestSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.provider = &stubProvider{
		vectors: map[string][]float32{
			"Tool: Weather \ngets weather": {1, 0},
			"Tool: Search \nweb search":    {0, 1},
			"weather query":                {1, 0},
		},
	}
	s.memory = New(s.provider, s.logger)
	s.ctx = context.Background()
}

func (s *ToolMemoryTestSuite) addWeatherAndSearch() {
	err := s.memory.Add(s.ctx, []ToolRecord{
		{ID: "a", Metadata: map[string]any{"name": "Weather", "description": "gets weather"}},
		{ID: "b", Metadata: map[string]any{"name": "Search", "description": "web search"}},
	}, nil)
	require.NoError(s.T(), err)
}

func (s *ToolMemoryTestSuite) TestAdd_SingleBatch() {
	s.addWeatherAndSearch()

	require.Equal(s.T(), 2, s.memory.Len())
	require.Len(s.T(), s.provider.batches, 1, "All texts should be embedded in one call")
	require.Equal(s.T(), []string{"Tool: Weather \ngets weather", "Tool: Search \nweb search"}, s.provider.batches[0])
}

func (s *ToolMemoryTestSuite) TestQuery_TopOne() {
	s.addWeatherAndSearch()

	results, err := s.memory.Query(s.ctx, "weather query", 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	require.Equal(s.T(), "a", results[0].ID)
	require.Equal(s.T(), "Weather", results[0].Metadata["name"])
	require.InDelta(s.T(), 1.0, results[0].Score, 1e-9)
}

func (s *ToolMemoryTestSuite) TestQueryVector_Scenario() {
	s.addWeatherAndSearch()

	results, err := s.memory.QueryVector([]float32{1, 0}, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 1)
	require.Equal(s.T(), "a", results[0].ID)
	require.InDelta(s.T(), 1.0, results[0].Score, 1e-9)
}

func (s *ToolMemoryTestSuite) TestQuery_EmptyStore() {
	results, err := s.memory.Query(s.ctx, "anything", 5)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), results)
	require.Empty(s.T(), results)
}

func (s *ToolMemoryTestSuite) TestQuery_TopKLargerThanStore() {
	s.provider.defaultQuery = []float32{1, 1}
	records := make([]ToolRecord, 5)
	for i := range records {
		name := string(rune('a' + i))
		records[i] = ToolRecord{ID: name, Metadata: map[string]any{"name": name}}
		s.provider.vectors["Tool: "+name] = []float32{float32(i), 1}
	}
	require.NoError(s.T(), s.memory.Add(s.ctx, records, nil))

	results, err := s.memory.Query(s.ctx, "anything", 100)
	require.NoError(s.T(), err)
	require.Len(s.T(), results, 5)
}

func (s *ToolMemoryTestSuite) TestQuery_InvalidTopK() {
	_, err := s.memory.Query(s.ctx, "anything", 0)
	require.ErrorIs(s.T(), err, ErrInvalidTopK)

	_, err = s.memory.QueryVector([]float32{1}, -1)
	require.ErrorIs(s.T(), err, ErrInvalidTopK)
}

func (s *ToolMemoryTestSuite) TestQuery_SortedAndBounded() {
	rng := rand.New(rand.NewPCG(42, 7))
	records := make([]ToolRecord, 40)
	for i := range records {
		id := fmt.Sprintf("tool_%02d", i)
		text := "Tool: " + id
		records[i] = ToolRecord{ID: id, Metadata: map[string]any{"name": id}}
		s.provider.vectors[text] = []float32{rng.Float32() - 0.5, rng.Float32() - 0.5, rng.Float32() - 0.5}
	}
	require.NoError(s.T(), s.memory.Add(s.ctx, records, nil))

	for _, topK := range []int{1, 3, 10, 40, 41} {
		query := []float32{rng.Float32(), rng.Float32(), rng.Float32()}
		results, err := s.memory.QueryVector(query, topK)
		require.NoError(s.T(), err)
		require.LessOrEqual(s.T(), len(results), topK)
		for i := 1; i < len(results); i++ {
			require.GreaterOrEqual(s.T(), results[i-1].Score, results[i].Score, "Results should be sorted by descending score")
		}
	}
}

func (s *ToolMemoryTestSuite) TestQuery_TiesOrderedByID() {
	s.provider.vectors["Tool: z"] = []float32{1, 0}
	s.provider.vectors["Tool: m"] = []float32{1, 0}
	s.provider.vectors["Tool: c"] = []float32{1, 0}
	err := s.memory.Add(s.ctx, []ToolRecord{
		{ID: "z", Metadata: map[string]any{"name": "z"}},
		{ID: "m", Metadata: map[string]any{"name": "m"}},
		{ID: "c", Metadata: map[string]any{"name": "c"}},
	}, nil)
	require.NoError(s.T(), err)

	for range 5 {
		results, err := s.memory.QueryVector([]float32{1, 0}, 3)
		require.NoError(s.T(), err)
		require.Equal(s.T(), []string{"c", "m", "z"}, []string{results[0].ID, results[1].ID, results[2].ID})
	}
}

func (s *ToolMemoryTestSuite) TestAdd_OverwritesSameID() {
	s.addWeatherAndSearch()
	s.provider.vectors["Tool: Forecast"] = []float32{0, 1}

	err := s.memory.Add(s.ctx, []ToolRecord{{ID: "a", Metadata: map[string]any{"name": "Forecast"}}}, nil)
	require.NoError(s.T(), err)

	require.Equal(s.T(), 2, s.memory.Len())
	entry, ok := s.memory.Get("a")
	require.True(s.T(), ok)
	require.Equal(s.T(), "Forecast", entry.Metadata["name"])
	require.Equal(s.T(), []float32{0, 1}, entry.Embedding)
}

func (s *ToolMemoryTestSuite) TestAdd_ProviderFailureInsertsNothing() {
	s.provider.documentErr = errors.New("provider down")

	err := s.memory.Add(s.ctx, []ToolRecord{
		{ID: "a", Metadata: map[string]any{"name": "Weather"}},
	}, nil)
	require.Error(s.T(), err)
	require.ErrorIs(s.T(), err, s.provider.documentErr)
	require.Zero(s.T(), s.memory.Len())
}

func (s *ToolMemoryTestSuite) TestAdd_CountMismatchInsertsNothing() {
	s.provider.wrongCount = true

	err := s.memory.Add(s.ctx, []ToolRecord{
		{ID: "a", Metadata: map[string]any{"name": "Weather"}},
		{ID: "b", Metadata: map[string]any{"name": "Search"}},
	}, nil)
	require.ErrorIs(s.T(), err, embedding.ErrEmbeddingCount)
	require.Zero(s.T(), s.memory.Len())
}

func (s *ToolMemoryTestSuite) TestAdd_CustomTextKeys() {
	s.provider.vectors["Tool: files \nSearch project files by pattern."] = []float32{1, 1}

	err := s.memory.Add(s.ctx, []ToolRecord{{ID: "file_search", Metadata: map[string]any{
		"name":        "file_search",
		"category":    "files",
		"description": "Search project files by pattern.",
	}}}, []string{"category", "description"})
	require.NoError(s.T(), err)
	require.Equal(s.T(), []string{"Tool: files \nSearch project files by pattern."}, s.provider.batches[0])
}

func (s *ToolMemoryTestSuite) TestAdd_PersistsWhenConfigured() {
	path := filepath.Join(s.T().TempDir(), "memory.json")
	memory := New(s.provider, s.logger, WithPersistPath(path))

	err := memory.Add(s.ctx, []ToolRecord{
		{ID: "a", Metadata: map[string]any{"name": "Weather", "description": "gets weather"}},
	}, nil)
	require.NoError(s.T(), err)
	require.FileExists(s.T(), path)

	reopened := New(s.provider, s.logger, WithPersistPath(path))
	require.Equal(s.T(), []string{"a"}, reopened.IDs())
}

func (s *ToolMemoryTestSuite) TestNew_UnreadablePersistPathStartsFresh() {
	path := filepath.Join(s.T().TempDir(), "broken.json")
	require.NoError(s.T(), os.WriteFile(path, []byte("{not json"), 0644))

	memory := New(s.provider, s.logger, WithPersistPath(path))
	require.Zero(s.T(), memory.Len())
}

func (s *ToolMemoryTestSuite) TestSaveLoad_RoundTrip() {
	s.addWeatherAndSearch()
	path := filepath.Join(s.T().TempDir(), "memory.json")

	require.NoError(s.T(), s.memory.Save(path))

	loaded := New(s.provider, s.logger)
	require.NoError(s.T(), loaded.Load(path))

	require.Equal(s.T(), s.memory.IDs(), loaded.IDs())
	for _, id := range s.memory.IDs() {
		want, _ := s.memory.Get(id)
		got, ok := loaded.Get(id)
		require.True(s.T(), ok)
		require.Equal(s.T(), want.Metadata, got.Metadata)
		require.Len(s.T(), got.Embedding, len(want.Embedding))
		for i := range want.Embedding {
			require.InDelta(s.T(), want.Embedding[i], got.Embedding[i], 1e-6)
		}
	}
}

func (s *ToolMemoryTestSuite) TestSave_FileLayout() {
	s.addWeatherAndSearch()
	path := filepath.Join(s.T().TempDir(), "memory.json")
	require.NoError(s.T(), s.memory.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(s.T(), err)
	require.JSONEq(s.T(), `{
		"a": {"metadata": {"name": "Weather", "description": "gets weather"}, "embedding": [1, 0]},
		"b": {"metadata": {"name": "Search", "description": "web search"}, "embedding": [0, 1]}
	}`, string(data))
}

func (s *ToolMemoryTestSuite) TestSaveLoad_NoPersistPath() {
	require.ErrorIs(s.T(), s.memory.Save(""), ErrNoPersistPath)
	require.ErrorIs(s.T(), s.memory.Load(""), ErrNoPersistPath)
}

func (s *ToolMemoryTestSuite) TestLoad_ReplacesStore() {
	s.addWeatherAndSearch()
	path := filepath.Join(s.T().TempDir(), "memory.json")
	require.NoError(s.T(), os.WriteFile(path, []byte(`{"c": {"metadata": {"name": "Calc"}, "embedding": [1, 1]}}`), 0644))

	require.NoError(s.T(), s.memory.Load(path))
	require.Equal(s.T(), []string{"c"}, s.memory.IDs())
}

func (s *ToolMemoryTestSuite) TestLoad_MissingFile() {
	err := s.memory.Load(filepath.Join(s.T().TempDir(), "missing.json"))
	require.Error(s.T(), err)
	require.ErrorIs(s.T(), err, os.ErrNotExist)
}

func (s *ToolMemoryTestSuite) TestDimension_ProbesOnce() {
	s.provider.defaultQuery = []float32{0, 0, 1}

	dimension, err := s.memory.Dimension(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 3, dimension)

	dimension, err = s.memory.Dimension(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 3, dimension)
	require.Len(s.T(), s.provider.queries, 1, "Probed dimension is cached")
}

func (s *ToolMemoryTestSuite) TestDimension_UsesProviderDimension() {
	memory := New(embedding.NewLocal(128, s.logger), s.logger)
	dimension, err := memory.Dimension(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 128, dimension)
}

func (s *ToolMemoryTestSuite) TestCurrent() {
	s.addWeatherAndSearch()
	metadata := map[string]any{"name": "Weather", "description": "gets weather"}

	require.True(s.T(), s.memory.Current("a", metadata, 2))
	require.False(s.T(), s.memory.Current("a", metadata, 3), "Dimension changed")
	require.False(s.T(), s.memory.Current("a", map[string]any{"name": "Weather", "description": "rain"}, 2), "Metadata changed")
	require.False(s.T(), s.memory.Current("missing", metadata, 2))
}

func (s *ToolMemoryTestSuite) TestCurrent_AfterSaveLoad() {
	metadata := map[string]any{"name": "Weather", "description": "gets weather", "tags": []string{"web"}, "limit": 5}
	require.NoError(s.T(), s.memory.Add(s.ctx, []ToolRecord{{ID: "a", Metadata: metadata}}, nil))

	path := filepath.Join(s.T().TempDir(), "memory.json")
	require.NoError(s.T(), s.memory.Save(path))
	loaded := New(s.provider, s.logger)
	require.NoError(s.T(), loaded.Load(path))

	require.True(s.T(), loaded.Current("a", metadata, 2), "JSON round trip keeps metadata equal")
}

func TestSearchableText(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		keys     []string
		want     string
	}{
		{
			name:     "name and description",
			metadata: map[string]any{"name": "test_runner", "description": "Run unit tests."},
			keys:     DefaultTextKeys,
			want:     "Tool: test_runner \nRun unit tests.",
		},
		{
			name:     "missing description",
			metadata: map[string]any{"name": "test_runner"},
			keys:     DefaultTextKeys,
			want:     "Tool: test_runner",
		},
		{
			name:     "empty values are skipped",
			metadata: map[string]any{"name": "", "description": "Run unit tests."},
			keys:     DefaultTextKeys,
			want:     "Tool: Run unit tests.",
		},
		{
			name:     "non-string values",
			metadata: map[string]any{"name": "calc", "version": float64(2)},
			keys:     []string{"name", "version"},
			want:     "Tool: calc \n2",
		},
		{
			name:     "typed empty values are skipped",
			metadata: map[string]any{"name": "calc", "tags": []string{}, "version": int64(0), "weight": float32(0), "extra": map[string]string{}},
			keys:     []string{"name", "tags", "version", "weight", "extra"},
			want:     "Tool: calc",
		},
		{
			name:     "typed non-empty values",
			metadata: map[string]any{"name": "calc", "tags": []string{"math", "cli"}, "version": int64(3)},
			keys:     []string{"name", "tags", "version"},
			want:     "Tool: calc \n[\"math\",\"cli\"] \n3",
		},
		{
			name:     "only empty values fall back to JSON",
			metadata: map[string]any{"tags": []string{}},
			keys:     []string{"tags"},
			want:     `{"tags":[]}`,
		},
		{
			name:     "falls back to JSON",
			metadata: map[string]any{"title": "Calculator"},
			keys:     DefaultTextKeys,
			want:     `{"title":"Calculator"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SearchableText(tt.metadata, tt.keys))
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9, "Identical vectors should have similarity of 1.0")
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0, 0}, []float32{0, 1, 0}), 1e-9, "Orthogonal vectors should have similarity of 0.0")
	require.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0, 0}, []float32{-1, 0, 0}), 1e-9, "Opposite vectors should have similarity of -1.0")
}

func TestCosineSimilarity_SelfAndSymmetry(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 100 {
		a := make([]float32, 8)
		b := make([]float32, 8)
		for i := range a {
			a[i] = rng.Float32()*2 - 1
			b[i] = rng.Float32()*2 - 1
		}
		require.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-6)
		require.Equal(t, CosineSimilarity(a, b), CosineSimilarity(b, a))
	}
}

func TestCosineSimilarity_ZeroVectors(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity([]float32{0, 0, 0}, []float32{1, 0, 0}))
	require.Equal(t, 0.0, CosineSimilarity([]float32{1, 0, 0}, []float32{0, 0, 0}))
	require.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}

func TestCosineSimilarity_DifferentLengths(t *testing.T) {
	require.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}
