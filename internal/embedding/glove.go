package embedding

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultGloVeModel is used when the config names no GloVe model.
const DefaultGloVeModel = "6B.100d"

// GloVeModel describes a downloadable set of pre-trained GloVe vectors.
type GloVeModel struct {
	URL      string
	Filename string
	Dim      int
}

var gloveModels = map[string]GloVeModel{
	"6B.50d":  {"https://archive.org/download/glove.6B.50d-300d/glove.6B.50d.txt", "glove.6B.50d.txt", 50},
	"6B.100d": {"https://archive.org/download/glove.6B.50d-300d/glove.6B.100d.txt", "glove.6B.100d.txt", 100},
	"6B.200d": {"https://archive.org/download/glove.6B.50d-300d/glove.6B.200d.txt", "glove.6B.200d.txt", 200},
	"6B.300d": {"https://archive.org/download/glove.6B.50d-300d/glove.6B.300d.txt", "glove.6B.300d.txt", 300},
}

// GloVeModelNames lists the known model names in sorted order.
func GloVeModelNames() []string {
	names := make([]string, 0, len(gloveModels))
	for name := range gloveModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GloVe embeds a text as the normalised mean of its pre-trained word vectors.
// Words missing from the vocabulary are ignored.
type GloVe struct {
	vectors   map[string][]float32
	dim       int
	stopWords map[string]bool
	logger    *slog.Logger
}

// NewGloVe loads the named model from cacheDir, downloading it first when the
// file is not cached yet.
func NewGloVe(model, cacheDir string, logger *slog.Logger) (*GloVe, error) {
	if model == "" {
		model = DefaultGloVeModel
	}
	config, ok := gloveModels[model]
	if !ok {
		return nil, fmt.Errorf("unknown GloVe model: %s (available: %s)", model, strings.Join(GloVeModelNames(), ", "))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	path := filepath.Join(cacheDir, config.Filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("GloVe model not cached, downloading", "model", model, "path", path)
		if err := downloadGloVe(config.URL, path, logger); err != nil {
			return nil, fmt.Errorf("failed to download GloVe model: %w", err)
		}
	} else {
		logger.Debug("Using cached GloVe model", "model", model, "path", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GloVe vectors: %w", err)
	}
	defer file.Close()

	vectors, err := readGloVeVectors(file, config.Dim)
	if err != nil {
		return nil, fmt.Errorf("failed to load GloVe vectors: %w", err)
	}

	logger.Info("GloVe embedder ready", "model", model, "vocabulary_size", len(vectors), "dimension", config.Dim)
	return newGloVe(vectors, config.Dim, logger), nil
}

func newGloVe(vectors map[string][]float32, dim int, logger *slog.Logger) *GloVe {
	return &GloVe{
		vectors:   vectors,
		dim:       dim,
		stopWords: buildStopWords(),
		logger:    logger,
	}
}

// downloadGloVe writes to a temporary file first so an interrupted download
// never leaves a truncated model in the cache.
func downloadGloVe(url, dest string, logger *slog.Logger) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}

	logger.Info("Download complete", "size_mb", written/(1024*1024))
	return os.Rename(tmp, dest)
}

// readGloVeVectors parses "word v1 v2 ..." lines. Lines with the wrong number
// of components or unparsable values are skipped.
func readGloVeVectors(r io.Reader, dim int) (map[string][]float32, error) {
	vectors := make(map[string][]float32)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) != dim+1 {
			continue
		}

		vec := make([]float32, dim)
		valid := true
		for i, s := range parts[1:] {
			val, err := strconv.ParseFloat(s, 32)
			if err != nil {
				valid = false
				break
			}
			vec[i] = float32(val)
		}
		if valid {
			vectors[parts[0]] = vec
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// EmbedDocuments embeds every text independently
func (e *GloVe) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors[i] = e.embed(text)
	}

	e.logger.Debug("Generated GloVe embeddings", "count", len(texts), "dimension", e.dim)
	return vectors, nil
}

// EmbedQuery embeds a single query text
func (e *GloVe) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

// Dimension returns the embedding dimension
func (e *GloVe) Dimension() int {
	return e.dim
}

// VocabularySize returns the number of words with a vector
func (e *GloVe) VocabularySize() int {
	return len(e.vectors)
}

func (e *GloVe) embed(text string) []float32 {
	embedding := make([]float32, e.dim)
	count := 0
	for _, word := range tokenize(text, e.stopWords) {
		vec, ok := e.vectors[word]
		if !ok {
			continue
		}
		for i := range embedding {
			embedding[i] += vec[i]
		}
		count++
	}

	if count == 0 {
		return embedding
	}
	for i := range embedding {
		embedding[i] /= float32(count)
	}
	return normalize(embedding)
}
