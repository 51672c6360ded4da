package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/radutopala/toolsee/internal/embedding"
	"github.com/radutopala/toolsee/internal/mcpclient"
	"github.com/radutopala/toolsee/internal/selector"
	"github.com/radutopala/toolsee/internal/toolmemory"
)

const (
	// EnvConfigPath overrides the default config file location.
	EnvConfigPath = "TOOLSEE_CONFIG"
	// DefaultPath is used when neither a flag nor EnvConfigPath names a file.
	DefaultPath = ".toolsee.json"

	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
	ProviderGloVe  = "glove"

	DefaultScoreThreshold = 0.35
	DefaultStorePath      = "tool_memory.json"
)

// Config represents the complete toolsee configuration
type Config struct {
	Settings        Settings                          `json:"settings"`
	Embedding       Embedding                         `json:"embedding"`
	ExternalServers map[string]mcpclient.ServerConfig `json:"mcpServers"`
}

// Settings controls selection and storage.
type Settings struct {
	TopK           int      `json:"topK"`           // Tools returned per search (default: 5)
	ScoreThreshold *float64 `json:"scoreThreshold"` // Minimum score, null disables filtering
	StorePath      string   `json:"storePath"`      // Persisted tool memory, "" keeps it in memory only
	TextKeys       []string `json:"textKeys"`       // Metadata keys embedded for each tool
}

// Embedding selects and configures the embedding provider.
type Embedding struct {
	Provider   string `json:"provider"` // "local", "glove" or "openai"
	Model      string `json:"model,omitempty"`
	BaseURL    string `json:"baseURL,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"` // 0 keeps the provider default
	CacheDir   string `json:"cacheDir,omitempty"`   // Where GloVe vectors are downloaded
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Settings: Settings{
			TopK:           selector.DefaultTopK,
			ScoreThreshold: selector.Threshold(DefaultScoreThreshold),
			StorePath:      DefaultStorePath,
			TextKeys:       slices.Clone(toolmemory.DefaultTextKeys),
		},
		Embedding: Embedding{
			Provider: ProviderLocal,
		},
		ExternalServers: map[string]mcpclient.ServerConfig{},
	}
}

// ResolvePath picks the config file: explicit path, then TOOLSEE_CONFIG, then .toolsee.json.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}

// Parse decodes JSONC data on top of the defaults. Comments and trailing commas are allowed.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ExternalServers == nil {
		cfg.ExternalServers = map[string]mcpclient.ServerConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Info("Looking for config", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("No config found, using defaults", "path", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	logger.Info("Found config", "path", path, "size_bytes", len(data))

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Settings.TopK < 1 {
		return fmt.Errorf("settings.topK must be at least 1, got %d", c.Settings.TopK)
	}
	switch c.Embedding.Provider {
	case ProviderLocal, ProviderGloVe, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embedding provider: %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions cannot be negative")
	}
	return nil
}

// SelectorOptions returns the selection options for this configuration.
func (c *Config) SelectorOptions() selector.Options {
	return selector.Options{TopK: c.Settings.TopK, ScoreThreshold: c.Settings.ScoreThreshold}
}

// NewProvider builds the configured embedding provider.
func (e Embedding) NewProvider(logger *slog.Logger) (embedding.Provider, error) {
	switch e.Provider {
	case ProviderOpenAI:
		provider, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:     e.APIKey,
			BaseURL:    e.BaseURL,
			Model:      e.Model,
			Dimensions: e.Dimensions,
		}, logger)
		if err != nil {
			return nil, err
		}
		return provider, nil
	case ProviderGloVe:
		cacheDir := e.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(os.TempDir(), "glove")
		}
		provider, err := embedding.NewGloVe(e.Model, cacheDir, logger)
		if err != nil {
			return nil, err
		}
		return provider, nil
	case ProviderLocal, "":
		return embedding.NewLocal(e.Dimensions, logger), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", e.Provider)
	}
}
