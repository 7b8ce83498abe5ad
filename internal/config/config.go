// Package config loads the service configuration. Precedence, lowest to
// highest: hardcoded defaults, the YAML config file, ENGRAM_* environment
// variables. A corrupt config file is fatal at startup.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	engerr "github.com/engram-dev/engram/internal/errors"
)

// ConfigFileName is looked up inside the data directory when no explicit
// config path is given.
const ConfigFileName = "engram.yaml"

// Config is the complete service configuration.
type Config struct {
	// DataDir holds the record database, queue files, and logs.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Queue      QueueConfig      `yaml:"queue"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Vector     VectorConfig     `yaml:"vector"`
	Store      StoreConfig      `yaml:"store"`
}

// QueueConfig tunes the drain processor.
type QueueConfig struct {
	Interval    time.Duration `yaml:"interval"`
	GracePeriod time.Duration `yaml:"grace_period"`
	// Watch enables the fsnotify accelerator.
	Watch bool `yaml:"watch"`
}

// SearchConfig sets the caller-facing search defaults.
type SearchConfig struct {
	Limit     int     `yaml:"limit"`
	Threshold float64 `yaml:"threshold"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "static" (deterministic, no external service) or "ollama".
	Provider  string `yaml:"provider"`
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	CacheSize int    `yaml:"cache_size"`
}

// VectorConfig configures the optional remote vector backend.
type VectorConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StoreConfig tunes the persistent store.
type StoreConfig struct {
	// TextBackend is "fts" (SQLite FTS5, default) or "bleve".
	TextBackend string        `yaml:"text_backend"`
	CacheSize   int           `yaml:"cache_size"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		Queue: QueueConfig{
			Interval:    30 * time.Second,
			GracePeriod: 5 * time.Second,
			Watch:       true,
		},
		Search: SearchConfig{
			Limit:     10,
			Threshold: 0.1,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "static",
			Host:      "http://localhost:11434",
			Model:     "nomic-embed-text",
			CacheSize: 512,
		},
		Vector: VectorConfig{
			Enabled:    false,
			URL:        "http://localhost:6333",
			Collection: "engram_records",
			Timeout:    10 * time.Second,
		},
		Store: StoreConfig{
			TextBackend: "fts",
			CacheSize:   512,
			CacheTTL:    30 * time.Second,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".engram")
	}
	return filepath.Join(home, ".engram")
}

// Load builds the effective configuration. path may be empty; the config file
// is then looked up inside the data directory and its absence is fine. An
// explicitly given path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if dir := os.Getenv("ENGRAM_DATA_DIR"); dir != "" {
			path = filepath.Join(dir, ConfigFileName)
		} else {
			path = filepath.Join(cfg.DataDir, ConfigFileName)
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, engerr.New(engerr.ErrCodeConfigInvalid, "config file is not valid YAML", err).
				WithDetail("path", path)
		}
	case os.IsNotExist(err):
		if explicit {
			return nil, engerr.New(engerr.ErrCodeConfigNotFound, "config file does not exist", err).
				WithDetail("path", path)
		}
	default:
		return nil, engerr.New(engerr.ErrCodeConfigInvalid, "cannot read config file", err).
			WithDetail("path", path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies ENGRAM_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENGRAM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ENGRAM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ENGRAM_QUEUE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Queue.Interval = d
		}
	}
	if v := os.Getenv("ENGRAM_SEARCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.Limit = n
		}
	}
	if v := os.Getenv("ENGRAM_SEARCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Threshold = f
		}
	}
	if v := os.Getenv("ENGRAM_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("ENGRAM_OLLAMA_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("ENGRAM_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("ENGRAM_VECTOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Vector.Enabled = b
		}
	}
	if v := os.Getenv("ENGRAM_VECTOR_URL"); v != "" {
		c.Vector.URL = v
	}
	if v := os.Getenv("ENGRAM_VECTOR_COLLECTION"); v != "" {
		c.Vector.Collection = v
	}
	if v := os.Getenv("ENGRAM_STORE_TEXT_BACKEND"); v != "" {
		c.Store.TextBackend = v
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return engerr.New(engerr.ErrCodeConfigInvalid, "data_dir must not be empty", nil)
	}
	if c.Search.Limit <= 0 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "search.limit must be positive", nil).
			WithDetail("limit", strconv.Itoa(c.Search.Limit))
	}
	if c.Search.Threshold < 0 || c.Search.Threshold > 1 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "search.threshold must be within [0, 1]", nil).
			WithDetail("threshold", strconv.FormatFloat(c.Search.Threshold, 'f', -1, 64))
	}
	if c.Queue.Interval <= 0 {
		return engerr.New(engerr.ErrCodeConfigInvalid, "queue.interval must be positive", nil)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "static", "ollama":
	default:
		return engerr.New(engerr.ErrCodeConfigInvalid, "unknown embeddings provider", nil).
			WithDetail("provider", c.Embeddings.Provider)
	}

	switch strings.ToLower(c.Store.TextBackend) {
	case "fts", "bleve":
	default:
		return engerr.New(engerr.ErrCodeConfigInvalid, "unknown store text backend", nil).
			WithDetail("text_backend", c.Store.TextBackend)
	}

	if c.Vector.Enabled && c.Vector.URL == "" {
		return engerr.New(engerr.ErrCodeConfigInvalid, "vector.url required when vector backend is enabled", nil)
	}
	return nil
}

// DatabasePath returns the record database location inside the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "records.db")
}

// QueueDir returns the directory producers write queue files into.
func (c *Config) QueueDir() string {
	return filepath.Join(c.DataDir, "queue")
}

// LogPath returns the service log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "engram.log")
}
