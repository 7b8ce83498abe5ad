// Package cmd provides the CLI commands for Engram.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/config"
	"github.com/engram-dev/engram/internal/embed"
	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/lexical"
	"github.com/engram-dev/engram/internal/retrieval"
	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/vector"
	"github.com/engram-dev/engram/pkg/version"
)

var (
	configPath string
	dataDir    string
	debugMode  bool
)

// NewRootCmd creates the root command for the engram CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: "Local-first semantic memory for AI coding assistants",
		Long: `Engram persists prompts, responses, and edits queued by coding
assistants, indexes them lexically and (optionally) in a remote vector
backend, and answers similarity queries over that memory.

Run 'engram serve' to start the background service.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("engram version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDrainCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig builds the effective config from the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if debugMode {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// buildEmbedder assembles the configured embedding provider behind a cache.
func buildEmbedder(cfg *config.Config) embed.Embedder {
	var embedder embed.Embedder
	if strings.ToLower(cfg.Embeddings.Provider) == "ollama" {
		embedder = embed.NewOllamaEmbedder(embed.OllamaConfig{
			Host:  cfg.Embeddings.Host,
			Model: cfg.Embeddings.Model,
		})
	} else {
		embedder = embed.NewStaticEmbedder()
	}
	if cfg.Embeddings.CacheSize > 0 {
		embedder = embed.NewCachedEmbedder(embedder, cfg.Embeddings.CacheSize)
	}
	return embedder
}

// openStore opens the persistent record store. Failure here is fatal to the
// service.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	return store.Open(cfg.DatabasePath(), store.Options{
		TextBackend: store.TextBackend(strings.ToLower(cfg.Store.TextBackend)),
		CacheSize:   cfg.Store.CacheSize,
		CacheTTL:    cfg.Store.CacheTTL,
	})
}

// buildEngine wires the retrieval engine. withRemote controls whether the
// vector backend is attached; one-shot commands stay local-only.
func buildEngine(cfg *config.Config, s *store.SQLiteStore, withRemote bool) *retrieval.Engine {
	var client *vector.Client
	if withRemote && cfg.Vector.Enabled {
		client = vector.NewClient(vector.Config{
			URL:     cfg.Vector.URL,
			Timeout: cfg.Vector.Timeout,
		})
	}

	breaker := engerr.NewCircuitBreaker(retrieval.DefaultBreakerName,
		engerr.WithCooldown(retrieval.DefaultBreakerCooldown))

	return retrieval.NewEngine(s, lexical.NewEngine(), buildEmbedder(cfg), client, breaker, retrieval.Config{
		SearchLimit:    cfg.Search.Limit,
		ScoreThreshold: cfg.Search.Threshold,
		Collection:     cfg.Vector.Collection,
	})
}
