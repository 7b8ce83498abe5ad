package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/engram-dev/engram/internal/logging"
	"github.com/engram-dev/engram/internal/queue"
	"github.com/engram-dev/engram/pkg/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the memory service",
		Long: `Starts the Engram service: opens the record store, hydrates the
lexical index, connects to the vector backend when configured, and drains
the queue files until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.LogLevel,
		FilePath:      cfg.LogPath(),
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	slog.Info("engram starting",
		slog.String("version", version.Version),
		slog.String("data_dir", cfg.DataDir))

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	engine := buildEngine(cfg, s, true)
	if err := engine.Init(ctx); err != nil {
		return err
	}

	processor := queue.NewProcessor(engine, queue.ProcessorConfig{
		Dir:         cfg.QueueDir(),
		Interval:    cfg.Queue.Interval,
		GracePeriod: cfg.Queue.GracePeriod,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Run(ctx)
	})
	if cfg.Queue.Watch {
		watcher := queue.NewWatcher(processor, cfg.QueueDir(), 0)
		g.Go(func() error {
			watcher.Run(ctx)
			return nil
		})
	}

	err = g.Wait()

	counters := processor.Counters()
	slog.Info("engram stopped",
		slog.Int64("records_saved", counters.Saved),
		slog.Int64("records_failed", counters.Failed),
		slog.Int64("lines_skipped", counters.Skipped))
	return err
}
