package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/logging"
	"github.com/engram-dev/engram/internal/queue"
)

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one drain pass over the queue files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cleanup, err := logging.Setup(logging.Config{Level: cfg.LogLevel})
			if err != nil {
				return err
			}
			defer cleanup()

			s, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			engine := buildEngine(cfg, s, false)
			ctx := cmd.Context()
			if err := engine.Init(ctx); err != nil {
				return err
			}

			processor := queue.NewProcessor(engine, queue.ProcessorConfig{Dir: cfg.QueueDir()})
			if err := processor.DrainOnce(ctx); err != nil {
				return err
			}

			counters := processor.Counters()
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d, failed %d, skipped %d\n",
				counters.Saved, counters.Failed, counters.Skipped)
			return nil
		},
	}
}
