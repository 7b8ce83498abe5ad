package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/logging"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cleanup, err := logging.Setup(logging.Config{Level: "error"})
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

			stats, err := engine.Stats(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "Records: %d\n", stats.TotalRecords)
			fmt.Fprintf(out, "Terms:   %d\n", stats.TotalTerms)
			fmt.Fprintf(out, "Backend: local\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
