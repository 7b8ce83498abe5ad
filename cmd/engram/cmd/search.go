package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/internal/logging"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var threshold float64

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the memory index",
		Long: `Runs a one-shot query against the local index. The remote vector
backend is not contacted; use 'engram serve' for remote-backed queries.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), limit, threshold)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (0 = config default)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum score (0 = config default)")
	return cmd
}

func runSearch(cmd *cobra.Command, query string, limit int, threshold float64) error {
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

	result, err := engine.Search(ctx, query, limit, threshold)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(result.Records) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}

	fmt.Fprintf(out, "%d matches (confidence %.3f)\n\n", len(result.Records), result.Confidence)
	for i, rec := range result.Records {
		when := time.UnixMilli(rec.Timestamp).Format("2006-01-02 15:04")
		fmt.Fprintf(out, "%2d. [%s] %s\n", i+1, when, firstLine(rec.Prompt))
		if rec.Result != "" {
			fmt.Fprintf(out, "    %s\n", firstLine(rec.Result))
		}
		if len(rec.Tags) > 0 {
			fmt.Fprintf(out, "    tags: %s\n", strings.Join(rec.Tags, ", "))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
