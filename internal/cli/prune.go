package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/adbatch/internal/control"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run records older than the retention period",
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "override retention.run_retention")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := setup()
	if err != nil {
		return err
	}
	if pruneOlderThan > 0 {
		cfg.Retention.RunRetention = pruneOlderThan
	}
	if cfg.Retention.RunRetention <= 0 {
		return fmt.Errorf("no retention configured: set retention.run_retention or --older-than")
	}

	engine, err := control.NewEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer engine.Close()

	n, err := engine.PruneRuns(ctx)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s) older than %s\n", n, cfg.Retention.RunRetention)
	return nil
}
