package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusGroup string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent runs",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusGroup, "group", "", "only runs of this group")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of runs")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	engine, cfg, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Database.URL == "" && cfg.Redis.URL == "" {
		_, _ = fmt.Fprintln(os.Stderr, "warning: no database or redis configured, run history is empty")
	}

	runs, err := engine.RecentRuns(ctx, statusGroup, statusLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tGROUP\tREQUESTED\tCOMPLETE\tSHORTFALL\tABORTED\tSTARTED\tDURATION")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%t\t%s\t%s\n",
			r.RunID,
			r.GroupID,
			r.Requested,
			r.Complete,
			r.Shortfall,
			r.Aborted,
			r.StartedAt.Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		)
	}
	return w.Flush()
}
