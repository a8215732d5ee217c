package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/adbatch/internal/core/config"
	"github.com/vietddude/adbatch/internal/core/domain"
	"github.com/vietddude/adbatch/internal/orchestration/runner"
)

var (
	jobPath   string
	serve     bool
	jsonOut   bool
	runCount  int
	runGroup  string
	runPrefix string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create the copies described by a job file",
	RunE:  runJob,
}

func init() {
	runCmd.Flags().StringVar(&jobPath, "job", "job.yaml", "job file")
	runCmd.Flags().IntVar(&runCount, "count", 0, "override the job count")
	runCmd.Flags().StringVar(&runGroup, "group", "", "override the job group id")
	runCmd.Flags().StringVar(&runPrefix, "prefix", "", "override the job name prefix")
	runCmd.Flags().BoolVar(&serve, "serve", false, "serve health and metrics and prune old runs while running")
	runCmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	engine, _, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	job, err := config.LoadJob(jobPath)
	if err != nil {
		return err
	}
	if runCount > 0 {
		job.Count = runCount
	}
	if runGroup != "" {
		job.GroupID = runGroup
	}
	if runPrefix != "" {
		job.NamePrefix = runPrefix
	}

	req := runner.Request{
		GroupID:          job.GroupID,
		Pairs:            job.Pairs(),
		OriginalParentID: job.OriginalParentID,
	}

	var res *domain.RunResult
	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	if serve {
		g.Go(func() error {
			return engine.ServeHealth(serveCtx)
		})
		g.Go(func() error {
			engine.StartPruner(serveCtx)
			return nil
		})
	}
	g.Go(func() error {
		defer stopServe()
		var err error
		res, err = engine.Run(ctx, req)
		return err
	})

	err = g.Wait()
	if errors.Is(err, runner.ErrRunInProgress) {
		slog.Error("Another run holds the group", "group", job.GroupID)
	}
	slog.Debug("Credential pool", "dashboard", engine.PoolDashboard())
	return reportRun(cmd.OutOrStdout(), res, err, jsonOut)
}

// reportRun prints res whenever the run produced one, even when the run or
// the health server failed.
func reportRun(w io.Writer, res *domain.RunResult, runErr error, asJSON bool) error {
	if res != nil {
		if asJSON {
			if err := printJSON(w, res); err != nil && runErr == nil {
				return err
			}
		} else {
			printRunResult(w, res)
		}
	}
	if runErr != nil {
		return runErr
	}
	if res == nil {
		return errors.New("run returned no result")
	}
	if !asJSON && (res.Report == nil || !res.Report.Converged()) {
		return fmt.Errorf("run %s did not converge", res.RunID)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunResult(w io.Writer, res *domain.RunResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(tw, "RUN\t%s\n", res.RunID)
	_, _ = fmt.Fprintf(tw, "GROUP\t%s\n", res.GroupID)
	_, _ = fmt.Fprintf(tw, "REQUESTED\t%d\n", res.Requested)
	_, _ = fmt.Fprintf(tw, "COMPLETE\t%d\n", res.Complete)
	_, _ = fmt.Fprintf(tw, "ORPHANS (grouped phase)\t%d\n", res.Orphans)
	_, _ = fmt.Fprintf(tw, "TOTAL FAILURES (grouped phase)\t%d\n", res.TotalFailures)
	_, _ = fmt.Fprintf(tw, "UNKNOWN\t%d\n", res.Unknown)
	_, _ = fmt.Fprintf(tw, "DELETED\t%d\n", res.Deleted)
	_, _ = fmt.Fprintf(tw, "SHORTFALL\t%d\n", res.Shortfall)
	_, _ = fmt.Fprintf(tw, "GROUPS\t%d\n", res.GroupsRun)
	if res.Aborted {
		_, _ = fmt.Fprintf(tw, "ABORTED\t%s\n", res.Err)
	}
	if r := res.Report; r != nil {
		_, _ = fmt.Fprintf(tw, "VERIFIED\tparents=%d children=%d orphans_deleted=%d surplus_deleted=%d duplicates_deleted=%d delete_failures=%d\n",
			r.ActualParents, r.ActualChildren, r.OrphansDeleted, r.SurplusDeleted, r.DuplicatesDeleted, r.DeleteFailures)
	}
	_ = tw.Flush()

	if len(res.Failures) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tNAME\tSTATE\tERROR")
	for _, f := range res.Failures {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", f.Index, f.Name, f.State, f.Error)
	}
	_ = tw.Flush()
}
