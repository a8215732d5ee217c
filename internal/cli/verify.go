package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	verifyGroup    string
	verifyExpected int
	verifyOriginal string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Delete orphans and surplus copies of a group and report shortfall",
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyGroup, "group", "", "group (campaign) id")
	verifyCmd.Flags().IntVar(&verifyExpected, "expected", 0, "expected number of copies")
	verifyCmd.Flags().StringVar(&verifyOriginal, "original", "", "template parent id, never counted or deleted")
	_ = verifyCmd.MarkFlagRequired("group")
	_ = verifyCmd.MarkFlagRequired("expected")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	engine, _, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	report, err := engine.Verify(ctx, verifyGroup, verifyExpected, verifyOriginal)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Converged() {
		return fmt.Errorf("group %s short by %d", verifyGroup, report.Shortfall)
	}
	return nil
}
