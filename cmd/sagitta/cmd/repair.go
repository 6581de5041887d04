package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/output"
	"github.com/llamaha/sagitta-sub001/internal/repair"
)

func newRepairCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "repair [name]",
		Short: "Rebuild a repository index from scratch",
		Long: `Repair clears the sync watermark and runs a forced full sync. Use it when
the collection was deleted or emptied, or after changing tokenizer settings;
a vocabulary built with other tokenizer settings is dropped with its
collection.`,
		Example: `  sagitta repair demo
  sagitta repair --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.ValidationError("name a repository, or pass --all", nil)
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, err := a.repairService(ctx, a.renderer(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			var report *repair.RepairReport
			if all {
				report, err = svc.RepairAll(ctx)
			} else {
				report, err = svc.Repair(ctx, args[0])
			}
			if report != nil {
				printRepairReport(output.New(cmd.OutOrStdout()), report)
			}
			if err != nil {
				return err
			}
			if n := report.Failed(); n > 0 {
				return errors.New(errors.ErrCodeIndexFailed,
					fmt.Sprintf("%d of %d repairs failed", n, len(report.Outcomes)), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Repair every registered repository")
	return cmd
}

func printRepairReport(out *output.Writer, report *repair.RepairReport) {
	for _, o := range report.Outcomes {
		switch {
		case o.Err != nil:
			out.Errorf("%s: %v", o.Repo, o.Err)
		case o.Sync != nil && !o.Sync.Complete():
			out.Warningf("%s: rebuilt (%s), %d files failed", o.Repo, o.Reason, len(o.Sync.FailedFiles))
		default:
			points := 0
			if o.Sync != nil {
				points = o.Sync.PointsWritten
			}
			out.Successf("%s: rebuilt (%s), %d points", o.Repo, o.Reason, points)
		}
	}
}
