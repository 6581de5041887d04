package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

type syncOptions struct {
	force bool
	all   bool
	wait  bool
}

func newSyncCmd(opts *globalOptions) *cobra.Command {
	var so syncOptions

	cmd := &cobra.Command{
		Use:   "sync [name...]",
		Short: "Bring repository indexes up to the checked-out commit",
		Long: `Sync compares the checked-out commit with the last synced one. Unchanged
repositories with a healthy collection are skipped; small change sets are
applied incrementally; everything else is rebuilt.

The watermark only advances when every file was indexed, so an interrupted or
partially failed sync is retried by the next run.`,
		Example: `  sagitta sync demo
  sagitta sync --all
  sagitta sync demo --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if so.all == (len(args) > 0) {
				return errors.ValidationError("name one or more repositories, or pass --all", nil)
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			if so.wait {
				a.cfg.Sync.WaitForLock = true
			}

			names := args
			if so.all {
				repos, err := a.repos.List(ctx)
				if err != nil {
					return err
				}
				for _, r := range repos {
					names = append(names, r.Name)
				}
			}

			runner, err := a.runner(ctx, a.renderer(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			var failed int
			var lastErr error
			for _, name := range names {
				report, err := runner.Sync(ctx, name, so.force)
				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					failed++
					lastErr = err
					if len(names) > 1 {
						_, _ = fmt.Fprint(cmd.ErrOrStderr(), errors.FormatForCLI(err))
					}
					continue
				}
				if !report.Complete() {
					failed++
					lastErr = errors.New(errors.ErrCodeIndexFailed,
						fmt.Sprintf("%s: %d files failed, %d chunks skipped; watermark not advanced",
							name, len(report.FailedFiles), len(report.SkippedChunks)), nil).
						WithSuggestion("Re-run sync to retry the remaining files")
				}
			}
			if failed == 0 {
				return nil
			}
			a.logger.Warn("sync_incomplete", slog.Int("repos", len(names)), slog.Int("failed", failed))
			if len(names) == 1 {
				return lastErr
			}
			return errors.New(errors.ErrCodeIndexFailed,
				fmt.Sprintf("%d of %d repositories did not sync completely", failed, len(names)), lastErr)
		},
	}

	cmd.Flags().BoolVarP(&so.force, "force", "f", false, "Rebuild even when the commit is unchanged")
	cmd.Flags().BoolVar(&so.all, "all", false, "Sync every registered repository")
	cmd.Flags().BoolVar(&so.wait, "wait", false, "Wait for a running sync of the same repository")
	return cmd
}
