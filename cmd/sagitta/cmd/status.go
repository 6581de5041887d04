package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/output"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [name...]",
		Short: "Show collection health and sync state",
		Long: `Status checks each repository's collection and compares the checked-out
commit with the last synced one. It never writes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			var repos []*repostate.Repository
			if len(args) == 0 {
				if repos, err = a.repos.List(ctx); err != nil {
					return err
				}
			} else {
				for _, name := range args {
					r, err := a.repos.Get(ctx, name)
					if err != nil {
						return err
					}
					repos = append(repos, r)
				}
			}

			out := output.New(cmd.OutOrStdout())
			if len(repos) == 0 {
				out.Status("", "No repositories registered.")
				return nil
			}

			rows := make([][]string, 0, len(repos))
			for _, r := range repos {
				rows = append(rows, []string{r.Name, a.collectionState(ctx, r), a.syncState(ctx, r), shortCommit(r.LastSyncedCommit), formatTime(r.LastSyncedAt)})
			}
			out.Table([]string{"name", "collection", "state", "commit", "synced"}, rows)
			return nil
		},
	}
}

func (a *app) collectionState(ctx context.Context, r *repostate.Repository) string {
	h, err := a.planner.CollectionHealth(ctx, r.CollectionName)
	switch {
	case err != nil:
		a.logger.Warn("status_health_failed", append([]any{slog.String("repo", r.Name)}, errors.LogAttrs(err)...)...)
		return "unreachable"
	case !h.Exists:
		return "missing"
	case h.PointCount == 0:
		return "empty"
	default:
		return fmt.Sprintf("%d points", h.PointCount)
	}
}

func (a *app) syncState(ctx context.Context, r *repostate.Repository) string {
	head, err := a.git.CurrentCommit(ctx, r.Path)
	switch {
	case err != nil:
		return "no commit"
	case r.LastSyncedCommit == "":
		return "never synced"
	case head == r.LastSyncedCommit:
		return "up to date"
	default:
		return "behind " + shortCommit(head)
	}
}
