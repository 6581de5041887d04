package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/output"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
	"github.com/llamaha/sagitta-sub001/internal/watcher"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var noInitial bool

	cmd := &cobra.Command{
		Use:   "watch [name...]",
		Short: "Sync repositories automatically when their commit moves",
		Long: `Watch follows each repository's HEAD and branch refs and runs a sync once
ref updates have settled (watch.debounce, default 2s). Uncommitted edits never
trigger a sync. Runs until interrupted.`,
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
			if len(repos) == 0 {
				return errors.ValidationError("no repositories to watch", nil).
					WithSuggestion("Register one with 'sagitta repo add <name> <path>'")
			}

			debounce, err := a.cfg.DebounceDuration()
			if err != nil {
				return errors.ConfigError("watch.debounce", err)
			}
			w, err := watcher.New(watcher.Options{Debounce: debounce, Logger: a.logger})
			if err != nil {
				return err
			}
			defer func() { _ = w.Close() }()

			runner, err := a.runner(ctx, a.renderer(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			for _, r := range repos {
				if err := w.Add(r.Name, r.Path); err != nil {
					return err
				}
				if noInitial {
					continue
				}
				if _, err := runner.Sync(ctx, r.Name, false); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					a.logger.Warn("initial_sync_failed", append([]any{slog.String("repo", r.Name)}, errors.LogAttrs(err)...)...)
					out.Warningf("%s: %v", r.Name, err)
				}
			}
			out.Statusf("WATCH", "Watching %d repositories (debounce %s). Press Ctrl+C to stop.", len(repos), debounce)

			err = w.Run(ctx, func(ctx context.Context, repo string) error {
				_, err := runner.Sync(ctx, repo, false)
				return err
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noInitial, "no-initial-sync", false, "Skip the sync of every repository at startup")
	return cmd
}
