package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/output"
	"github.com/llamaha/sagitta-sub001/internal/repostate"
)

func newRepoCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}
	cmd.AddCommand(newRepoAddCmd(opts))
	cmd.AddCommand(newRepoListCmd(opts))
	cmd.AddCommand(newRepoRemoveCmd(opts))
	return cmd
}

func newRepoAddCmd(opts *globalOptions) *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Register a git working tree",
		Long: `Register a git working tree under a name. The collection name is derived
from the tenant, the name and the branch; it is fixed at registration.`,
		Example: `  sagitta repo add demo ~/src/demo
  sagitta repo add api . --branch release`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := filepath.Abs(args[1])
			if err != nil {
				return errors.ValidationError("resolve repository path", err)
			}
			if branch == "" {
				branch, err = a.git.CurrentBranch(ctx, path)
				if err != nil {
					return err
				}
			}

			r := &repostate.Repository{
				Name:           args[0],
				Tenant:         a.cfg.Store.Tenant,
				Path:           path,
				Branch:         branch,
				CollectionName: repostate.CollectionName(a.cfg.Store.CollectionPrefix, a.cfg.Store.Tenant, args[0], branch),
				AddedAt:        time.Now(),
			}
			if err := a.repos.Add(ctx, r); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Registered %s (%s, branch %s)", r.Name, r.Path, r.Branch)
			out.Status("", "collection "+r.CollectionName)
			out.Status("", fmt.Sprintf("run 'sagitta sync %s' to index it", r.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch to track (default: the checked-out branch)")
	return cmd
}

func newRepoListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered repositories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			repos, err := a.repos.List(ctx)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if len(repos) == 0 {
				out.Status("", "No repositories registered. Use 'sagitta repo add <name> <path>'.")
				return nil
			}

			rows := make([][]string, 0, len(repos))
			for _, r := range repos {
				rows = append(rows, []string{r.Name, r.Branch, shortCommit(r.LastSyncedCommit), formatTime(r.LastSyncedAt), r.CollectionName})
			}
			out.Table([]string{"name", "branch", "commit", "synced", "collection"}, rows)
			return nil
		},
	}
}

func newRepoRemoveCmd(opts *globalOptions) *cobra.Command {
	var keepCollection bool

	cmd := &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Unregister a repository and delete its index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.repos.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !keepCollection {
				if err := a.store.DeleteCollection(ctx, r.CollectionName); err != nil {
					return err
				}
				if err := a.vocabs.Drop(r.CollectionName); err != nil {
					return err
				}
			}
			if err := a.repos.Remove(ctx, r.Name); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Removed %s", r.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepCollection, "keep-collection", false, "Keep the collection and vocabulary")
	return cmd
}

func shortCommit(c string) string {
	if c == "" {
		return "-"
	}
	if len(c) > 8 {
		return c[:8]
	}
	return c
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}
