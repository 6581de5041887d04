// Package cmd provides the CLI commands for sagitta.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/config"
	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/internal/profiling"
	"github.com/llamaha/sagitta-sub001/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	debug      bool
	quiet      bool
	configPath string
	dataDir    string
	backend    string
	cpuProfile string
	memProfile string
}

// NewRootCmd creates the root command for the sagitta CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "sagitta",
		Short: "Hybrid code search over git repositories",
		Long: `Sagitta indexes git repositories into a vector store and answers
natural-language and keyword queries with hybrid dense + sparse search.

Indexes follow commits: each sync compares the checked-out commit with the
last synced one and re-indexes only what changed.

  sagitta repo add demo ~/src/demo
  sagitta sync demo
  sagitta query demo "http handler"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("sagitta version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging (mirrored to stderr)")
	cmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: user config merged with .sagitta.yaml)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (default ~/.sagitta)")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "Vector store backend: qdrant, local")
	cmd.PersistentFlags().StringVar(&opts.cpuProfile, "cpu-profile", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.memProfile, "mem-profile", "", "Write a heap profile to file on exit")

	var prof *profiling.Session
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		var err error
		prof, err = profiling.Start(profiling.Options{CPUPath: opts.cpuProfile, HeapPath: opts.memProfile})
		return err
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return prof.Stop()
	}

	cmd.AddCommand(newRepoCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newQueryCmd(opts))
	cmd.AddCommand(newRepairCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command, cancelling on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

// loadConfig resolves the effective configuration and applies flag overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		root, rootErr := config.FindProjectRoot(".")
		if rootErr != nil {
			root = ""
		}
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, errors.ConfigError("load configuration", err)
	}

	if opts.dataDir != "" {
		cfg.Paths.DataDir = opts.dataDir
	}
	if opts.backend != "" {
		cfg.Store.Backend = opts.backend
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError("invalid configuration", err)
	}
	return cfg, nil
}
