package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/errors"
	"github.com/llamaha/sagitta-sub001/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var format string
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the sagitta build",
		Long: `Show the release, commit and toolchain this binary was built from.

Development builds report "dev" and take the commit from embedded VCS data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if short {
				_, err := fmt.Fprintln(w, version.Short())
				return err
			}
			info := version.Get()
			switch format {
			case "text":
				_, err := fmt.Fprintln(w, info.String())
				return err
			case "json":
				return writeJSON(w, info)
			default:
				return errors.ValidationError(fmt.Sprintf("unknown format %q (want text or json)", format), nil)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&short, "short", false, "Print the release version only")
	return cmd
}
