package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llamaha/sagitta-sub001/internal/output"
	"github.com/llamaha/sagitta-sub001/internal/search"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	limit       int
	language    string
	pathPrefix  string
	elementType string
	extension   string
	profile     string
	fusion      string
	format      string
	lines       int
}

// queryResultJSON is the --format json shape of a result.
type queryResultJSON struct {
	Path        string  `json:"path"`
	StartLine   int     `json:"start_line"`
	EndLine     int     `json:"end_line"`
	StartByte   int     `json:"start_byte"`
	EndByte     int     `json:"end_byte"`
	Score       float64 `json:"score"`
	Language    string  `json:"language,omitempty"`
	ElementType string  `json:"element_type,omitempty"`
	SymbolName  string  `json:"symbol_name,omitempty"`
	Snippet     string  `json:"snippet"`
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var qo queryOptions

	cmd := &cobra.Command{
		Use:     "query <repo> <text...>",
		Aliases: []string{"search"},
		Short:   "Search a synced repository",
		Long: `Query runs a dense search and a sparse term search against the
repository's collection and fuses the two rankings.

Profiles: ` + strings.Join(search.ProfileNames(), ", ") + `.`,
		Example: `  sagitta query demo "http handler"
  sagitta query demo "parse config" --language go --path internal/config
  sagitta query demo main.rs --profile code_search --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			prof, err := a.profile(qo.profile, qo.fusion)
			if err != nil {
				return err
			}
			engine, err := a.engine(ctx, prof)
			if err != nil {
				return err
			}

			text := strings.Join(args[1:], " ")
			results, err := engine.Query(ctx, args[0], text, search.Filters{
				Language:      qo.language,
				PathPrefix:    qo.pathPrefix,
				ElementType:   qo.elementType,
				FileExtension: qo.extension,
			}, qo.limit)
			if err != nil {
				return err
			}

			if qo.format == "json" {
				return formatJSON(cmd, results)
			}
			formatText(output.New(cmd.OutOrStdout()), text, results, qo.lines)
			return nil
		},
	}

	cmd.Flags().IntVarP(&qo.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&qo.language, "language", "l", "", "Filter by language (e.g., go, rust)")
	cmd.Flags().StringVarP(&qo.pathPrefix, "path", "p", "", "Filter by path prefix (e.g., src/api)")
	cmd.Flags().StringVarP(&qo.elementType, "type", "t", "", "Filter by element type (e.g., function, class)")
	cmd.Flags().StringVar(&qo.extension, "ext", "", "Filter by file extension (e.g., rs)")
	cmd.Flags().StringVar(&qo.profile, "profile", "", "Search profile")
	cmd.Flags().StringVar(&qo.fusion, "fusion", "", "Override fusion: rrf, dbsf")
	cmd.Flags().StringVarP(&qo.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVar(&qo.lines, "lines", 8, "Snippet lines per result (0 for all)")

	return cmd
}

func formatText(out *output.Writer, query string, results []search.Result, lines int) {
	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return
	}
	for i, r := range results {
		label := r.ElementType
		if r.SymbolName != "" {
			label += " " + r.SymbolName
		}
		out.Statusf(fmt.Sprintf("%d", i+1), "%s:%d-%d  %.4f  %s", r.Path, r.StartLine, r.EndLine, r.Score, label)
		out.Code(r.Snippet, lines)
		out.Newline()
	}
}

func formatJSON(cmd *cobra.Command, results []search.Result) error {
	items := make([]queryResultJSON, 0, len(results))
	for _, r := range results {
		items = append(items, queryResultJSON{
			Path:        r.Path,
			StartLine:   r.StartLine,
			EndLine:     r.EndLine,
			StartByte:   r.StartByte,
			EndByte:     r.EndByte,
			Score:       r.Score,
			Language:    r.Language,
			ElementType: r.ElementType,
			SymbolName:  r.SymbolName,
			Snippet:     r.Snippet,
		})
	}
	return writeJSON(cmd.OutOrStdout(), items)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
