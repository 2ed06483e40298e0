package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/logging"
	"github.com/mvp-joe/cortex-index/internal/search"
)

var (
	searchLimit   int
	searchJSON    bool
	searchSymbols bool
)

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the committed index",
	Long: `Search runs a full-text query against the committed generation.

Unless CORTEX_DISABLE_AUTO_INDEX=1 is set, the index is brought up to date
first. The check is skipped when it ran less than two seconds ago.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 20, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output as JSON")
	searchCmd.Flags().BoolVar(&searchSymbols, "symbols", false, "Look up symbol definitions by exact name")
}

func runSearch(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	maybeAutoIndex(ctx, s)

	searcher, err := search.NewSearcher(s.layout, logging.For(logging.CompCLI))
	if err != nil {
		return err
	}
	defer searcher.Close()

	view, err := searcher.Open(ctx)
	if err != nil {
		if errors.Is(err, search.ErrNoIndex) {
			return fmt.Errorf("no index yet, run: cortex index")
		}
		return err
	}
	defer view.Close()

	out := cmd.OutOrStdout()
	if searchSymbols {
		rows, err := view.Symbols(ctx, args[0])
		if err != nil {
			return err
		}
		if searchJSON {
			return writeJSON(out, rows)
		}
		for _, r := range rows {
			fmt.Fprintf(out, "%s:%d-%d\t%s %s\n", r.Path, r.StartLine, r.EndLine, r.Kind, r.Name)
		}
		return nil
	}

	res, err := view.Search(ctx, args[0], searchLimit)
	if err != nil {
		return err
	}
	if searchJSON {
		return writeJSON(out, res)
	}
	for _, h := range res.Hits {
		fmt.Fprintf(out, "%.3f\t%s\n", h.Score, h.Path)
	}
	return nil
}
