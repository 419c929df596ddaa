package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/store"
	"github.com/nickcecere/lmem/internal/ui"
)

var (
	queryK       int
	queryContent bool
	queryJSON    bool
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Find the memories most similar to a text",
	Long: `Embed a query and return the most similar stored records, best first.

Examples:
  # Top matches using the configured top_k
  lmem query "how do we rotate credentials"

  # Five matches with their text
  lmem query "release checklist" -k 5 -c`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "top", "k", 0, "number of results (default from config)")
	queryCmd.Flags().BoolVarP(&queryContent, "content", "c", false, "show record text")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, config.Get(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	text := strings.Join(args, " ")
	matches, err := mem.QueryText(ctx, text, queryK)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if queryJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}

	if len(matches) == 0 {
		fmt.Fprintln(out, "No matching memories.")
		return nil
	}
	printMatches(out, matches, queryContent)
	return nil
}

// printMatches renders ranked matches, one per line.
func printMatches(w io.Writer, matches []store.Match, content bool) {
	for i, m := range matches {
		fmt.Fprintf(w, "%2d. %s %s\n", i+1, ui.RecordID.Render(m.Record.ID), ui.FormatScore(m.Score))
		if content {
			fmt.Fprintln(w, ui.RecordText.Render(ui.Truncate(m.Record.Text, 400)))
		}
	}
}
