package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/store"
	"github.com/nickcecere/lmem/internal/ui"
)

var listJSON bool

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored memories",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "output records as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, config.Get(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := mem.ListVectors(ctx)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if listJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	fallbackNotice(mem)
	printRecords(out, records)
	return nil
}

// printRecords renders one record per line with its metadata keys.
func printRecords(w io.Writer, records []store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No memories stored.")
		return
	}

	for _, rec := range records {
		line := fmt.Sprintf("%s  %s", ui.RecordID.Render(rec.ID), ui.Truncate(oneLine(rec.Text), 80))
		if len(rec.Metadata) > 0 {
			keys := make([]string, 0, len(rec.Metadata))
			for k := range rec.Metadata {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			line += " " + ui.Dim.Render("["+strings.Join(keys, ", ")+"]")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, ui.Dim.Render(fmt.Sprintf("%d records", len(records))))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
