package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/ui"
)

var (
	addID   string
	addMeta []string
	addJSON bool
)

// addCmd represents the add command
var addCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a text in memory",
	Long: `Embed a text and store it as a memory record.

Examples:
  # Store a note with a generated id
  lmem add "staging database is rebuilt every Sunday"

  # Choose the id and attach metadata
  lmem add "use pnpm, not npm" --id tooling-1 --meta source=review --meta priority=2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addID, "id", "", "record id (generated when empty)")
	addCmd.Flags().StringArrayVarP(&addMeta, "meta", "m", nil, "metadata as key=value (repeatable)")
	addCmd.Flags().BoolVar(&addJSON, "json", false, "output the stored record as JSON")
}

func runAdd(cmd *cobra.Command, args []string) error {
	meta, err := parseMeta(addMeta)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, config.Get(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := mem.AddVector(ctx, memory.AddRequest{
		ID:   addID,
		Text: strings.Join(args, " "),
		Meta: meta,
	})
	if err != nil {
		return fmt.Errorf("failed to add: %w", err)
	}

	out := cmd.OutOrStdout()
	if addJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fallbackNotice(mem)
	fmt.Fprintf(out, "%s %s %s\n",
		ui.Success.Render("Stored"),
		ui.RecordID.Render(rec.ID),
		ui.Dim.Render(fmt.Sprintf("[%s, %d dims]", mem.BackendKind(), len(rec.Embedding))),
	)
	return nil
}

// parseMeta turns key=value pairs into metadata. Values that parse as
// numbers or booleans keep that type.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		meta[key] = parseMetaValue(value)
	}
	return meta, nil
}

func parseMetaValue(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}
