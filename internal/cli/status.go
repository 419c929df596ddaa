package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/store"
	"github.com/nickcecere/lmem/internal/ui"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which backend serves memory",
	Long: `Connect to the configured remote backend, if any, and report whether it is
in use, along with the embedding setup and record counts.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	stats := mem.Stats()
	records, err := mem.ListVectors(ctx)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}
	// Listing may have degraded the remote
	stats = mem.Stats()

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			memory.Stats
			Records    int    `json:"records"`
			Collection string `json:"collection"`
		}{stats, len(records), cfg.Memory.Collection})
	}

	printStatus(out, cfg, stats, len(records))
	return nil
}

func printStatus(w io.Writer, cfg *config.Config, stats memory.Stats, records int) {
	fmt.Fprintln(w, ui.Header.Render("Memory Status"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %s %s\n", ui.Dim.Render("Backend:   "), ui.FormatState(string(stats.Backend)))
	remote := ui.FormatState(string(stats.Remote))
	if cfg.Remote.Enabled {
		remote += ui.Dim.Render(" (" + cfg.Remote.Provider + ")")
	}
	fmt.Fprintf(w, "  %s %s\n", ui.Dim.Render("Remote:    "), remote)
	fmt.Fprintf(w, "  %s %s\n", ui.Dim.Render("Collection:"), ui.Bold.Render(cfg.Memory.Collection))
	fmt.Fprintf(w, "  %s %d\n", ui.Dim.Render("Records:   "), records)
	fmt.Fprintf(w, "  %s %d\n", ui.Dim.Render("Top K:     "), stats.TopK)
	fmt.Fprintf(w, "  %s %t\n", ui.Dim.Render("Mirroring: "), stats.MirrorWrites)

	provider := cfg.Embeddings.Provider
	if provider == "" {
		provider = "none"
	}
	fmt.Fprintf(w, "  %s %s\n", ui.Dim.Render("Embeddings:"), provider)

	if stats.Backend != store.KindRemote {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ui.Warning.Render("Records are kept in process memory and are lost on exit."))
	}
}
