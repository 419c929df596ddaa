package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/ui"
)

var clearYes bool

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored memory",
	Long: `Remove all records from the active collection, in the remote backend
when it is in use and always in process memory.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "do not ask for confirmation")
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if !clearYes {
		return fmt.Errorf("refusing to clear collection %q without --yes", cfg.Memory.Collection)
	}

	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := mem.ClearVectors(ctx); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s collection %s [%s]\n",
		ui.Success.Render("Cleared"), ui.Bold.Render(cfg.Memory.Collection), mem.BackendKind())
	return nil
}
