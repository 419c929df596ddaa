package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
)

var (
	contextK   int
	contextRaw bool
)

// contextCmd represents the context command
var contextCmd = &cobra.Command{
	Use:   "context <text>",
	Short: "Render the memories relevant to a text as a prompt block",
	Long: `Query memory and format the matches as a markdown block suitable for
prepending to a prompt.

Examples:
  # Rendered for the terminal
  lmem context "what did we decide about retries"

  # Plain markdown for piping into another tool
  lmem context "what did we decide about retries" --raw`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContext,
}

func init() {
	contextCmd.Flags().IntVarP(&contextK, "top", "k", 0, "number of memories (default from config)")
	contextCmd.Flags().BoolVar(&contextRaw, "raw", false, "print markdown without rendering")
}

func runContext(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, config.Get(), true)
	if err != nil {
		return err
	}
	defer cleanup()

	block, err := mem.BuildContext(ctx, strings.Join(args, " "), contextK)
	if err != nil {
		return fmt.Errorf("failed to build context: %w", err)
	}

	out := cmd.OutOrStdout()
	if block == "" {
		fmt.Fprintln(out, "No relevant memories.")
		return nil
	}
	if contextRaw {
		fmt.Fprint(out, block)
		return nil
	}

	rendered, err := renderMarkdown(block)
	if err != nil {
		// Fallback to raw output if rendering fails
		fmt.Fprint(out, block)
		return nil
	}
	fmt.Fprint(out, rendered)
	return nil
}

// renderMarkdown renders markdown content using glamour.
func renderMarkdown(content string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}
