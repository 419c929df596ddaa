package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/ingest"
	"github.com/nickcecere/lmem/internal/ui"
)

var (
	ingestExtensions []string
	ingestIgnore     []string
	ingestWorkers    int
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Load a directory of text files into memory",
	Long: `Walk a directory, split each text file into overlapping line windows and
store every window as a memory record with its path and line range.

Record ids are "<relative path>#<chunk>", so re-running ingest on the same tree
skips chunks that are already stored.

Examples:
  # Ingest the current directory
  lmem ingest

  # Only markdown notes
  lmem ingest ./notes --ext .md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVarP(&ingestExtensions, "ext", "e", nil, "file extensions to include (e.g., .md, .txt)")
	ingestCmd.Flags().StringSliceVarP(&ingestIgnore, "ignore", "i", nil, "additional patterns to ignore")
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "concurrent chunk writers (default 4)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %s", absPath)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.Header.Render("Ingesting "+filepath.Base(absPath)))
	fmt.Fprintf(out, "Path: %s\n", absPath)
	fmt.Fprintf(out, "Backend: %s\n\n", mem.BackendKind())

	lastUpdate := time.Now()
	progress, err := ingest.New(mem, cfg).Ingest(ctx, absPath, ingest.Options{
		Extensions:     ingestExtensions,
		IgnorePatterns: ingestIgnore,
		Workers:        ingestWorkers,
		OnProgress: func(p ingest.Progress) {
			// Throttle updates to every 100ms
			if time.Since(lastUpdate) < 100*time.Millisecond {
				return
			}
			lastUpdate = time.Now()
			fmt.Fprintf(out, "\r\033[KFiles: %d | Chunks: %d | %s",
				p.Files, p.Chunks, ui.Truncate(p.CurrentFile, 40))
		},
	})

	// Clear progress line
	fmt.Fprint(out, "\r\033[K")

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, ui.Warning.Render("Ingest cancelled"))
			return nil
		}
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Fprintln(out, ui.Success.Render("Ingest complete!"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Files:    %d\n", progress.Files)
	fmt.Fprintf(out, "  Chunks:   %d\n", progress.Chunks)
	fmt.Fprintf(out, "  Added:    %d\n", progress.Added)
	fmt.Fprintf(out, "  Skipped:  %d\n", progress.Skipped)
	if progress.Errors > 0 {
		fmt.Fprintf(out, "  %s\n", ui.Warning.Render(fmt.Sprintf("Errors:   %d", progress.Errors)))
	}
	fmt.Fprintf(out, "  Duration: %s\n", time.Since(progress.StartTime).Round(time.Millisecond))

	log.Debug("Ingest finished", "path", absPath, "added", progress.Added)
	fallbackNotice(mem)
	return nil
}
