package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/api"
	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/ui"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the memory HTTP API",
	Long: `Start an HTTP server exposing the memory operations as JSON endpoints:

  POST   /api/vectors          add a record
  GET    /api/vectors          list records
  DELETE /api/vectors          clear records
  POST   /api/vectors/query    nearest records for a text or embedding
  GET    /api/vectors/status   active backend
  POST   /api/context          relevant memories as a prompt block
  GET    /healthz              liveness

The server starts serving from process memory immediately while the remote
backend connects in the background.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	log.Info("Serving memory API", "addr", addr, "remote", mem.RemoteState())
	if err := api.NewServer(mem, ui.NewLogger(os.Stderr, "api")).ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
