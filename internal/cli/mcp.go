package cli

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/ingest"
	"github.com/nickcecere/lmem/internal/mcp"
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server for integration with AI agents.

The server communicates via stdin/stdout using JSON-RPC 2.0 and provides tools for:
  - memory_add: Store a text
  - memory_query: Find similar memories by text or embedding
  - memory_list: List stored memories
  - memory_clear: Delete every memory
  - memory_context: Relevant memories as a prompt block
  - memory_ingest: Load a directory of text files
  - memory_status: Active backend

This command is typically invoked by an agent and not run directly by users.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// MCP server uses stdin/stdout for communication, so redirect logs to stderr
	log.SetOutput(os.Stderr)

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	mem, cleanup, err := openMemory(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	server := mcp.NewServer(mem, ingest.New(mem, cfg), os.Stdin, os.Stdout)
	return server.Run(ctx)
}
