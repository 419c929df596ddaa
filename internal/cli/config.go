package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  lmem config

  # Show config file paths
  lmem config --path`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := config.Get()

	if configShowPath {
		fmt.Fprintln(out, ui.SectionTitle.Render("Configuration Paths"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Global config: %s\n", config.GlobalConfigPath())
		fmt.Fprintf(out, "Local config:  .lmemrc.yaml (searched from cwd upward)\n")
		fmt.Fprintf(out, "Active config: %s\n", config.ConfigFilePath())
		fmt.Fprintf(out, "SQLite remote: %s\n", cfg.Remote.SQLite.Path)
		return nil
	}

	printConfig(out, cfg)
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, ui.SectionTitle.Render("Current Configuration"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Bold.Render("Embeddings:"))
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Fprintf(w, "  Cache Size: %d\n", cfg.Embeddings.CacheSize)
	if cfg.Embeddings.Timeout > 0 {
		fmt.Fprintf(w, "  Timeout: %s\n", cfg.Embeddings.Timeout)
	}
	fmt.Fprintf(w, "  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Fprintf(w, "  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Fprintf(w, "  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Fprintf(w, "  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Fprintf(w, "  OpenAI API Key: %s\n", maskSecret(cfg.Embeddings.OpenAI.APIKey))
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Bold.Render("Memory:"))
	fmt.Fprintf(w, "  Collection: %s\n", cfg.Memory.Collection)
	fmt.Fprintf(w, "  Top K: %d\n", cfg.Memory.TopK)
	fmt.Fprintf(w, "  Mirror Writes: %t\n", cfg.Memory.MirrorWrites)
	if cfg.Memory.CallTimeout > 0 {
		fmt.Fprintf(w, "  Call Timeout: %s\n", cfg.Memory.CallTimeout)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Bold.Render("Remote:"))
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Remote.Enabled)
	fmt.Fprintf(w, "  Provider: %s\n", cfg.Remote.Provider)
	fmt.Fprintf(w, "  Init Timeout: %s\n", cfg.Remote.InitTimeout)
	fmt.Fprintf(w, "  Chroma URL: %s\n", cfg.Remote.Chroma.URL)
	fmt.Fprintf(w, "  Chroma Tenant/Database: %s/%s\n", cfg.Remote.Chroma.Tenant, cfg.Remote.Chroma.Database)
	fmt.Fprintf(w, "  Chroma API Key: %s\n", maskSecret(cfg.Remote.Chroma.APIKey))
	fmt.Fprintf(w, "  SQLite Path: %s\n", cfg.Remote.SQLite.Path)
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Bold.Render("Server:"))
	fmt.Fprintf(w, "  Address: %s\n", cfg.Server.Addr)
	fmt.Fprintln(w)

	fmt.Fprintln(w, ui.Bold.Render("Ingest:"))
	fmt.Fprintf(w, "  Max File Size: %d bytes\n", cfg.Ingest.MaxFileSize)
	fmt.Fprintf(w, "  Chunk Size: %d lines\n", cfg.Ingest.ChunkSize)
	fmt.Fprintf(w, "  Chunk Overlap: %d lines\n", cfg.Ingest.ChunkOverlap)
	fmt.Fprintf(w, "  Ignore Patterns: %d configured\n", len(cfg.Ignore))
}

// maskSecret keeps only the last four characters of a credential.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 4:
		return "****"
	default:
		return "****" + s[len(s)-4:]
	}
}
