package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"
	DefaultEmbedCacheSize    = 1024

	// Memory defaults
	DefaultTopK       = 3
	DefaultCollection = "lmem"

	// Remote backend defaults
	DefaultRemoteProvider  = "chroma"
	DefaultChromaURL       = "http://localhost:8000"
	DefaultChromaCloudURL  = "https://api.trychroma.com"
	DefaultChromaTenant    = "default_tenant"
	DefaultChromaDatabase  = "default_database"
	DefaultRemoteInitLimit = 10 * time.Second

	// Server defaults
	DefaultServerAddr = "127.0.0.1:7431"

	// Ingest defaults
	DefaultMaxFileSize  = 1 << 20 // 1MB
	DefaultChunkSize    = 40
	DefaultChunkOverlap = 5

	// Database
	DefaultDBFileName = "memory.db"
)

// DefaultIgnorePatterns returns the default list of file patterns skipped by ingest.
func DefaultIgnorePatterns() []string {
	return []string{
		// Lock files
		"*.lock",
		"package-lock.json",
		"go.sum",

		// Build outputs
		"dist/",
		"build/",
		"target/",
		"__pycache__/",

		// Dependencies
		"node_modules/",
		"vendor/",
		".venv/",

		// Version control
		".git/",
		".svn/",
		".hg/",

		// Binary/compiled
		"*.exe",
		"*.dll",
		"*.so",
		"*.dylib",
		"*.o",

		// Media/Binary
		"*.png",
		"*.jpg",
		"*.jpeg",
		"*.gif",
		"*.pdf",
		"*.zip",
		"*.tar.gz",

		// Misc
		".DS_Store",
		".env",
		"*.log",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/lmem"
	}
	return filepath.Join(home, ".config", "lmem")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/lmem"
	}
	return filepath.Join(home, ".local", "share", "lmem")
}

// DefaultDatabasePath returns the default path of the SQLite remote backend.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}
