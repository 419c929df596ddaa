// Package config handles configuration loading and validation for lmem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete lmem configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Server     ServerConfig     `mapstructure:"server"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Ignore     []string         `mapstructure:"ignore"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider  string            `mapstructure:"provider"`
	CacheSize int               `mapstructure:"cache_size"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	Ollama    OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI    OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// MemoryConfig configures the vector store facade.
type MemoryConfig struct {
	TopK         int           `mapstructure:"top_k"`
	Collection   string        `mapstructure:"collection"`
	MirrorWrites bool          `mapstructure:"mirror_writes"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// RemoteConfig configures the persistent vector backend.
type RemoteConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider"`
	InitTimeout time.Duration `mapstructure:"init_timeout"`
	Chroma      ChromaConfig  `mapstructure:"chroma"`
	SQLite      SQLiteConfig  `mapstructure:"sqlite"`
}

// ChromaConfig configures a Chroma server or Chroma Cloud.
// Setting APIKey switches to cloud mode.
type ChromaConfig struct {
	URL      string `mapstructure:"url"`
	Tenant   string `mapstructure:"tenant"`
	Database string `mapstructure:"database"`
	APIKey   string `mapstructure:"api_key"`
}

// SQLiteConfig configures the local SQLite + sqlite-vec backend.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// IngestConfig configures directory ingestion.
type IngestConfig struct {
	MaxFileSize  int `mapstructure:"max_file_size"`
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:  DefaultEmbeddingProvider,
			CacheSize: DefaultEmbedCacheSize,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Memory: MemoryConfig{
			TopK:       DefaultTopK,
			Collection: DefaultCollection,
		},
		Remote: RemoteConfig{
			Enabled:     false,
			Provider:    DefaultRemoteProvider,
			InitTimeout: DefaultRemoteInitLimit,
			Chroma: ChromaConfig{
				URL:      DefaultChromaURL,
				Tenant:   DefaultChromaTenant,
				Database: DefaultChromaDatabase,
			},
			SQLite: SQLiteConfig{
				Path: DefaultDatabasePath(),
			},
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Ingest: IngestConfig{
			MaxFileSize:  DefaultMaxFileSize,
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	// Set defaults
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// A project-local .lmemrc.yaml wins over the global config
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	// Environment variables
	viper.SetEnvPrefix("LMEM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	loadSecretsFromEnv()

	return cfg.Validate()
}

// Validate checks option combinations that cannot be fixed by defaults.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "ollama", "openai", "none", "":
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embeddings.Provider)
	}

	if c.Memory.TopK <= 0 {
		c.Memory.TopK = DefaultTopK
	}
	if c.Memory.Collection == "" {
		c.Memory.Collection = DefaultCollection
	}

	if !c.Remote.Enabled {
		return nil
	}
	switch c.Remote.Provider {
	case "chroma", "sqlite":
	default:
		return fmt.Errorf("unsupported remote provider: %s", c.Remote.Provider)
	}
	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.cache_size", DefaultEmbedCacheSize)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Memory
	viper.SetDefault("memory.top_k", DefaultTopK)
	viper.SetDefault("memory.collection", DefaultCollection)
	viper.SetDefault("memory.mirror_writes", false)

	// Remote
	viper.SetDefault("remote.enabled", false)
	viper.SetDefault("remote.provider", DefaultRemoteProvider)
	viper.SetDefault("remote.init_timeout", DefaultRemoteInitLimit)
	viper.SetDefault("remote.chroma.url", DefaultChromaURL)
	viper.SetDefault("remote.chroma.tenant", DefaultChromaTenant)
	viper.SetDefault("remote.chroma.database", DefaultChromaDatabase)
	viper.SetDefault("remote.sqlite.path", DefaultDatabasePath())

	// Server
	viper.SetDefault("server.addr", DefaultServerAddr)

	// Ingest
	viper.SetDefault("ingest.max_file_size", DefaultMaxFileSize)
	viper.SetDefault("ingest.chunk_size", DefaultChunkSize)
	viper.SetDefault("ingest.chunk_overlap", DefaultChunkOverlap)

	viper.SetDefault("ignore", DefaultIgnorePatterns())
}

// findRCFile searches for .lmemrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".lmemrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadSecretsFromEnv fills credentials from well-known environment variables if not already set.
func loadSecretsFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
	}

	// Chroma Cloud credentials
	if cfg.Remote.Chroma.APIKey == "" {
		if key := os.Getenv("CHROMA_API_KEY"); key != "" {
			cfg.Remote.Chroma.APIKey = key
		}
	}
	if tenant := os.Getenv("CHROMA_TENANT"); tenant != "" && cfg.Remote.Chroma.Tenant == DefaultChromaTenant {
		cfg.Remote.Chroma.Tenant = tenant
	}
	if db := os.Getenv("CHROMA_DATABASE"); db != "" && cfg.Remote.Chroma.Database == DefaultChromaDatabase {
		cfg.Remote.Chroma.Database = db
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
