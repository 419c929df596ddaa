// Package embeddings turns text into vectors for the memory store.
package embeddings

import (
	"context"
	"fmt"

	"github.com/nickcecere/lmem/internal/config"
)

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderNone   Provider = "none"
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Service defines the interface for embedding services.
type Service interface {
	// Embed generates an embedding for stored text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery generates an embedding for a query (may use different task prefix).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the last observed embedding width.
	Dimensions() int

	Provider() Provider
	ModelName() string
}

// Known model dimensions
var modelDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates the configured embedding service. The "none" provider
// yields a nil service: the store then keeps records without vectors.
func NewService(cfg *config.Config) (Service, error) {
	switch Provider(cfg.Embeddings.Provider) {
	case ProviderNone, "":
		return nil, nil
	case ProviderOllama:
		return NewOllamaService(
			cfg.Embeddings.Ollama.URL,
			cfg.Embeddings.Ollama.Model,
			cfg.Embeddings.Timeout,
		)
	case ProviderOpenAI:
		return NewOpenAIService(OpenAIOptions{
			APIKey:     cfg.Embeddings.OpenAI.APIKey,
			Model:      cfg.Embeddings.OpenAI.Model,
			BaseURL:    cfg.Embeddings.OpenAI.BaseURL,
			Dimensions: cfg.Embeddings.OpenAI.Dimensions,
			Timeout:    cfg.Embeddings.Timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embeddings.Provider)
	}
}
