package store

import (
	"context"
	"fmt"

	"github.com/nickcecere/lmem/internal/config"
)

// NewConnector returns the remote backend connector selected by configuration,
// or nil when the remote backend is disabled.
func NewConnector(cfg *config.Config) Connector {
	if !cfg.Remote.Enabled {
		return nil
	}

	collection := cfg.Memory.Collection

	switch cfg.Remote.Provider {
	case "sqlite":
		path := cfg.Remote.SQLite.Path
		return func(ctx context.Context) (Backend, error) {
			return NewSQLiteBackend(ctx, path, collection)
		}
	case "chroma":
		opts := ChromaOptions{
			URL:        cfg.Remote.Chroma.URL,
			Tenant:     cfg.Remote.Chroma.Tenant,
			Database:   cfg.Remote.Chroma.Database,
			APIKey:     cfg.Remote.Chroma.APIKey,
			Collection: collection,
		}
		// Cloud credentials without an explicit endpoint target Chroma Cloud
		if opts.APIKey != "" && (opts.URL == "" || opts.URL == config.DefaultChromaURL) {
			opts.URL = config.DefaultChromaCloudURL
		}
		return func(ctx context.Context) (Backend, error) {
			b := NewChromaBackend(opts)
			if err := b.Connect(ctx); err != nil {
				return nil, err
			}
			return b, nil
		}
	default:
		provider := cfg.Remote.Provider
		return func(ctx context.Context) (Backend, error) {
			return nil, fmt.Errorf("unsupported remote provider: %s", provider)
		}
	}
}
