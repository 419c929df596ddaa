package embeddings

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto"
)

// SafeOptions configures a SafeEmbedder.
type SafeOptions struct {
	CacheSize int           // max cached vectors, 0 disables the cache
	Timeout   time.Duration // per-call limit, 0 = none
	Logger    *log.Logger
}

// SafeEmbedder wraps an optional Service so that embedding never fails:
// a missing service, a provider error or an empty vector all yield nil.
type SafeEmbedder struct {
	svc     Service
	cache   *ristretto.Cache
	timeout time.Duration
	logger  *log.Logger
}

// NewSafeEmbedder wraps svc, which may be nil.
func NewSafeEmbedder(svc Service, opts SafeOptions) (*SafeEmbedder, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("embeddings")
	}

	e := &SafeEmbedder{svc: svc, timeout: opts.Timeout, logger: logger}

	if svc != nil && opts.CacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: int64(opts.CacheSize) * 10,
			MaxCost:     int64(opts.CacheSize),
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}
		e.cache = cache
	}

	return e, nil
}

// Embed returns the vector for stored text, or nil when none is available.
func (e *SafeEmbedder) Embed(ctx context.Context, text string) []float32 {
	if e.svc == nil {
		return nil
	}
	return e.embed(ctx, "doc", text, e.svc.Embed)
}

// EmbedQuery returns the vector for query text, or nil when none is available.
func (e *SafeEmbedder) EmbedQuery(ctx context.Context, text string) []float32 {
	if e.svc == nil {
		return nil
	}
	return e.embed(ctx, "query", text, e.svc.EmbedQuery)
}

// Enabled reports whether a provider is configured.
func (e *SafeEmbedder) Enabled() bool {
	return e.svc != nil
}

// Close releases the cache.
func (e *SafeEmbedder) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

func (e *SafeEmbedder) embed(ctx context.Context, kind, text string, fn func(context.Context, string) ([]float32, error)) []float32 {
	key := e.cacheKey(kind, text)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return clone(v.([]float32))
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vec, err := fn(ctx, text)
	if err != nil {
		e.logger.Warn("Embedding failed, storing without vector", "provider", e.svc.Provider(), "model", e.svc.ModelName(), "err", err)
		return nil
	}
	if len(vec) == 0 {
		e.logger.Warn("Embedding provider returned an empty vector", "provider", e.svc.Provider(), "model", e.svc.ModelName())
		return nil
	}

	if e.cache != nil {
		e.cache.Set(key, clone(vec), 1)
	}
	return vec
}

func (e *SafeEmbedder) cacheKey(kind, text string) uint64 {
	return xxhash.Sum64String(e.svc.ModelName() + "\x00" + kind + "\x00" + text)
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
