package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/embeddings"
	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/store"
	"github.com/nickcecere/lmem/internal/ui"
)

// openMemory builds the embedder and memory store described by cfg. When
// wait is set it blocks until the remote backend has connected or failed,
// so one-shot commands see their persisted records.
func openMemory(ctx context.Context, cfg *config.Config, wait bool) (*memory.Store, func(), error) {
	svc, err := embeddings.NewService(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	emb, err := embeddings.NewSafeEmbedder(svc, embeddings.SafeOptions{
		CacheSize: cfg.Embeddings.CacheSize,
		Timeout:   cfg.Embeddings.Timeout,
		Logger:    ui.NewLogger(os.Stderr, "embeddings"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	if !emb.Enabled() {
		log.Warn("No embedding provider configured, records are stored without vectors")
	}

	mem := memory.Open(ctx, memory.Options{
		Embedder:     emb,
		Connector:    store.NewConnector(cfg),
		TopK:         cfg.Memory.TopK,
		MirrorWrites: cfg.Memory.MirrorWrites,
		CallTimeout:  cfg.Memory.CallTimeout,
		InitTimeout:  cfg.Remote.InitTimeout,
		Logger:       ui.NewLogger(os.Stderr, "memory"),
	})

	cleanup := func() {
		if err := mem.Close(); err != nil {
			log.Warn("Failed to close memory", "error", err)
		}
		emb.Close()
	}

	if wait {
		if err := mem.WaitReady(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	return mem, cleanup, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Debug("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// fallbackNotice warns when records will not outlive the process.
func fallbackNotice(mem *memory.Store) {
	if mem.BackendKind() == store.KindFallback {
		log.Warn("Remote backend not in use, records live only in this process", "remote", mem.RemoteState())
	}
}
