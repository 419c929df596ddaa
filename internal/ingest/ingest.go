// Package ingest loads a directory of text files into vector memory, one
// record per line-window chunk.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/store"
)

// Adder stores one record. *memory.Store satisfies it.
type Adder interface {
	AddVector(ctx context.Context, req memory.AddRequest) (store.Record, error)
}

// Progress tracks an ingestion run.
type Progress struct {
	Files       int
	Chunks      int
	Added       int
	Skipped     int // duplicate ids, usually from an earlier run
	Errors      int
	StartTime   time.Time
	CurrentFile string
}

// ProgressFunc is called after every file.
type ProgressFunc func(Progress)

// Options configures one ingestion run.
type Options struct {
	Extensions     []string
	IgnorePatterns []string
	Workers        int
	OnProgress     ProgressFunc
}

// Ingester walks directories and adds their chunks to memory.
type Ingester struct {
	adder   Adder
	chunker *Chunker
	cfg     *config.Config

	mu       sync.Mutex
	progress Progress
}

// New creates an Ingester writing through adder.
func New(adder Adder, cfg *config.Config) *Ingester {
	return &Ingester{
		adder:   adder,
		chunker: NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		cfg:     cfg,
	}
}

type job struct {
	file  File
	chunk Chunk
}

// Ingest adds every chunk of every selected file under root. Record ids are
// "<relpath>#<chunk>", so re-ingesting unchanged files skips them.
func (in *Ingester) Ingest(ctx context.Context, root string, opts Options) (Progress, error) {
	walker, err := NewWalker(WalkOptions{
		Root:           root,
		MaxFileSize:    int64(in.cfg.Ingest.MaxFileSize),
		IgnorePatterns: append(append([]string{}, in.cfg.Ignore...), opts.IgnorePatterns...),
		UseGitignore:   true,
		Extensions:     opts.Extensions,
	})
	if err != nil {
		return Progress{}, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	in.mu.Lock()
	in.progress = Progress{StartTime: time.Now()}
	in.mu.Unlock()

	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				in.addChunk(ctx, j)
			}
		}()
	}

	walkErr := walker.Walk(func(f File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := os.ReadFile(f.Path)
		if err != nil {
			log.Debug("Failed to read file", "path", f.Path, "error", err)
			in.update(func(p *Progress) { p.Errors++ })
			return nil
		}

		chunks := in.chunker.Chunk(string(content))
		in.update(func(p *Progress) {
			p.Files++
			p.Chunks += len(chunks)
			p.CurrentFile = f.RelPath
		})

		for _, c := range chunks {
			select {
			case jobs <- job{file: f, chunk: c}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if opts.OnProgress != nil {
			opts.OnProgress(in.Progress())
		}
		return nil
	})

	close(jobs)
	wg.Wait()

	result := in.Progress()
	log.Debug("Ingest finished",
		"root", walker.Root(),
		"files", result.Files,
		"added", result.Added,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"took", time.Since(result.StartTime).Round(time.Millisecond))

	if walkErr != nil {
		return result, fmt.Errorf("ingest interrupted: %w", walkErr)
	}
	return result, nil
}

// Progress returns a snapshot of the current run.
func (in *Ingester) Progress() Progress {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.progress
}

func (in *Ingester) addChunk(ctx context.Context, j job) {
	_, err := in.adder.AddVector(ctx, memory.AddRequest{
		ID:   fmt.Sprintf("%s#%d", j.file.RelPath, j.chunk.Index),
		Text: j.chunk.Content,
		Meta: map[string]any{
			"path":       j.file.RelPath,
			"start_line": j.chunk.StartLine,
			"end_line":   j.chunk.EndLine,
			"hash":       j.file.Hash,
		},
	})

	switch {
	case err == nil:
		in.update(func(p *Progress) { p.Added++ })
	case errors.Is(err, store.ErrDuplicateID):
		in.update(func(p *Progress) { p.Skipped++ })
	default:
		log.Warn("Failed to add chunk", "path", j.file.RelPath, "chunk", j.chunk.Index, "error", err)
		in.update(func(p *Progress) { p.Errors++ })
	}
}

func (in *Ingester) update(fn func(*Progress)) {
	in.mu.Lock()
	fn(&in.progress)
	in.mu.Unlock()
}
