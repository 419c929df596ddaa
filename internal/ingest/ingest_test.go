package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/memory"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func numberedLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + string(rune('a'+i%26))
	}
	return strings.Join(lines, "\n")
}

func TestChunker(t *testing.T) {
	t.Run("empty and whitespace", func(t *testing.T) {
		c := NewChunker(10, 2)
		assert.Nil(t, c.Chunk(""))
		assert.Nil(t, c.Chunk("  \n\n\t"))
	})

	t.Run("single chunk", func(t *testing.T) {
		chunks := NewChunker(10, 2).Chunk("one\ntwo\nthree\n")
		require.Len(t, chunks, 1)
		assert.Equal(t, "one\ntwo\nthree", chunks[0].Content)
		assert.Equal(t, 1, chunks[0].StartLine)
		assert.Equal(t, 3, chunks[0].EndLine)
	})

	t.Run("windows overlap", func(t *testing.T) {
		chunks := NewChunker(4, 1).Chunk(numberedLines(10))
		require.Len(t, chunks, 3)

		assert.Equal(t, [2]int{1, 4}, [2]int{chunks[0].StartLine, chunks[0].EndLine})
		assert.Equal(t, [2]int{4, 7}, [2]int{chunks[1].StartLine, chunks[1].EndLine})
		assert.Equal(t, [2]int{7, 10}, [2]int{chunks[2].StartLine, chunks[2].EndLine})
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
		}
	})

	t.Run("normalizes CRLF", func(t *testing.T) {
		chunks := NewChunker(10, 0).Chunk("a\r\nb\r\n")
		require.Len(t, chunks, 1)
		assert.Equal(t, "a\nb", chunks[0].Content)
	})

	t.Run("clamps options", func(t *testing.T) {
		c := NewChunker(0, -1)
		assert.Equal(t, 40, c.size)
		assert.Equal(t, 0, c.overlap)

		c = NewChunker(3, 5)
		assert.Equal(t, 2, c.overlap)
	})
}

func TestIsBinaryContent(t *testing.T) {
	assert.False(t, isBinaryContent(nil))
	assert.False(t, isBinaryContent([]byte("plain text\n\twith tabs")))
	assert.True(t, isBinaryContent([]byte{'a', 0, 'b'}))
	assert.True(t, isBinaryContent([]byte{1, 2, 3, 4, 'a'}))
}

func TestHashContent(t *testing.T) {
	h := HashContent([]byte("hello"))
	assert.Len(t, h, 16)
	assert.Equal(t, h, HashContent([]byte("hello")))
	assert.NotEqual(t, h, HashContent([]byte("world")))
}

func TestWalker(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.md", "# notes")
	writeFile(t, root, "src/main.go", "package main")
	writeFile(t, root, "src/gen.txt", "generated")
	writeFile(t, root, ".hidden/secret.txt", "hidden")
	writeFile(t, root, ".env", "KEY=1")
	writeFile(t, root, "node_modules/pkg/index.js", "x")
	writeFile(t, root, "big.txt", strings.Repeat("x", 2048))
	writeFile(t, root, "blob.bin", "a\x00b")
	writeFile(t, root, ".gitignore", "src/gen.txt\n")

	walk := func(opts WalkOptions) ([]string, WalkStats) {
		opts.Root = root
		w, err := NewWalker(opts)
		require.NoError(t, err)

		var paths []string
		require.NoError(t, w.Walk(func(f File) error {
			assert.NotEmpty(t, f.Hash)
			assert.True(t, filepath.IsAbs(f.Path))
			paths = append(paths, f.RelPath)
			return nil
		}))
		sort.Strings(paths)
		return paths, w.Stats()
	}

	t.Run("applies ignore rules", func(t *testing.T) {
		paths, stats := walk(WalkOptions{
			MaxFileSize:    1024,
			IgnorePatterns: []string{"node_modules/"},
			UseGitignore:   true,
		})
		assert.Equal(t, []string{"notes.md", "src/main.go"}, paths)
		assert.Equal(t, 2, stats.FilesFound)
		assert.Positive(t, stats.FilesSkipped)
		assert.Positive(t, stats.DirsSkipped)
	})

	t.Run("extension filter", func(t *testing.T) {
		paths, _ := walk(WalkOptions{Extensions: []string{"go"}, UseGitignore: true})
		assert.Equal(t, []string{"src/main.go"}, paths)
	})

	t.Run("without gitignore", func(t *testing.T) {
		paths, _ := walk(WalkOptions{MaxFileSize: 1024, IgnorePatterns: []string{"node_modules/"}})
		assert.Contains(t, paths, "src/gen.txt")
	})
}

func TestWalkerErrors(t *testing.T) {
	_, err := NewWalker(WalkOptions{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = NewWalker(WalkOptions{Root: file})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Ingest.ChunkSize = 4
	cfg.Ingest.ChunkOverlap = 1
	return cfg
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.txt", numberedLines(10))
	writeFile(t, root, "docs/b.md", "short note")
	writeFile(t, root, "empty.txt", "\n\n")

	mem := memory.Open(ctx, memory.Options{Logger: log.New(io.Discard)})
	defer mem.Close()

	var calls int
	in := New(mem, testConfig())
	result, err := in.Ingest(ctx, root, Options{
		Workers:    2,
		OnProgress: func(Progress) { calls++ },
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Files)
	assert.Equal(t, 4, result.Chunks)
	assert.Equal(t, 4, result.Added)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Errors)
	assert.Equal(t, 3, calls)

	records, err := mem.ListVectors(ctx)
	require.NoError(t, err)
	byID := map[string]bool{}
	for _, rec := range records {
		byID[rec.ID] = true
		assert.NotEmpty(t, rec.Metadata["hash"])
	}
	assert.True(t, byID["a.txt#0"])
	assert.True(t, byID["a.txt#2"])
	assert.True(t, byID["docs/b.md#0"])

	t.Run("second run skips existing chunks", func(t *testing.T) {
		again, err := in.Ingest(ctx, root, Options{})
		require.NoError(t, err)
		assert.Zero(t, again.Added)
		assert.Equal(t, 4, again.Skipped)
	})
}

func TestIngestCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "content")

	mem := memory.Open(context.Background(), memory.Options{Logger: log.New(io.Discard)})
	defer mem.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(mem, testConfig()).Ingest(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestMissingRoot(t *testing.T) {
	mem := memory.Open(context.Background(), memory.Options{Logger: log.New(io.Discard)})
	defer mem.Close()

	_, err := New(mem, testConfig()).Ingest(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	assert.Error(t, err)
}
