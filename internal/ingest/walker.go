package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// File is a text file selected for ingestion.
type File struct {
	Path    string // absolute
	RelPath string // slash-separated, relative to the walk root
	Size    int64
	ModTime time.Time
	Hash    string // xxhash of the contents
}

// WalkStats counts what a walk visited.
type WalkStats struct {
	FilesFound   int
	FilesSkipped int
	DirsSkipped  int
	TotalBytes   int64
}

// WalkOptions configures a Walker.
type WalkOptions struct {
	Root           string
	MaxFileSize    int64
	IgnorePatterns []string // gitignore syntax
	IncludeHidden  bool
	UseGitignore   bool
	Extensions     []string // empty means every text file
}

// matcher is satisfied by *gitignore.GitIgnore.
type matcher interface {
	MatchesPath(path string) bool
}

type anyMatcher []matcher

func (m anyMatcher) MatchesPath(path string) bool {
	for _, mm := range m {
		if mm.MatchesPath(path) {
			return true
		}
	}
	return false
}

// Walker selects the text files under a root directory.
type Walker struct {
	opts    WalkOptions
	ignorer matcher
	extSet  map[string]bool
	stats   WalkStats
}

// NewWalker validates the root and compiles ignore rules.
func NewWalker(opts WalkOptions) (*Walker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}
	opts.Root = root

	w := &Walker{opts: opts}

	if len(opts.Extensions) > 0 {
		w.extSet = make(map[string]bool, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			w.extSet[strings.ToLower(ext)] = true
		}
	}

	matchers := anyMatcher{gitignore.CompileIgnoreLines(opts.IgnorePatterns...)}
	if opts.UseGitignore {
		path := filepath.Join(root, ".gitignore")
		if _, err := os.Stat(path); err == nil {
			gi, err := gitignore.CompileIgnoreFile(path)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", path, "error", err)
			} else {
				matchers = append(matchers, gi)
			}
		}
	}
	w.ignorer = matchers

	return w, nil
}

// Root returns the absolute walk root.
func (w *Walker) Root() string {
	return w.opts.Root
}

// Stats returns counts from the last Walk.
func (w *Walker) Stats() WalkStats {
	return w.stats
}

// Walk calls fn for every selected file in lexical order. It stops at the
// first error returned by fn.
func (w *Walker) Walk(fn func(File) error) error {
	w.stats = WalkStats{}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}
		if path == w.opts.Root {
			return nil
		}

		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if w.skipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || w.skipFile(d.Name(), relPath) {
			w.stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}
		if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
			w.stats.FilesSkipped++
			return nil
		}
		if binary, err := isBinaryFile(path); err != nil || binary {
			w.stats.FilesSkipped++
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			log.Debug("Failed to hash file", "path", path, "error", err)
			return nil
		}

		w.stats.FilesFound++
		w.stats.TotalBytes += info.Size()

		return fn(File{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Hash:    hash,
		})
	})
}

func (w *Walker) skipDir(name, relPath string) bool {
	if name == ".git" {
		return true
	}
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath + "/")
}

func (w *Walker) skipFile(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	if w.extSet != nil && !w.extSet[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return w.ignorer.MatchesPath(relPath)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashContent returns the xxhash of content as 16 hex digits.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	return isBinaryContent(buf[:n]), nil
}

// isBinaryContent treats NUL bytes or >30% control characters as binary.
func isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	control := 0
	for _, b := range content {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			control++
		}
	}
	return float64(control)/float64(len(content)) > 0.3
}
