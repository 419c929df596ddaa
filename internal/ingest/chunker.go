package ingest

import "strings"

// Chunk is a run of lines from one file.
type Chunk struct {
	Index     int
	Content   string
	StartLine int // 1-indexed
	EndLine   int // inclusive
}

// Chunker splits text into fixed-size line windows that overlap.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker producing size-line chunks that share
// overlap lines with their predecessor. Out-of-range values are clamped.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 40
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits content. Chunks containing only whitespace are dropped;
// Index stays contiguous over the chunks that are kept.
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimRight(content, "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	step := c.size - c.overlap

	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := min(start+c.size, len(lines))

		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Index:     len(chunks),
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
