package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/nickcecere/lmem/internal/store"
)

// BuildContext retrieves the records closest to text and formats them as a
// numbered block for a chat prompt. It returns "" when nothing matches.
func (s *Store) BuildContext(ctx context.Context, text string, k int) (string, error) {
	matches, err := s.QueryText(ctx, text, k)
	if err != nil {
		return "", err
	}
	return FormatContext(matches), nil
}

// FormatContext renders ranked matches as a Markdown list.
func FormatContext(matches []store.Match) string {
	if len(matches) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Relevant memories\n\n")
	for i, m := range matches {
		fmt.Fprintf(&sb, "%d. **%s** (score %.3f)\n", i+1, m.Record.ID, m.Score)
		for _, line := range strings.Split(strings.TrimSpace(m.Record.Text), "\n") {
			sb.WriteString("   > ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
