package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/lmem/internal/config"
	"github.com/nickcecere/lmem/internal/ingest"
	"github.com/nickcecere/lmem/internal/memory"
)

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(ctx context.Context, text string) []float32 {
	return m[text]
}

func newTestMemory(t *testing.T) *memory.Store {
	t.Helper()
	mem := memory.Open(context.Background(), memory.Options{
		Embedder: mapEmbedder{
			"cats":    {1, 0.1, 0},
			"dogs":    {0.8, 0.5, 0},
			"rockets": {0, 0, 1},
			"kitten":  {0.95, 0.05, 0},
		},
		Logger: log.New(io.Discard),
	})
	t.Cleanup(func() { mem.Close() })
	return mem
}

// runSession feeds requests to a server and returns its responses by id.
func runSession(t *testing.T, s *Server, requests ...string) map[float64]Response {
	t.Helper()
	s.reader = bufio.NewReader(strings.NewReader(strings.Join(requests, "\n") + "\n"))
	var out bytes.Buffer
	s.writer = &out

	require.NoError(t, s.Run(context.Background()))

	responses := map[float64]Response{}
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		id, _ := resp.ID.(float64)
		responses[id] = resp
	}
	return responses
}

func call(id int, tool string, args map[string]any) string {
	b, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})
	return string(b)
}

// toolText extracts the text block of a tools/call response.
func toolText(t *testing.T, resp Response) (string, bool) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var result CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)
	return result.Content[0].Text, result.IsError
}

func TestInitializeAndListTools(t *testing.T) {
	s := NewServer(newTestMemory(t), nil, nil, nil)

	responses := runSession(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":4,"method":"bogus"}`,
	)

	require.Len(t, responses, 4)
	assert.True(t, s.initialized)

	raw, _ := json.Marshal(responses[1].Result)
	var init InitializeResult
	require.NoError(t, json.Unmarshal(raw, &init))
	assert.Equal(t, ServerName, init.ServerInfo.Name)
	assert.NotNil(t, init.Capabilities.Tools)

	raw, _ = json.Marshal(responses[2].Result)
	var list ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &list))
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.Subset(t, names, []string{"memory_add", "memory_query", "memory_list", "memory_clear"})

	require.NotNil(t, responses[4].Error)
	assert.Equal(t, ErrorCodeMethodNotFound, responses[4].Error.Code)
}

func TestParseError(t *testing.T) {
	s := NewServer(newTestMemory(t), nil, nil, nil)
	responses := runSession(t, s, `{not json`)

	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, ErrorCodeParse, responses[0].Error.Code)
}

func TestMemoryTools(t *testing.T) {
	mem := newTestMemory(t)

	// Adds run concurrently, so seed them in their own session
	responses := runSession(t, NewServer(mem, nil, nil, nil),
		call(1, "memory_add", map[string]any{"text": "cats", "id": "c"}),
		call(2, "memory_add", map[string]any{"text": "dogs", "meta": map[string]any{"k": "v"}}),
		call(3, "memory_add", map[string]any{"text": "rockets"}),
		call(4, "memory_add", map[string]any{"text": "  "}),
	)
	text, isErr := toolText(t, responses[1])
	assert.False(t, isErr)
	assert.Contains(t, text, "Stored c (embedded: true)")
	_, isErr = toolText(t, responses[4])
	assert.True(t, isErr)

	responses = runSession(t, NewServer(mem, nil, nil, nil),
		call(1, "memory_query", map[string]any{"text": "kitten", "k": 2}),
		call(2, "memory_query", map[string]any{"embedding": []float32{0, 0, 1}, "k": "1"}),
		call(3, "memory_query", map[string]any{}),
		call(4, "memory_list", nil),
		call(5, "memory_context", map[string]any{"text": "kitten"}),
		call(6, "memory_status", nil),
		call(7, "nope", nil),
	)

	text, _ = toolText(t, responses[1])
	assert.Contains(t, text, "Found 2 results")
	assert.Less(t, strings.Index(text, "cats"), strings.Index(text, "dogs"))

	text, _ = toolText(t, responses[2])
	assert.Contains(t, text, "rockets")

	_, isErr = toolText(t, responses[3])
	assert.True(t, isErr)

	text, _ = toolText(t, responses[4])
	assert.Contains(t, text, `"c"`)
	assert.NotContains(t, text, "embedding")

	text, _ = toolText(t, responses[5])
	assert.Contains(t, text, "> cats")

	text, _ = toolText(t, responses[6])
	assert.Contains(t, text, `"backend": "fallback"`)

	text, isErr = toolText(t, responses[7])
	assert.True(t, isErr)
	assert.Contains(t, text, "Unknown tool")

	responses = runSession(t, NewServer(mem, nil, nil, nil),
		call(1, "memory_clear", nil),
	)
	text, _ = toolText(t, responses[1])
	assert.Equal(t, "Memory cleared.", text)

	records, err := mem.ListVectors(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestTool(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("remember the milk"), 0644))

	mem := newTestMemory(t)
	s := NewServer(mem, ingest.New(mem, config.DefaultConfig()), nil, nil)

	responses := runSession(t, s, call(1, "memory_ingest", map[string]any{"path": root}))
	text, isErr := toolText(t, responses[1])
	assert.False(t, isErr)
	assert.Contains(t, text, "1 chunks added")

	t.Run("unavailable without ingester", func(t *testing.T) {
		responses := runSession(t, NewServer(mem, nil, nil, nil), call(1, "memory_ingest", nil))
		_, isErr := toolText(t, responses[1])
		assert.True(t, isErr)
	})
}

func TestConcurrentWritesStayLineDelimited(t *testing.T) {
	mem := newTestMemory(t)

	var requests []string
	for i := 1; i <= 50; i++ {
		requests = append(requests, call(i, "memory_add", map[string]any{"text": "note"}))
	}
	responses := runSession(t, NewServer(mem, nil, nil, nil), requests...)
	assert.Len(t, responses, 50)

	records, err := mem.ListVectors(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 50)
}

func TestRunStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := NewServer(newTestMemory(t), nil, pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		err = s.Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIntArg(t *testing.T) {
	args := map[string]any{"a": float64(4), "b": "7", "c": "x"}
	assert.Equal(t, 4, intArg(args, "a", 0))
	assert.Equal(t, 7, intArg(args, "b", 0))
	assert.Equal(t, 9, intArg(args, "c", 9))
	assert.Equal(t, 9, intArg(args, "missing", 9))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 10))

	text := strings.Repeat("é", 600)
	out := truncateRunes(text, maxResultText)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, strings.Repeat("é", maxResultText)+"...", out)

	mixed := strings.Repeat("a", 499) + "日本"
	assert.Equal(t, strings.Repeat("a", 499)+"日...", truncateRunes(mixed, maxResultText))
}
