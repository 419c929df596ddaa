package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/lmem/internal/ingest"
	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/store"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "lmem"
)

// ServerVersion is reported to clients; set from the build version.
var ServerVersion = "dev"

// Memory is the subset of *memory.Store the tools use.
type Memory interface {
	AddVector(ctx context.Context, req memory.AddRequest) (store.Record, error)
	QueryVectors(ctx context.Context, embedding []float32, k int) ([]store.Match, error)
	QueryText(ctx context.Context, text string, k int) ([]store.Match, error)
	ListVectors(ctx context.Context) ([]store.Record, error)
	ClearVectors(ctx context.Context) error
	BuildContext(ctx context.Context, text string, k int) (string, error)
	Stats() memory.Stats
}

// Ingester loads a directory into memory. *ingest.Ingester satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, root string, opts ingest.Options) (ingest.Progress, error)
}

// Server answers MCP requests read line by line from r. Tool calls run
// concurrently; responses are written whole, one per line.
type Server struct {
	mem      Memory
	ingester Ingester // optional

	reader *bufio.Reader
	writer io.Writer
	wmu    sync.Mutex

	mu          sync.Mutex
	initialized bool
}

// NewServer creates a server reading from r and writing to w.
func NewServer(mem Memory, ingester Ingester, r io.Reader, w io.Writer) *Server {
	return &Server{
		mem:      mem,
		ingester: ingester,
		reader:   bufio.NewReader(r),
		writer:   w,
	}
}

// Run processes requests until EOF or ctx is cancelled, then waits for
// in-flight tool calls.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for {
			line, err := s.reader.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if errors.Is(err, io.EOF) {
					log.Info("MCP server received EOF, shutting down")
					return nil
				}
				return fmt.Errorf("failed to read request: %w", err)
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			var req Request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
				continue
			}

			if req.Method == "tools/call" {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.handleRequest(ctx, req)
				}()
				continue
			}
			s.handleRequest(ctx, req)
		}
	}
}

// handleRequest processes a single MCP request.
func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", req.ID)

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = &ListToolsResult{Tools: tools}
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if err != nil {
		s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}
	s.sendResult(req.ID, result)
}

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      ServerInfo{Name: ServerName, Version: ServerVersion},
	}, nil
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log.Debug("Calling tool", "name", p.Name, "arguments", p.Arguments)

	switch p.Name {
	case "memory_add":
		return s.toolAdd(ctx, p.Arguments), nil
	case "memory_query":
		return s.toolQuery(ctx, p.Arguments), nil
	case "memory_list":
		return s.toolList(ctx), nil
	case "memory_clear":
		return s.toolClear(ctx), nil
	case "memory_context":
		return s.toolContext(ctx, p.Arguments), nil
	case "memory_ingest":
		return s.toolIngest(ctx, p.Arguments), nil
	case "memory_status":
		return jsonResult(s.mem.Stats()), nil
	default:
		return textResult(fmt.Sprintf("Unknown tool: %s", p.Name), true), nil
	}
}

func (s *Server) toolAdd(ctx context.Context, args map[string]any) *CallToolResult {
	req := memory.AddRequest{}
	req.Text, _ = args["text"].(string)
	req.ID, _ = args["id"].(string)
	req.Meta, _ = args["meta"].(map[string]any)

	rec, err := s.mem.AddVector(ctx, req)
	if err != nil {
		return errorResult(err)
	}
	return textResult(fmt.Sprintf("Stored %s (embedded: %t)", rec.ID, rec.HasEmbedding()), false)
}

func (s *Server) toolQuery(ctx context.Context, args map[string]any) *CallToolResult {
	k := intArg(args, "k", 0)

	var (
		matches []store.Match
		err     error
	)
	if embedding := floatsArg(args, "embedding"); len(embedding) > 0 {
		matches, err = s.mem.QueryVectors(ctx, embedding, k)
	} else if text, _ := args["text"].(string); text != "" {
		matches, err = s.mem.QueryText(ctx, text, k)
	} else {
		return textResult("Error: text or embedding is required", true)
	}
	if err != nil {
		return errorResult(err)
	}

	if len(matches) == 0 {
		return textResult("No results found.", false)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d results:\n\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(&sb, "[%d] %s - %.1f%% match\n", i+1, m.Record.ID, m.Score*100)
		sb.WriteString(truncateRunes(m.Record.Text, maxResultText))
		sb.WriteString("\n\n")
	}
	return textResult(sb.String(), false)
}

func (s *Server) toolList(ctx context.Context) *CallToolResult {
	records, err := s.mem.ListVectors(ctx)
	if err != nil {
		return errorResult(err)
	}
	for i := range records {
		records[i].Embedding = nil
	}
	return jsonResult(records)
}

func (s *Server) toolClear(ctx context.Context) *CallToolResult {
	if err := s.mem.ClearVectors(ctx); err != nil {
		return errorResult(err)
	}
	return textResult("Memory cleared.", false)
}

func (s *Server) toolContext(ctx context.Context, args map[string]any) *CallToolResult {
	text, _ := args["text"].(string)
	out, err := s.mem.BuildContext(ctx, text, intArg(args, "k", 0))
	if err != nil {
		return errorResult(err)
	}
	if out == "" {
		return textResult("No relevant memories.", false)
	}
	return textResult(out, false)
}

func (s *Server) toolIngest(ctx context.Context, args map[string]any) *CallToolResult {
	if s.ingester == nil {
		return textResult("Error: ingestion is not available", true)
	}

	path := "."
	if p, ok := args["path"].(string); ok && p != "" {
		path = p
	}

	result, err := s.ingester.Ingest(ctx, path, ingest.Options{})
	if err != nil {
		return errorResult(err)
	}
	return textResult(fmt.Sprintf("Ingested %s: %d files, %d chunks added, %d skipped, %d errors",
		path, result.Files, result.Added, result.Skipped, result.Errors), false)
}

// errorResult reports invalid input verbatim and hides internal failures.
func errorResult(err error) *CallToolResult {
	if errors.Is(err, memory.ErrFallback) {
		log.Error("Tool failed", "error", err)
		return textResult("Error: internal error", true)
	}
	return textResult("Error: "+err.Error(), true)
}

func jsonResult(v any) *CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return textResult("Error: "+err.Error(), true)
	}
	return textResult(string(data), false)
}

// intArg reads a numeric argument sent either as a JSON number or a string.
// maxResultText caps the characters of record text shown per query result.
const maxResultText = 500

// truncateRunes cuts s to at most max characters without splitting a
// multi-byte rune.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatsArg(args map[string]any, key string) []float32 {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}

func (s *Server) sendResult(id any, result any) {
	if id == nil {
		return
	}
	s.send(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(id any, code int, message, data string) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	})
}

// send writes one response line.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	fmt.Fprintln(s.writer, string(data))
}
