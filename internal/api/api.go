// Package api exposes vector memory over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/store"
)

// Memory is the subset of *memory.Store the handlers use.
type Memory interface {
	AddVector(ctx context.Context, req memory.AddRequest) (store.Record, error)
	QueryVectors(ctx context.Context, embedding []float32, k int) ([]store.Match, error)
	QueryText(ctx context.Context, text string, k int) ([]store.Match, error)
	ListVectors(ctx context.Context) ([]store.Record, error)
	ClearVectors(ctx context.Context) error
	BuildContext(ctx context.Context, text string, k int) (string, error)
	Stats() memory.Stats
}

// Server serves the memory API.
type Server struct {
	mem    Memory
	logger *log.Logger
	mux    *http.ServeMux
}

// NewServer registers the routes for mem.
func NewServer(mem Memory, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default().WithPrefix("api")
	}

	s := &Server{mem: mem, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/vectors", s.handleAdd)
	s.mux.HandleFunc("GET /api/vectors", s.handleList)
	s.mux.HandleFunc("DELETE /api/vectors", s.handleClear)
	s.mux.HandleFunc("POST /api/vectors/query", s.handleQuery)
	s.mux.HandleFunc("GET /api/vectors/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/context", s.handleContext)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

// ServeHTTP logs each request and dispatches it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// result is the wire shape of a ranked match.
type result struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// handleAdd handles POST /api/vectors
// Request: {"id": "optional", "text": "document text", "meta": {"key": "value"}}
// Response: the stored record
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req memory.AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	rec, err := s.mem.AddVector(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleQuery handles POST /api/vectors/query
// Request: {"embedding": [0.1, ...], "k": 3} or {"text": "query text", "k": 3}
// Response: {"results": [{"id", "text", "score", "metadata"}]}
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Embedding []float32 `json:"embedding,omitempty"`
		Text      string    `json:"text,omitempty"`
		K         int       `json:"k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var (
		matches []store.Match
		err     error
	)
	if len(req.Embedding) == 0 && req.Text != "" {
		matches, err = s.mem.QueryText(r.Context(), req.Text, req.K)
	} else {
		matches, err = s.mem.QueryVectors(r.Context(), req.Embedding, req.K)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]result, 0, len(matches))
	for _, m := range matches {
		results = append(results, result{ID: m.Record.ID, Text: m.Record.Text, Score: m.Score, Metadata: m.Record.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleList handles GET /api/vectors
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	records, err := s.mem.ListVectors(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

// handleClear handles DELETE /api/vectors
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.mem.ClearVectors(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleStatus handles GET /api/vectors/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mem.Stats())
}

// handleContext handles POST /api/context
// Request: {"text": "question", "k": 3}
// Response: {"context": "## Relevant memories ..."}
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
		K    int    `json:"k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	out, err := s.mem.BuildContext(r.Context(), req.Text, req.K)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": out})
}

// writeError maps invalid input to 4xx and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrEmptyText):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicateID):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("Request failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
