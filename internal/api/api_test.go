package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/lmem/internal/memory"
	"github.com/nickcecere/lmem/internal/store"
)

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(ctx context.Context, text string) []float32 {
	return m[text]
}

func newTestServer(t *testing.T) *Server {
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
	return NewServer(mem, log.New(io.Discard))
}

// jsonBody encodes v as JSON for a request body.
func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = jsonBody(t, body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func TestAdd(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/vectors", map[string]any{"text": "cats", "meta": map[string]any{"k": "v"}})
	require.Equal(t, http.StatusCreated, rec.Code)

	var stored store.Record
	decodeJSON(t, rec, &stored)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "cats", stored.Text)
	assert.Len(t, stored.Embedding, 3)
	assert.Equal(t, "v", stored.Metadata["k"])
}

func TestAddValidation(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing text", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/vectors", map[string]any{"meta": map[string]any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]string
		decodeJSON(t, rec, &resp)
		assert.Contains(t, resp["error"], "text is required")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/vectors", bytes.NewReader([]byte("{bad"))))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate id", func(t *testing.T) {
		require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/vectors", map[string]any{"id": "x", "text": "one"}).Code)
		assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/api/vectors", map[string]any{"id": "x", "text": "two"}).Code)
	})
}

func TestQuery(t *testing.T) {
	s := newTestServer(t)
	for _, text := range []string{"cats", "dogs", "rockets"} {
		require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/vectors", map[string]any{"text": text}).Code)
	}

	type queryResponse struct {
		Results []result `json:"results"`
	}

	t.Run("by embedding", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/vectors/query", map[string]any{"embedding": []float32{1, 0, 0}, "k": 2})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp queryResponse
		decodeJSON(t, rec, &resp)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "cats", resp.Results[0].Text)
		assert.Equal(t, "dogs", resp.Results[1].Text)
		assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	})

	t.Run("by text", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/vectors/query", map[string]any{"text": "kitten", "k": 1})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp queryResponse
		decodeJSON(t, rec, &resp)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "cats", resp.Results[0].Text)
	})

	t.Run("absent embedding", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/vectors/query", map[string]any{"k": 5})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"results": []}`, rec.Body.String())
	})
}

func TestListAndClear(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/vectors", map[string]any{"text": "cats"})
	do(t, s, http.MethodPost, "/api/vectors", map[string]any{"text": "dogs"})

	rec := do(t, s, http.MethodGet, "/api/vectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Records []store.Record `json:"records"`
		Count   int            `json:"count"`
	}
	decodeJSON(t, rec, &list)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "cats", list.Records[0].Text)

	rec = do(t, s, http.MethodDelete, "/api/vectors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success": true}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/vectors", nil)
	decodeJSON(t, rec, &list)
	assert.Zero(t, list.Count)
	assert.Empty(t, list.Records)
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/vectors/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats memory.Stats
	decodeJSON(t, rec, &stats)
	assert.Equal(t, store.KindFallback, stats.Backend)
	assert.Equal(t, memory.RemoteDisabled, stats.Remote)
}

func TestContext(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/api/vectors", map[string]any{"text": "cats"})

	rec := do(t, s, http.MethodPost, "/api/context", map[string]any{"text": "kitten"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp["context"], "> cats")

	rec = do(t, s, http.MethodPost, "/api/context", map[string]any{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodPut, "/api/vectors", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// brokenMemory fails every call as if the fallback itself were broken.
type brokenMemory struct{}

func (brokenMemory) AddVector(ctx context.Context, req memory.AddRequest) (store.Record, error) {
	return store.Record{}, memory.ErrFallback
}

func (brokenMemory) QueryVectors(ctx context.Context, embedding []float32, k int) ([]store.Match, error) {
	return nil, memory.ErrFallback
}

func (brokenMemory) QueryText(ctx context.Context, text string, k int) ([]store.Match, error) {
	return nil, memory.ErrFallback
}

func (brokenMemory) ListVectors(ctx context.Context) ([]store.Record, error) {
	return nil, memory.ErrFallback
}

func (brokenMemory) ClearVectors(ctx context.Context) error {
	return memory.ErrFallback
}

func (brokenMemory) BuildContext(ctx context.Context, text string, k int) (string, error) {
	return "", memory.ErrFallback
}

func (brokenMemory) Stats() memory.Stats {
	return memory.Stats{}
}

func TestInternalErrorIsHidden(t *testing.T) {
	s := NewServer(brokenMemory{}, log.New(io.Discard))

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/vectors", map[string]any{"text": "x"}},
		{http.MethodPost, "/api/vectors/query", map[string]any{"embedding": []float32{1}}},
		{http.MethodGet, "/api/vectors", nil},
		{http.MethodDelete, "/api/vectors", nil},
	} {
		rec := do(t, s, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tc.method+" "+tc.path)

		var resp map[string]string
		decodeJSON(t, rec, &resp)
		assert.Equal(t, "internal error", resp["error"])
	}
}

func TestListenAndServeShutdown(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	assert.NoError(t, <-done)
}
