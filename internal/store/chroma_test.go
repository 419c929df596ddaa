package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/lmem/internal/similarity"
)

// fakeChroma is a minimal in-memory stand-in for the Chroma v2 REST API.
type fakeChroma struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection // by name
	token       string
	failAll     bool
	requests    []string
}

type fakeCollection struct {
	id    string
	ids   []string
	docs  []string
	metas []map[string]any
	embs  [][]float32
}

func newFakeChroma(t *testing.T) (*fakeChroma, *httptest.Server) {
	f := &fakeChroma{collections: make(map[string]*fakeCollection)}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeChroma) setFailing(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
}

func (f *fakeChroma) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)

	if f.failAll {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	if f.token != "" && r.Header.Get("x-chroma-token") != f.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/api/v2/heartbeat" {
		writeTestJSON(w, map[string]any{"nanosecond heartbeat": 1})
		return
	}

	const prefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.Split(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodPost:
		var req chromaCreateCollectionRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		col, ok := f.collections[req.Name]
		if !ok {
			col = &fakeCollection{id: "col-" + req.Name + "-" + string(rune('a'+len(f.requests)%26))}
			f.collections[req.Name] = col
		}
		writeTestJSON(w, map[string]any{"id": col.id, "name": req.Name})

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if _, ok := f.collections[parts[0]]; !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		delete(f.collections, parts[0])
		writeTestJSON(w, map[string]any{})

	case len(parts) == 2 && r.Method == http.MethodPost:
		col := f.byID(parts[0])
		if col == nil {
			http.Error(w, "collection not found", http.StatusNotFound)
			return
		}
		switch parts[1] {
		case "add":
			var req chromaAddRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			col.ids = append(col.ids, req.IDs...)
			col.docs = append(col.docs, req.Documents...)
			col.metas = append(col.metas, req.Metadatas...)
			col.embs = append(col.embs, req.Embeddings...)
			w.WriteHeader(http.StatusCreated)
			writeTestJSON(w, map[string]any{})
		case "query":
			var req chromaQueryRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.query(w, col, req)
		case "get":
			docs := make([]*string, len(col.docs))
			for i := range col.docs {
				docs[i] = &col.docs[i]
			}
			writeTestJSON(w, chromaGetResponse{IDs: col.ids, Documents: docs, Metadatas: col.metas, Embeddings: col.embs})
		default:
			http.NotFound(w, r)
		}

	default:
		http.NotFound(w, r)
	}
}

func (c *fakeCollection) dims() int {
	if len(c.embs) == 0 {
		return 0
	}
	return len(c.embs[0])
}

func (c *fakeCollection) indexOf(id string) int {
	return slices.Index(c.ids, id)
}

func (f *fakeChroma) byID(id string) *fakeCollection {
	for _, col := range f.collections {
		if col.id == id {
			return col
		}
	}
	return nil
}

func (f *fakeChroma) query(w http.ResponseWriter, col *fakeCollection, req chromaQueryRequest) {
	type hit struct {
		idx      int
		distance float64
	}
	hits := make([]hit, 0, len(col.ids))
	for i := range col.ids {
		hits = append(hits, hit{i, 1 - similarity.Cosine(req.QueryEmbeddings[0], col.embs[i])})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if len(hits) > req.NResults {
		hits = hits[:req.NResults]
	}

	resp := chromaQueryResponse{
		IDs:        [][]string{{}},
		Documents:  [][]*string{{}},
		Metadatas:  [][]map[string]any{{}},
		Embeddings: [][][]float32{{}},
		Distances:  [][]float64{{}},
	}
	for _, h := range hits {
		resp.IDs[0] = append(resp.IDs[0], col.ids[h.idx])
		resp.Documents[0] = append(resp.Documents[0], &col.docs[h.idx])
		resp.Metadatas[0] = append(resp.Metadatas[0], col.metas[h.idx])
		resp.Embeddings[0] = append(resp.Embeddings[0], col.embs[h.idx])
		resp.Distances[0] = append(resp.Distances[0], h.distance)
	}
	writeTestJSON(w, resp)
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func connectTestChroma(t *testing.T, srv *httptest.Server, apiKey string) *ChromaBackend {
	t.Helper()
	b := NewChromaBackend(ChromaOptions{
		URL:        srv.URL,
		Tenant:     "default_tenant",
		Database:   "default_database",
		APIKey:     apiKey,
		Collection: "memories",
	})
	require.NoError(t, b.Connect(context.Background()))
	return b
}

func TestChromaConnectCreatesCollection(t *testing.T) {
	f, srv := newFakeChroma(t)
	connectTestChroma(t, srv, "")

	assert.Contains(t, f.collections, "memories")
	assert.Equal(t, "GET /api/v2/heartbeat", f.requests[0])
}

func TestChromaConnectFailure(t *testing.T) {
	f, srv := newFakeChroma(t)
	f.setFailing(true)

	b := NewChromaBackend(ChromaOptions{URL: srv.URL, Tenant: "default_tenant", Database: "default_database", Collection: "memories"})
	err := b.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat")
}

func TestChromaConnectUnreachable(t *testing.T) {
	b := NewChromaBackend(ChromaOptions{URL: "http://127.0.0.1:1", Tenant: "t", Database: "d", Collection: "c"})
	assert.Error(t, b.Connect(context.Background()))
}

func TestChromaCloudToken(t *testing.T) {
	f, srv := newFakeChroma(t)
	f.token = "ck-secret"

	bad := NewChromaBackend(ChromaOptions{URL: srv.URL, Tenant: "default_tenant", Database: "default_database", Collection: "memories"})
	assert.Error(t, bad.Connect(context.Background()))

	connectTestChroma(t, srv, "ck-secret")
}

func TestChromaRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeChroma(t)
	b := connectTestChroma(t, srv, "")

	cats, err := b.Add(ctx, Record{Text: "cats", Embedding: []float32{1, 0.1, 0}, Metadata: map[string]any{"topic": "pets"}})
	require.NoError(t, err)
	assert.NotEmpty(t, cats.ID)

	_, err = b.Add(ctx, Record{ID: "dogs", Text: "dogs", Embedding: []float32{0.8, 0.5, 0}})
	require.NoError(t, err)
	_, err = b.Add(ctx, Record{ID: "rockets", Text: "rockets", Embedding: []float32{0, 0, 1}})
	require.NoError(t, err)

	matches, err := b.Query(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "cats", matches[0].Record.Text)
	assert.Equal(t, "pets", matches[0].Record.Metadata["topic"])
	assert.Equal(t, "dogs", matches[1].Record.ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)

	list, err := b.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	require.NoError(t, b.Clear(ctx))
	list, err = b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestChromaRejectsMissingEmbedding(t *testing.T) {
	_, srv := newFakeChroma(t)
	b := connectTestChroma(t, srv, "")

	_, err := b.Add(context.Background(), Record{Text: "no vector"})
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestChromaQueryNilEmbedding(t *testing.T) {
	f, srv := newFakeChroma(t)
	b := connectTestChroma(t, srv, "")
	before := len(f.requests)

	matches, err := b.Query(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, before, len(f.requests), "no request for an absent embedding")
}

func TestChromaErrorsSurface(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeChroma(t)
	b := connectTestChroma(t, srv, "")
	f.setFailing(true)

	_, err := b.Add(ctx, Record{Text: "x", Embedding: []float32{1}})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected, "server errors are not rejections")
	_, err = b.Query(ctx, []float32{1}, 1)
	assert.Error(t, err)
	_, err = b.Add(ctx, Record{ID: "taken", Text: "x", Embedding: []float32{1}})
	assert.Error(t, err)
	_, err = b.List(ctx)
	assert.Error(t, err)
	assert.Error(t, b.Clear(ctx))
}

func TestChromaDuplicateID(t *testing.T) {
	ctx := context.Background()
	f, srv := newFakeChroma(t)
	b := connectTestChroma(t, srv, "")

	_, err := b.Add(ctx, Record{ID: "a", Text: "first", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	_, err = b.Add(ctx, Record{ID: "a", Text: "second", Embedding: []float32{0, 1}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	list, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "first", list[0].Text)
	assert.Len(t, f.collections["memories"].ids, 1)
}

func TestChromaRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeChroma(t)
	b := connectTestChroma(t, srv, "")

	_, err := b.Add(ctx, Record{ID: "a", Text: "three dims", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)

	_, err = b.Add(ctx, Record{Text: "two dims", Embedding: []float32{1, 0}})
	assert.ErrorIs(t, err, ErrRejected)

	_, err = b.Query(ctx, []float32{1, 0}, 2)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestChromaRejectionStatus(t *testing.T) {
	assert.True(t, isRejection(http.StatusBadRequest))
	assert.True(t, isRejection(http.StatusUnprocessableEntity))
	assert.False(t, isRejection(http.StatusUnauthorized))
	assert.False(t, isRejection(http.StatusForbidden))
	assert.False(t, isRejection(http.StatusNotFound))
	assert.False(t, isRejection(http.StatusInternalServerError))
}
