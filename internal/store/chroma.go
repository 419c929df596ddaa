package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ChromaOptions configures a Chroma server or Chroma Cloud connection.
type ChromaOptions struct {
	URL        string
	Tenant     string
	Database   string
	APIKey     string // non-empty for Chroma Cloud
	Collection string
	Client     *http.Client
}

// ChromaBackend maps the Backend contract onto the Chroma v2 REST API.
type ChromaBackend struct {
	baseURL    string
	tenant     string
	database   string
	apiKey     string
	collection string
	client     *http.Client

	mu           sync.RWMutex
	collectionID string

	// addMu serializes adds with caller-supplied ids, since Chroma ignores
	// ids it already holds instead of rejecting them.
	addMu sync.Mutex
}

// chromaCollection is the subset of the collection model we read.
type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaCreateCollectionRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GetOrCreate bool           `json:"get_or_create"`
}

type chromaAddRequest struct {
	IDs        []string         `json:"ids"`
	Embeddings [][]float32      `json:"embeddings"`
	Documents  []string         `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
}

type chromaQueryRequest struct {
	QueryEmbeddings [][]float32 `json:"query_embeddings"`
	NResults        int         `json:"n_results"`
	Include         []string    `json:"include"`
}

type chromaQueryResponse struct {
	IDs        [][]string         `json:"ids"`
	Documents  [][]*string        `json:"documents"`
	Metadatas  [][]map[string]any `json:"metadatas"`
	Embeddings [][][]float32      `json:"embeddings"`
	Distances  [][]float64        `json:"distances"`
}

type chromaGetRequest struct {
	IDs     []string `json:"ids,omitempty"`
	Include []string `json:"include"`
}

type chromaGetResponse struct {
	IDs        []string         `json:"ids"`
	Documents  []*string        `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings"`
}

// NewChromaBackend creates an unconnected Chroma adapter. Call Connect before use.
func NewChromaBackend(opts ChromaOptions) *ChromaBackend {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &ChromaBackend{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		tenant:     opts.Tenant,
		database:   opts.Database,
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		client:     client,
	}
}

// Connect checks that the server is reachable and gets or creates the collection.
func (c *ChromaBackend) Connect(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/v2/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("chroma heartbeat: %w", err)
	}

	if err := c.ensureCollection(ctx); err != nil {
		return err
	}

	log.Debug("Connected to Chroma", "url", c.baseURL, "collection", c.collection, "cloud", c.apiKey != "")
	return nil
}

// ensureCollection gets or creates the named collection and remembers its id.
func (c *ChromaBackend) ensureCollection(ctx context.Context) error {
	var col chromaCollection
	req := chromaCreateCollectionRequest{
		Name:        c.collection,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}
	if err := c.do(ctx, http.MethodPost, c.databasePath()+"/collections", req, &col); err != nil {
		return fmt.Errorf("chroma get or create collection %q: %w", c.collection, err)
	}
	if col.ID == "" {
		return fmt.Errorf("chroma returned collection %q without id", c.collection)
	}

	c.mu.Lock()
	c.collectionID = col.ID
	c.mu.Unlock()
	return nil
}

// Add stores one record. Chroma needs a vector for every item. Caller-supplied
// ids are checked first so a duplicate is reported instead of dropped.
func (c *ChromaBackend) Add(ctx context.Context, rec Record) (Record, error) {
	if !rec.HasEmbedding() {
		return Record{}, ErrNoEmbedding
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	} else {
		c.addMu.Lock()
		defer c.addMu.Unlock()

		exists, err := c.exists(ctx, stored.ID)
		if err != nil {
			return Record{}, err
		}
		if exists {
			return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID)
		}
	}

	req := chromaAddRequest{
		IDs:        []string{stored.ID},
		Embeddings: [][]float32{stored.Embedding},
		Documents:  []string{stored.Text},
		Metadatas:  []map[string]any{chromaMetadata(stored.Metadata)},
	}
	if err := c.do(ctx, http.MethodPost, c.collectionPath()+"/add", req, nil); err != nil {
		return Record{}, fmt.Errorf("chroma add: %w", err)
	}

	return stored, nil
}

// Query runs a nearest-neighbour search. Chroma reports cosine distance,
// which is converted back to similarity.
func (c *ChromaBackend) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if len(embedding) == 0 || k <= 0 {
		return []Match{}, nil
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        k,
		Include:         []string{"documents", "metadatas", "embeddings", "distances"},
	}
	var resp chromaQueryResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath()+"/query", req, &resp); err != nil {
		return nil, fmt.Errorf("chroma query: %w", err)
	}

	matches := []Match{}
	if len(resp.IDs) == 0 {
		return matches, nil
	}

	for i, id := range resp.IDs[0] {
		rec := Record{ID: id, Metadata: map[string]any{}}
		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) && resp.Documents[0][i] != nil {
			rec.Text = *resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) && resp.Metadatas[0][i] != nil {
			rec.Metadata = resp.Metadatas[0][i]
		}
		if len(resp.Embeddings) > 0 && i < len(resp.Embeddings[0]) {
			rec.Embedding = resp.Embeddings[0][i]
		}

		var distance float64
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			distance = resp.Distances[0][i]
		}
		matches = append(matches, Match{Record: rec, Score: 1 - distance})
	}

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// exists reports whether the collection already holds id.
func (c *ChromaBackend) exists(ctx context.Context, id string) (bool, error) {
	req := chromaGetRequest{IDs: []string{id}, Include: []string{}}
	var resp chromaGetResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath()+"/get", req, &resp); err != nil {
		return false, fmt.Errorf("chroma get: %w", err)
	}
	return len(resp.IDs) > 0, nil
}

// List returns every record in the collection in Chroma's native order.
func (c *ChromaBackend) List(ctx context.Context) ([]Record, error) {
	req := chromaGetRequest{Include: []string{"documents", "metadatas", "embeddings"}}
	var resp chromaGetResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath()+"/get", req, &resp); err != nil {
		return nil, fmt.Errorf("chroma get: %w", err)
	}

	records := make([]Record, 0, len(resp.IDs))
	for i, id := range resp.IDs {
		rec := Record{ID: id, Metadata: map[string]any{}}
		if i < len(resp.Documents) && resp.Documents[i] != nil {
			rec.Text = *resp.Documents[i]
		}
		if i < len(resp.Metadatas) && resp.Metadatas[i] != nil {
			rec.Metadata = resp.Metadatas[i]
		}
		if i < len(resp.Embeddings) {
			rec.Embedding = resp.Embeddings[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear deletes the collection and recreates it empty.
func (c *ChromaBackend) Clear(ctx context.Context) error {
	path := c.databasePath() + "/collections/" + url.PathEscape(c.collection)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("chroma delete collection: %w", err)
	}
	return c.ensureCollection(ctx)
}

func (c *ChromaBackend) databasePath() string {
	return fmt.Sprintf("/api/v2/tenants/%s/databases/%s",
		url.PathEscape(c.tenant), url.PathEscape(c.database))
}

func (c *ChromaBackend) collectionPath() string {
	c.mu.RLock()
	id := c.collectionID
	c.mu.RUnlock()
	return c.databasePath() + "/collections/" + url.PathEscape(id)
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *ChromaBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-chroma-token", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("chroma returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if isRejection(resp.StatusCode) {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// isRejection reports whether a status blames the request rather than the
// server. Auth failures and missing collections mean the backend is unusable.
func isRejection(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return status >= 400 && status < 500
}

// chromaMetadata returns metadata Chroma accepts: it rejects empty maps.
func chromaMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	return meta
}
