// Package store provides the storage backends behind the vector memory:
// an in-process fallback and persistent remote adapters (Chroma, SQLite + sqlite-vec).
package store

import (
	"errors"
	"maps"
	"slices"
)

// Kind identifies which backend served an operation.
type Kind string

const (
	KindFallback Kind = "fallback"
	KindRemote   Kind = "remote"
)

var (
	// ErrDuplicateID is returned when a caller-supplied id is already stored.
	ErrDuplicateID = errors.New("record id already exists")

	// ErrNoEmbedding is returned by backends that cannot persist a record without a vector.
	ErrNoEmbedding = errors.New("record has no embedding")

	// ErrRejected is returned when a backend refuses one request because of
	// its input, such as a vector of the wrong dimensions. The backend
	// itself is still healthy.
	ErrRejected = errors.New("request rejected by backend")
)

// Record is one stored document.
type Record struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// HasEmbedding reports whether the record carries a vector.
func (r Record) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r Record) Clone() Record {
	c := r
	c.Embedding = slices.Clone(r.Embedding)
	if r.Metadata != nil {
		c.Metadata = maps.Clone(r.Metadata)
	} else {
		c.Metadata = map[string]any{}
	}
	return c
}

// Match is a record paired with its similarity to a query vector.
type Match struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}
