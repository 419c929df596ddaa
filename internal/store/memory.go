package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nickcecere/lmem/internal/similarity"
)

// MemoryBackend is the in-process fallback. Records live in insertion order
// for the lifetime of the process.
type MemoryBackend struct {
	records []Record
	ids     map[string]struct{}
	seq     uint64
	mu      sync.RWMutex
}

// NewMemoryBackend creates an empty fallback backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		ids: make(map[string]struct{}),
	}
}

// Add appends a record. Generated ids are assigned inside the critical
// section, so concurrent adds never observe the same sequence number.
func (m *MemoryBackend) Add(ctx context.Context, rec Record) (Record, error) {
	stored := rec.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	if stored.ID == "" {
		for {
			m.seq++
			stored.ID = fmt.Sprintf("vec-%d", m.seq)
			if _, taken := m.ids[stored.ID]; !taken {
				break
			}
		}
	} else if _, taken := m.ids[stored.ID]; taken {
		return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID)
	}

	m.ids[stored.ID] = struct{}{}
	m.records = append(m.records, stored)

	return stored.Clone(), nil
}

// Query scores every record against embedding and returns the best k.
// Ties keep insertion order. Records without a comparable vector are skipped.
func (m *MemoryBackend) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if len(embedding) == 0 || k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.records))
	for _, rec := range m.records {
		score := similarity.Cosine(embedding, rec.Embedding)
		if !similarity.Comparable(score) {
			continue
		}
		matches = append(matches, Match{Record: rec.Clone(), Score: score})
	}
	m.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// List returns a copy of all records in insertion order.
func (m *MemoryBackend) List(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Clear drops every record. The id sequence keeps counting so ids are never reused.
func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.ids = make(map[string]struct{})
	return nil
}

// Len returns the number of stored records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
