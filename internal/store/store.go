package store

import "context"

// Backend is the storage capability shared by the fallback and remote variants.
type Backend interface {
	// Add persists the record, assigning an id when it has none, and returns
	// the stored form.
	Add(ctx context.Context, rec Record) (Record, error)

	// Query returns up to k records ordered by descending similarity to
	// embedding. A nil embedding yields no matches.
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// List returns every stored record in backend-defined order.
	List(ctx context.Context) ([]Record, error)

	// Clear removes all records.
	Clear(ctx context.Context) error
}

// Connector opens a remote backend. It is called once, at startup.
type Connector func(ctx context.Context) (Backend, error)
