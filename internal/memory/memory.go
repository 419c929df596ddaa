// Package memory is the single entry point to vector memory. It hides which
// backend serves a call: a persistent remote backend while it is healthy, and
// the in-process fallback before it connects, when it is not configured, and
// for the rest of the process once it has failed.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/lmem/internal/store"
)

var (
	// ErrEmptyText is returned when a record or query has no text.
	ErrEmptyText = errors.New("text is required")

	// ErrFallback wraps failures of the in-process backend, which has no
	// further degradation path.
	ErrFallback = errors.New("fallback backend failed")
)

// RemoteState tracks the remote backend's lifecycle.
type RemoteState string

const (
	RemoteDisabled    RemoteState = "disabled"
	RemotePending     RemoteState = "pending"
	RemoteAvailable   RemoteState = "available"
	RemoteUnavailable RemoteState = "unavailable"
)

// Embedder produces vectors for text. A nil result means "no embedding".
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// queryEmbedder is implemented by embedders that prefix queries differently.
type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) []float32
}

// Options configures a Store.
type Options struct {
	Embedder     Embedder        // nil stores every record without a vector
	Connector    store.Connector // nil disables the remote backend
	TopK         int
	MirrorWrites bool          // copy successful remote writes into the fallback
	CallTimeout  time.Duration // per remote call, 0 = none
	InitTimeout  time.Duration // remote connect, 0 = none
	Logger       *log.Logger
}

// AddRequest is the input to AddVector.
type AddRequest struct {
	ID   string         `json:"id,omitempty"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Stats describes the store's current routing.
type Stats struct {
	Backend         store.Kind  `json:"backend"`
	Remote          RemoteState `json:"remote"`
	FallbackRecords int         `json:"fallback_records"`
	TopK            int         `json:"top_k"`
	MirrorWrites    bool        `json:"mirror_writes"`
}

// Store routes memory operations to the remote or fallback backend.
// All methods are safe for concurrent use. No lock is held across
// embedding or remote I/O, except that ClearVectors waits for the copy of
// pending writes into a freshly connected remote.
type Store struct {
	fallback    *store.MemoryBackend
	embedder    Embedder
	topK        int
	mirror      bool
	callTimeout time.Duration
	logger      *log.Logger

	mu     sync.RWMutex
	remote store.Backend
	state  RemoteState
	closed bool

	// syncMu orders the handover of pending writes against ClearVectors.
	syncMu sync.Mutex

	ready      chan struct{}
	cancelInit context.CancelFunc
}

// Open creates a store that serves from the fallback immediately and, when a
// connector is configured, connects the remote backend in the background.
func Open(ctx context.Context, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("memory")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 3
	}

	s := &Store{
		fallback:    store.NewMemoryBackend(),
		embedder:    opts.Embedder,
		topK:        topK,
		mirror:      opts.MirrorWrites,
		callTimeout: opts.CallTimeout,
		logger:      logger,
		state:       RemoteDisabled,
		ready:       make(chan struct{}),
	}

	if opts.Connector == nil {
		logger.Debug("Remote backend disabled, using fallback")
		close(s.ready)
		return s
	}

	s.state = RemotePending
	var initCtx context.Context
	if opts.InitTimeout > 0 {
		initCtx, s.cancelInit = context.WithTimeout(ctx, opts.InitTimeout)
	} else {
		initCtx, s.cancelInit = context.WithCancel(ctx)
	}
	go s.connect(initCtx, opts.Connector)

	return s
}

// connect runs the single remote initialization attempt.
func (s *Store) connect(ctx context.Context, connect store.Connector) {
	defer close(s.ready)
	defer s.cancelInit()

	start := time.Now()
	backend, err := connect(ctx)
	if err == nil && backend == nil {
		err = errors.New("connector returned no backend")
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if err != nil {
		s.state = RemoteUnavailable
		s.mu.Unlock()
		s.logger.Warn("Remote backend unavailable, using fallback", "err", err)
		return
	}
	if s.closed {
		s.mu.Unlock()
		closeBackend(backend)
		return
	}

	s.remote = backend
	s.state = RemoteAvailable
	// Pending-state fallback writes hold the read lock, so none is missed here
	pending, _ := s.fallback.List(ctx)
	s.mu.Unlock()

	s.logger.Info("Remote backend connected", "took", time.Since(start).Round(time.Millisecond))
	s.handover(ctx, backend, pending)
}

// handover copies records written to the fallback while the remote was
// connecting, so they stay visible once reads move to the remote. A record
// the remote refuses stays in the fallback only. Any other failure degrades
// the remote, and the fallback still holds every record.
func (s *Store) handover(ctx context.Context, remote store.Backend, pending []store.Record) {
	if len(pending) == 0 {
		return
	}

	copied := 0
	for _, rec := range pending {
		rctx, cancel := s.remoteContext(ctx)
		_, err := remote.Add(rctx, rec)
		cancel()

		switch {
		case err == nil:
			copied++
		case errors.Is(err, store.ErrDuplicateID):
		case errors.Is(err, store.ErrNoEmbedding), errors.Is(err, store.ErrRejected):
			s.logger.Warn("Remote backend refused pending record, keeping it in fallback only", "id", rec.ID, "err", err)
		default:
			s.degrade("handover", err)
			return
		}
	}
	s.logger.Info("Copied pending records to remote backend", "copied", copied, "pending", len(pending))
}

// WaitReady blocks until the remote initialization attempt has finished or
// ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BackendKind reports which backend currently serves operations.
func (s *Store) BackendKind() store.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == RemoteAvailable {
		return store.KindRemote
	}
	return store.KindFallback
}

// RemoteState reports the remote backend's lifecycle state.
func (s *Store) RemoteState() RemoteState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns a snapshot of the store's routing.
func (s *Store) Stats() Stats {
	return Stats{
		Backend:         s.BackendKind(),
		Remote:          s.RemoteState(),
		FallbackRecords: s.fallback.Len(),
		TopK:            s.topK,
		MirrorWrites:    s.mirror,
	}
}

// TopK returns the default result count.
func (s *Store) TopK() int {
	return s.topK
}

// AddVector embeds and stores one record. Only empty text, duplicate
// caller-supplied ids and the caller's own cancellation are reported;
// dependency failures fall back.
func (s *Store) AddVector(ctx context.Context, req AddRequest) (store.Record, error) {
	if strings.TrimSpace(req.Text) == "" {
		return store.Record{}, ErrEmptyText
	}

	rec := store.Record{
		ID:        strings.TrimSpace(req.ID),
		Text:      req.Text,
		Embedding: s.embed(ctx, req.Text),
		Metadata:  req.Meta,
	}

	s.mu.RLock()
	remote := s.remoteLocked()
	if remote == nil {
		// Holding the read lock keeps this write ahead of a remote handover
		stored, err := s.addFallback(ctx, rec)
		s.mu.RUnlock()
		return stored, err
	}
	s.mu.RUnlock()

	rctx, cancel := s.remoteContext(ctx)
	stored, err := remote.Add(rctx, rec)
	cancel()

	switch {
	case err == nil:
		if s.mirror {
			if _, err := s.fallback.Add(ctx, stored); err != nil {
				s.logger.Warn("Failed to mirror record into fallback", "id", stored.ID, "err", err)
			}
		}
		return stored, nil
	case errors.Is(err, store.ErrDuplicateID):
		return store.Record{}, err
	case errors.Is(err, store.ErrNoEmbedding):
		s.logger.Debug("Remote backend needs a vector, storing in fallback", "id", rec.ID)
	case errors.Is(err, store.ErrRejected):
		s.logger.Warn("Remote backend rejected record, storing in fallback", "id", rec.ID, "err", err)
	case ctx.Err() != nil:
		return store.Record{}, ctx.Err()
	default:
		s.degrade("add", err)
	}

	return s.addFallback(ctx, rec)
}

func (s *Store) addFallback(ctx context.Context, rec store.Record) (store.Record, error) {
	stored, err := s.fallback.Add(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return store.Record{}, err
		}
		return store.Record{}, fmt.Errorf("%w: %v", ErrFallback, err)
	}
	return stored, nil
}

// QueryVectors returns the k records most similar to embedding, best first.
// An empty embedding yields no results. k <= 0 uses the default top-k.
func (s *Store) QueryVectors(ctx context.Context, embedding []float32, k int) ([]store.Match, error) {
	if len(embedding) == 0 {
		return []store.Match{}, nil
	}
	if k <= 0 {
		k = s.topK
	}

	if remote := s.activeRemote(); remote != nil {
		rctx, cancel := s.remoteContext(ctx)
		matches, err := remote.Query(rctx, embedding, k)
		cancel()
		switch {
		case err == nil:
			return matches, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, store.ErrRejected):
			s.logger.Warn("Remote backend rejected query, answering from fallback", "err", err)
		default:
			s.degrade("query", err)
		}
	}

	matches, err := s.fallback.Query(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallback, err)
	}
	return matches, nil
}

// QueryText embeds text as a query and runs QueryVectors. Without an
// embedding the result is empty.
func (s *Store) QueryText(ctx context.Context, text string, k int) ([]store.Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	return s.QueryVectors(ctx, s.embedQuery(ctx, text), k)
}

// ListVectors returns every stored record from the active backend.
func (s *Store) ListVectors(ctx context.Context) ([]store.Record, error) {
	if remote := s.activeRemote(); remote != nil {
		rctx, cancel := s.remoteContext(ctx)
		records, err := remote.List(rctx)
		cancel()
		if err == nil {
			return records, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.degrade("list", err)
	}

	records, err := s.fallback.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallback, err)
	}
	return records, nil
}

// ClearVectors empties the remote backend when it is available and always
// empties the fallback.
func (s *Store) ClearVectors(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if remote := s.activeRemote(); remote != nil {
		rctx, cancel := s.remoteContext(ctx)
		err := remote.Clear(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.degrade("clear", err)
		}
	}

	if err := s.fallback.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrFallback, err)
	}
	return nil
}

// Close stops a pending connection attempt and releases the remote backend.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	remote := s.remote
	s.remote = nil
	if s.state == RemoteAvailable {
		s.state = RemoteUnavailable
	}
	cancel := s.cancelInit
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return closeBackend(remote)
}

// activeRemote returns the remote backend if it may serve the next call.
func (s *Store) activeRemote() store.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteLocked()
}

func (s *Store) remoteLocked() store.Backend {
	if s.state != RemoteAvailable {
		return nil
	}
	return s.remote
}

// degrade marks the remote backend unusable for the rest of the process.
func (s *Store) degrade(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != RemoteAvailable {
		s.logger.Warn("Remote backend call failed", "op", op, "err", err)
		return
	}
	s.state = RemoteUnavailable
	s.logger.Warn("Remote backend failed, switching to fallback", "op", op, "err", err)
}

func (s *Store) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout > 0 {
		return context.WithTimeout(ctx, s.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Store) embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	return s.embedder.Embed(ctx, text)
}

func (s *Store) embedQuery(ctx context.Context, text string) []float32 {
	if qe, ok := s.embedder.(queryEmbedder); ok {
		return qe.EmbedQuery(ctx, text)
	}
	return s.embed(ctx, text)
}

func closeBackend(b store.Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
