package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// maxKNN is the largest k sqlite-vec accepts in a KNN query.
const maxKNN = 4096

func init() {
	// Register sqlite-vec extension
	sqlite_vec.Auto()
}

// SQLiteBackend is a persistent local backend built on SQLite and sqlite-vec.
// Each named collection gets its own vec0 table sized by its first embedding.
type SQLiteBackend struct {
	db           *sql.DB
	collectionID int64
	dimensions   int
	mu           sync.RWMutex
}

// NewSQLiteBackend opens (or creates) the database at dbPath and selects the named collection.
func NewSQLiteBackend(ctx context.Context, dbPath, collection string) (*SQLiteBackend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps transactions and vec0 writes serialized
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.selectCollection(ctx, collection); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("Opened SQLite backend", "path", dbPath, "collection", collection, "dimensions", b.dimensions)

	return b, nil
}

// selectCollection gets or creates the collection row.
func (b *SQLiteBackend) selectCollection(ctx context.Context, name string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := b.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO collections (name, created_at) VALUES (?, ?)", name, now); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	err := b.db.QueryRowContext(ctx,
		"SELECT id, dimensions FROM collections WHERE name = ?", name,
	).Scan(&b.collectionID, &b.dimensions)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Add inserts a record and, when it has one, its vector.
func (b *SQLiteBackend) Add(ctx context.Context, rec Record) (Record, error) {
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	metaJSON, err := json.Marshal(stored.Metadata)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode metadata: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var blob []byte
	if stored.HasEmbedding() {
		blob = serializeEmbedding(stored.Embedding)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO records (collection_id, external_id, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.collectionID, stored.ID, stored.Text, string(metaJSON), blob, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrDuplicateID, stored.ID)
		}
		return Record{}, fmt.Errorf("failed to insert record: %w", err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("failed to get record ID: %w", err)
	}

	dims := b.dimensions
	if stored.HasEmbedding() {
		if dims == 0 {
			dims = len(stored.Embedding)
			if err := createVectorTable(tx, b.collectionID, dims); err != nil {
				return Record{}, fmt.Errorf("failed to create vector table: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE collections SET dimensions = ? WHERE id = ?", dims, b.collectionID); err != nil {
				return Record{}, fmt.Errorf("failed to record dimensions: %w", err)
			}
			log.Debug("Created vector table", "collection", b.collectionID, "dimensions", dims)
		} else if dims != len(stored.Embedding) {
			return Record{}, fmt.Errorf("embedding has %d dimensions, collection expects %d", len(stored.Embedding), dims)
		}

		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (record_id, embedding) VALUES (?, ?)", vectorTableName(b.collectionID)),
			rowID, blob)
		if err != nil {
			return Record{}, fmt.Errorf("failed to insert vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("failed to commit record: %w", err)
	}
	b.dimensions = dims

	return stored, nil
}

// Query performs a KNN search through sqlite-vec. A query whose dimensions
// differ from the collection's compares with nothing and matches nothing.
func (b *SQLiteBackend) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if len(embedding) == 0 || k <= 0 {
		return []Match{}, nil
	}
	if k > maxKNN {
		k = maxKNN
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.dimensions == 0 || len(embedding) != b.dimensions {
		return []Match{}, nil
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.external_id, r.content, r.metadata, r.embedding, v.distance
		FROM %s v
		JOIN records r ON r.id = v.record_id
		WHERE v.embedding MATCH ?
			AND k = ?
		ORDER BY v.distance ASC, r.id ASC
	`, vectorTableName(b.collectionID)), serializeEmbedding(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var rec Record
		var metaJSON string
		var blob []byte
		var distance float64

		if err := rows.Scan(&rec.ID, &rec.Text, &metaJSON, &blob, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		rec.Metadata = decodeMetadata(metaJSON)
		rec.Embedding = deserializeEmbedding(blob)

		matches = append(matches, Match{Record: rec, Score: 1 - distance})
	}

	return matches, rows.Err()
}

// List returns the collection's records in insertion order.
func (b *SQLiteBackend) List(ctx context.Context) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, err := b.db.QueryContext(ctx, `
		SELECT external_id, content, metadata, embedding
		FROM records WHERE collection_id = ? ORDER BY id
	`, b.collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var metaJSON string
		var blob []byte

		if err := rows.Scan(&rec.ID, &rec.Text, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Metadata = decodeMetadata(metaJSON)
		rec.Embedding = deserializeEmbedding(blob)

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Clear removes the collection's records and its vector table. The next
// embedded record may use different dimensions.
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := dropVectorTable(tx, b.collectionID); err != nil {
		return fmt.Errorf("failed to drop vectors: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE collection_id = ?", b.collectionID); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE collections SET dimensions = 0 WHERE id = ?", b.collectionID); err != nil {
		return fmt.Errorf("failed to reset dimensions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	b.dimensions = 0
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// decodeMetadata parses stored metadata, tolerating corrupt rows.
func decodeMetadata(raw string) map[string]any {
	meta := map[string]any{}
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta == nil {
		return map[string]any{}
	}
	return meta
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding is the inverse of serializeEmbedding.
func deserializeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
