package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/contract"
	"github.com/custodia-labs/kbase/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// DefaultFileName is the database file created inside the data directory.
const DefaultFileName = "kbase.db"

const settingDimensions = "dimensions"

// Store is a SQLite-based storage that provides the document store and the
// embedding cache through wrapper types.
type Store struct {
	db     *sql.DB
	path   string
	writes *contract.KeyedMutex

	dimMu sync.RWMutex
	dim   int

	// adoptMu serialises writes while the dimension is still unknown.
	adoptMu sync.Mutex
}

// NewStore opens (creating if needed) the database at dbPath.
// If dbPath is empty, defaults to ~/.kbase/data/kbase.db.
//
// dim is the configured vector dimension. It is persisted on first use; a
// later open with a different non-zero dimension fails with
// domain.ErrDimensionMismatch. Zero accepts whatever the database holds.
func NewStore(dbPath string, dim int) (*Store, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".kbase", "data", DefaultFileName)
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL for concurrent readers; foreign keys on every pooled connection.
	// Transactions take the write lock up front so read-then-write
	// sequences wait on busy_timeout instead of failing with a stale snapshot.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:     db,
		path:   dbPath,
		writes: contract.NewKeyedMutex(),
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.loadDimensions(dim); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// EmbeddingCache returns an EmbeddingCache keeping at most capacity entries.
func (s *Store) EmbeddingCache(capacity int) driven.EmbeddingCache {
	if capacity <= 0 {
		capacity = domain.DefaultCacheSize
	}
	return &embeddingCache{store: s, capacity: capacity}
}

// migrate runs all pending migrations, each in its own transaction.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_documents.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}

	return nil
}

// loadDimensions reconciles the configured dimension with the persisted one.
func (s *Store) loadDimensions(configured int) error {
	var value string
	err := s.db.QueryRow("SELECT value FROM store_settings WHERE key = ?", settingDimensions).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if configured > 0 {
			if _, err := s.db.Exec("INSERT INTO store_settings (key, value) VALUES (?, ?)",
				settingDimensions, strconv.Itoa(configured)); err != nil {
				return fmt.Errorf("persisting dimensions: %w", err)
			}
		}
		s.dim = configured
		return nil
	case err != nil:
		return fmt.Errorf("reading dimensions: %w", err)
	}

	stored, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parsing stored dimensions %q: %w", value, err)
	}
	if configured > 0 && configured != stored {
		return fmt.Errorf("%w: store has %d dimensions, configured %d (re-index into a new store)",
			domain.ErrDimensionMismatch, stored, configured)
	}
	s.dim = stored
	return nil
}

// dimensions returns the store dimension, zero until known.
func (s *Store) dimensions() int {
	s.dimMu.RLock()
	defer s.dimMu.RUnlock()
	return s.dim
}

// adoptDimensions records n as the store dimension inside tx when none is
// set yet. The in-memory value is updated by the caller after commit.
func (s *Store) adoptDimensions(ctx context.Context, tx *sql.Tx, n int) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO store_settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		settingDimensions, strconv.Itoa(n))
	if err != nil {
		return fmt.Errorf("persisting dimensions: %w", err)
	}
	return nil
}

func (s *Store) setDimensions(n int) {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	if s.dim == 0 {
		s.dim = n
	}
}

// ==================== Helper Functions ====================

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rollback aborts tx, ignoring the error of an already-finished transaction.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
