// Package sqlite provides a SQLite-based implementation of the document store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. One database holds:
//
//   - DocumentStore: Document metadata, embedded chunks and similarity search
//   - EmbeddingCache: Query embedding cache
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Vectors are stored as little-endian float32 BLOBs; bounding boxes and page
// spans as JSON.
//
// # Data Location
//
// By default, the database is stored at ~/.kbase/data/kbase.db
//
// # Thread Safety
//
// All operations are thread-safe. Writes to one document are serialised by a
// per-document lock on top of SQLite transactions in WAL mode, so different
// documents may be written concurrently.
package sqlite
