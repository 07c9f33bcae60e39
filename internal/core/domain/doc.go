// Package domain defines the core business entities for kbase.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - DocumentMeta: An ingested source file and its indexing status
//   - DocumentChunk: A provenance-tagged, embedded passage of a document
//   - DocSearchResult: A ranked chunk returned by retrieval
//   - IngestionProgress: A progress event for one in-flight file
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
