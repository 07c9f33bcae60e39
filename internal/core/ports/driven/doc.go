// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Extractor: Turns a file into ordered text segments
//   - ExtractorRegistry: Selects an extractor by file extension
//   - Chunker: Splits segments into overlapping passages
//   - EmbeddingService: Turns text into fixed-length vectors
//   - DocumentStore: Document and chunk persistence with similarity search
//   - ProgressPublisher: Receives ingestion progress events
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
//   - EmbeddingCache: Key/value storage for query embeddings. Without it,
//     every search embeds its query.
package driven
