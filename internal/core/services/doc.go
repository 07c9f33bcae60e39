// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
//   - IngestionOrchestrator: worker pool driving files to the store
//   - SearchService: query embedding and ranked retrieval
//   - DocumentService: listing, deletion and integrity checks
//   - ProgressBus: best-effort fan-out of ingestion progress
package services
