package mcp

import (
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search provides retrieval.
	Search driving.SearchService

	// Ingestion queues files for indexing.
	Ingestion driving.IngestionService

	// Document lists and removes documents.
	Document driving.DocumentService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	// Ingestion and Document are optional; their tools fail when unset.
	return nil
}
