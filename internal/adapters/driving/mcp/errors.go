// Package mcp provides an MCP (Model Context Protocol) server adapter for kbase.
// It lets AI assistants search, add and remove documents in the local knowledge base.
package mcp

import "errors"

// ErrMissingSearchService is returned when the search service is not provided.
var ErrMissingSearchService = errors.New("mcp: search service is required")

// ErrMissingIngestionService is returned by add_document when ingestion is not wired.
var ErrMissingIngestionService = errors.New("mcp: ingestion service is not configured")

// ErrMissingDocumentService is returned by document tools when documents are not wired.
var ErrMissingDocumentService = errors.New("mcp: document service is not configured")
