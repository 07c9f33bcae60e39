package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

const (
	// uriScheme is the custom URI scheme for kbase resources.
	uriScheme = "kbase://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	// Static resource for listing documents.
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "documents",
		Name:        "documents",
		Description: "List of all documents in the knowledge base",
		MIMEType:    "application/json",
	}, s.handleDocumentsResource)

	// Template for document text.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "documents/{documentId}",
		Name:        "document-content",
		Description: "Indexed text of a specific document, passage by passage",
		MIMEType:    "text/plain",
	}, s.handleDocumentContentResource)
}

// handleDocumentsResource returns every document as JSON.
func (s *Server) handleDocumentsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Document == nil {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     "[]",
			}},
		}, nil
	}

	docs, err := s.ports.Document.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	infos := make([]DocumentOutput, len(docs))
	for i := range docs {
		infos[i] = documentOutput(docs[i])
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling documents: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// handleDocumentContentResource returns the passages of a document.
// Overlapping text between consecutive passages is not removed.
func (s *Server) handleDocumentContentResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Document == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	// Extract documentId from URI: kbase://documents/{documentId}
	docID := extractDocumentID(req.Params.URI)
	if docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	chunks, err := s.ports.Document.Chunks(ctx, docID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document chunks: %w", err)
	}

	var sb strings.Builder
	for i := range chunks {
		fmt.Fprintf(&sb, "[%d/%d page %d]\n%s\n\n",
			chunks[i].ChunkIndex+1, chunks[i].TotalChunks, chunks[i].PageNumber, chunks[i].Text)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     sb.String(),
		}},
	}, nil
}

// extractDocumentID extracts the document ID from a URI like kbase://documents/{documentId}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "documents/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
