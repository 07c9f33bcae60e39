package mcp

import (
	"context"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// SearchInput is the input schema for the search_documents tool.
type SearchInput struct {
	Query       string   `json:"query" jsonschema:"the natural language query to find passages for"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of passages to return"`
	MinScore    *float64 `json:"min_score,omitempty" jsonschema:"drop passages scoring below this cosine similarity"`
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"restrict the search to these documents"`
}

// SearchOutput is the output schema for the search_documents tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

// SearchResultOutput represents a single ranked passage.
type SearchResultOutput struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	PageNumber int     `json:"page_number"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// AddInput is the input schema for the add_document tool.
type AddInput struct {
	Path  string `json:"path" jsonschema:"absolute path of the file to ingest"`
	ID    string `json:"id,omitempty" jsonschema:"document id; generated when empty"`
	Title string `json:"title,omitempty" jsonschema:"document title; defaults to the file name"`
	Wait  bool   `json:"wait,omitempty" jsonschema:"block until the document is indexed or failed"`
}

// DocumentOutput describes one document.
type DocumentOutput struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	UploadDate    string `json:"upload_date"`
	Path          string `json:"path,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// DeleteInput is the input schema for the delete_document tool.
type DeleteInput struct {
	DocumentID string `json:"document_id" jsonschema:"id of the document to delete"`
}

// DeleteOutput is the output schema for the delete_document tool.
type DeleteOutput struct {
	Deleted bool `json:"deleted"`
}

// ListInput is the input schema for the list_documents tool.
type ListInput struct {
	Status string `json:"status,omitempty" jsonschema:"only list documents with this status: indexing, indexed or failed"`
}

// ListOutput is the output schema for the list_documents tool.
type ListOutput struct {
	Documents []DocumentOutput `json:"documents"`
	Count     int              `json:"count"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over indexed documents; returns ranked passages with their document",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "add_document",
		Description: "Ingest a local file (txt, md, html, docx, pdf) into the knowledge base",
	}, s.handleAdd)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove a document and all of its passages",
	}, s.handleDelete)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List documents in the knowledge base, newest first",
	}, s.handleList)
}

// handleSearch handles the search_documents tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	opts := domain.SearchOptions{
		Limit:       input.Limit,
		MinScore:    input.MinScore,
		DocumentIDs: input.DocumentIDs,
	}

	results, err := s.ports.Search.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]SearchResultOutput, len(results)),
		Count:   len(results),
	}

	for i := range results {
		output.Results[i] = SearchResultOutput{
			DocumentID: results[i].Metadata.ID,
			Title:      results[i].Metadata.Title,
			Text:       results[i].Chunk.Text,
			PageNumber: results[i].Chunk.PageNumber,
			ChunkIndex: results[i].Chunk.ChunkIndex,
			Score:      results[i].Score,
		}
	}

	return nil, output, nil
}

// handleAdd handles the add_document tool invocation.
func (s *Server) handleAdd(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AddInput,
) (*mcp.CallToolResult, DocumentOutput, error) {
	if s.ports.Ingestion == nil {
		return nil, DocumentOutput{}, ErrMissingIngestionService
	}

	path, err := filepath.Abs(input.Path)
	if err != nil {
		return nil, DocumentOutput{}, err
	}
	meta := domain.DocumentMeta{ID: input.ID, Title: input.Title}

	if input.Wait {
		meta, err = s.ports.Ingestion.Ingest(ctx, path, meta)
		if err != nil && meta.ID == "" {
			return nil, DocumentOutput{}, err
		}
		// A failed ingestion is reported through the document status.
		if err != nil {
			s.logger.Info("mcp ingestion failed", zap.String("document_id", meta.ID), zap.Error(err))
		}
		return nil, documentOutput(meta), nil
	}

	meta, err = s.ports.Ingestion.AddDocument(ctx, path, meta)
	if err != nil {
		return nil, DocumentOutput{}, err
	}
	return nil, documentOutput(meta), nil
}

// handleDelete handles the delete_document tool invocation.
func (s *Server) handleDelete(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeleteInput,
) (*mcp.CallToolResult, DeleteOutput, error) {
	if s.ports.Document == nil {
		return nil, DeleteOutput{}, ErrMissingDocumentService
	}

	deleted, err := s.ports.Document.Delete(ctx, input.DocumentID)
	if err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, DeleteOutput{Deleted: deleted}, nil
}

// handleList handles the list_documents tool invocation.
func (s *Server) handleList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if s.ports.Document == nil {
		return nil, ListOutput{}, ErrMissingDocumentService
	}

	docs, err := s.ports.Document.List(ctx)
	if err != nil {
		return nil, ListOutput{}, err
	}

	output := ListOutput{Documents: make([]DocumentOutput, 0, len(docs))}
	for i := range docs {
		if input.Status != "" && string(docs[i].Status) != input.Status {
			continue
		}
		output.Documents = append(output.Documents, documentOutput(docs[i]))
	}
	output.Count = len(output.Documents)

	return nil, output, nil
}

func documentOutput(meta domain.DocumentMeta) DocumentOutput {
	out := DocumentOutput{
		ID:            meta.ID,
		Title:         meta.Title,
		Status:        string(meta.Status),
		Path:          meta.Path,
		FailureReason: meta.FailureReason,
	}
	if !meta.UploadDate.IsZero() {
		out.UploadDate = meta.UploadDate.UTC().Format(time.RFC3339)
	}
	return out
}
