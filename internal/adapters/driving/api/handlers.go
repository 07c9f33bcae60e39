package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// AddDocumentRequest is the body of POST /v1/documents.
type AddDocumentRequest struct {
	Path  string `json:"path"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`

	// Wait runs the pipeline inside the request and returns the final status.
	Wait bool `json:"wait,omitempty"`
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query       string   `json:"query"`
	Limit       int      `json:"limit,omitempty"`
	MinScore    *float64 `json:"minScore,omitempty"`
	DocumentIDs []string `json:"documentIds,omitempty"`
}

// SearchResponse is the body returned by POST /v1/search. On an embedding
// failure Results is empty and Error is set.
type SearchResponse struct {
	Results []domain.DocSearchResult `json:"results"`
	Error   *errorResponse           `json:"error,omitempty"`
}

// ListDocumentsResponse is the body returned by GET /v1/documents.
type ListDocumentsResponse struct {
	Documents []domain.DocumentMeta `json:"documents"`
	Count     int                   `json:"count"`
}

// DeleteDocumentResponse is the body returned by DELETE /v1/documents/{id}.
type DeleteDocumentResponse struct {
	Deleted bool `json:"deleted"`
}

// ChunksResponse is the body returned by GET /v1/documents/{id}/chunks.
type ChunksResponse struct {
	Chunks []domain.DocumentChunk `json:"chunks"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// AddDocument handles POST /v1/documents.
func (s *Server) AddDocument(w http.ResponseWriter, r *http.Request) {
	if s.ports.Ingestion == nil {
		s.handleDomainError(w, domain.ErrQueueClosed)
		return
	}

	var req AddDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleDomainError(w, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.handleDomainError(w, fmt.Errorf("%w: path is required", domain.ErrInvalidInput))
		return
	}

	path, err := filepath.Abs(req.Path)
	if err != nil {
		s.handleDomainError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	meta := domain.DocumentMeta{ID: req.ID, Title: req.Title}

	if req.Wait {
		meta, err = s.ports.Ingestion.Ingest(r.Context(), path, meta)
		if err != nil && meta.ID == "" {
			s.handleDomainError(w, err)
			return
		}
		// Pipeline failures are reported through the document status.
		writeJSON(w, http.StatusOK, meta)
		return
	}

	meta, err = s.ports.Ingestion.AddDocument(r.Context(), path, meta)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/documents/"+meta.ID)
	writeJSON(w, http.StatusAccepted, meta)
}

// ListDocuments handles GET /v1/documents.
func (s *Server) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.ports.Documents.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := docs[:0]
		for i := range docs {
			if string(docs[i].Status) == status {
				filtered = append(filtered, docs[i])
			}
		}
		docs = filtered
	}
	if docs == nil {
		docs = []domain.DocumentMeta{}
	}

	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs, Count: len(docs)})
}

// GetDocument handles GET /v1/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.ports.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GetChunks handles GET /v1/documents/{id}/chunks.
func (s *Server) GetChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.ports.Documents.Chunks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if chunks == nil {
		chunks = []domain.DocumentChunk{}
	}
	// Vectors are large and of no use to API clients.
	for i := range chunks {
		chunks[i].Vector = nil
	}
	writeJSON(w, http.StatusOK, ChunksResponse{Chunks: chunks})
}

// GetStatus handles GET /v1/documents/{id}/status. It reports the live
// pipeline state of an in-flight document.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.ports.Ingestion != nil {
		if status, ok := s.ports.Ingestion.Status(id); ok {
			writeJSON(w, http.StatusOK, status)
			return
		}
	}
	s.handleDomainError(w, fmt.Errorf("ingestion of %s: %w", id, domain.ErrNotFound))
}

// DeleteDocument handles DELETE /v1/documents/{id}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.ports.Documents.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteDocumentResponse{Deleted: deleted})
}

// Search handles POST /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.handleDomainError(w, err)
		return
	}
	if req.Limit < 0 {
		s.handleDomainError(w, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidInput))
		return
	}

	results, err := s.ports.Search.Search(r.Context(), req.Query, domain.SearchOptions{
		Limit:       req.Limit,
		MinScore:    req.MinScore,
		DocumentIDs: req.DocumentIDs,
	})

	var embErr *domain.SearchEmbeddingError
	if errors.As(err, &embErr) {
		writeJSON(w, http.StatusBadGateway, SearchResponse{
			Results: []domain.DocSearchResult{},
			Error:   &errorResponse{Code: CodeEmbeddingFailed, Message: embErr.Error()},
		})
		return
	}
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if results == nil {
		results = []domain.DocSearchResult{}
	}
	for i := range results {
		results[i].Chunk.Vector = nil
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, c := range s.checks {
		if err := c.Ping(r.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}
