package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

// Error codes returned in errorResponse.Code.
const (
	CodeInvalidInput        = "invalid_input"
	CodeEmptyQuery          = "empty_query"
	CodeNotFound            = "not_found"
	CodeAlreadyExists       = "already_exists"
	CodeIngestionInProgress = "ingestion_in_progress"
	CodeUnsupportedType     = "unsupported_type"
	CodeQueueUnavailable    = "queue_unavailable"
	CodeEmbeddingFailed     = "embedding_failed"
	CodeEmbeddingMissing    = "embedding_unavailable"
	CodeDimensionMismatch   = "dimension_mismatch"
	CodeStreamUnsupported   = "stream_unsupported"
	CodeInternal            = "internal_error"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

// Order matters: ErrEmptyQuery wraps ErrInvalidInput.
func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrEmptyQuery, http.StatusBadRequest, CodeEmptyQuery),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, CodeAlreadyExists),
		sentinelHandler(domain.ErrIngestionInProgress, http.StatusConflict, CodeIngestionInProgress),
		sentinelHandler(domain.ErrUnsupportedType, http.StatusUnsupportedMediaType, CodeUnsupportedType),
		sentinelHandler(domain.ErrQueueClosed, http.StatusServiceUnavailable, CodeQueueUnavailable),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, CodeEmbeddingMissing),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusInternalServerError, CodeDimensionMismatch),
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			s.logger.Debug("request rejected", zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
