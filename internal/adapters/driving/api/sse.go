package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// eventStream writes Server-Sent Events.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{w: w, flusher: flusher}, true
}

func (e *eventStream) send(ev domain.IngestionProgress) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	e.seq++
	if _, err := fmt.Fprintf(e.w, "id: %d\nevent: progress\ndata: %s\n\n", e.seq, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *eventStream) ping() error {
	if _, err := fmt.Fprint(e.w, ": ping\n\n"); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// StreamProgress handles GET /v1/progress/{fileID}. The stream ends after
// the file's terminal event. A file that already finished gets one
// synthesised terminal event from its stored status.
func (s *Server) StreamProgress(w http.ResponseWriter, r *http.Request) {
	if s.ports.Progress == nil {
		s.handleDomainError(w, fmt.Errorf("progress: %w", domain.ErrNotFound))
		return
	}
	fileID := chi.URLParam(r, "fileID")

	// Subscribe before looking at state so no event is missed in between.
	sub := s.ports.Progress.Subscribe(fileID)
	defer sub.Unsubscribe()

	var final *domain.IngestionProgress
	inFlight := false
	if s.ports.Ingestion != nil {
		_, inFlight = s.ports.Ingestion.Status(fileID)
	}
	if !inFlight && s.ports.Documents != nil {
		doc, err := s.ports.Documents.Get(r.Context(), fileID)
		if errors.Is(err, domain.ErrNotFound) {
			s.handleDomainError(w, err)
			return
		}
		if err == nil {
			final = terminalEvent(doc)
		}
	}

	stream, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeStreamUnsupported, "streaming not supported")
		return
	}
	if final != nil {
		_ = stream.send(*final)
		return
	}

	s.pump(r, stream, sub, true)
}

// StreamAllProgress handles GET /v1/progress. It streams events for every
// file until the client disconnects.
func (s *Server) StreamAllProgress(w http.ResponseWriter, r *http.Request) {
	if s.ports.Progress == nil {
		s.handleDomainError(w, fmt.Errorf("progress: %w", domain.ErrNotFound))
		return
	}

	sub := s.ports.Progress.SubscribeAll()
	defer sub.Unsubscribe()

	stream, ok := newEventStream(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, CodeStreamUnsupported, "streaming not supported")
		return
	}
	s.pump(r, stream, sub, false)
}

func (s *Server) pump(r *http.Request, stream *eventStream, sub driving.ProgressSubscription, untilTerminal bool) {
	log := logger.FromContext(r.Context())
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := stream.send(ev); err != nil {
				log.Debug("progress stream closed", zap.Error(err))
				return
			}
			if untilTerminal && ev.Stage.IsTerminal() {
				if n := sub.Dropped(); n > 0 {
					log.Debug("progress events dropped", zap.Uint64("dropped", n))
				}
				return
			}
		}
	}
}

// terminalEvent describes a finished document, or nil while it is still
// marked indexing.
func terminalEvent(doc *domain.DocumentMeta) *domain.IngestionProgress {
	ev := &domain.IngestionProgress{FileID: doc.ID, Timestamp: time.Now()}
	switch doc.Status {
	case domain.StatusIndexed:
		ev.Stage = domain.StageDone
	case domain.StatusFailed:
		ev.Stage = domain.StageError
		ev.Reason = doc.FailureReason
	default:
		return nil
	}
	return ev
}
