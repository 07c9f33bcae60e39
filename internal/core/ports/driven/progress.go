package driven

import "github.com/custodia-labs/kbase/internal/core/domain"

// ProgressPublisher receives ingestion progress events.
// Publish must never block on slow consumers.
type ProgressPublisher interface {
	Publish(event domain.IngestionProgress)
}
