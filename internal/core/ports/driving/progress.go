package driving

import "github.com/custodia-labs/kbase/internal/core/domain"

// ProgressSubscription is a stream of progress events.
type ProgressSubscription interface {
	// Events returns the receive channel. It is closed by Unsubscribe.
	Events() <-chan domain.IngestionProgress

	// Dropped returns how many events were discarded for this subscriber.
	Dropped() uint64

	// Unsubscribe detaches the subscription. Safe to call more than once.
	Unsubscribe()
}

// ProgressService lets external callers follow ingestion.
// Delivery is best-effort and at most once.
type ProgressService interface {
	// Subscribe streams events for one file.
	Subscribe(fileID string) ProgressSubscription

	// SubscribeAll streams events for every file.
	SubscribeAll() ProgressSubscription

	// OnProgress calls fn for each event of fileID until the returned
	// function is called.
	OnProgress(fileID string, fn func(domain.IngestionProgress)) (unsubscribe func())
}
