package services

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/metrics"
)

// Ensure ProgressBus implements the interfaces.
var (
	_ driven.ProgressPublisher = (*ProgressBus)(nil)
	_ driving.ProgressService  = (*ProgressBus)(nil)
)

// allFiles keys subscriptions that receive every file's events.
const allFiles = ""

// ProgressBus fans ingestion progress events out to subscribers keyed by file ID.
//
// Publish never blocks: each subscriber owns a bounded buffer and, when it is
// full, the oldest buffered event is discarded so the newest (often terminal)
// event is kept.
type ProgressBus struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	logger     *zap.Logger
}

// NewProgressBus creates a bus with the given per-subscriber buffer size.
func NewProgressBus(bufferSize int, log *zap.Logger) *ProgressBus {
	if bufferSize <= 0 {
		bufferSize = domain.DefaultBufferSize
	}
	return &ProgressBus{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
		logger:     logger.OrNop(log),
	}
}

// Subscription is one subscriber's event stream.
type Subscription struct {
	bus    *ProgressBus
	fileID string
	ch     chan domain.IngestionProgress

	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Events returns the receive channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan domain.IngestionProgress {
	return s.ch
}

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer delivers ev without blocking, evicting the oldest event if needed.
func (s *Subscription) offer(ev domain.IngestionProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
		metrics.ProgressDroppedTotal.Inc()
	default:
	}

	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
		metrics.ProgressDroppedTotal.Inc()
	}
}

// Subscribe streams events for one file.
func (b *ProgressBus) Subscribe(fileID string) driving.ProgressSubscription {
	return b.subscribe(fileID)
}

// SubscribeAll streams events for every file.
func (b *ProgressBus) SubscribeAll() driving.ProgressSubscription {
	return b.subscribe(allFiles)
}

func (b *ProgressBus) subscribe(fileID string) *Subscription {
	sub := &Subscription{
		bus:    b,
		fileID: fileID,
		ch:     make(chan domain.IngestionProgress, b.bufferSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[fileID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[fileID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (b *ProgressBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sub.fileID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.fileID)
	}
}

// Publish delivers ev to the file's subscribers and to SubscribeAll streams.
func (b *ProgressBus) Publish(ev domain.IngestionProgress) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[ev.FileID] {
		sub.offer(ev)
	}
	if ev.FileID != allFiles {
		for sub := range b.subs[allFiles] {
			sub.offer(ev)
		}
	}
}

// OnProgress calls fn on its own goroutine for each event of fileID until the
// returned function is called. A panicking callback is logged and skipped.
func (b *ProgressBus) OnProgress(fileID string, fn func(domain.IngestionProgress)) func() {
	sub := b.subscribe(fileID)
	go func() {
		for ev := range sub.ch {
			b.deliver(fn, ev)
		}
	}()
	return sub.Unsubscribe
}

func (b *ProgressBus) deliver(fn func(domain.IngestionProgress), ev domain.IngestionProgress) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("progress listener panicked",
				zap.String("file_id", ev.FileID),
				zap.String("stage", ev.Stage.String()),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// SubscriberCount returns the number of live subscriptions.
func (b *ProgressBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}
