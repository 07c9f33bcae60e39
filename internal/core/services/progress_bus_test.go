package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

func progressEvent(fileID string, stage domain.Stage, current, total int) domain.IngestionProgress {
	return domain.IngestionProgress{FileID: fileID, Stage: stage, Current: current, Total: total}
}

func drain(ch <-chan domain.IngestionProgress) []domain.IngestionProgress {
	var out []domain.IngestionProgress
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestProgressBus_SubscribeReceivesInOrder(t *testing.T) {
	bus := NewProgressBus(16, nil)
	sub := bus.Subscribe("file-1")
	defer sub.Unsubscribe()

	bus.Publish(progressEvent("file-1", domain.StageStarting, 0, 0))
	bus.Publish(progressEvent("file-1", domain.StageParsing, 0, 1))
	bus.Publish(progressEvent("file-1", domain.StageVectorizing, 2, 5))
	bus.Publish(progressEvent("file-1", domain.StageDone, 1, 1))

	got := drain(sub.Events())
	require.Len(t, got, 4)
	assert.Equal(t, domain.StageStarting, got[0].Stage)
	assert.Equal(t, domain.StageParsing, got[1].Stage)
	assert.Equal(t, domain.StageVectorizing, got[2].Stage)
	assert.Equal(t, domain.StageDone, got[3].Stage)
	assert.Zero(t, sub.Dropped())
}

func TestProgressBus_FiltersByFile(t *testing.T) {
	bus := NewProgressBus(16, nil)
	one := bus.Subscribe("file-1")
	two := bus.Subscribe("file-2")
	all := bus.SubscribeAll()
	defer one.Unsubscribe()
	defer two.Unsubscribe()
	defer all.Unsubscribe()

	bus.Publish(progressEvent("file-1", domain.StageStarting, 0, 0))
	bus.Publish(progressEvent("file-2", domain.StageStarting, 0, 0))
	bus.Publish(progressEvent("file-1", domain.StageDone, 1, 1))

	assert.Len(t, drain(one.Events()), 2)
	assert.Len(t, drain(two.Events()), 1)
	assert.Len(t, drain(all.Events()), 3)
	assert.Equal(t, 3, bus.SubscriberCount())
}

func TestProgressBus_DropsOldestWhenFull(t *testing.T) {
	bus := NewProgressBus(2, nil)
	sub := bus.Subscribe("file-1")
	defer sub.Unsubscribe()

	for i := 1; i <= 4; i++ {
		bus.Publish(progressEvent("file-1", domain.StageVectorizing, i, 4))
	}
	bus.Publish(progressEvent("file-1", domain.StageDone, 1, 1))

	got := drain(sub.Events())
	require.Len(t, got, 2)
	assert.Equal(t, 4, got[0].Current)
	assert.Equal(t, domain.StageDone, got[1].Stage)
	assert.Equal(t, uint64(3), sub.Dropped())
}

func TestProgressBus_PublishNeverBlocks(t *testing.T) {
	bus := NewProgressBus(1, nil)
	sub := bus.Subscribe("file-1")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.Publish(progressEvent("file-1", domain.StageVectorizing, i, 1000))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestProgressBus_Unsubscribe(t *testing.T) {
	bus := NewProgressBus(4, nil)
	sub := bus.Subscribe("file-1")

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	assert.False(t, ok, "channel should be closed")
	assert.Zero(t, bus.SubscriberCount())

	assert.NotPanics(t, func() {
		bus.Publish(progressEvent("file-1", domain.StageDone, 1, 1))
	})
}

func TestProgressBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewProgressBus(4, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		sub := bus.Subscribe("file-1")
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(progressEvent("file-1", domain.StageVectorizing, j, 100))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
	}
	wg.Wait()
	assert.Zero(t, bus.SubscriberCount())
}

func TestProgressBus_OnProgress(t *testing.T) {
	bus := NewProgressBus(16, nil)

	received := make(chan domain.IngestionProgress, 4)
	unsubscribe := bus.OnProgress("file-1", func(ev domain.IngestionProgress) {
		received <- ev
	})
	defer unsubscribe()

	bus.Publish(progressEvent("file-1", domain.StageStarting, 0, 0))
	bus.Publish(progressEvent("file-2", domain.StageStarting, 0, 0))
	bus.Publish(progressEvent("file-1", domain.StageDone, 1, 1))

	for _, want := range []domain.Stage{domain.StageStarting, domain.StageDone} {
		select {
		case ev := <-received:
			assert.Equal(t, "file-1", ev.FileID)
			assert.Equal(t, want, ev.Stage)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestProgressBus_OnProgress_RecoversFromPanic(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	bus := NewProgressBus(16, zap.New(core))

	received := make(chan domain.Stage, 4)
	unsubscribe := bus.OnProgress("file-1", func(ev domain.IngestionProgress) {
		if ev.Stage == domain.StageParsing {
			panic("listener bug")
		}
		received <- ev.Stage
	})
	defer unsubscribe()

	bus.Publish(progressEvent("file-1", domain.StageParsing, 0, 1))
	bus.Publish(progressEvent("file-1", domain.StageDone, 1, 1))

	select {
	case stage := <-received:
		assert.Equal(t, domain.StageDone, stage)
	case <-time.After(2 * time.Second):
		t.Fatal("listener stopped after panic")
	}
	assert.Equal(t, 1, logs.FilterMessage("progress listener panicked").Len())
}
