package events

import (
	"testing"
	"time"
)

func TestPublishDelivers(t *testing.T) {
	h := NewHub(10, 4)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(Event{Kind: KindTranslation, ContextID: "game"})

	select {
	case ev := <-ch:
		if ev.Kind != KindTranslation || ev.ContextID != "game" {
			t.Errorf("event = %+v", ev)
		}
		if ev.ID == "" || ev.At.IsZero() {
			t.Error("Publish should stamp id and time")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	h := NewHub(10, 1)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(Event{Kind: KindTextDisappeared})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := h.Dropped(); got != 4 {
		t.Errorf("Dropped() = %d, want 4", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	h := NewHub(3, 1)
	for i := 0; i < 5; i++ {
		h.Publish(Event{Kind: KindTranslation})
	}
	if got := len(h.Recent(time.Minute)); got != 3 {
		t.Errorf("len(Recent) = %d, want 3", got)
	}

	h.Publish(Event{Kind: KindTranslation, At: time.Now().Add(-time.Hour)})
	if got := len(h.Recent(time.Minute)); got != 2 {
		t.Errorf("len(Recent) = %d, want 2 after an old event evicts a recent one", got)
	}
}

func TestCancelAndClose(t *testing.T) {
	h := NewHub(10, 1)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("cancelled subscription channel should be closed")
	}

	ch2, cancel2 := h.Subscribe()
	defer cancel2()
	h.Close()
	if _, ok := <-ch2; ok {
		t.Error("Close should close subscriber channels")
	}
	h.Publish(Event{Kind: KindTranslation})
	if got := len(h.Recent(time.Minute)); got != 0 {
		t.Errorf("publish after Close recorded %d events", got)
	}

	ch3, _ := h.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("subscribing to a closed hub should yield a closed channel")
	}
}
