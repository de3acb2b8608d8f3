package event

import (
	"sync"
	"testing"
)

func TestBus_PublishChunkCoalescesUnderBackpressure(t *testing.T) {
	bus := NewBus()
	bus.SetHighWater(3)

	var mu sync.Mutex
	var delivered []string

	unsub := bus.SubscribeAll(func(e Event) {
		mu.Lock()
		delivered = append(delivered, e.Data.(string))
		mu.Unlock()
	})
	defer unsub()

	for i := 0; i < 10; i++ {
		bus.PublishChunk("part1", Event{Type: AssistantChunk, Data: "delta"})
	}
	bus.FlushCoalesced()

	mu.Lock()
	count := len(delivered)
	mu.Unlock()

	if count >= 10 {
		t.Fatalf("expected coalescing to reduce delivered count below 10, got %d", count)
	}
	if count == 0 {
		t.Fatalf("expected at least the coalesced flush to deliver something")
	}
}

func TestBus_PublishChunkNonChunkTypeBypassesCoalescing(t *testing.T) {
	bus := NewBus()
	bus.SetHighWater(1)

	var mu sync.Mutex
	count := 0
	unsub := bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsub()

	for i := 0; i < 5; i++ {
		bus.PublishChunk("k", Event{Type: FileEdited, Data: "x"})
	}

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 5 {
		t.Fatalf("expected all 5 non-chunk events delivered, got %d", got)
	}
}

func TestIsChunkEvent(t *testing.T) {
	if !IsChunkEvent(AssistantChunk) {
		t.Fatal("AssistantChunk should be a chunk event")
	}
	if IsChunkEvent(FileEdited) {
		t.Fatal("FileEdited must never coalesce")
	}
}
