package event

import "sync"

// chunkEventTypes are the streaming delta kinds the agent loop emits once
// per provider token/chunk; under load these are the only events worth
// coalescing; an edited file or a completed message must never be dropped
//.
var chunkEventTypes = map[EventType]bool{
	AssistantChunk:         true,
	AssistantThinkingChunk: true,
	ToolOutputChunk:        true,
}

// IsChunkEvent reports whether t is subject to latest-wins coalescing.
func IsChunkEvent(t EventType) bool {
	return chunkEventTypes[t]
}

// coalescer holds, per coalesce key, only the most recent pending chunk
// event — a burst of N deltas for the same key collapses to the last one
// once the consumer falls behind by highWater events.
type coalescer struct {
	mu        sync.Mutex
	highWater int
	pending   map[string]Event
	depth     map[string]int
}

func newCoalescer(highWater int) *coalescer {
	return &coalescer{
		highWater: highWater,
		pending:   make(map[string]Event),
		depth:     make(map[string]int),
	}
}

// Offer records ev under key. It returns (ev, true) the first highWater-1
// times for a key (deliver as normal), then starts replacing the pending
// entry for that key in place — Drain then returns only the latest value
// instead of every intermediate one once that threshold is hit.
func (c *coalescer) Offer(key string, ev Event) (Event, bool) {
	if c.highWater <= 0 {
		return ev, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.depth[key]++
	if c.depth[key] < c.highWater {
		return ev, true
	}
	c.pending[key] = ev
	return Event{}, false
}

// Drain returns and clears every coalesced (dropped-in-place) event so the
// caller can flush them once backlog pressure eases, and resets each
// drained key's depth counter.
func (c *coalescer) Drain() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Event, 0, len(c.pending))
	for k, ev := range c.pending {
		out = append(out, ev)
		delete(c.pending, k)
		delete(c.depth, k)
	}
	return out
}
