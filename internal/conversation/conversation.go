// Package conversation holds the Conversation State component:
// the in-memory ordered Message view derived from sessionlog Events, plus
// TokenUsage accounting. It is grounded on the teacher's
// internal/session/loop.go message/part assembly and
// internal/provider.ConvertToEinoMessages, rebuilt here from Event replay
// instead of per-key storage scans.
package conversation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/forgesmith/codeforge/internal/sessionlog"
)

// Role mirrors the Message roles exchanged with the provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation an assistant Message references.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message is one turn of the Conversation.
type Message struct {
	ID         string
	Role       Role
	Text       string
	Reasoning  string
	ToolCalls  []ToolCall // only set when Role == RoleAssistant
	ToolCallID string     // only set when Role == RoleTool
	ToolName   string
	ToolError  bool
}

// TokenUsage tracks the running token accounting for a Conversation.
type TokenUsage struct {
	Input      int
	Output     int
	Cumulative int
	WindowMax  int
}

// Ratio returns Input/WindowMax, the figure C7 compares against
// compaction.threshold_ratio. Returns 0 if WindowMax is unset.
func (t TokenUsage) Ratio() float64 {
	if t.WindowMax <= 0 {
		return 0
	}
	return float64(t.Input) / float64(t.WindowMax)
}

// Conversation is the pure in-memory message sequence a turn sends to the LLM.
// Updates happen on the single turn goroutine; other goroutines must call
// Snapshot to read a consistent copy.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	usage    TokenUsage

	// lastRetainedID anchors compaction lineage: a compact_summary's
	// logical_parent_id must equal the id of the last event retained
	// before that compaction.
	lastRetainedID string
}

// New returns an empty Conversation with the given context window size.
func New(windowMax int) *Conversation {
	return &Conversation{usage: TokenUsage{WindowMax: windowMax}}
}

// Snapshot returns a copy of the current message slice and usage, safe to
// read from any goroutine.
func (c *Conversation) Snapshot() ([]Message, TokenUsage) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out, c.usage
}

// Usage returns the current TokenUsage.
func (c *Conversation) Usage() TokenUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// SetUsage replaces the TokenUsage, e.g. after a provider usage delta or a
// post-compaction recompute.
func (c *Conversation) SetUsage(u TokenUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = u
}

// Append adds a message to the end of the Conversation.
func (c *Conversation) Append(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
}

// Replace swaps the entire message slice, used by compaction.
func (c *Conversation) Replace(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = messages
}

// FilterOrphanToolMessages drops any tool Message whose ToolCallID does not
// resolve to a preceding assistant ToolCall within the same slice. It is
// applied during rebuild and before every
// LLM call.
func FilterOrphanToolMessages(messages []Message) []Message {
	known := map[string]bool{}
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleAssistant {
			for _, tc := range m.ToolCalls {
				known[tc.ID] = true
			}
		}
		if m.Role == RoleTool && !known[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Rebuild replays a session's Events into a Conversation, honoring the
// compaction-boundary partition: anything before the last compact_boundary
// is dropped in favor of the following compact_summary's payload.
func Rebuild(events []sessionlog.Event, windowMax int) (*Conversation, error) {
	startIdx := 0
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == sessionlog.KindCompactBoundary {
			startIdx = i
			break
		}
	}

	var messages []Message
	for i := startIdx; i < len(events); i++ {
		m, ok, err := eventToMessage(events[i])
		if err != nil {
			return nil, fmt.Errorf("rebuild conversation at event %s: %w", events[i].ID, err)
		}
		if ok {
			messages = append(messages, m)
		}
	}

	messages = FilterOrphanToolMessages(messages)

	c := New(windowMax)
	c.messages = messages
	if len(events) > 0 {
		c.lastRetainedID = events[len(events)-1].ID
	}
	return c, nil
}

func eventToMessage(e sessionlog.Event) (Message, bool, error) {
	switch e.Kind {
	case sessionlog.KindUser:
		var p sessionlog.UserPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Message{}, false, err
		}
		return Message{ID: e.ID, Role: RoleUser, Text: p.Text}, true, nil

	case sessionlog.KindCompactSummary:
		var p sessionlog.CompactSummaryPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Message{}, false, err
		}
		return Message{ID: e.ID, Role: RoleUser, Text: p.Text}, true, nil

	case sessionlog.KindAssistant:
		var p sessionlog.AssistantPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Message{}, false, err
		}
		calls := make([]ToolCall, 0, len(p.ToolCalls))
		for _, tc := range p.ToolCalls {
			calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		return Message{ID: e.ID, Role: RoleAssistant, Text: p.Text, Reasoning: p.Reasoning, ToolCalls: calls}, true, nil

	case sessionlog.KindToolResult:
		var p sessionlog.ToolResultPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Message{}, false, err
		}
		text := p.LLMContent
		if !p.Success && p.Error != "" {
			text = p.Error
		}
		return Message{ID: e.ID, Role: RoleTool, Text: text, ToolCallID: p.ToolCallID, ToolName: p.Name, ToolError: !p.Success}, true, nil

	case sessionlog.KindSystem:
		var p sessionlog.SystemPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return Message{}, false, err
		}
		return Message{ID: e.ID, Role: RoleSystem, Text: p.Text}, true, nil

	case sessionlog.KindCompactBoundary, sessionlog.KindToolCall:
		// compact_boundary is a partition marker, not a message; standalone
		// tool_call events (without assistant framing) carry no content of
		// their own to surface to the LLM.
		return Message{}, false, nil

	default:
		return Message{}, false, nil
	}
}
