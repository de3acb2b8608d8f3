package sessionlog

import "encoding/json"

// SchemaVersion is bumped whenever the on-disk Event shape changes in a way
// a reader needs to know about. Old lines are still read permissively.
const SchemaVersion = "1"

// Kind is the closed set of top-level event kinds a session log line can carry.
type Kind string

const (
	KindUser           Kind = "user"
	KindAssistant      Kind = "assistant"
	KindSystem         Kind = "system"
	KindToolCall       Kind = "tool_call"
	KindToolResult     Kind = "tool_result"
	KindCompactBoundary Kind = "compact_boundary"
	KindCompactSummary  Kind = "compact_summary"
)

// Subkind tags refinements of a Kind, e.g. "compact_boundary" on a system event.
type Subkind string

const SubkindCompactBoundary Subkind = "compact_boundary"

// CompactTrigger distinguishes automatic threshold-driven compaction from a
// user-issued manual compaction.
type CompactTrigger string

const (
	CompactAuto   CompactTrigger = "auto"
	CompactManual CompactTrigger = "manual"
)

// CompactMetadata is attached to a compact_boundary event and records why and
// how much the compaction reduced the conversation.
type CompactMetadata struct {
	Trigger      CompactTrigger `json:"trigger"`
	PreTokens    int            `json:"pre_tokens"`
	PostTokens   *int           `json:"post_tokens,omitempty"`
	FilesIncluded []string      `json:"files_included,omitempty"`
}

// Event is the immutable unit written to the Session Log Store. Every field
// after the identity fields is kind-specific via Payload.
type Event struct {
	ID               string           `json:"id"`
	ParentID         *string          `json:"parent_id"`
	LogicalParentID  *string          `json:"logical_parent_id,omitempty"`
	SessionID        string           `json:"session_id"`
	Timestamp        string           `json:"timestamp"` // ISO-8601 UTC
	SchemaVersion    string           `json:"schema_version"`
	WorkspaceRoot    string           `json:"workspace_root"`
	VCSBranch        string           `json:"vcs_branch,omitempty"`
	Kind             Kind             `json:"kind"`
	Subkind          Subkind          `json:"subkind,omitempty"`
	Payload          json.RawMessage  `json:"payload"`
	CompactMetadata  *CompactMetadata `json:"compact_metadata,omitempty"`
}

// Payload variants. Each is marshaled into Event.Payload by the writer and
// unmarshaled by consumers that recognize the Event.Kind.

// UserPayload carries a user-authored prompt.
type UserPayload struct {
	Text  string   `json:"text"`
	Files []string `json:"files,omitempty"`
}

// AssistantPayload carries assistant text/reasoning plus any tool calls it
// emitted this turn.
type AssistantPayload struct {
	Text      string             `json:"text,omitempty"`
	Reasoning string             `json:"reasoning,omitempty"`
	ToolCalls []AssistantToolCall `json:"tool_calls,omitempty"`
	Finish    string             `json:"finish,omitempty"`
	ProviderID string            `json:"provider_id,omitempty"`
	ModelID    string            `json:"model_id,omitempty"`
}

// AssistantToolCall is a single tool invocation the assistant requested.
type AssistantToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallPayload is written independently of the assistant event that
// produced it is not used; tool calls travel inside AssistantPayload. A
// standalone ToolCallPayload kind is kept for hosts that want to replay a
// call without its assistant framing (e.g. a subagent's synthetic calls).
type ToolCallPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultPayload carries the normalized result of executing one tool call.
type ToolResultPayload struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Success    bool           `json:"success"`
	Display    string         `json:"display_content,omitempty"`
	LLMContent string         `json:"llm_content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`
	Status     string         `json:"status,omitempty"` // "ok" | "cancelled" | "denied"
}

// SystemPayload carries a free-form system annotation (compaction boundary,
// internal-error record, session lifecycle note).
type SystemPayload struct {
	Text string `json:"text"`
}

// CompactSummaryPayload carries the text replacing the compacted prefix.
type CompactSummaryPayload struct {
	Text string `json:"text"`
}

func marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payload types are all plain structs; marshaling them cannot fail.
		panic(err)
	}
	return b
}
