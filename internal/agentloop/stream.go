package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/forgesmith/codeforge/internal/conversation"
	"github.com/forgesmith/codeforge/internal/enginerr"
	"github.com/forgesmith/codeforge/internal/event"
	"github.com/forgesmith/codeforge/internal/provider"
	"github.com/forgesmith/codeforge/internal/sessionlog"
)

// streamResult is what consumeStream hands back once a provider stream
// reaches EOF: the finalized assistant text/reasoning and any tool calls
// the model requested this step.
type streamResult struct {
	text         string
	reasoning    string
	toolCalls    []conversation.ToolCall
	finish       string
	inputTokens  int
	outputTokens int
}

// pendingToolCall accumulates one streaming tool call's arguments across
// chunks, keyed by index (preferred) or id (fallback) exactly as the
// teacher's processMessageChunk does.
type pendingToolCall struct {
	id      string
	name    string
	argsRaw string
}

// consumeStream reads a completion stream to EOF, publishing a chunk event
// per text/reasoning delta and accumulating tool-call arguments. Adapted
// from the teacher's stream.go processMessageChunk, minus
// its direct types.Part/storage wiring.
func (l *Loop) consumeStream(ctx context.Context, stream *provider.CompletionStream, cfg TurnConfig, assistantID string) (streamResult, error) {
	var accumulated string
	var reasoning string

	pending := map[string]*pendingToolCall{}
	order := []string{}

	var inputTokens, outputTokens int
	var finish string

	for {
		select {
		case <-ctx.Done():
			return streamResult{}, ctx.Err()
		default:
		}

		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return streamResult{}, enginerr.Transport(err, "stream read failed")
		}

		if msg.Content != "" {
			var delta string
			switch {
			case accumulated == "":
				delta = msg.Content
				accumulated = msg.Content
			case strings.HasPrefix(msg.Content, accumulated):
				delta = msg.Content[len(accumulated):]
				accumulated = msg.Content
			default:
				delta = msg.Content
				accumulated += msg.Content
			}
			l.bus.PublishChunk(assistantID, event.Event{
				Type: event.AssistantChunk,
				Data: event.AssistantChunkData{SessionID: cfg.SessionID, MessageID: assistantID, Delta: delta},
			})
		}

		if msg.ReasoningContent != "" {
			reasoning = msg.ReasoningContent
			l.bus.PublishChunk(assistantID+":reasoning", event.Event{
				Type: event.AssistantThinkingChunk,
				Data: event.AssistantThinkingChunkData{SessionID: cfg.SessionID, MessageID: assistantID, Text: reasoning},
			})
		}

		for _, tc := range msg.ToolCalls {
			var key string
			switch {
			case tc.Index != nil:
				key = fmt.Sprintf("idx:%d", *tc.Index)
			case tc.ID != "":
				key = tc.ID
			default:
				continue
			}

			call, exists := pending[key]
			if !exists && tc.ID != "" && tc.Function.Name != "" {
				call = &pendingToolCall{id: tc.ID, name: tc.Function.Name}
				pending[key] = call
				order = append(order, key)

				l.bus.Publish(event.Event{Type: event.ToolCallStart, Data: event.ToolCallStartData{
					SessionID: cfg.SessionID,
					MessageID: assistantID,
					CallID:    call.id,
					Tool:      call.name,
				}})
			}

			if tc.Function.Arguments != "" && call != nil {
				call.argsRaw += tc.Function.Arguments
			}
		}

		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.Usage != nil {
				inputTokens = msg.ResponseMeta.Usage.PromptTokens
				outputTokens = msg.ResponseMeta.Usage.CompletionTokens
			}
			if msg.ResponseMeta.FinishReason != "" {
				finish = msg.ResponseMeta.FinishReason
			}
		}
	}

	calls := make([]conversation.ToolCall, 0, len(order))
	for _, key := range order {
		call := pending[key]
		args := json.RawMessage(call.argsRaw)
		if len(call.argsRaw) == 0 || !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		calls = append(calls, conversation.ToolCall{ID: call.id, Name: call.name, Arguments: args})
	}

	return streamResult{
		text:         accumulated,
		reasoning:    reasoning,
		toolCalls:    calls,
		finish:       finish,
		inputTokens:  inputTokens,
		outputTokens: outputTokens,
	}, nil
}

func marshalAssistant(r streamResult, cfg TurnConfig) json.RawMessage {
	calls := make([]sessionlog.AssistantToolCall, 0, len(r.toolCalls))
	for _, tc := range r.toolCalls {
		calls = append(calls, sessionlog.AssistantToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
	}
	b, err := json.Marshal(sessionlog.AssistantPayload{
		Text:       r.text,
		Reasoning:  r.reasoning,
		ToolCalls:  calls,
		Finish:     r.finish,
		ProviderID: cfg.ProviderID,
		ModelID:    cfg.ModelID,
	})
	if err != nil {
		// AssistantPayload is a plain struct; marshaling it cannot fail.
		panic(err)
	}
	return b
}
