package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/forgesmith/codeforge/internal/conversation"
	"github.com/forgesmith/codeforge/internal/event"
	"github.com/forgesmith/codeforge/internal/permission"
	"github.com/forgesmith/codeforge/internal/sessionlog"
	"github.com/forgesmith/codeforge/internal/tool"
)

// toolOutcome is the normalized result of running one tool call, ready to
// become a tool_result event and a Conversation tool Message.
type toolOutcome struct {
	call       conversation.ToolCall
	success    bool
	display    string
	llmContent string
	metadata   map[string]any
	errStr     string
	status     string // "ok" | "cancelled" | "denied"
}

// runToolCalls executes every tool call an assistant step requested (spec
// §4.7 step 5): sequentially by default, or concurrently when every call in
// the batch targets a concurrency-safe tool. Each outcome is committed to
// the log and the Conversation in call order regardless of execution order,
// so history stays deterministic even under concurrent execution.
func (l *Loop) runToolCalls(ctx context.Context, store *sessionlog.Store, conv *conversation.Conversation, cfg TurnConfig, assistantID string, calls []conversation.ToolCall) error {
	allSafe := len(calls) > 1
	for _, c := range calls {
		if !tool.ConcurrencySafe(c.Name) {
			allSafe = false
			break
		}
	}

	outcomes := make([]toolOutcome, len(calls))
	run := func(i int) { outcomes[i] = l.runOneTool(ctx, cfg, assistantID, calls[i]) }

	if allSafe {
		var wg sync.WaitGroup
		for i := range calls {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range calls {
			run(i)
		}
	}

	for _, outcome := range outcomes {
		resultID := sessionlog.NewEventID()
		resultEvent := sessionlog.Event{
			ID:        resultID,
			SessionID: cfg.SessionID,
			Kind:      sessionlog.KindToolResult,
			Payload:   marshalToolResult(outcome),
		}
		if err := store.Append(ctx, resultEvent); err != nil {
			// Non-fatal: the session is marked log-degraded,
			// but in-memory history (and the turn) continues.
			_ = err
		}

		conv.Append(conversation.Message{
			ID:         resultID,
			Role:       conversation.RoleTool,
			Text:       toolMessageText(outcome),
			ToolCallID: outcome.call.ID,
			ToolName:   outcome.call.Name,
			ToolError:  !outcome.success,
		})

		l.bus.Publish(event.Event{Type: event.ToolCallComplete, Data: event.ToolCallCompleteData{
			SessionID: cfg.SessionID,
			MessageID: assistantID,
			CallID:    outcome.call.ID,
			Tool:      outcome.call.Name,
			Success:   outcome.success,
		}})
	}

	return nil
}

// runOneTool runs the doom-loop check and then the full C3/C5 permission
// and execution pipeline via the Invoker for a single call. Validation and
// permission failures are local: they become a failed tool_result,
// never a turn error.
func (l *Loop) runOneTool(ctx context.Context, cfg TurnConfig, assistantID string, call conversation.ToolCall) toolOutcome {
	if outcome, looped := l.checkDoomLoop(ctx, cfg, assistantID, call); looped {
		return outcome
	}

	toolCtx := &tool.Context{
		SessionID: cfg.SessionID,
		MessageID: assistantID,
		CallID:    call.ID,
		Agent:     cfg.Agent.Name,
		WorkDir:   cfg.WorkspaceRoot,
		AbortCh:   ctx.Done(),
	}

	result, err := l.invoker.Invoke(ctx, call.Name, call.Arguments, toolCtx, cfg.Mode, cfg.Rules)
	if err != nil {
		status := "ok"
		switch {
		case permission.IsRejectedError(err):
			status = "denied"
		case errors.Is(err, context.Canceled):
			status = "cancelled"
		}
		return toolOutcome{call: call, success: false, errStr: err.Error(), status: status}
	}

	outcome := toolOutcome{call: call, success: result.Error == nil, display: result.Title, llmContent: result.Output, metadata: result.Metadata, status: "ok"}
	if result.Error != nil {
		outcome.errStr = result.Error.Error()
	}
	return outcome
}

// checkDoomLoop asks the shared DoomLoopDetector whether this call repeats
// the last DoomLoopThreshold identical calls, then applies the agent's
// DoomLoop policy (allow/deny/ask). Grounded on the teacher's
// internal/session/tools.go checkDoomLoop, rebuilt on top of the
// permission.DoomLoopDetector helper instead of scanning in-memory parts.
func (l *Loop) checkDoomLoop(ctx context.Context, cfg TurnConfig, assistantID string, call conversation.ToolCall) (toolOutcome, bool) {
	if l.doomLoop == nil {
		return toolOutcome{}, false
	}

	var args any
	_ = json.Unmarshal(call.Arguments, &args)
	if !l.doomLoop.Check(cfg.SessionID, call.Name, args) {
		return toolOutcome{}, false
	}

	switch cfg.Agent.Permission.DoomLoop {
	case "allow":
		return toolOutcome{}, false

	case "deny":
		return toolOutcome{
			call:    call,
			success: false,
			errStr:  fmt.Sprintf("doom loop detected: %s called repeatedly with identical input", call.Name),
			status:  "denied",
		}, true

	default: // "ask" or unset
		if l.checker == nil {
			return toolOutcome{}, false
		}
		req := permission.Request{
			Type:      permission.PermDoomLoop,
			Pattern:   []string{call.Name},
			SessionID: cfg.SessionID,
			MessageID: assistantID,
			CallID:    call.ID,
			Title:     fmt.Sprintf("Allow repeated %s call?", call.Name),
		}
		if err := l.checker.Ask(ctx, req); err != nil {
			return toolOutcome{call: call, success: false, errStr: err.Error(), status: "denied"}, true
		}
		return toolOutcome{}, false
	}
}

func toolMessageText(o toolOutcome) string {
	if !o.success && o.errStr != "" {
		return o.errStr
	}
	return o.llmContent
}

func marshalToolResult(o toolOutcome) json.RawMessage {
	b, err := json.Marshal(sessionlog.ToolResultPayload{
		ToolCallID: o.call.ID,
		Name:       o.call.Name,
		Success:    o.success,
		Display:    o.display,
		LLMContent: o.llmContent,
		Metadata:   o.metadata,
		Error:      o.errStr,
		Status:     o.status,
	})
	if err != nil {
		// ToolResultPayload is a plain struct; marshaling it cannot fail.
		panic(err)
	}
	return b
}
