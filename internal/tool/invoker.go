package tool

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/forgesmith/codeforge/internal/permission"
)

// Invoker runs a tool call end to end: permission decision, per-session
// serialization of non-concurrency-safe tools, and Execute. It sits above
// the Registry so call sites (the agent loop) never call Tool.Execute
// directly.
type Invoker struct {
	registry *Registry
	checker  *permission.Checker
	veto     permission.HookVeto

	mu    sync.Mutex
	locks map[string]*sync.Mutex // sessionID -> non-safe-tool mutex
}

// NewInvoker builds an Invoker. veto may be nil if no pre_tool_use hook
// site is configured.
func NewInvoker(registry *Registry, checker *permission.Checker, veto permission.HookVeto) *Invoker {
	return &Invoker{
		registry: registry,
		checker:  checker,
		veto:     veto,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (iv *Invoker) sessionLock(sessionID string) *sync.Mutex {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	l, ok := iv.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		iv.locks[sessionID] = l
	}
	return l
}

// Invoke resolves toolID, runs the permission pipeline, serializes against
// other non-concurrency-safe calls in the same session, and executes.
func (iv *Invoker) Invoke(ctx context.Context, toolID string, input json.RawMessage, toolCtx *Context, mode permission.Mode, rules permission.RuleSet) (*Result, error) {
	t, ok := iv.registry.Get(toolID)
	if !ok {
		return nil, &permission.RejectedError{Message: "unknown tool: " + toolID}
	}

	var rawArgs map[string]any
	_ = json.Unmarshal(input, &rawArgs)

	kind := kindOf(toolID)
	pattern := permission.AbstractPattern(toolID, rawArgs)

	if iv.checker != nil {
		req := permission.Request{Type: permTypeOf(toolID), Title: toolID}
		if toolCtx != nil {
			req.SessionID = toolCtx.SessionID
			req.MessageID = toolCtx.MessageID
			req.CallID = toolCtx.CallID
		}
		err := iv.checker.Decide(ctx, permission.DecideRequest{
			Request:           req,
			Mode:              mode,
			Kind:              kind,
			Rules:             rules,
			AbstractedPattern: pattern,
		}, iv.veto)
		if err != nil {
			return nil, err
		}
	}

	if !ConcurrencySafe(toolID) && toolCtx != nil {
		lock := iv.sessionLock(toolCtx.SessionID)
		lock.Lock()
		defer lock.Unlock()
	}

	return t.Execute(ctx, input, toolCtx)
}

func kindOf(toolID string) permission.ToolKind {
	switch toolID {
	case "edit", "Write":
		return permission.KindWrite
	case "bash":
		return permission.KindExecute
	case "webfetch":
		return permission.KindExternal
	default:
		return permission.KindReadonly
	}
}

func permTypeOf(toolID string) permission.PermissionType {
	switch toolID {
	case "bash":
		return permission.PermBash
	case "edit", "Write":
		return permission.PermEdit
	case "webfetch":
		return permission.PermWebFetch
	default:
		return permission.PermissionType(toolID)
	}
}
