// Package agentloop implements the Agent Loop: the per-turn
// state machine driving LLM streaming, tool-call execution, and compaction
// triggers. It is grounded on the teacher's internal/session/loop.go and
// stream.go, restated as an explicit step algorithm instead of the
// teacher's direct per-key storage/callback wiring. It
// intentionally does not import internal/session, since the session manager
// (internal/session) calls into this package.
package agentloop

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"

	"github.com/forgesmith/codeforge/internal/compact"
	"github.com/forgesmith/codeforge/internal/conversation"
	"github.com/forgesmith/codeforge/internal/enginerr"
	"github.com/forgesmith/codeforge/internal/event"
	"github.com/forgesmith/codeforge/internal/permission"
	"github.com/forgesmith/codeforge/internal/provider"
	"github.com/forgesmith/codeforge/internal/sessionlog"
	"github.com/forgesmith/codeforge/internal/tool"
	"github.com/forgesmith/codeforge/pkg/types"
)

const (
	// DefaultMaxSteps is used when an Agent doesn't set its own MaxSteps.
	DefaultMaxSteps = 50
	// MaxRetries bounds the transport-error retry loop per step.
	MaxRetries = 3
	// RetryInitialInterval is the first backoff delay.
	RetryInitialInterval = time.Second
	// RetryMaxInterval caps how long a single backoff delay can grow to.
	RetryMaxInterval = 30 * time.Second
	// RetryMaxElapsedTime bounds the total time spent retrying one step.
	RetryMaxElapsedTime = 2 * time.Minute
	// DefaultMaxOutputTokens is used when a model doesn't advertise one.
	DefaultMaxOutputTokens = 8192
)

// Reason is why RunTurn returned: the terminal state of the turn's state machine.
type Reason string

const (
	ReasonEndOfTurn Reason = "end_of_turn"
	ReasonMaxSteps  Reason = "max_steps_reached"
	ReasonCancelled Reason = "cancelled"
	ReasonError     Reason = "error"
)

// TurnConfig carries everything specific to one turn: which agent persona,
// which model, and the permission mode/rules the session is running under.
type TurnConfig struct {
	SessionID     string
	WorkspaceRoot string
	Agent         *Agent
	ProviderID    string
	ModelID       string
	Mode          permission.Mode
	Rules         permission.RuleSet
}

// Loop runs turns for one session at a time; like compact.Service it holds
// no per-session state of its own — the Conversation and sessionlog.Store
// belong to the caller (normally C9's session actor).
type Loop struct {
	providers *provider.Registry
	tools     *tool.Registry
	invoker   *tool.Invoker
	compactor *compact.Service
	bus       *event.Bus
	checker   *permission.Checker
	doomLoop  *permission.DoomLoopDetector
}

// New builds a Loop wired to every component a turn touches.
func New(
	providers *provider.Registry,
	tools *tool.Registry,
	invoker *tool.Invoker,
	compactor *compact.Service,
	bus *event.Bus,
	checker *permission.Checker,
	doomLoop *permission.DoomLoopDetector,
) *Loop {
	return &Loop{
		providers: providers,
		tools:     tools,
		invoker:   invoker,
		compactor: compactor,
		bus:       bus,
		checker:   checker,
		doomLoop:  doomLoop,
	}
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.MaxElapsedTime = RetryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, MaxRetries), ctx)
}

// RunTurn drives one turn to completion: steps until the model stops
// requesting tools, the step budget is exhausted, the context is cancelled,
// or an unrecoverable error ends the turn.
func (l *Loop) RunTurn(ctx context.Context, store *sessionlog.Store, conv *conversation.Conversation, cfg TurnConfig) (Reason, error) {
	agent := cfg.Agent
	if agent == nil {
		agent = DefaultAgent()
	}
	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	model, err := l.providers.GetModel(cfg.ProviderID, cfg.ModelID)
	if err != nil {
		return ReasonError, enginerr.Internal(err, "resolve model %s/%s", cfg.ProviderID, cfg.ModelID)
	}
	prov, err := l.providers.Get(cfg.ProviderID)
	if err != nil {
		return ReasonError, enginerr.Internal(err, "resolve provider %s", cfg.ProviderID)
	}

	l.bus.Publish(event.Event{Type: event.TurnStarted, Data: event.TurnStartedData{SessionID: cfg.SessionID}})

	retry := newRetryBackoff(ctx)
	step := 0

	for {
		select {
		case <-ctx.Done():
			l.bus.Publish(event.Event{Type: event.TurnError, Data: event.TurnErrorData{SessionID: cfg.SessionID, Error: "cancelled"}})
			return ReasonCancelled, ctx.Err()
		default:
		}

		if step >= maxSteps {
			l.bus.Publish(event.Event{Type: event.MaxStepsReached, Data: event.MaxStepsReachedData{SessionID: cfg.SessionID, Steps: step}})
			return ReasonMaxSteps, nil
		}

		if l.compactor != nil && l.compactor.ShouldTrigger(conv.Usage()) {
			l.runCompaction(ctx, store, conv, cfg)
		}

		req, err := l.buildRequest(conv, cfg, agent, model)
		if err != nil {
			return ReasonError, enginerr.Internal(err, "build completion request")
		}

		stream, err := prov.CreateCompletion(ctx, req)
		if err != nil {
			if done, terr := l.backoffOrFail(ctx, retry, cfg, err); done {
				return ReasonError, terr
			}
			continue
		}

		assistantID := sessionlog.NewEventID()
		result, err := l.consumeStream(ctx, stream, cfg, assistantID)
		stream.Close()
		l.bus.FlushCoalesced()

		if err != nil {
			if done, terr := l.backoffOrFail(ctx, retry, cfg, err); done {
				return ReasonError, terr
			}
			continue
		}
		retry.Reset()

		usage := conv.Usage()
		assistantEvent := sessionlog.Event{
			ID:        assistantID,
			SessionID: cfg.SessionID,
			Kind:      sessionlog.KindAssistant,
			Payload:   marshalAssistant(result, cfg),
		}
		if err := store.Append(ctx, assistantEvent); err != nil {
			// Non-fatal: the session is marked log-degraded but
			// the turn continues with the in-memory Conversation intact.
			_ = err
		}

		conv.Append(conversation.Message{
			ID:        assistantID,
			Role:      conversation.RoleAssistant,
			Text:      result.text,
			Reasoning: result.reasoning,
			ToolCalls: result.toolCalls,
		})
		conv.SetUsage(conversation.TokenUsage{
			Input:      result.inputTokens,
			Output:     result.outputTokens,
			Cumulative: usage.Cumulative + result.inputTokens + result.outputTokens,
			WindowMax:  usage.WindowMax,
		})

		if len(result.toolCalls) == 0 {
			l.bus.Publish(event.Event{Type: event.TurnEnded, Data: event.TurnEndedData{SessionID: cfg.SessionID, Reason: string(ReasonEndOfTurn)}})
			return ReasonEndOfTurn, nil
		}

		if err := l.runToolCalls(ctx, store, conv, cfg, assistantID, result.toolCalls); err != nil {
			l.bus.Publish(event.Event{Type: event.TurnError, Data: event.TurnErrorData{SessionID: cfg.SessionID, Error: err.Error()}})
			return ReasonError, err
		}

		step++
	}
}

// backoffOrFail advances the retry backoff for a transport failure. It
// returns done=true once retries are exhausted, in which case the turn_error
// event has already been published and the caller should return terr.
func (l *Loop) backoffOrFail(ctx context.Context, retry backoff.BackOff, cfg TurnConfig, cause error) (bool, error) {
	next := retry.NextBackOff()
	if next == backoff.Stop {
		terr := enginerr.Transport(cause, "exhausted retries for session %s", cfg.SessionID)
		l.bus.Publish(event.Event{Type: event.TurnError, Data: event.TurnErrorData{SessionID: cfg.SessionID, Error: terr.Error()}})
		return true, terr
	}
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-time.After(next):
	}
	return false, nil
}

func (l *Loop) runCompaction(ctx context.Context, store *sessionlog.Store, conv *conversation.Conversation, cfg TurnConfig) {
	l.bus.Publish(event.Event{Type: event.CompactionStarted, Data: event.CompactionStartedData{SessionID: cfg.SessionID, Trigger: string(compact.TriggerAuto)}})

	res, err := l.compactor.Compact(ctx, store, conv, cfg.SessionID, cfg.WorkspaceRoot, compact.TriggerAuto)
	if err != nil {
		// A failed compaction leaves the Conversation untouched; the next
		// step will simply try again once the threshold is still crossed.
		l.bus.Publish(event.Event{Type: event.CompactionCompleted, Data: event.CompactionCompletedData{SessionID: cfg.SessionID, Fallback: true}})
		return
	}

	usage := conv.Usage()
	replacement := make([]conversation.Message, 0, len(res.RetainedMessages)+1)
	replacement = append(replacement, conversation.Message{
		ID:   sessionlog.NewEventID(),
		Role: conversation.RoleUser,
		Text: res.Summary,
	})
	replacement = append(replacement, res.RetainedMessages...)

	conv.Replace(replacement)
	conv.SetUsage(conversation.TokenUsage{Input: res.PostTokens, WindowMax: usage.WindowMax})

	l.bus.Publish(event.Event{Type: event.CompactionCompleted, Data: event.CompactionCompletedData{
		SessionID:  cfg.SessionID,
		PreTokens:  res.PreTokens,
		PostTokens: res.PostTokens,
		Fallback:   res.Fallback,
	}})
}

func (l *Loop) buildRequest(conv *conversation.Conversation, cfg TurnConfig, agent *Agent, model *types.Model) (*provider.CompletionRequest, error) {
	messages, _ := conv.Snapshot()
	messages = conversation.FilterOrphanToolMessages(messages)

	sysPrompt := NewSystemPrompt(cfg.WorkspaceRoot, agent, cfg.ProviderID, cfg.ModelID).Build()

	einoMessages := make([]*schema.Message, 0, len(messages)+1)
	einoMessages = append(einoMessages, &schema.Message{Role: schema.System, Content: sysPrompt})
	for _, m := range messages {
		einoMessages = append(einoMessages, toEinoMessage(m))
	}

	var tools []*schema.ToolInfo
	if model.SupportsTools {
		var err error
		tools, err = l.resolveTools(agent)
		if err != nil {
			return nil, err
		}
	}

	maxTokens := model.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}

	return &provider.CompletionRequest{
		Model:       model.ID,
		Messages:    einoMessages,
		Tools:       tools,
		MaxTokens:   maxTokens,
		Temperature: agent.Temperature,
		TopP:        agent.TopP,
	}, nil
}

func (l *Loop) resolveTools(agent *Agent) ([]*schema.ToolInfo, error) {
	infos, err := l.tools.ToolInfos()
	if err != nil {
		return nil, err
	}
	out := make([]*schema.ToolInfo, 0, len(infos))
	for _, info := range infos {
		if agent.ToolEnabled(info.Name) {
			out = append(out, info)
		}
	}
	return out, nil
}

func toEinoMessage(m conversation.Message) *schema.Message {
	role := schema.Assistant
	switch m.Role {
	case conversation.RoleUser:
		role = schema.User
	case conversation.RoleSystem:
		role = schema.System
	case conversation.RoleTool:
		role = schema.Tool
	}

	msg := &schema.Message{Role: role, Content: m.Text}
	if m.Role == conversation.RoleTool {
		msg.ToolCallID = m.ToolCallID
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID: tc.ID,
			Function: schema.FunctionCall{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return msg
}
