package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/forgesmith/codeforge/internal/agentloop"
	"github.com/forgesmith/codeforge/internal/compact"
	"github.com/forgesmith/codeforge/internal/conversation"
	"github.com/forgesmith/codeforge/internal/enginerr"
	"github.com/forgesmith/codeforge/internal/event"
	"github.com/forgesmith/codeforge/internal/hook"
	"github.com/forgesmith/codeforge/internal/logging"
	"github.com/forgesmith/codeforge/internal/permission"
	"github.com/forgesmith/codeforge/internal/provider"
	"github.com/forgesmith/codeforge/internal/sessionlog"
	"github.com/forgesmith/codeforge/internal/storage"
	"github.com/forgesmith/codeforge/internal/tool"
	"github.com/forgesmith/codeforge/pkg/types"
)

// DefaultWindowMax is used when a resolved model doesn't advertise a
// context length.
const DefaultWindowMax = 128_000

// turn is the live, in-memory state of one active session:
// its log handle, its Conversation, and the current turn's cancellation
// token, if any. The Turn Controller's queue-of-1 is turnMu below — Submit
// holds it for the full duration of RunTurn, so a second Submit simply
// waits its turn, including any in-progress cancellation drain.
type turn struct {
	store         *sessionlog.Store
	conv          *conversation.Conversation
	workspaceRoot string

	turnMu sync.Mutex

	mu         sync.Mutex // guards the fields below
	mode       permission.Mode
	rules      permission.RuleSet
	providerID string
	modelID    string
	agent      *agentloop.Agent
	cancel     context.CancelFunc
	unregister func()
}

func (t *turn) snapshot() (permission.Mode, permission.RuleSet, string, string, *agentloop.Agent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode, t.rules, t.providerID, t.modelID, t.agent
}

// Manager is the Session Manager: it owns every active session's log
// store and Conversation, and serializes each session's turns through
// agentloop.Loop. It replaces the teacher's Processor and per-key storage
// scanning with sessionlog/conversation event-sourcing and a per-turn
// (rather than per-session-lifetime) cancellation token.
type Manager struct {
	storage        *storage.Storage
	sessionLogRoot string
	providers      *provider.Registry
	bus            *event.Bus
	loop           *agentloop.Loop
	checker        *permission.Checker
	doomLoop       *permission.DoomLoopDetector
	hooks          *hook.Dispatcher
	shutdown       *ShutdownRegistry

	defaultProviderID string
	defaultModelID    string

	mu       sync.Mutex
	sessions map[string]*turn
}

// NewManager constructs a Manager and every component a turn touches: the
// permission Checker and DoomLoopDetector, the Hook Dispatcher, a
// tool.Invoker wired to the dispatcher's pre_tool_use site as its veto, the
// Compaction Service, and the agentloop.Loop itself. bus is accepted
// rather than constructed here, de-singletoning the event package's
// globalBus for this call path.
func NewManager(
	store *storage.Storage,
	sessionLogRoot string,
	providers *provider.Registry,
	tools *tool.Registry,
	cfg *types.Config,
	bus *event.Bus,
) *Manager {
	checker := permission.NewChecker()
	doomLoop := permission.NewDoomLoopDetector()

	var hooksCfg map[string][]types.HookConfig
	var compactionCfg compact.Config
	var defaultModel string
	if cfg != nil {
		hooksCfg = cfg.Hooks
		compactionCfg = compact.FromTypes(cfg.Compaction)
		defaultModel = cfg.Model
	} else {
		compactionCfg = compact.FromTypes(nil)
	}

	hooks := hook.New(hooksCfg, logging.Logger)
	veto := func(ctx context.Context, req permission.Request) error {
		return hooks.Run(ctx, hook.SitePreToolUse, hook.Payload{
			Site:      hook.SitePreToolUse,
			SessionID: req.SessionID,
			ToolName:  string(req.Type),
			Data:      map[string]any{"call_id": req.CallID, "pattern": req.Pattern},
		})
	}

	invoker := tool.NewInvoker(tools, checker, veto)
	compactor := compact.New(compactionCfg, providers, hooks)
	loop := agentloop.New(providers, tools, invoker, compactor, bus, checker, doomLoop)

	defaultProviderID, defaultModelID := splitModelRef(defaultModel)

	return &Manager{
		storage:           store,
		sessionLogRoot:    sessionLogRoot,
		providers:         providers,
		bus:               bus,
		loop:              loop,
		checker:           checker,
		doomLoop:          doomLoop,
		hooks:             hooks,
		shutdown:          NewShutdownRegistry(),
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
		sessions:          make(map[string]*turn),
	}
}

func splitModelRef(ref string) (providerID, modelID string) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			return ref[:i], ref[i+1:]
		}
	}
	return "", ref
}

// ShutdownRegistry exposes the process-wide LIFO shutdown stack so an
// entrypoint can register additional handlers and call ListenForShutdown.
func (m *Manager) ShutdownRegistry() *ShutdownRegistry {
	return m.shutdown
}

// Checker exposes the shared permission Checker, e.g. for RespondPermission.
func (m *Manager) Checker() *permission.Checker {
	return m.checker
}

// windowMax resolves the context window for a provider/model pair, falling
// back to DefaultWindowMax when the registry can't resolve one.
func (m *Manager) windowMax(providerID, modelID string) int {
	model, err := m.providers.GetModel(providerID, modelID)
	if err != nil || model.ContextLength <= 0 {
		return DefaultWindowMax
	}
	return model.ContextLength
}

// Start begins or resumes sess: opens its log store and, if the log already has events,
// replays them into a Conversation via conversation.Rebuild; otherwise
// starts from an empty Conversation. Either way it registers the session's
// turn state, loads the permission rule set, and runs the session_start
// hook site.
func (m *Manager) Start(ctx context.Context, sess *types.Session) error {
	store, err := sessionlog.Open(m.sessionLogRoot, sess.Directory, sess.ID)
	if err != nil {
		return enginerr.IO(err, "open session log for %s", sess.ID)
	}

	providerID, modelID := m.defaultProviderID, m.defaultModelID
	wmax := m.windowMax(providerID, modelID)

	events, err := store.ReadAll()
	if err != nil {
		store.Close()
		return enginerr.IO(err, "replay session log for %s", sess.ID)
	}

	var conv *conversation.Conversation
	if len(events) > 0 {
		conv, err = conversation.Rebuild(events, wmax)
		if err != nil {
			store.Close()
			return err
		}
	} else {
		conv = conversation.New(wmax)
	}

	t := &turn{
		store:         store,
		conv:          conv,
		workspaceRoot: sess.Directory,
		mode:          permission.ModeDefault,
		rules:         loadRuleSet(sess.Directory),
		providerID:    providerID,
		modelID:       modelID,
		agent:         agentloop.DefaultAgent(),
	}
	t.unregister = m.shutdown.Register(func(context.Context) error {
		return t.store.Close()
	})

	m.mu.Lock()
	m.sessions[sess.ID] = t
	m.mu.Unlock()

	if err := m.hooks.Run(ctx, hook.SiteSessionStart, hook.Payload{
		Site:      hook.SiteSessionStart,
		SessionID: sess.ID,
	}); err != nil {
		logging.Warn().Err(err).Str("session", sess.ID).Msg("session_start hook denied or failed")
	}

	return nil
}

func (m *Manager) get(sessionID string) (*turn, error) {
	m.mu.Lock()
	t, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, enginerr.Validation("session %s is not active", sessionID)
	}
	return t, nil
}

// IsActive reports whether sessionID currently has turn state registered
// (i.e. Start has been called and End has not).
func (m *Manager) IsActive(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// Snapshot returns sessionID's current in-memory conversation, for callers
// (e.g. the Task tool's sub-agent executor) that need the turn's resulting
// messages rather than subscribing to the event bus.
func (m *Manager) Snapshot(sessionID string) ([]conversation.Message, conversation.TokenUsage, error) {
	t, err := m.get(sessionID)
	if err != nil {
		return nil, conversation.TokenUsage{}, err
	}
	msgs, usage := t.conv.Snapshot()
	return msgs, usage, nil
}

// Submit enqueues a turn for sess: userInput is appended to
// the log and Conversation, and agentloop.RunTurn drives the turn to
// completion. A second concurrent Submit call for the same session blocks
// on turnMu until the first's RunTurn returns.
func (m *Manager) Submit(ctx context.Context, sess *types.Session, userInput string) (agentloop.Reason, error) {
	t, err := m.get(sess.ID)
	if err != nil {
		return agentloop.ReasonError, err
	}

	t.turnMu.Lock()
	defer t.turnMu.Unlock()

	turnCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.cancel = nil
		t.mu.Unlock()
		cancel()
	}()

	existing, _ := t.conv.Snapshot()
	firstMessage := len(existing) == 0

	userID := sessionlog.NewEventID()
	userPayload, err := json.Marshal(sessionlog.UserPayload{Text: userInput})
	if err != nil {
		return agentloop.ReasonError, enginerr.Internal(err, "marshal user payload")
	}
	if err := t.store.Append(turnCtx, sessionlog.Event{
		ID:            userID,
		SessionID:     sess.ID,
		Kind:          sessionlog.KindUser,
		WorkspaceRoot: t.workspaceRoot,
		Payload:       userPayload,
	}); err != nil {
		// Non-fatal: log-degraded, in-memory history continues.
		logging.Warn().Err(err).Str("session", sess.ID).Msg("session log append failed")
	}
	t.conv.Append(conversation.Message{ID: userID, Role: conversation.RoleUser, Text: userInput})

	if firstMessage {
		go m.ensureTitle(context.Background(), sess, userInput)
	}

	mode, rules, providerID, modelID, agent := t.snapshot()
	cfg := agentloop.TurnConfig{
		SessionID:     sess.ID,
		WorkspaceRoot: t.workspaceRoot,
		Agent:         agent,
		ProviderID:    providerID,
		ModelID:       modelID,
		Mode:          mode,
		Rules:         rules,
	}

	return m.loop.RunTurn(turnCtx, t.store, t.conv, cfg)
}

// Cancel trips sessionID's current turn's cancellation token, if a turn is
// in flight. Cancellation is cooperative: in-flight tool
// calls observe the token through their AbortCh and agentloop stops
// issuing new steps; RunTurn still publishes exactly one terminal event as
// it unwinds.
func (m *Manager) Cancel(sessionID string) error {
	t, err := m.get(sessionID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// SetMode updates the permission mode for subsequent calls; a turn
// currently in flight keeps running under the mode it started with.
func (m *Manager) SetMode(sessionID string, mode permission.Mode) error {
	t, err := m.get(sessionID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	return nil
}

// SetModel updates the provider/model a session's next turn will use.
func (m *Manager) SetModel(sessionID, providerID, modelID string) error {
	t, err := m.get(sessionID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providerID = providerID
	t.modelID = modelID
	return nil
}

// SetAgent updates the agent persona (prompt, tool set, permission
// defaults) a session's next turn will use.
func (m *Manager) SetAgent(sessionID string, agent *agentloop.Agent) error {
	t, err := m.get(sessionID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.agent = agent
	return nil
}

// End finishes a session: runs SessionEnd hooks with reason,
// flushes and closes the log store, and releases the session from the
// Manager and the shutdown registry.
func (m *Manager) End(ctx context.Context, sessionID, reason string) error {
	t, err := m.get(sessionID)
	if err != nil {
		return err
	}

	if err := m.hooks.Run(ctx, hook.SiteSessionEnd, hook.Payload{
		Site:      hook.SiteSessionEnd,
		SessionID: sessionID,
		Data:      map[string]any{"reason": reason},
	}); err != nil {
		logging.Warn().Err(err).Str("session", sessionID).Msg("session_end hook failed")
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	t.unregister()
	m.checker.ClearSession(sessionID)
	m.doomLoop.Clear(sessionID)

	return t.store.Close()
}
