// Package session provides session lifecycle management and the per-session
// turn controller that drives the agentic loop.
//
// # Architecture Overview
//
// The session package is built around two layers:
//
//   - Service: high-level session/message/part CRUD, sharing, forking, revert
//   - Manager: the Turn Controller - owns each session's in-memory turn state
//     (conversation, log store, mode/rules/model/agent) and drives
//     internal/agentloop.Loop for each submitted turn
//
// # Core Components
//
// ## Service
//
// The Service struct is the main API surface session-oriented HTTP handlers
// use:
//
//	manager := session.NewManager(storage, sessionLogRoot, providerReg, toolReg, appConfig, bus)
//	service := session.NewServiceWithManager(storage, manager)
//
//	sess, err := service.Create(ctx, "/path/to/project", "My Session")
//	msg, parts, err := service.ProcessMessage(ctx, sess, "Help me refactor this code", model, callback)
//
// ProcessMessage drives the turn through Manager.Submit; it does not persist
// the user's message itself - callers persist that before invoking it - and
// it returns a placeholder assistant message for the synchronous return
// shape, since real content streams over the event bus as the turn runs.
//
// ## Manager
//
// The Manager is the Turn Controller: one turn per session runs at a time
// (a queue-of-1 enforced per-session by a mutex), and Submit blocks until
// the agentic loop finishes or the turn is canceled.
//
//	if err := manager.Start(ctx, sess); err != nil { ... }
//	manager.SetAgent(sess.ID, agentloop.DefaultAgent())
//	manager.SetModel(sess.ID, "anthropic", "claude-sonnet-4-20250514")
//	reason, err := manager.Submit(ctx, sess, "Refactor this function")
//
// Manager owns, per session:
//   - a sessionlog.Store recording every turn event for replay/audit
//   - a conversation.Conversation rebuilt from that log on Start
//   - the session's current permission.Mode and RuleSet
//   - the agentloop.Agent and provider/model currently configured
//
// Snapshot returns the current in-memory conversation for callers (the Task
// tool's subagent executor, the headless runner, cmd/codeforge/commands/run.go)
// that need the turn's resulting messages directly rather than subscribing
// to the event bus.
//
// ShutdownRegistry supports graceful, LIFO shutdown of active turns.
//
// # Agents
//
// Agent configuration (internal/agentloop.Agent) defines AI behavior
// profiles: system prompt, sampling parameters, tool allow/deny lists, and
// permission defaults for write/bash/doom-loop actions. agentloop.DefaultAgent,
// agentloop.CodeAgent, and agentloop.PlanAgent provide presets.
//
// # Permission System
//
// Each session carries a permission.Mode (default/auto-edit/yolo/plan) and a
// permission.RuleSet loaded from project and global permissions.json files;
// internal/permission.Checker enforces allow/deny/ask decisions and doom-loop
// detection during tool execution.
//
// # Storage and Persistence
//
// Session/message/part metadata is persisted using a hierarchical key-value
// structure:
//
//	session/{projectID}/{sessionID}     -> Session metadata
//	message/{sessionID}/{messageID}     -> Individual messages
//	part/{messageID}/{partID}          -> Message parts (text, files, tools)
//
// Turn-level events (user input, assistant output, tool calls/results,
// compaction boundaries) are additionally appended to a per-session
// sessionlog.Store under the session log root, independent of the message/part
// metadata store above.
//
// # Integration Points
//
//   - internal/agentloop: the turn loop itself (LLM streaming, tool-call
//     dispatch, compaction triggers)
//   - internal/provider: LLM provider abstraction
//   - internal/tool: tool execution framework
//   - internal/storage: persistent session/message/part metadata
//   - internal/permission: access control, rule matching, doom-loop detection
//   - internal/sessionlog: append-only per-session turn event log
//   - internal/event: real-time event bus for UI/SSE updates
//   - pkg/types: shared type definitions
package session
