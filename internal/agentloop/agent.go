package agentloop

// Agent configures one agent loop turn: prompt customization, sampling
// parameters, step budget, and per-tool enable/disable plus permission
// overrides. Adapted from the teacher's internal/session.Agent, but kept
// self-contained here rather than imported from internal/session: C9 (the
// session manager) calls into this package, so the reverse import would
// cycle.
type Agent struct {
	Name        string
	Prompt      string
	Temperature float64
	TopP        float64
	MaxSteps    int

	Tools         []string // empty means all tools enabled
	DisabledTools []string

	Permission AgentPermission
}

// AgentPermission mirrors the permission actions the teacher's
// internal/session.AgentPermission carries; agentloop itself only reads
// these to build the tool.Invoker's mode/rules inputs, it never decides
// permission on its own (that's C3's job).
type AgentPermission struct {
	DoomLoop string // "allow" | "deny" | "ask"
	Bash     string
	Write    string
}

// ToolEnabled reports whether toolID should be offered to the model this
// turn: an explicit disable always wins, otherwise an empty Tools list
// means everything is enabled, otherwise the tool must appear in Tools.
func (a *Agent) ToolEnabled(toolID string) bool {
	for _, d := range a.DisabledTools {
		if d == toolID {
			return false
		}
	}
	if len(a.Tools) == 0 {
		return true
	}
	for _, t := range a.Tools {
		if t == toolID {
			return true
		}
	}
	return false
}

// DefaultAgent is the baseline agent: every tool enabled, every
// side-effecting action asked about.
func DefaultAgent() *Agent {
	return &Agent{
		Name:        "default",
		Temperature: 0.7,
		TopP:        1.0,
		MaxSteps:    50,
		Permission: AgentPermission{
			DoomLoop: "ask",
			Bash:     "ask",
			Write:    "ask",
		},
	}
}

// CodeAgent favors unattended edits: writes are pre-approved, bash and
// doom-loop detection still ask.
func CodeAgent() *Agent {
	return &Agent{
		Name:        "code",
		Temperature: 0.3,
		TopP:        0.95,
		MaxSteps:    100,
		Prompt:      "You are an expert coding assistant. Make focused, correct changes and verify them before reporting completion.",
		Permission: AgentPermission{
			DoomLoop: "ask",
			Bash:     "ask",
			Write:    "allow",
		},
	}
}

// PlanAgent never touches the filesystem or shell; it is meant to produce a
// plan for a human (or CodeAgent) to execute.
func PlanAgent() *Agent {
	return &Agent{
		Name:          "plan",
		Temperature:   0.5,
		TopP:          1.0,
		MaxSteps:      20,
		Prompt:        "You are a planning assistant. Produce a concrete, ordered plan; do not modify files or run commands.",
		DisabledTools: []string{"Write", "edit", "bash"},
		Permission: AgentPermission{
			DoomLoop: "deny",
			Bash:     "deny",
			Write:    "deny",
		},
	}
}
