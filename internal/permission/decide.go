package permission

import "context"

// HookVeto is called before the ask-the-user fallback so an external
// pre_tool_use hook can reject a call outright. Wired by the session
// manager at construction time; nil means no hook site is configured.
type HookVeto func(ctx context.Context, req Request) error

// DecideRequest bundles everything Decide needs beyond the base Request:
// the session-wide Mode, the tool's Kind for the mode short-circuit, and
// the configured RuleSet to match the abstracted pattern against.
type DecideRequest struct {
	Request
	Mode  Mode
	Kind  ToolKind
	Rules RuleSet
	// AbstractedPattern is the canonical pattern string for this call
	// (see AbstractPattern), used for rule-set and session-cache matching.
	AbstractedPattern string
}

// Decide runs the full permission pipeline:
//  1. mode short-circuit (ModeDecision)
//  2. session approval cache (existing IsApproved/IsPatternApproved)
//  3. configured rule match, session > project > global
//  4. hook veto, if a pre_tool_use hook site is wired
//  5. ask the user (existing Ask), which on "always" extends the session cache
//
// Decide never bypasses Ask's own session-cache recheck; steps 2-3 here are
// fast-path short-circuits so an already-allowed call skips the hook veto
// round-trip too.
func (c *Checker) Decide(ctx context.Context, dr DecideRequest, veto HookVeto) error {
	decision, err := ModeDecision(dr.Mode, dr.Kind)
	switch decision {
	case DecisionAllow:
		return nil
	case DecisionDeny:
		return err
	}

	if c.IsApproved(dr.SessionID, dr.Type) {
		return nil
	}
	if dr.AbstractedPattern != "" && c.IsPatternApproved(dr.SessionID, dr.AbstractedPattern) {
		return nil
	}

	if scope, ok := dr.Rules.Match(dr.AbstractedPattern); ok {
		_ = scope // scope decided precedence only; any match allows
		return nil
	}

	if veto != nil {
		if err := veto(ctx, dr.Request); err != nil {
			return err
		}
	}

	req := dr.Request
	if dr.AbstractedPattern != "" && len(req.Pattern) == 0 {
		req.Pattern = []string{dr.AbstractedPattern}
	}
	return c.Ask(ctx, req)
}
