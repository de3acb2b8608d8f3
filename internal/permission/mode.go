package permission

import "github.com/forgesmith/codeforge/internal/enginerr"

// Mode is the session-wide permission policy tier.
type Mode string

const (
	ModeDefault  Mode = "default"
	ModeAutoEdit Mode = "auto-edit"
	ModeYolo     Mode = "yolo"
	ModePlan     Mode = "plan"
)

// ToolKind classifies a tool for the mode short-circuit and for
// concurrency-safety decisions in the Invoker.
type ToolKind string

const (
	KindReadonly ToolKind = "readonly"
	KindWrite    ToolKind = "write"
	KindExecute  ToolKind = "execute"
	KindExternal ToolKind = "external"
)

// Decision is the outcome of the mode short-circuit step.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionFallthru Decision = "fallthrough" // continue to step 2
)

// ModeDecision applies the mode short-circuit table. Falling through means
// the caller should continue with the session cache / rule match / hook /
// ask pipeline.
func ModeDecision(mode Mode, kind ToolKind) (Decision, error) {
	switch mode {
	case ModeYolo:
		return DecisionAllow, nil
	case ModePlan:
		if kind == KindReadonly {
			return DecisionAllow, nil
		}
		return DecisionDeny, enginerr.PermissionDenied("plan mode forbids write/execute")
	case ModeAutoEdit:
		if kind == KindReadonly || kind == KindWrite {
			return DecisionAllow, nil
		}
		return DecisionFallthru, nil
	case ModeDefault, "":
		return DecisionFallthru, nil
	default:
		return DecisionFallthru, nil
	}
}
