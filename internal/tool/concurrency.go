package tool

// readonlyTools lists tool ids safe to run concurrently with any other
// tool call in the same session. Every
// other registered tool is treated as unsafe and serialized per session by
// the Invoker.
var readonlyTools = map[string]bool{
	"read":     true,
	"glob":     true,
	"grep":     true,
	"list":     true,
	"todoread": true,
}

// ConcurrencySafe reports whether toolID may run concurrently with other
// tool calls in the same session.
func ConcurrencySafe(toolID string) bool {
	return readonlyTools[toolID]
}
