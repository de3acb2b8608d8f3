package permission

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Scope is a rule list's provenance; session > project > global is the
// deterministic tie-break order the decision pipeline requires.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

var scopeOrder = []Scope{ScopeSession, ScopeProject, ScopeGlobal}

// RuleSet is the union of configured allow rules across the three scopes.
type RuleSet struct {
	Session []string
	Project []string
	Global  []string
}

func (r RuleSet) byScope(scope Scope) []string {
	switch scope {
	case ScopeSession:
		return r.Session
	case ScopeProject:
		return r.Project
	case ScopeGlobal:
		return r.Global
	}
	return nil
}

// Match reports whether pattern exactly matches a configured rule, checking
// scopes in session > project > global order and returning the first scope
// that matched.
func (r RuleSet) Match(pattern string) (Scope, bool) {
	for _, scope := range scopeOrder {
		for _, rule := range r.byScope(scope) {
			if rule == pattern {
				return scope, true
			}
		}
	}
	return "", false
}

// AbstractPattern produces the canonical permission-rule string for a tool
// call per the tool's kind. It generalizes
// bash commands to their first word plus a subcommand wildcard (reusing
// ParseBashCommand/BuildPattern), file tools to an extension glob, and web
// fetch to the bare domain.
func AbstractPattern(toolName string, rawArgs map[string]any) string {
	switch toolName {
	case "bash":
		cmdStr, _ := rawArgs["command"].(string)
		commands, err := ParseBashCommand(cmdStr)
		if err != nil || len(commands) == 0 {
			return "Bash(command:*)"
		}
		return "Bash(command:" + BuildPattern(commands[0]) + ")"

	case "edit", "Write":
		path, _ := rawArgs["filePath"].(string)
		return "File(path:" + extGlob(path) + ")"

	case "webfetch":
		url, _ := rawArgs["url"].(string)
		return "WebFetch(domain:" + domainOf(url) + ")"

	default:
		return toolName + "(*)"
	}
}

func extGlob(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "**/*"
	}
	return "**/*" + ext
}

func domainOf(rawURL string) string {
	u := rawURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, "@"); i >= 0 {
		u = u[i+1:]
	}
	return u
}

// MatchGlobPattern reports whether path matches a `**/*.ext`-style pattern
// using doublestar, the same glob dialect the glob tool searches with.
func MatchGlobPattern(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}
