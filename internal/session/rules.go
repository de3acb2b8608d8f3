package session

import (
	"encoding/json"
	"os"

	"github.com/forgesmith/codeforge/internal/config"
	"github.com/forgesmith/codeforge/internal/permission"
)

// ruleFile is the on-disk shape of a project or global permission rule-set
// file: a flat list of abstracted patterns (see permission.AbstractPattern)
// that are always allowed without asking.
type ruleFile struct {
	Rules []string `json:"rules"`
}

// loadRuleSet builds the RuleSet a session's permission decisions consult.
// Session-scope rules are left empty and nothing adds to them later; "always"
// approvals are kept in the Checker's own per-session cache instead.
// Grounded on the teacher's systemprompt.go loadCustomRules probing a fixed
// set of well-known file locations, generalized here to two scopes instead
// of a single merged document.
func loadRuleSet(workspaceRoot string) permission.RuleSet {
	return permission.RuleSet{
		Project: readRuleFile(config.ProjectPermissionRulesPath(workspaceRoot)),
		Global:  readRuleFile(config.GlobalPermissionRulesPath()),
	}
}

func readRuleFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var rf ruleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil
	}
	return rf.Rules
}
