// Package bridge translates canonical session updates into semantic block
// events describing what the agent is doing, carrying per-tool-call state
// across updates.
package bridge

import "strings"

// ToolKind is the classified activity of a tool by name.
type ToolKind string

const (
	KindRead    ToolKind = "read"
	KindEdit    ToolKind = "edit"
	KindExecute ToolKind = "execute"
	KindMCP     ToolKind = "mcp"
	KindOther   ToolKind = "other"
)

var (
	readNames    = map[string]bool{"read": true, "glob": true, "grep": true, "search": true, "find": true, "list": true, "ls": true}
	editNames    = map[string]bool{"write": true, "edit": true, "multiedit": true, "create": true, "delete": true, "move": true, "rename": true, "patch": true}
	executeNames = map[string]bool{"bash": true, "run": true, "execute": true, "terminal": true, "shell": true, "cmd": true}
)

// ClassifyTool maps a tool name onto its activity kind. Total and
// deterministic; unknown names classify as other.
func ClassifyTool(name string) ToolKind {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return KindOther
	}
	if strings.HasPrefix(n, "mcp__") {
		return KindMCP
	}

	switch {
	case readNames[n],
		hasAnyPrefix(n, "read_", "search_", "list_", "view_"),
		containsAny(n, "_read", "_search", "_glob", "_grep"):
		return KindRead
	case editNames[n],
		hasAnyPrefix(n, "write_", "edit_", "create_", "delete_"),
		containsAny(n, "str_replace", "_write", "_edit", "_create", "_delete", "_patch"):
		return KindEdit
	case executeNames[n],
		hasAnyPrefix(n, "run_", "exec_", "bash_"),
		containsAny(n, "_run", "_exec", "_bash", "_terminal", "_shell"):
		return KindExecute
	default:
		return KindOther
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
