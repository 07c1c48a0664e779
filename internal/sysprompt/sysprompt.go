// Package sysprompt builds the system prompt header for a new session and
// resolves specialist presets from configuration.
package sysprompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cohort-dev/cohort/internal/session"
)

// Specialist is a named preset applied when creating a session: a role, a
// preferred provider and model, and extra prompt text.
type Specialist struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name" json:"name"`
	Role     session.Role `yaml:"role" json:"role"`
	Provider string       `yaml:"provider" json:"provider"`
	Model    string       `yaml:"model,omitempty" json:"model,omitempty"`
	Prompt   string       `yaml:"prompt,omitempty" json:"prompt,omitempty"`
}

// builtins cover the three delegation roles when no presets file is given.
var builtins = []Specialist{
	{
		ID:   "coordinator",
		Name: "Coordinator",
		Role: session.RoleCoordinator,
		Prompt: "You are the coordinator. Break the user's request into discrete tasks. " +
			"Emit each task as a fenced block: a line containing only @@@task, then a " +
			"first-level heading with the task title, then sections named Objective, " +
			"Scope, Inputs, Definition of Done, Verification and Output Required as " +
			"second-level headings, then a line containing only @@@. Do not implement " +
			"the tasks yourself.",
	},
	{
		ID:   "implementor",
		Name: "Implementor",
		Role: session.RoleImplementor,
		Prompt: "You are an implementor. Complete exactly the task you are given, " +
			"following its definition of done. Do not expand scope.",
	},
	{
		ID:   "verifier",
		Name: "Verifier",
		Role: session.RoleVerifier,
		Prompt: "You are a verifier. Review the delivered work against the task's " +
			"verification section and report discrepancies.",
	},
}

// Registry resolves specialists by id and by role.
type Registry struct {
	byID map[string]Specialist
}

// NewRegistry builds a registry from an optional YAML presets file; file
// entries override the built-in presets with the same id.
func NewRegistry(path string) (*Registry, error) {
	byID := make(map[string]Specialist, len(builtins))
	for _, sp := range builtins {
		byID[sp.ID] = sp
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read specialists file: %w", err)
		}
		var file struct {
			Specialists []Specialist `yaml:"specialists"`
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse specialists file: %w", err)
		}
		for _, sp := range file.Specialists {
			if sp.ID == "" {
				continue
			}
			byID[sp.ID] = sp
		}
	}
	return &Registry{byID: byID}, nil
}

// Get returns the specialist with the given id.
func (r *Registry) Get(id string) (Specialist, bool) {
	sp, ok := r.byID[id]
	return sp, ok
}

// ForRole returns the first specialist preset matching a role.
func (r *Registry) ForRole(role session.Role) (Specialist, bool) {
	// Builtins first so configuration cannot shadow a role entirely by
	// accident; explicit ids are the override path.
	for _, sp := range builtins {
		if override, ok := r.byID[sp.ID]; ok && override.Role == role {
			return override, true
		}
	}
	for _, sp := range r.byID {
		if sp.Role == role {
			return sp, true
		}
	}
	return Specialist{}, false
}

// List returns every known specialist.
func (r *Registry) List() []Specialist {
	out := make([]Specialist, 0, len(r.byID))
	for _, sp := range r.byID {
		out = append(out, sp)
	}
	return out
}

// BuildHeader composes the pre-built system prompt header stored on a new
// session.
func BuildHeader(role session.Role, sp *Specialist, workspaceID string) string {
	var sb strings.Builder
	sb.WriteString("Role: ")
	sb.WriteString(string(role))
	sb.WriteString("\nWorkspace: ")
	sb.WriteString(workspaceID)
	if sp != nil && sp.Prompt != "" {
		sb.WriteString("\n\n")
		sb.WriteString(sp.Prompt)
	}
	return sb.String()
}
