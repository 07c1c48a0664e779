// Package supervisor keeps one upstream specialist subprocess alive per
// session: it resolves provider binaries, ships prompts over stdin, decodes
// line-delimited JSON notifications from stdout, and surfaces exits.
package supervisor

import (
	"fmt"
	"os"
	"strings"

	"github.com/cohort-dev/cohort/internal/adapter"
	"github.com/cohort-dev/cohort/internal/common/config"
	cerr "github.com/cohort-dev/cohort/internal/common/errors"
)

// defaultCommands launches known providers when the configuration does not
// override them.
var defaultCommands = map[string][]string{
	"claude": {"claude-code-acp"},
	"codex":  {"codex", "acp"},
	"gemini": {"gemini", "--experimental-acp"},
}

// Resolver maps a provider identifier to its launch command and environment.
type Resolver struct {
	commands map[string][]string
}

// NewResolver builds a resolver from configuration, falling back to the
// built-in commands for providers the configuration omits.
func NewResolver(cfg config.ProvidersConfig) *Resolver {
	commands := make(map[string][]string, len(defaultCommands)+len(cfg.Commands))
	for provider, cmd := range defaultCommands {
		commands[provider] = cmd
	}
	for provider, cmd := range cfg.Commands {
		commands[adapter.CanonicalProvider(provider)] = cmd
	}
	return &Resolver{commands: commands}
}

// Resolve returns the command line and extra environment for a provider.
// Unknown providers fail with an upstream_unavailable error.
func (r *Resolver) Resolve(provider string) ([]string, []string, error) {
	canonical := adapter.CanonicalProvider(provider)
	cmd, ok := r.commands[canonical]
	if !ok || len(cmd) == 0 {
		return nil, nil, cerr.UpstreamUnavailable(provider, fmt.Errorf("no command configured"))
	}

	var env []string
	if token := os.Getenv(authTokenVar(canonical)); token != "" {
		env = append(env, authTokenVar(canonical)+"="+token)
	}
	return cmd, env, nil
}

// authTokenVar is the per-provider credential variable, e.g.
// CLAUDE_AUTH_TOKEN.
func authTokenVar(provider string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider))
	return name + "_AUTH_TOKEN"
}
