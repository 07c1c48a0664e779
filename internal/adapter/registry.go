package adapter

import (
	"strings"
	"sync"
)

// synonyms collapses the provider identifier spellings seen in the wild onto
// canonical names. Anything not listed resolves to itself.
var synonyms = map[string]string{
	"claude":        "claude",
	"claude-code":   "claude",
	"claudecode":    "claude",
	"claude_code":   "claude",
	"codex":         "codex",
	"openai-codex":  "codex",
	"openaicodex":   "codex",
	"gemini":        "gemini",
	"gemini-cli":    "gemini",
	"geminicli":     "gemini",
	"google-gemini": "gemini",
}

// Registry hands out one adapter instance per canonical provider.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// CanonicalProvider lowercases, trims and collapses synonyms of a provider
// identifier. Unknown identifiers pass through in canonical form.
func CanonicalProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	p = strings.ReplaceAll(p, " ", "")
	if canonical, ok := synonyms[p]; ok {
		return canonical
	}
	if p == "" {
		return "standard"
	}
	return p
}

// Get returns the adapter for a provider identifier, building it on first
// use. Repeated calls with spellings of the same provider return the same
// instance.
func (r *Registry) Get(provider string) Adapter {
	canonical := CanonicalProvider(provider)

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[canonical]; ok {
		return a
	}

	var a Adapter
	switch canonical {
	case "claude":
		a = NewClaudeAdapter()
	case "codex", "gemini":
		a = NewDeferredAdapter(canonical)
	default:
		a = NewStandardAdapter(canonical)
	}
	r.adapters[canonical] = a
	return a
}
