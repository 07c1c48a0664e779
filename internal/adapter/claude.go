package adapter

import (
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// ClaudeAdapter handles the claude provider. Tool calls arrive with their
// full arguments in the announcing message, so input is always finalized on
// first sight.
type ClaudeAdapter struct {
	behavior Behavior
}

// NewClaudeAdapter builds the claude adapter.
func NewClaudeAdapter() *ClaudeAdapter {
	return &ClaudeAdapter{behavior: Behavior{DeferredInput: false, Streaming: true}}
}

func (a *ClaudeAdapter) Provider() string   { return "claude" }
func (a *ClaudeAdapter) Behavior() Behavior { return a.behavior }

// Normalize converts a claude notification into canonical updates. The wire
// shape matches the common dialect; input is finalized immediately.
func (a *ClaudeAdapter) Normalize(sessionID string, raw any) []*streams.Update {
	updates := normalizeEnvelope("claude", sessionID, raw, false)
	for _, u := range updates {
		if u.ToolCall != nil {
			u.ToolCall.InputFinalized = true
		}
	}
	return updates
}

// HandleDeferredInput is a no-op for claude.
func (a *ClaudeAdapter) HandleDeferredInput(string, *streams.Update) *streams.ToolCallPayload {
	return nil
}
