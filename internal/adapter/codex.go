package adapter

import (
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// DeferredAdapter handles providers that announce tool calls before the
// arguments are known (codex, gemini). The announcing tool_call carries empty
// input and is marked unfinalized; a later tool_call_update supplies the real
// arguments or a terminal status.
type DeferredAdapter struct {
	provider string
	behavior Behavior
}

// NewDeferredAdapter builds a deferred-input adapter for the given provider.
func NewDeferredAdapter(provider string) *DeferredAdapter {
	return &DeferredAdapter{
		provider: provider,
		behavior: Behavior{DeferredInput: true, Streaming: true},
	}
}

func (a *DeferredAdapter) Provider() string   { return a.provider }
func (a *DeferredAdapter) Behavior() Behavior { return a.behavior }

// Normalize converts one notification into canonical updates, marking
// empty-input tool calls as unfinalized.
func (a *DeferredAdapter) Normalize(sessionID string, raw any) []*streams.Update {
	return normalizeEnvelope(a.provider, sessionID, raw, true)
}

// HandleDeferredInput finalizes a pending tool call from a follow-up update.
// A non-empty input finalizes with the new arguments; a terminal status
// finalizes with whatever arrived, since no more input is coming.
func (a *DeferredAdapter) HandleDeferredInput(toolCallID string, update *streams.Update) *streams.ToolCallPayload {
	if update == nil || update.ToolCall == nil || update.ToolCall.ID != toolCallID {
		return nil
	}
	tc := update.ToolCall
	if len(tc.Input) == 0 && !tc.Status.Terminal() {
		return nil
	}
	finalized := *tc
	finalized.InputFinalized = true
	return &finalized
}
