// Package adapter normalises heterogeneous upstream agent wire dialects into
// the canonical session update. Each upstream speaks a slightly different
// JSON-RPC dialect over stdio; the adapter layer hides that behind one type so
// the rest of the core never sees provider-specific fields.
package adapter

import (
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// Behavior describes how a provider reports tool calls on the wire.
type Behavior struct {
	// DeferredInput is true when tool-call announcements precede their
	// arguments; the arguments arrive in a later tool_call_update.
	DeferredInput bool

	// Streaming is true when the provider streams assistant prose as chunks.
	Streaming bool
}

// Adapter converts raw wire notifications from one provider into canonical
// updates. Implementations are total: malformed input returns nil, never an
// error or panic.
type Adapter interface {
	// Provider returns the canonical provider identifier this adapter serves.
	Provider() string

	// Behavior returns the provider's wire behavior descriptor.
	Behavior() Behavior

	// Normalize converts one raw notification value into zero or more
	// canonical updates. A nil result means the message should be dropped.
	Normalize(sessionID string, raw any) []*streams.Update

	// HandleDeferredInput reconciles a tool_call_update against a tool call
	// whose input was not yet finalized. It returns the finalized tool-call
	// payload when the update carries non-empty input or reports completion,
	// and nil otherwise. Immediate-input adapters always return nil.
	HandleDeferredInput(toolCallID string, update *streams.Update) *streams.ToolCallPayload
}
