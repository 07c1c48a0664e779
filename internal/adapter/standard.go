package adapter

import (
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// StandardAdapter handles providers that follow the common session/update
// dialect with immediate tool-call input. Unknown providers fall back to it.
type StandardAdapter struct {
	provider string
	behavior Behavior
}

// NewStandardAdapter builds an immediate-input adapter for the given provider.
func NewStandardAdapter(provider string) *StandardAdapter {
	return &StandardAdapter{
		provider: provider,
		behavior: Behavior{DeferredInput: false, Streaming: true},
	}
}

func (a *StandardAdapter) Provider() string   { return a.provider }
func (a *StandardAdapter) Behavior() Behavior { return a.behavior }

// Normalize converts one session/update notification into canonical updates.
func (a *StandardAdapter) Normalize(sessionID string, raw any) []*streams.Update {
	return normalizeEnvelope(a.provider, sessionID, raw, false)
}

// HandleDeferredInput is a no-op: this adapter's tool calls arrive with their
// input already finalized.
func (a *StandardAdapter) HandleDeferredInput(string, *streams.Update) *streams.ToolCallPayload {
	return nil
}

// normalizeEnvelope is the shared wire-to-canonical conversion. deferred
// controls whether a tool_call with empty input is marked unfinalized.
func normalizeEnvelope(provider, sessionID string, raw any, deferred bool) []*streams.Update {
	sessionID, wire, ok := parseEnvelope(sessionID, raw)
	if !ok {
		return nil
	}

	kind := GetString(wire, "sessionUpdate")
	switch kind {
	case "tool_call":
		return normalizeToolCall(provider, sessionID, wire, deferred)
	case "tool_call_update":
		return normalizeToolCallUpdate(provider, sessionID, wire)
	case "agent_message_chunk", "agent_message":
		return normalizeProse(provider, sessionID, wire, streams.UpdateAgentMessage, kind == "agent_message_chunk")
	case "agent_thought_chunk", "agent_thought":
		return normalizeProse(provider, sessionID, wire, streams.UpdateAgentThought, kind == "agent_thought_chunk")
	case "user_message", "user_message_chunk":
		return normalizeProse(provider, sessionID, wire, streams.UpdateUserMessage, false)
	case "plan", "plan_update":
		u := streams.NewUpdate(sessionID, provider, streams.UpdatePlan)
		u.Plan = extractPlan(wire)
		u.Raw = wire
		return []*streams.Update{u}
	case "turn_complete", "turn_ended":
		u := streams.NewUpdate(sessionID, provider, streams.UpdateTurnComplete)
		u.TurnComplete = &streams.TurnCompletePayload{
			StopReason: GetString(wire, "stopReason"),
			Usage:      extractUsage(wire),
		}
		u.Raw = wire
		return []*streams.Update{u}
	case "error":
		msg := GetString(wire, "message")
		if msg == "" {
			msg = extractText(wire)
		}
		if msg == "" {
			return nil
		}
		u := streams.NewUpdate(sessionID, provider, streams.UpdateError)
		u.Error = &streams.ErrorPayload{Kind: GetString(wire, "code"), Message: msg}
		u.Raw = wire
		return []*streams.Update{u}
	default:
		// Unknown kinds are dropped rather than guessed at.
		return nil
	}
}

func normalizeToolCall(provider, sessionID string, wire map[string]any, deferred bool) []*streams.Update {
	id := GetString(wire, "toolCallId")
	if id == "" {
		return nil
	}
	input := GetMap(wire, "rawInput")
	if input == nil {
		input = GetMap(wire, "input")
	}
	output, hasOutput := wire["rawOutput"]
	if !hasOutput {
		output, hasOutput = wire["output"]
	}

	payload := &streams.ToolCallPayload{
		ID:             id,
		Name:           toolName(wire),
		Title:          GetString(wire, "title"),
		Status:         CoerceStatus(GetString(wire, "status"), hasOutput),
		Input:          input,
		InputFinalized: !deferred || len(input) > 0,
	}
	if hasOutput {
		payload.Output = output
	}

	u := streams.NewUpdate(sessionID, provider, streams.UpdateToolCall)
	u.ToolCall = payload
	u.Raw = wire
	return []*streams.Update{u}
}

func normalizeToolCallUpdate(provider, sessionID string, wire map[string]any) []*streams.Update {
	id := GetString(wire, "toolCallId")
	if id == "" {
		return nil
	}
	input := GetMap(wire, "rawInput")
	if input == nil {
		input = GetMap(wire, "input")
	}
	output, hasOutput := wire["rawOutput"]
	if !hasOutput {
		output, hasOutput = wire["output"]
	}

	payload := &streams.ToolCallPayload{
		ID:             id,
		Name:           toolName(wire),
		Title:          GetString(wire, "title"),
		Status:         CoerceStatus(GetString(wire, "status"), hasOutput),
		Input:          input,
		InputFinalized: true,
	}
	if hasOutput {
		payload.Output = output
	}

	u := streams.NewUpdate(sessionID, provider, streams.UpdateToolCallUpdate)
	u.ToolCall = payload
	u.Raw = wire
	return []*streams.Update{u}
}

func normalizeProse(provider, sessionID string, wire map[string]any, kind streams.UpdateKind, chunk bool) []*streams.Update {
	text := extractText(wire)
	if text == "" {
		return nil
	}
	u := streams.NewUpdate(sessionID, provider, kind)
	u.Message = &streams.MessagePayload{Text: text, IsChunk: chunk}
	u.Raw = wire
	return []*streams.Update{u}
}

// toolName prefers the tool's programmatic name over its display kind.
func toolName(wire map[string]any) string {
	if name := GetString(wire, "name"); name != "" {
		return name
	}
	return GetString(wire, "kind")
}
