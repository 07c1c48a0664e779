// Package streams defines the canonical session update and the semantic block
// event. The canonical update is the only type that crosses module boundaries
// between the adapter layer, the trace recorder, the session store and the
// event bridge.
package streams

import "time"

// UpdateKind identifies the canonical session-update variant.
type UpdateKind string

const (
	UpdateToolCall       UpdateKind = "tool_call"
	UpdateToolCallUpdate UpdateKind = "tool_call_update"
	UpdateUserMessage    UpdateKind = "user_message"
	UpdateAgentMessage   UpdateKind = "agent_message"
	UpdateAgentThought   UpdateKind = "agent_thought"
	UpdatePlan           UpdateKind = "plan_update"
	UpdateTurnComplete   UpdateKind = "turn_complete"
	UpdateError          UpdateKind = "error"
)

// ToolStatus is the canonical tool-call status set. Adapters coerce
// provider-specific status strings onto it.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusRunning   ToolStatus = "running"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

// Terminal reports whether the status ends a tool call.
func (s ToolStatus) Terminal() bool {
	return s == ToolStatusCompleted || s == ToolStatusFailed
}

// ToolCallPayload carries a tool invocation or an update to one.
// InputFinalized is false when the provider announced the call before its
// arguments were known; a later tool_call_update finalizes it.
type ToolCallPayload struct {
	ID             string         `json:"id"`
	Name           string         `json:"name,omitempty"`
	Title          string         `json:"title,omitempty"`
	Status         ToolStatus     `json:"status,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Output         any            `json:"output,omitempty"`
	InputFinalized bool           `json:"inputFinalized"`
}

// MessagePayload carries agent or user prose. IsChunk marks streamed
// assistant-message fragments; consecutive chunks are semantically one
// message.
type MessagePayload struct {
	Text    string `json:"text"`
	IsChunk bool   `json:"isChunk,omitempty"`
}

// Usage carries cumulative token counts reported at turn completion.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// TurnCompletePayload ends a prompt turn.
type TurnCompletePayload struct {
	StopReason string `json:"stopReason,omitempty"`
	Usage      *Usage `json:"usage,omitempty"`
}

// PlanStatus is the canonical plan-item status set.
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusDone       PlanStatus = "done"
	PlanStatusFailed     PlanStatus = "failed"
	PlanStatusCanceled   PlanStatus = "canceled"
)

// PlanItem is one entry in the agent's execution plan.
type PlanItem struct {
	Description string     `json:"description"`
	Status      PlanStatus `json:"status"`
	Priority    string     `json:"priority,omitempty"`
}

// ErrorPayload carries a failure surfaced on the update stream.
type ErrorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Update is the canonical, provider-independent session update.
// Exactly one payload pointer matching Kind is set; Raw keeps the original
// wire message for debugging and replay.
type Update struct {
	SessionID string     `json:"sessionId"`
	Provider  string     `json:"provider,omitempty"`
	Kind      UpdateKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`

	ToolCall     *ToolCallPayload     `json:"toolCall,omitempty"`
	Message      *MessagePayload      `json:"message,omitempty"`
	TurnComplete *TurnCompletePayload `json:"turnComplete,omitempty"`
	Plan         []PlanItem           `json:"plan,omitempty"`
	Error        *ErrorPayload        `json:"error,omitempty"`

	Raw map[string]any `json:"raw,omitempty"`
}

// NewUpdate builds an update stamped with the current time.
func NewUpdate(sessionID, provider string, kind UpdateKind) *Update {
	return &Update{
		SessionID: sessionID,
		Provider:  provider,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
