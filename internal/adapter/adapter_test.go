package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort-dev/cohort/internal/types/streams"
)

func envelope(update map[string]any) map[string]any {
	return map[string]any{"sessionId": "sess-1", "update": update}
}

func TestCanonicalProvider(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"claude", "claude"},
		{"Claude-Code", "claude"},
		{"CLAUDECODE", "claude"},
		{"claude_code", "claude"},
		{"codex", "codex"},
		{"OpenAI-Codex", "codex"},
		{"gemini-cli", "gemini"},
		{"Google-Gemini", "gemini"},
		{"  aider  ", "aider"},
		{"", "standard"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanonicalProvider(tt.in), "input %q", tt.in)
	}
}

func TestRegistryMemoizes(t *testing.T) {
	r := NewRegistry()

	a := r.Get("claude")
	b := r.Get("Claude-Code")
	assert.Same(t, a, b)

	c := r.Get("codex")
	assert.NotSame(t, a, c)
	assert.True(t, c.Behavior().DeferredInput)
	assert.False(t, a.Behavior().DeferredInput)

	d := r.Get("unknown-agent")
	assert.Equal(t, "unknown-agent", d.Provider())
	assert.False(t, d.Behavior().DeferredInput)
}

func TestNormalizeMalformed(t *testing.T) {
	a := NewStandardAdapter("standard")

	assert.Nil(t, a.Normalize("s", "not a map"))
	assert.Nil(t, a.Normalize("s", nil))
	assert.Nil(t, a.Normalize("s", map[string]any{"foo": "bar"}))
	// Tool call without an id is dropped.
	assert.Nil(t, a.Normalize("s", envelope(map[string]any{"sessionUpdate": "tool_call"})))
	// Unknown kinds are dropped.
	assert.Nil(t, a.Normalize("s", envelope(map[string]any{"sessionUpdate": "mystery"})))
	// Empty prose chunks are dropped.
	assert.Nil(t, a.Normalize("s", envelope(map[string]any{"sessionUpdate": "agent_message_chunk"})))
}

func TestNormalizeToolCallImmediate(t *testing.T) {
	a := NewClaudeAdapter()

	updates := a.Normalize("sess-0", envelope(map[string]any{
		"sessionUpdate": "tool_call",
		"toolCallId":    "tc-1",
		"title":         "Read main.go",
		"kind":          "read",
		"status":        "in_progress",
		"rawInput":      map[string]any{"path": "main.go"},
	}))
	require.Len(t, updates, 1)

	u := updates[0]
	assert.Equal(t, "sess-1", u.SessionID, "sessionId from envelope wins")
	assert.Equal(t, "claude", u.Provider)
	assert.Equal(t, streams.UpdateToolCall, u.Kind)
	require.NotNil(t, u.ToolCall)
	assert.Equal(t, "tc-1", u.ToolCall.ID)
	assert.Equal(t, "read", u.ToolCall.Name)
	assert.Equal(t, streams.ToolStatusRunning, u.ToolCall.Status)
	assert.True(t, u.ToolCall.InputFinalized)
	assert.Equal(t, "main.go", u.ToolCall.Input["path"])
}

func TestNormalizeToolCallDeferred(t *testing.T) {
	a := NewDeferredAdapter("codex")

	// Announcement with no arguments stays unfinalized.
	updates := a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "tool_call",
		"toolCallId":    "tc-9",
		"title":         "Run tests",
		"kind":          "execute",
	}))
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].ToolCall)
	assert.False(t, updates[0].ToolCall.InputFinalized)

	// Announcement that does carry arguments is finalized right away.
	updates = a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "tool_call",
		"toolCallId":    "tc-10",
		"kind":          "execute",
		"rawInput":      map[string]any{"command": "go test"},
	}))
	require.Len(t, updates, 1)
	assert.True(t, updates[0].ToolCall.InputFinalized)
}

func TestHandleDeferredInput(t *testing.T) {
	a := NewDeferredAdapter("codex")

	makeUpdate := func(tc *streams.ToolCallPayload) *streams.Update {
		u := streams.NewUpdate("sess-1", "codex", streams.UpdateToolCallUpdate)
		u.ToolCall = tc
		return u
	}

	// Wrong id: no finalization.
	assert.Nil(t, a.HandleDeferredInput("tc-1", makeUpdate(&streams.ToolCallPayload{ID: "tc-2"})))

	// Empty input and non-terminal status: still waiting.
	assert.Nil(t, a.HandleDeferredInput("tc-1", makeUpdate(&streams.ToolCallPayload{
		ID: "tc-1", Status: streams.ToolStatusRunning,
	})))

	// Non-empty input finalizes.
	got := a.HandleDeferredInput("tc-1", makeUpdate(&streams.ToolCallPayload{
		ID:     "tc-1",
		Status: streams.ToolStatusRunning,
		Input:  map[string]any{"command": "ls"},
	}))
	require.NotNil(t, got)
	assert.True(t, got.InputFinalized)
	assert.Equal(t, "ls", got.Input["command"])

	// Terminal status finalizes even with no input.
	got = a.HandleDeferredInput("tc-1", makeUpdate(&streams.ToolCallPayload{
		ID: "tc-1", Status: streams.ToolStatusFailed,
	}))
	require.NotNil(t, got)
	assert.True(t, got.InputFinalized)

	// Immediate-input adapters never finalize.
	imm := NewClaudeAdapter()
	assert.Nil(t, imm.HandleDeferredInput("tc-1", makeUpdate(&streams.ToolCallPayload{
		ID: "tc-1", Input: map[string]any{"x": "y"},
	})))
}

func TestCoerceStatus(t *testing.T) {
	tests := []struct {
		raw       string
		hasOutput bool
		want      streams.ToolStatus
	}{
		{"pending", false, streams.ToolStatusPending},
		{"in_progress", false, streams.ToolStatusRunning},
		{"running", false, streams.ToolStatusRunning},
		{"completed", false, streams.ToolStatusCompleted},
		{"success", false, streams.ToolStatusCompleted},
		{"failed", false, streams.ToolStatusFailed},
		{"error", true, streams.ToolStatusFailed},
		{"", false, streams.ToolStatusRunning},
		{"", true, streams.ToolStatusCompleted},
		{"something_else", true, streams.ToolStatusCompleted},
		{"something_else", false, streams.ToolStatusRunning},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CoerceStatus(tt.raw, tt.hasOutput), "raw=%q hasOutput=%v", tt.raw, tt.hasOutput)
	}
}

func TestNormalizeProseChunks(t *testing.T) {
	a := NewStandardAdapter("standard")

	updates := a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]any{"type": "text", "text": "hello "},
	}))
	require.Len(t, updates, 1)
	assert.Equal(t, streams.UpdateAgentMessage, updates[0].Kind)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, "hello ", updates[0].Message.Text)
	assert.True(t, updates[0].Message.IsChunk)

	updates = a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "agent_thought_chunk",
		"text":          "considering options",
	}))
	require.Len(t, updates, 1)
	assert.Equal(t, streams.UpdateAgentThought, updates[0].Kind)
	assert.True(t, updates[0].Message.IsChunk)

	updates = a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "user_message",
		"content":       map[string]any{"type": "text", "text": "do the thing"},
	}))
	require.Len(t, updates, 1)
	assert.Equal(t, streams.UpdateUserMessage, updates[0].Kind)
	assert.False(t, updates[0].Message.IsChunk)
}

func TestNormalizePlan(t *testing.T) {
	a := NewStandardAdapter("standard")

	updates := a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "plan",
		"entries": []any{
			map[string]any{"content": "read the code", "status": "completed", "priority": "high"},
			map[string]any{"content": "write tests", "status": "in_progress"},
			map[string]any{"content": "ship it", "status": "pending"},
		},
	}))
	require.Len(t, updates, 1)
	require.Len(t, updates[0].Plan, 3)
	assert.Equal(t, streams.PlanStatusDone, updates[0].Plan[0].Status)
	assert.Equal(t, "high", updates[0].Plan[0].Priority)
	assert.Equal(t, streams.PlanStatusInProgress, updates[0].Plan[1].Status)
	assert.Equal(t, streams.PlanStatusPending, updates[0].Plan[2].Status)
}

func TestNormalizeTurnComplete(t *testing.T) {
	a := NewStandardAdapter("standard")

	updates := a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "turn_complete",
		"stopReason":    "end_turn",
		"usage":         map[string]any{"inputTokens": float64(1200), "outputTokens": float64(340)},
	}))
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].TurnComplete)
	assert.Equal(t, "end_turn", updates[0].TurnComplete.StopReason)
	require.NotNil(t, updates[0].TurnComplete.Usage)
	assert.Equal(t, int64(1200), updates[0].TurnComplete.Usage.InputTokens)
	assert.Equal(t, int64(340), updates[0].TurnComplete.Usage.OutputTokens)

	// Turn complete without usage keeps a nil usage pointer.
	updates = a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "turn_complete",
		"stopReason":    "cancelled",
	}))
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].TurnComplete.Usage)
}

func TestNormalizeError(t *testing.T) {
	a := NewStandardAdapter("standard")

	updates := a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "error",
		"message":       "rate limited",
		"code":          "upstream_unavailable",
	}))
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Error)
	assert.Equal(t, "rate limited", updates[0].Error.Message)
	assert.Equal(t, "upstream_unavailable", updates[0].Error.Kind)

	// Error with no message at all is dropped.
	assert.Nil(t, a.Normalize("sess-1", envelope(map[string]any{"sessionUpdate": "error"})))
}

func TestNormalizeOutputImpliesCompletion(t *testing.T) {
	a := NewStandardAdapter("standard")

	updates := a.Normalize("sess-1", envelope(map[string]any{
		"sessionUpdate": "tool_call_update",
		"toolCallId":    "tc-3",
		"rawOutput":     "file contents here",
	}))
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].ToolCall)
	assert.Equal(t, streams.ToolStatusCompleted, updates[0].ToolCall.Status)
	assert.Equal(t, "file contents here", updates[0].ToolCall.Output)
}
