package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort-dev/cohort/internal/types/streams"
)

func toolCallUpdate(kind streams.UpdateKind, tc *streams.ToolCallPayload) *streams.Update {
	u := streams.NewUpdate("S1", "codex", kind)
	u.ToolCall = tc
	return u
}

func TestDeferredReadLifecycle(t *testing.T) {
	b := New("S1")

	// Announcement: read block, in progress, no files yet.
	blocks := b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c1", Name: "read", Status: streams.ToolStatusPending,
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockRead, blocks[0].Kind)
	assert.Equal(t, streams.ToolStatusRunning, blocks[0].Status)
	assert.Empty(t, blocks[0].Files)

	// Arguments arrive: file list appears, still in progress.
	blocks = b.Translate(toolCallUpdate(streams.UpdateToolCallUpdate, &streams.ToolCallPayload{
		ID: "c1", Status: streams.ToolStatusRunning,
		Input: map[string]any{"filePath": "/a.ts"},
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockRead, blocks[0].Kind)
	assert.Equal(t, []string{"/a.ts"}, blocks[0].Files)
	assert.Equal(t, streams.ToolStatusRunning, blocks[0].Status)

	// Completion: same kind, completed, files inherited from tracked state.
	blocks = b.Translate(toolCallUpdate(streams.UpdateToolCallUpdate, &streams.ToolCallPayload{
		ID: "c1", Status: streams.ToolStatusCompleted, Output: "contents",
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockRead, blocks[0].Kind)
	assert.Equal(t, streams.ToolStatusCompleted, blocks[0].Status)
	assert.Equal(t, []string{"/a.ts"}, blocks[0].Files)
	assert.Equal(t, "contents", blocks[0].Output)
}

func TestTerminalBlockLifecycle(t *testing.T) {
	b := New("S1")

	blocks := b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c2", Name: "bash", Status: streams.ToolStatusRunning,
		Input: map[string]any{"command": "npm test"},
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockTerminal, blocks[0].Kind)
	assert.Equal(t, "npm test", blocks[0].Command)
	assert.Equal(t, streams.ToolStatusRunning, blocks[0].Status)

	blocks = b.Translate(toolCallUpdate(streams.UpdateToolCallUpdate, &streams.ToolCallPayload{
		ID: "c2", Status: streams.ToolStatusCompleted, Output: "All tests passed",
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockTerminal, blocks[0].Kind)
	assert.Equal(t, "npm test", blocks[0].Command)
	assert.Equal(t, streams.ToolStatusCompleted, blocks[0].Status)
	assert.Equal(t, "All tests passed", blocks[0].Output)
}

func TestFileChangesBlock(t *testing.T) {
	b := New("S1")

	// Write classifies as edit, not create.
	blocks := b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c3", Name: "write", Status: streams.ToolStatusRunning,
		Input: map[string]any{"file_path": "/new.go"},
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockFileChanges, blocks[0].Kind)
	require.Len(t, blocks[0].Changes, 1)
	assert.Equal(t, streams.ChangeEdit, blocks[0].Changes[0].Type)
	assert.Equal(t, "/new.go", blocks[0].Changes[0].Path)

	blocks = b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c4", Name: "delete_file", Status: streams.ToolStatusRunning,
		Input: map[string]any{"path": "/old.go"},
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.ChangeDelete, blocks[0].Changes[0].Type)

	blocks = b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c5", Name: "rename", Status: streams.ToolStatusRunning,
		Input: map[string]any{"from_path": "/a.go", "to_path": "/b.go"},
	}))
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Changes, 1)
	assert.Equal(t, streams.ChangeMove, blocks[0].Changes[0].Type)
	assert.Equal(t, "/a.go", blocks[0].Changes[0].FromPath)
	assert.Equal(t, "/b.go", blocks[0].Changes[0].Path)
}

func TestMCPAndOtherBlocks(t *testing.T) {
	b := New("S1")

	input := map[string]any{"owner": "x", "repo": "y"}
	blocks := b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c6", Name: "mcp__github__create_issue", Status: streams.ToolStatusRunning, Input: input,
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockMCP, blocks[0].Kind)
	assert.Equal(t, input, blocks[0].Input)

	blocks = b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c7", Name: "web_fetch", Status: streams.ToolStatusRunning,
	}))
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockToolCall, blocks[0].Kind)
}

func TestTrackedStateClearedOnTerminalStatus(t *testing.T) {
	b := New("S1")

	b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c1", Name: "read", Status: streams.ToolStatusRunning,
		Input: map[string]any{"path": "/a.go"},
	}))
	b.Translate(toolCallUpdate(streams.UpdateToolCallUpdate, &streams.ToolCallPayload{
		ID: "c1", Status: streams.ToolStatusCompleted,
	}))

	// A later update for the same id starts from scratch: no inherited files.
	blocks := b.Translate(toolCallUpdate(streams.UpdateToolCallUpdate, &streams.ToolCallPayload{
		ID: "c1", Status: streams.ToolStatusRunning,
	}))
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Files)
	assert.Empty(t, blocks[0].ToolName)
}

func TestProseAndPlanBlocks(t *testing.T) {
	b := New("S1")

	u := streams.NewUpdate("S1", "claude", streams.UpdateAgentMessage)
	u.Message = &streams.MessagePayload{Text: "working on it", IsChunk: true}
	blocks := b.Translate(u)
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockMessage, blocks[0].Kind)
	assert.True(t, blocks[0].IsChunk)

	u = streams.NewUpdate("S1", "claude", streams.UpdateAgentThought)
	u.Message = &streams.MessagePayload{Text: "hmm"}
	blocks = b.Translate(u)
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockThought, blocks[0].Kind)

	u = streams.NewUpdate("S1", "claude", streams.UpdatePlan)
	u.Plan = []streams.PlanItem{{Description: "step 1", Status: streams.PlanStatusDone}}
	blocks = b.Translate(u)
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockPlanUpdated, blocks[0].Kind)
	assert.Equal(t, u.Plan, blocks[0].Plan)
}

func TestTurnCompleteOrdering(t *testing.T) {
	b := New("S1")

	u := streams.NewUpdate("S1", "claude", streams.UpdateTurnComplete)
	u.TurnComplete = &streams.TurnCompletePayload{
		StopReason: "end_turn",
		Usage:      &streams.Usage{InputTokens: 100, OutputTokens: 50},
	}
	blocks := b.Translate(u)
	require.Len(t, blocks, 2)
	assert.Equal(t, streams.BlockUsageReported, blocks[0].Kind)
	assert.Equal(t, int64(100), blocks[0].Usage.InputTokens)
	assert.Equal(t, streams.BlockAgentCompleted, blocks[1].Kind)
	assert.Equal(t, "end_turn", blocks[1].StopReason)

	// Without usage, only agent_completed.
	u.TurnComplete.Usage = nil
	blocks = b.Translate(u)
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockAgentCompleted, blocks[0].Kind)
}

func TestErrorBecomesAgentFailed(t *testing.T) {
	b := New("S1")

	u := streams.NewUpdate("S1", "claude", streams.UpdateError)
	u.Error = &streams.ErrorPayload{Kind: "upstream_exited", Message: "upstream exited, code 1"}
	blocks := b.Translate(u)
	require.Len(t, blocks, 1)
	assert.Equal(t, streams.BlockAgentFailed, blocks[0].Kind)
	assert.Equal(t, "upstream exited, code 1", blocks[0].Error)
}

func TestCleanupDiscardsTracked(t *testing.T) {
	b := New("S1")

	b.Translate(toolCallUpdate(streams.UpdateToolCall, &streams.ToolCallPayload{
		ID: "c1", Name: "read", Status: streams.ToolStatusRunning,
		Input: map[string]any{"path": "/a.go"},
	}))
	b.Cleanup()

	blocks := b.Translate(toolCallUpdate(streams.UpdateToolCallUpdate, &streams.ToolCallPayload{
		ID: "c1", Status: streams.ToolStatusRunning,
	}))
	require.Len(t, blocks, 1)
	assert.Empty(t, blocks[0].Files)
}
