package streams

import "time"

// BlockKind identifies the semantic event variant produced by the agent
// event bridge. Blocks describe what the agent is doing (reading, writing,
// executing, thinking) rather than how the provider reported it.
type BlockKind string

const (
	BlockAgentStarted   BlockKind = "agent_started"
	BlockAgentCompleted BlockKind = "agent_completed"
	BlockAgentFailed    BlockKind = "agent_failed"
	BlockPlanUpdated    BlockKind = "plan_updated"
	BlockMessage        BlockKind = "message_block"
	BlockThought        BlockKind = "thought_block"
	BlockRead           BlockKind = "read_block"
	BlockFileChanges    BlockKind = "file_changes_block"
	BlockTerminal       BlockKind = "terminal_block"
	BlockMCP            BlockKind = "mcp_block"
	BlockToolCall       BlockKind = "tool_call_block"
	BlockUsageReported  BlockKind = "usage_reported"
)

// ChangeType classifies one file change inside a file_changes_block.
type ChangeType string

const (
	ChangeEdit   ChangeType = "edit"
	ChangeDelete ChangeType = "delete"
	ChangeMove   ChangeType = "move"
)

// FileChange describes one file mutation derived from a tool call.
type FileChange struct {
	Type     ChangeType `json:"type"`
	Path     string     `json:"path,omitempty"`
	FromPath string     `json:"fromPath,omitempty"`
}

// Block is one semantic event. Kind selects which of the variant fields are
// meaningful; the rest are zero.
type Block struct {
	SessionID string    `json:"sessionId"`
	Kind      BlockKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Tool-call blocks (read, file_changes, terminal, mcp, tool_call).
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Status     ToolStatus     `json:"status,omitempty"`
	Files      []string       `json:"files,omitempty"`
	Changes    []FileChange   `json:"changes,omitempty"`
	Command    string         `json:"command,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`

	// Prose blocks.
	Text    string `json:"text,omitempty"`
	IsChunk bool   `json:"isChunk,omitempty"`

	// Plan, usage and lifecycle blocks.
	Plan       []PlanItem `json:"plan,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
	StopReason string     `json:"stopReason,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewBlock builds a block stamped with the current time.
func NewBlock(sessionID string, kind BlockKind) *Block {
	return &Block{SessionID: sessionID, Kind: kind, Timestamp: time.Now().UTC()}
}
