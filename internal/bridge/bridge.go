package bridge

import (
	"strings"
	"sync"

	"github.com/cohort-dev/cohort/internal/types/streams"
)

// trackedCall carries the last-known view of one tool call across updates.
// New values override, missing values inherit.
type trackedCall struct {
	name   string
	kind   ToolKind
	status streams.ToolStatus
	input  map[string]any
	output any
}

// Bridge is a per-session translator from canonical updates to semantic
// blocks.
type Bridge struct {
	mu        sync.Mutex
	sessionID string
	tracked   map[string]*trackedCall
}

// New builds a bridge for one session.
func New(sessionID string) *Bridge {
	return &Bridge{
		sessionID: sessionID,
		tracked:   make(map[string]*trackedCall),
	}
}

// Translate converts one canonical update into zero or more blocks.
func (b *Bridge) Translate(u *streams.Update) []*streams.Block {
	if u == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch u.Kind {
	case streams.UpdateToolCall:
		return b.onToolCall(u)
	case streams.UpdateToolCallUpdate:
		return b.onToolCallUpdate(u)
	case streams.UpdateAgentMessage:
		return b.onProse(u, streams.BlockMessage)
	case streams.UpdateAgentThought:
		return b.onProse(u, streams.BlockThought)
	case streams.UpdatePlan:
		blk := streams.NewBlock(b.sessionID, streams.BlockPlanUpdated)
		blk.Plan = u.Plan
		return []*streams.Block{blk}
	case streams.UpdateTurnComplete:
		return b.onTurnComplete(u)
	case streams.UpdateError:
		blk := streams.NewBlock(b.sessionID, streams.BlockAgentFailed)
		if u.Error != nil {
			blk.Error = u.Error.Message
		}
		return []*streams.Block{blk}
	default:
		return nil
	}
}

// Cleanup discards all tracked tool calls. Called on session delete.
func (b *Bridge) Cleanup() {
	b.mu.Lock()
	b.tracked = make(map[string]*trackedCall)
	b.mu.Unlock()
}

func (b *Bridge) onToolCall(u *streams.Update) []*streams.Block {
	tc := u.ToolCall
	if tc == nil || tc.ID == "" {
		return nil
	}

	status := tc.Status
	if !status.Terminal() {
		status = streams.ToolStatusRunning
	}
	tracked := &trackedCall{
		name:   tc.Name,
		kind:   ClassifyTool(tc.Name),
		status: status,
		input:  tc.Input,
		output: tc.Output,
	}
	b.tracked[tc.ID] = tracked

	blk := b.blockFor(tc.ID, tracked)
	if status.Terminal() {
		delete(b.tracked, tc.ID)
	}
	return []*streams.Block{blk}
}

func (b *Bridge) onToolCallUpdate(u *streams.Update) []*streams.Block {
	tc := u.ToolCall
	if tc == nil || tc.ID == "" {
		return nil
	}

	tracked, ok := b.tracked[tc.ID]
	if !ok {
		// Update without a prior tool_call; track it best-effort so the
		// block still carries a kind.
		tracked = &trackedCall{name: tc.Name, kind: ClassifyTool(tc.Name)}
		b.tracked[tc.ID] = tracked
	}

	if tc.Name != "" {
		tracked.name = tc.Name
		tracked.kind = ClassifyTool(tc.Name)
	}
	if len(tc.Input) > 0 {
		tracked.input = tc.Input
	}
	if tc.Output != nil {
		tracked.output = tc.Output
	}
	if tc.Status != "" {
		tracked.status = tc.Status
	}

	blk := b.blockFor(tc.ID, tracked)
	if tracked.status.Terminal() {
		delete(b.tracked, tc.ID)
	}
	return []*streams.Block{blk}
}

func (b *Bridge) onProse(u *streams.Update, kind streams.BlockKind) []*streams.Block {
	if u.Message == nil || u.Message.Text == "" {
		return nil
	}
	blk := streams.NewBlock(b.sessionID, kind)
	blk.Text = u.Message.Text
	blk.IsChunk = u.Message.IsChunk
	return []*streams.Block{blk}
}

func (b *Bridge) onTurnComplete(u *streams.Update) []*streams.Block {
	var blocks []*streams.Block
	if u.TurnComplete != nil && u.TurnComplete.Usage != nil {
		usage := streams.NewBlock(b.sessionID, streams.BlockUsageReported)
		usage.Usage = u.TurnComplete.Usage
		blocks = append(blocks, usage)
	}
	done := streams.NewBlock(b.sessionID, streams.BlockAgentCompleted)
	if u.TurnComplete != nil {
		done.StopReason = u.TurnComplete.StopReason
	}
	return append(blocks, done)
}

// blockFor renders the tracked call as the block variant matching its kind.
func (b *Bridge) blockFor(id string, tracked *trackedCall) *streams.Block {
	var blk *streams.Block
	switch tracked.kind {
	case KindRead:
		blk = streams.NewBlock(b.sessionID, streams.BlockRead)
		blk.Files = readFiles(tracked.input)
	case KindEdit:
		blk = streams.NewBlock(b.sessionID, streams.BlockFileChanges)
		blk.Changes = fileChanges(tracked.name, tracked.input)
	case KindExecute:
		blk = streams.NewBlock(b.sessionID, streams.BlockTerminal)
		blk.Command = commandOf(tracked.input)
	case KindMCP:
		blk = streams.NewBlock(b.sessionID, streams.BlockMCP)
		blk.Input = tracked.input
	default:
		blk = streams.NewBlock(b.sessionID, streams.BlockToolCall)
		blk.Input = tracked.input
	}
	blk.ToolCallID = id
	blk.ToolName = tracked.name
	blk.Status = tracked.status
	blk.Output = tracked.output
	return blk
}

// readFileKeys are the input fields that may name files for a read tool.
var readFileKeys = []string{"path", "file_path", "filePath", "file", "filename", "pattern", "glob"}

func readFiles(input map[string]any) []string {
	if input == nil {
		return nil
	}
	var files []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		files = append(files, s)
	}
	for _, key := range readFileKeys {
		if s, ok := input[key].(string); ok {
			add(s)
		}
	}
	for _, key := range []string{"paths", "files", "file_paths"} {
		arr, ok := input[key].([]any)
		if !ok {
			continue
		}
		for _, v := range arr {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	}
	return files
}

// fileChanges derives the change list for an edit tool from its name and
// input. Create-style tools record change-type edit; intent survives in the
// tool name.
func fileChanges(name string, input map[string]any) []streams.FileChange {
	paths := readFiles(input)
	changeType := changeTypeFor(name)

	if changeType == streams.ChangeMove {
		from := stringOf(input, "fromPath", "from_path", "source", "old_path", "oldPath")
		to := stringOf(input, "toPath", "to_path", "destination", "new_path", "newPath")
		if to == "" && len(paths) > 0 {
			to = paths[0]
		}
		return []streams.FileChange{{Type: streams.ChangeMove, Path: to, FromPath: from}}
	}

	changes := make([]streams.FileChange, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, streams.FileChange{Type: changeType, Path: p})
	}
	return changes
}

func changeTypeFor(name string) streams.ChangeType {
	n := strings.ToLower(name)
	switch {
	case n == "delete", strings.HasPrefix(n, "delete_"), strings.Contains(n, "_delete"):
		return streams.ChangeDelete
	case n == "move", n == "rename":
		return streams.ChangeMove
	default:
		return streams.ChangeEdit
	}
}

func commandOf(input map[string]any) string {
	return stringOf(input, "command", "cmd", "script", "shell_command")
}

func stringOf(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
