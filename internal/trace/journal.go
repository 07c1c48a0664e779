// Package trace records a durable journal of what each session's agent did:
// one record per tool invocation, one per tool result, and periodic records
// of accumulated prose.
package trace

import (
	"context"
	"sync"
	"time"

	"github.com/cohort-dev/cohort/internal/vcs"
)

// RecordType identifies one trace journal entry variant.
type RecordType string

const (
	RecordToolCall     RecordType = "tool_call"
	RecordToolResult   RecordType = "tool_result"
	RecordAgentMessage RecordType = "agent_message"
	RecordAgentThought RecordType = "agent_thought"
	RecordUserMessage  RecordType = "user_message"
)

// ToolSection carries the tool-specific part of a record.
type ToolSection struct {
	CallID string         `json:"callId"`
	Name   string         `json:"name,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Output any            `json:"output,omitempty"`
	Status string         `json:"status,omitempty"`
}

// ConversationSection carries prose flushed from the recorder buffers.
type ConversationSection struct {
	Text string `json:"text"`
}

// Record is one trace journal entry. VCS context and file ranges are
// best-effort annotations.
type Record struct {
	SessionID    string               `json:"sessionId"`
	Type         RecordType           `json:"type"`
	Contributor  string               `json:"contributor,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
	Tool         *ToolSection         `json:"tool,omitempty"`
	Conversation *ConversationSection `json:"conversation,omitempty"`
	VCS          *vcs.Snapshot        `json:"vcs,omitempty"`
	Files        []string             `json:"files,omitempty"`
}

// Journal is the durable sink for trace records. Writes are serialised per
// session by the recorder; implementations only need to be safe for
// concurrent writes across sessions.
type Journal interface {
	Append(ctx context.Context, rec *Record) error
}

// MemoryJournal keeps records in memory. It backs tests and the memory
// persistence driver.
type MemoryJournal struct {
	mu      sync.Mutex
	records map[string][]*Record
}

// NewMemoryJournal builds an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string][]*Record)}
}

// Append stores one record.
func (j *MemoryJournal) Append(_ context.Context, rec *Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.SessionID] = append(j.records[rec.SessionID], rec)
	return nil
}

// Records returns a copy of the journal for one session, in append order.
func (j *MemoryJournal) Records(sessionID string) []*Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Record, len(j.records[sessionID]))
	copy(out, j.records[sessionID])
	return out
}

// fileKeys are the tool-input fields that commonly carry file paths.
var fileKeys = []string{"path", "file_path", "filePath", "file", "filename"}

// extractFiles pulls file paths out of tool input, best effort.
func extractFiles(input map[string]any) []string {
	if input == nil {
		return nil
	}
	var files []string
	for _, key := range fileKeys {
		if s, ok := input[key].(string); ok && s != "" {
			files = append(files, s)
		}
	}
	for _, key := range []string{"paths", "files", "file_paths"} {
		arr, ok := input[key].([]any)
		if !ok {
			continue
		}
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				files = append(files, s)
			}
		}
	}
	return dedupe(files)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
