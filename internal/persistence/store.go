// Package persistence defines the pluggable durable store behind the session
// registry, the background task queue and the trace journal. Three drivers
// exist: memory, sqlite and postgres.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/cohort-dev/cohort/internal/trace"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// SessionRecord is the durable shape of a session.
type SessionRecord struct {
	ID              string    `db:"id" json:"id"`
	WorkspaceID     string    `db:"workspace_id" json:"workspaceId"`
	Title           string    `db:"title" json:"title,omitempty"`
	Cwd             string    `db:"cwd" json:"cwd"`
	Provider        string    `db:"provider" json:"provider"`
	Role            string    `db:"role" json:"role"`
	SpecialistID    string    `db:"specialist_id" json:"specialistId,omitempty"`
	ParentSessionID string    `db:"parent_session_id" json:"parentSessionId,omitempty"`
	SystemHeader    string    `db:"system_header" json:"systemHeader,omitempty"`
	FirstPromptSent bool      `db:"first_prompt_sent" json:"firstPromptSent"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// TaskStatus is the background-task state machine.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// TaskProgress carries live counters updated as the task's session streams.
type TaskProgress struct {
	ToolCalls       int       `db:"tool_calls" json:"toolCalls"`
	InputTokens     int64     `db:"input_tokens" json:"inputTokens"`
	OutputTokens    int64     `db:"output_tokens" json:"outputTokens"`
	CurrentActivity string    `db:"current_activity" json:"currentActivity,omitempty"`
	LastActivityAt  time.Time `db:"last_activity_at" json:"lastActivityAt"`
}

// BackgroundTask is one queued deferred request.
type BackgroundTask struct {
	ID          string     `db:"id" json:"id"`
	WorkspaceID string     `db:"workspace_id" json:"workspaceId"`
	AgentID     string     `db:"agent_id" json:"agentId"`
	Prompt      string     `db:"prompt" json:"prompt"`
	Status      TaskStatus `db:"status" json:"status"`
	SessionID   string     `db:"session_id" json:"sessionId,omitempty"`
	Error       string     `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
	Progress    TaskProgress `db:"-" json:"progress"`
}

// WorkspaceRecord is the top-level tenant boundary.
type WorkspaceRecord struct {
	ID        string    `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// NoteRecord is a free-form note scoped to a workspace.
type NoteRecord struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspaceId"`
	Title       string    `db:"title" json:"title"`
	Content     string    `db:"content" json:"content"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Store is the durable interface the core depends on. Failures are logged by
// callers and never block live sessions.
type Store interface {
	trace.Journal

	// Sessions.
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context) ([]*SessionRecord, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	// History snapshots, whole-list per session.
	SaveHistory(ctx context.Context, sessionID string, entries []*streams.Update) error
	LoadHistory(ctx context.Context, sessionID string) ([]*streams.Update, error)

	// Background tasks.
	SaveTask(ctx context.Context, task *BackgroundTask) error
	GetTask(ctx context.Context, id string) (*BackgroundTask, error)
	ListTasks(ctx context.Context, workspaceID string) ([]*BackgroundTask, error)
	ListTasksByStatus(ctx context.Context, status TaskStatus) ([]*BackgroundTask, error)
	// ClaimTask flips a task from one status to another atomically. It
	// returns false when another worker won the race.
	ClaimTask(ctx context.Context, id string, from, to TaskStatus) (bool, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, sessionID, errMsg string) error
	UpdateTaskProgress(ctx context.Context, id string, progress TaskProgress) error
	FindTaskBySession(ctx context.Context, sessionID string) (*BackgroundTask, error)

	// Workspaces.
	SaveWorkspace(ctx context.Context, ws *WorkspaceRecord) error
	GetWorkspace(ctx context.Context, id string) (*WorkspaceRecord, error)
	ListWorkspaces(ctx context.Context) ([]*WorkspaceRecord, error)
	DeleteWorkspace(ctx context.Context, id string) error

	// Notes.
	SaveNote(ctx context.Context, note *NoteRecord) error
	ListNotes(ctx context.Context, workspaceID string) ([]*NoteRecord, error)
	DeleteNote(ctx context.Context, id string) error

	// Close releases the underlying resources.
	Close() error
}
