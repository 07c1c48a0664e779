package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cohort-dev/cohort/internal/trace"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	cwd TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	role TEXT NOT NULL,
	specialist_id TEXT NOT NULL DEFAULT '',
	parent_session_id TEXT NOT NULL DEFAULT '',
	system_header TEXT NOT NULL DEFAULT '',
	first_prompt_sent BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS session_history (
	session_id TEXT PRIMARY KEY,
	entries TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS background_tasks (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	status TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	tool_calls INTEGER NOT NULL DEFAULT 0,
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	current_activity TEXT NOT NULL DEFAULT '',
	last_activity_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_records (
	id INTEGER PRIMARY KEY,
	session_id TEXT NOT NULL,
	record TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON sessions(workspace_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON background_tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON background_tasks(workspace_id);
CREATE INDEX IF NOT EXISTS idx_traces_session ON trace_records(session_id);
`

// postgres needs an explicit sequence type for the trace id.
const schemaPostgresTraceFix = `
DROP TABLE IF EXISTS trace_records;
CREATE TABLE IF NOT EXISTS trace_records (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	record TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_session ON trace_records(session_id);
`

// SQLStore implements Store over sqlx for the sqlite and postgres drivers.
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// NewSQLStore wraps an open connection and creates the schema.
func NewSQLStore(db *sqlx.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if s.driver == "pgx" || s.driver == "postgres" {
		if _, err := s.db.Exec(schemaPostgresTraceFix); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Append implements trace.Journal by storing the record as JSON.
func (s *SQLStore) Append(ctx context.Context, rec *trace.Record) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`INSERT INTO trace_records (session_id, record, created_at) VALUES (?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, rec.SessionID, string(blob), time.Now().UTC())
	return err
}

func (s *SQLStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	query := s.db.Rebind(`
		INSERT INTO sessions (id, workspace_id, title, cwd, provider, role,
			specialist_id, parent_session_id, system_header, first_prompt_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			first_prompt_sent = excluded.first_prompt_sent,
			system_header = excluded.system_header`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.WorkspaceID, rec.Title, rec.Cwd, rec.Provider, rec.Role,
		rec.SpecialistID, rec.ParentSessionID, rec.SystemHeader, rec.FirstPromptSent, rec.CreatedAt)
	return err
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var rec SessionRecord
	query := s.db.Rebind(`SELECT * FROM sessions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQLStore) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	var recs []*SessionRecord
	err := s.db.SelectContext(ctx, &recs, `SELECT * FROM sessions ORDER BY created_at DESC`)
	return recs, err
}

func (s *SQLStore) RenameSession(ctx context.Context, id, title string) error {
	query := s.db.Rebind(`UPDATE sessions SET title = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, title, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	query := s.db.Rebind(`DELETE FROM sessions WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return err
	}
	query = s.db.Rebind(`DELETE FROM session_history WHERE session_id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func (s *SQLStore) SaveHistory(ctx context.Context, sessionID string, entries []*streams.Update) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`
		INSERT INTO session_history (session_id, entries, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			entries = excluded.entries,
			updated_at = excluded.updated_at`)
	_, err = s.db.ExecContext(ctx, query, sessionID, string(blob), time.Now().UTC())
	return err
}

func (s *SQLStore) LoadHistory(ctx context.Context, sessionID string) ([]*streams.Update, error) {
	var blob string
	query := s.db.Rebind(`SELECT entries FROM session_history WHERE session_id = ?`)
	if err := s.db.GetContext(ctx, &blob, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var entries []*streams.Update
	if err := json.Unmarshal([]byte(blob), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLStore) SaveTask(ctx context.Context, task *BackgroundTask) error {
	query := s.db.Rebind(`
		INSERT INTO background_tasks (id, workspace_id, agent_id, prompt, status,
			session_id, error, tool_calls, input_tokens, output_tokens,
			current_activity, last_activity_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			session_id = excluded.session_id,
			error = excluded.error,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.WorkspaceID, task.AgentID, task.Prompt, task.Status,
		task.SessionID, task.Error, task.Progress.ToolCalls, task.Progress.InputTokens,
		task.Progress.OutputTokens, task.Progress.CurrentActivity,
		task.Progress.LastActivityAt, task.CreatedAt, task.UpdatedAt)
	return err
}

// taskRow flattens BackgroundTask for sqlx scanning.
type taskRow struct {
	BackgroundTask
	ToolCalls       int       `db:"tool_calls"`
	InputTokens     int64     `db:"input_tokens"`
	OutputTokens    int64     `db:"output_tokens"`
	CurrentActivity string    `db:"current_activity"`
	LastActivityAt  time.Time `db:"last_activity_at"`
}

func (r *taskRow) task() *BackgroundTask {
	t := r.BackgroundTask
	t.Progress = TaskProgress{
		ToolCalls:       r.ToolCalls,
		InputTokens:     r.InputTokens,
		OutputTokens:    r.OutputTokens,
		CurrentActivity: r.CurrentActivity,
		LastActivityAt:  r.LastActivityAt,
	}
	return &t
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*BackgroundTask, error) {
	var row taskRow
	query := s.db.Rebind(`SELECT * FROM background_tasks WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.task(), nil
}

func (s *SQLStore) ListTasks(ctx context.Context, workspaceID string) ([]*BackgroundTask, error) {
	var rows []taskRow
	var err error
	if workspaceID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM background_tasks ORDER BY created_at ASC`)
	} else {
		query := s.db.Rebind(`SELECT * FROM background_tasks WHERE workspace_id = ? ORDER BY created_at ASC`)
		err = s.db.SelectContext(ctx, &rows, query, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	return tasksOf(rows), nil
}

func (s *SQLStore) ListTasksByStatus(ctx context.Context, status TaskStatus) ([]*BackgroundTask, error) {
	var rows []taskRow
	query := s.db.Rebind(`SELECT * FROM background_tasks WHERE status = ? ORDER BY created_at ASC`)
	if err := s.db.SelectContext(ctx, &rows, query, status); err != nil {
		return nil, err
	}
	return tasksOf(rows), nil
}

func (s *SQLStore) ClaimTask(ctx context.Context, id string, from, to TaskStatus) (bool, error) {
	query := s.db.Rebind(`UPDATE background_tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, sessionID, errMsg string) error {
	query := s.db.Rebind(`
		UPDATE background_tasks
		SET status = ?,
			session_id = CASE WHEN ? = '' THEN session_id ELSE ? END,
			error = CASE WHEN ? = '' THEN error ELSE ? END,
			updated_at = ?
		WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, status, sessionID, sessionID, errMsg, errMsg, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) UpdateTaskProgress(ctx context.Context, id string, progress TaskProgress) error {
	query := s.db.Rebind(`
		UPDATE background_tasks
		SET tool_calls = ?, input_tokens = ?, output_tokens = ?,
			current_activity = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query,
		progress.ToolCalls, progress.InputTokens, progress.OutputTokens,
		progress.CurrentActivity, progress.LastActivityAt, time.Now().UTC(), id)
	return err
}

func (s *SQLStore) FindTaskBySession(ctx context.Context, sessionID string) (*BackgroundTask, error) {
	var row taskRow
	query := s.db.Rebind(`SELECT * FROM background_tasks WHERE session_id = ? LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.task(), nil
}

func (s *SQLStore) SaveWorkspace(ctx context.Context, ws *WorkspaceRecord) error {
	query := s.db.Rebind(`
		INSERT INTO workspaces (id, title, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, status = excluded.status`)
	_, err := s.db.ExecContext(ctx, query, ws.ID, ws.Title, ws.Status, ws.CreatedAt)
	return err
}

func (s *SQLStore) GetWorkspace(ctx context.Context, id string) (*WorkspaceRecord, error) {
	var ws WorkspaceRecord
	query := s.db.Rebind(`SELECT * FROM workspaces WHERE id = ?`)
	if err := s.db.GetContext(ctx, &ws, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ws, nil
}

func (s *SQLStore) ListWorkspaces(ctx context.Context) ([]*WorkspaceRecord, error) {
	var out []*WorkspaceRecord
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM workspaces ORDER BY created_at DESC`)
	return out, err
}

// DeleteWorkspace cascades to sessions, history, tasks and notes.
func (s *SQLStore) DeleteWorkspace(ctx context.Context, id string) error {
	queries := []string{
		`DELETE FROM session_history WHERE session_id IN (SELECT id FROM sessions WHERE workspace_id = ?)`,
		`DELETE FROM sessions WHERE workspace_id = ?`,
		`DELETE FROM background_tasks WHERE workspace_id = ?`,
		`DELETE FROM notes WHERE workspace_id = ?`,
		`DELETE FROM workspaces WHERE id = ?`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) SaveNote(ctx context.Context, note *NoteRecord) error {
	query := s.db.Rebind(`
		INSERT INTO notes (id, workspace_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query,
		note.ID, note.WorkspaceID, note.Title, note.Content, note.CreatedAt, note.UpdatedAt)
	return err
}

func (s *SQLStore) ListNotes(ctx context.Context, workspaceID string) ([]*NoteRecord, error) {
	var out []*NoteRecord
	query := s.db.Rebind(`SELECT * FROM notes WHERE workspace_id = ? ORDER BY created_at DESC`)
	err := s.db.SelectContext(ctx, &out, query, workspaceID)
	return out, err
}

func (s *SQLStore) DeleteNote(ctx context.Context, id string) error {
	query := s.db.Rebind(`DELETE FROM notes WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

func tasksOf(rows []taskRow) []*BackgroundTask {
	out := make([]*BackgroundTask, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].task())
	}
	return out
}
