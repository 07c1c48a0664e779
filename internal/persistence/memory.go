package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cohort-dev/cohort/internal/trace"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// MemoryStore keeps everything in process memory. Used for tests and for the
// memory database driver.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*SessionRecord
	history    map[string][]*streams.Update
	tasks      map[string]*BackgroundTask
	workspaces map[string]*WorkspaceRecord
	notes      map[string]*NoteRecord
	journal    *trace.MemoryJournal
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*SessionRecord),
		history:    make(map[string][]*streams.Update),
		tasks:      make(map[string]*BackgroundTask),
		workspaces: make(map[string]*WorkspaceRecord),
		notes:      make(map[string]*NoteRecord),
		journal:    trace.NewMemoryJournal(),
	}
}

// Append implements trace.Journal.
func (s *MemoryStore) Append(ctx context.Context, rec *trace.Record) error {
	return s.journal.Append(ctx, rec)
}

// TraceRecords exposes the journal for tests.
func (s *MemoryStore) TraceRecords(sessionID string) []*trace.Record {
	return s.journal.Records(sessionID)
}

func (s *MemoryStore) SaveSession(_ context.Context, rec *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.sessions[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RenameSession(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	rec.Title = title
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.history, id)
	return nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, sessionID string, entries []*streams.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]*streams.Update, len(entries))
	copy(cp, entries)
	s.history[sessionID] = cp
	return nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, sessionID string) ([]*streams.Update, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[sessionID]
	cp := make([]*streams.Update, len(entries))
	copy(cp, entries)
	return cp, nil
}

func (s *MemoryStore) SaveTask(_ context.Context, task *BackgroundTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, workspaceID string) ([]*BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BackgroundTask
	for _, task := range s.tasks {
		if workspaceID == "" || task.WorkspaceID == workspaceID {
			cp := *task
			out = append(out, &cp)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *MemoryStore) ListTasksByStatus(_ context.Context, status TaskStatus) ([]*BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BackgroundTask
	for _, task := range s.tasks {
		if task.Status == status {
			cp := *task
			out = append(out, &cp)
		}
	}
	sortTasks(out)
	return out, nil
}

func (s *MemoryStore) ClaimTask(_ context.Context, id string, from, to TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false, ErrNotFound
	}
	if task.Status != from {
		return false, nil
	}
	task.Status = to
	task.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id string, status TaskStatus, sessionID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Status = status
	if sessionID != "" {
		task.SessionID = sessionID
	}
	if errMsg != "" {
		task.Error = errMsg
	}
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateTaskProgress(_ context.Context, id string, progress TaskProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Progress = progress
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) FindTaskBySession(_ context.Context, sessionID string) (*BackgroundTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, task := range s.tasks {
		if task.SessionID == sessionID {
			cp := *task
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SaveWorkspace(_ context.Context, ws *WorkspaceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ws
	s.workspaces[ws.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id string) (*WorkspaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ws
	return &cp, nil
}

func (s *MemoryStore) ListWorkspaces(_ context.Context) ([]*WorkspaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*WorkspaceRecord, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		cp := *ws
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteWorkspace removes a workspace and cascades to its sessions, history,
// tasks and notes.
func (s *MemoryStore) DeleteWorkspace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, id)
	for sid, sess := range s.sessions {
		if sess.WorkspaceID == id {
			delete(s.sessions, sid)
			delete(s.history, sid)
		}
	}
	for tid, task := range s.tasks {
		if task.WorkspaceID == id {
			delete(s.tasks, tid)
		}
	}
	for nid, note := range s.notes {
		if note.WorkspaceID == id {
			delete(s.notes, nid)
		}
	}
	return nil
}

func (s *MemoryStore) SaveNote(_ context.Context, note *NoteRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *note
	s.notes[note.ID] = &cp
	return nil
}

func (s *MemoryStore) ListNotes(_ context.Context, workspaceID string) ([]*NoteRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*NoteRecord
	for _, note := range s.notes {
		if workspaceID == "" || note.WorkspaceID == workspaceID {
			cp := *note
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteNote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func sortTasks(tasks []*BackgroundTask) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
}
