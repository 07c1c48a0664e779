// Package queue implements the background task lane: durable tasks a caller
// enqueues for deferred execution, dispatched into sessions by a polling
// worker and marked COMPLETED once their session is reaped.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/internal/persistence"
	"github.com/cohort-dev/cohort/internal/session"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// Launcher starts a session for a dispatched task and returns its id.
// The orchestrator's Launch satisfies this.
type Launcher interface {
	Launch(ctx context.Context, workspaceID, agentID, prompt string) (string, error)
}

// Service owns the task state machine: PENDING -> RUNNING -> COMPLETED or
// FAILED, with FAILED also reachable straight from PENDING on cancel or
// dispatch error.
type Service struct {
	persist  persistence.Store
	store    *session.Store
	launcher Launcher
	log      *logger.Logger
}

// NewService wires the task service.
func NewService(persist persistence.Store, store *session.Store, launcher Launcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{persist: persist, store: store, launcher: launcher, log: log}
}

// Enqueue persists a new PENDING task and returns it without dispatching.
func (s *Service) Enqueue(ctx context.Context, workspaceID, agentID, prompt string) (*persistence.BackgroundTask, error) {
	if agentID == "" {
		return nil, cerr.InvalidParams("agentId is required")
	}
	if prompt == "" {
		return nil, cerr.InvalidParams("prompt is required")
	}

	now := time.Now().UTC()
	task := &persistence.BackgroundTask{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		AgentID:     agentID,
		Prompt:      prompt,
		Status:      persistence.TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.persist.SaveTask(ctx, task); err != nil {
		return nil, err
	}
	s.log.WithFields(zap.String("task_id", task.ID), zap.String("agent_id", agentID)).Info("task enqueued")
	return task, nil
}

// List returns the tasks in a workspace, newest first.
func (s *Service) List(ctx context.Context, workspaceID string) ([]*persistence.BackgroundTask, error) {
	return s.persist.ListTasks(ctx, workspaceID)
}

// Get returns one task.
func (s *Service) Get(ctx context.Context, id string) (*persistence.BackgroundTask, error) {
	return s.persist.GetTask(ctx, id)
}

// Cancel fails a task that has not started yet. Running tasks are not
// cancellable through the queue; their session must be cancelled instead.
func (s *Service) Cancel(ctx context.Context, id string) error {
	ok, err := s.persist.ClaimTask(ctx, id, persistence.TaskPending, persistence.TaskFailed)
	if err != nil {
		return err
	}
	if !ok {
		return cerr.InvalidRequest("only pending tasks can be cancelled")
	}
	return s.persist.UpdateTaskStatus(ctx, id, persistence.TaskFailed, "", "cancelled")
}

// DispatchPending claims each PENDING task and launches a session for it.
// A claim lost to a concurrent worker is skipped silently; a launch failure
// fails the task with the error message.
func (s *Service) DispatchPending(ctx context.Context) {
	tasks, err := s.persist.ListTasksByStatus(ctx, persistence.TaskPending)
	if err != nil {
		s.log.WithError(err).Warn("pending task scan failed")
		return
	}

	for _, task := range tasks {
		ok, err := s.persist.ClaimTask(ctx, task.ID, persistence.TaskPending, persistence.TaskRunning)
		if err != nil {
			s.log.WithError(err).WithFields(zap.String("task_id", task.ID)).Warn("task claim failed")
			continue
		}
		if !ok {
			continue
		}

		sessionID, err := s.launcher.Launch(ctx, task.WorkspaceID, task.AgentID, task.Prompt)
		if err != nil {
			s.log.WithError(err).WithFields(zap.String("task_id", task.ID)).Error("task dispatch failed")
			if uerr := s.persist.UpdateTaskStatus(ctx, task.ID, persistence.TaskFailed, "", err.Error()); uerr != nil {
				s.log.WithError(uerr).WithFields(zap.String("task_id", task.ID)).Warn("task status update failed")
			}
			continue
		}

		if err := s.persist.UpdateTaskStatus(ctx, task.ID, persistence.TaskRunning, sessionID, ""); err != nil {
			s.log.WithError(err).WithFields(zap.String("task_id", task.ID)).Warn("task status update failed")
		}
		s.log.WithSessionID(sessionID).WithFields(zap.String("task_id", task.ID)).Info("task dispatched")
	}
}

// CheckCompletions marks RUNNING tasks COMPLETED once the session store no
// longer knows their session. Launched sessions are reaped when their
// upstream stream ends, so absence means the work finished.
func (s *Service) CheckCompletions(ctx context.Context) {
	tasks, err := s.persist.ListTasksByStatus(ctx, persistence.TaskRunning)
	if err != nil {
		s.log.WithError(err).Warn("running task scan failed")
		return
	}

	for _, task := range tasks {
		if task.SessionID == "" {
			// Claimed but not yet attached to a session; leave it for
			// the next scan.
			continue
		}
		if _, err := s.store.Get(task.SessionID); err == nil {
			continue
		}
		if err := s.persist.UpdateTaskStatus(ctx, task.ID, persistence.TaskCompleted, task.SessionID, ""); err != nil {
			s.log.WithError(err).WithFields(zap.String("task_id", task.ID)).Warn("task completion update failed")
			continue
		}
		s.log.WithSessionID(task.SessionID).WithFields(zap.String("task_id", task.ID)).Info("task completed")
	}
}

// RegisterProgress hooks the session store so streaming updates refresh the
// owning task's live counters. Progress failures never affect the stream.
func (s *Service) RegisterProgress() {
	s.store.AddUpdateHook(s.onUpdate)
}

func (s *Service) onUpdate(sessionID string, u *streams.Update) {
	ctx := context.Background()
	task, err := s.persist.FindTaskBySession(ctx, sessionID)
	if err != nil {
		return
	}

	progress := task.Progress
	switch u.Kind {
	case streams.UpdateToolCall:
		progress.ToolCalls++
		if u.ToolCall != nil && u.ToolCall.Name != "" {
			progress.CurrentActivity = u.ToolCall.Name
		}
	case streams.UpdateAgentMessage:
		progress.CurrentActivity = "responding"
	case streams.UpdateAgentThought:
		progress.CurrentActivity = "thinking"
	case streams.UpdateTurnComplete:
		// Usage counts are cumulative for the turn, not deltas.
		if u.TurnComplete != nil && u.TurnComplete.Usage != nil {
			progress.InputTokens = u.TurnComplete.Usage.InputTokens
			progress.OutputTokens = u.TurnComplete.Usage.OutputTokens
		}
		progress.CurrentActivity = ""
	default:
		return
	}
	progress.LastActivityAt = time.Now().UTC()

	if err := s.persist.UpdateTaskProgress(ctx, task.ID, progress); err != nil {
		s.log.WithError(err).WithFields(zap.String("task_id", task.ID)).Debug("task progress update failed")
	}
}
