// Package orchestrator drives the coordinator -> implementor -> verifier
// workflow: it extracts task blocks from coordinator output, spawns child
// sessions under a concurrency limit, and relates them to the parent.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cohort-dev/cohort/internal/common/config"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/internal/events/bus"
	"github.com/cohort-dev/cohort/internal/session"
	"github.com/cohort-dev/cohort/internal/supervisor"
	"github.com/cohort-dev/cohort/internal/sysprompt"
	"github.com/cohort-dev/cohort/internal/taskblock"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// ChildEvent is published on the event bus when a delegated child finishes.
type ChildEvent struct {
	ParentSessionID string    `json:"parentSessionId"`
	ChildSessionID  string    `json:"childSessionId"`
	TaskTitle       string    `json:"taskTitle,omitempty"`
	Outcome         string    `json:"outcome"` // completed or failed
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Orchestrator spawns and tracks child specialist sessions.
type Orchestrator struct {
	store       *session.Store
	sup         *supervisor.Supervisor
	specialists *sysprompt.Registry
	bus         bus.Bus
	sem         *semaphore.Weighted
	log         *logger.Logger
}

// New builds an orchestrator with the configured delegation limit.
func New(cfg config.OrchestratorConfig, store *session.Store, sup *supervisor.Supervisor, specialists *sysprompt.Registry, eventBus bus.Bus, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Default()
	}
	limit := cfg.MaxParallelDelegations
	if limit < 1 {
		limit = 1
	}
	return &Orchestrator{
		store:       store,
		sup:         sup,
		specialists: specialists,
		bus:         eventBus,
		sem:         semaphore.NewWeighted(int64(limit)),
		log:         log,
	}
}

// Delegate creates a child session for one task, ships the delegation prompt
// and returns the child id without awaiting completion. The caller must
// already hold a delegation slot; it is released when the child completes or
// fails.
func (o *Orchestrator) Delegate(ctx context.Context, parentSessionID string, task taskblock.Task, role session.Role) (string, error) {
	parent, err := o.store.Get(parentSessionID)
	if err != nil {
		o.sem.Release(1)
		return "", err
	}

	// Presets may pin a provider and model; otherwise the child inherits
	// the parent's provider.
	sp, _ := o.specialists.ForRole(role)
	provider := sp.Provider
	if provider == "" {
		provider = parent.Provider
	}

	child := &session.Session{
		ID:              uuid.NewString(),
		WorkspaceID:     parent.WorkspaceID,
		Title:           task.Title,
		Cwd:             parent.Cwd,
		Provider:        provider,
		Role:            role,
		SpecialistID:    sp.ID,
		ParentSessionID: parentSessionID,
		SystemHeader:    sysprompt.BuildHeader(role, &sp, parent.WorkspaceID),
		CreatedAt:       time.Now().UTC(),
	}
	o.store.Upsert(ctx, child)

	release := o.watchChild(parentSessionID, child.ID, task.Title)

	handle, err := o.sup.Spawn(ctx, child.ID, provider, child.Cwd, nil)
	if err != nil {
		release("failed", err.Error())
		return "", err
	}
	go Pump(o.store, handle, release)

	prompt := DelegationPrompt(child.SystemHeader, task)
	if err := handle.Send(prompt); err != nil {
		release("failed", err.Error())
		return "", err
	}
	if err := o.store.MarkFirstPromptSent(ctx, child.ID); err != nil {
		o.log.WithError(err).WithSessionID(child.ID).Warn("mark first prompt failed")
	}

	o.log.WithSessionID(child.ID).WithProvider(provider).Info("task delegated",
		zap.String("parent_session_id", parentSessionID),
		zap.String("task", task.Title))
	return child.ID, nil
}

// DelegateTask acquires a delegation slot and delegates one task. It blocks
// while the limit is saturated.
func (o *Orchestrator) DelegateTask(ctx context.Context, parentSessionID string, task taskblock.Task, role session.Role) (string, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	return o.Delegate(ctx, parentSessionID, task, role)
}

// IngestCoordinatorOutput extracts task blocks from coordinator text and
// delegates each one to an implementor, honouring the concurrency limit.
// Dispatch runs in the background; the extraction result returns
// immediately.
func (o *Orchestrator) IngestCoordinatorOutput(ctx context.Context, parentSessionID, text string) (*taskblock.Result, error) {
	if _, err := o.store.Get(parentSessionID); err != nil {
		return nil, err
	}

	res := taskblock.Extract(text)
	if res.ValidCount == 0 {
		return res, nil
	}

	tasks := make([]taskblock.Task, len(res.Tasks))
	copy(tasks, res.Tasks)

	go func() {
		for _, task := range tasks {
			if err := o.sem.Acquire(ctx, 1); err != nil {
				o.log.WithError(err).WithSessionID(parentSessionID).Warn("delegation cancelled")
				return
			}
			if _, err := o.Delegate(ctx, parentSessionID, task, session.RoleImplementor); err != nil {
				o.log.WithError(err).WithSessionID(parentSessionID).Error("delegation failed",
					zap.String("task", task.Title))
			}
		}
	}()
	return res, nil
}

// Launch creates a standalone SOLO session for a background task and ships
// its prompt. agentID is either a specialist preset id or a provider
// identifier. The session is deleted once its upstream goes away, which is
// how the background worker detects completion.
func (o *Orchestrator) Launch(ctx context.Context, workspaceID, agentID, prompt string) (string, error) {
	provider := agentID
	role := session.RoleSolo
	specialistID := ""
	var header string
	if sp, ok := o.specialists.Get(agentID); ok {
		specialistID = sp.ID
		if sp.Provider != "" {
			provider = sp.Provider
		}
		if sp.Role != "" {
			role = sp.Role
		}
		header = sysprompt.BuildHeader(role, &sp, workspaceID)
	} else {
		header = sysprompt.BuildHeader(role, nil, workspaceID)
	}

	sess := &session.Session{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		Provider:     provider,
		Role:         role,
		SpecialistID: specialistID,
		SystemHeader: header,
		CreatedAt:    time.Now().UTC(),
	}
	o.store.Upsert(ctx, sess)

	handle, err := o.sup.Spawn(ctx, sess.ID, provider, sess.Cwd, nil)
	if err != nil {
		_ = o.store.Delete(ctx, sess.ID)
		return "", err
	}
	go Pump(o.store, handle, func(string, string) {
		// Reap the session so completion scans observe it gone.
		_ = o.store.Delete(context.Background(), sess.ID)
	})

	if err := handle.Send(prompt); err != nil {
		_ = o.store.Delete(ctx, sess.ID)
		return "", err
	}
	if err := o.store.MarkFirstPromptSent(ctx, sess.ID); err != nil {
		o.log.WithError(err).WithSessionID(sess.ID).Warn("mark first prompt failed")
	}
	return sess.ID, nil
}

// watchChild subscribes to the child's semantic events and returns the
// release function that ends the delegation exactly once: it frees the
// slot, unsubscribes and publishes the child event for the parent.
func (o *Orchestrator) watchChild(parentSessionID, childSessionID, taskTitle string) func(outcome, errMsg string) {
	var once sync.Once
	var unsub func()

	release := func(outcome, errMsg string) {
		once.Do(func() {
			o.sem.Release(1)
			if unsub != nil {
				unsub()
			}
			ev := ChildEvent{
				ParentSessionID: parentSessionID,
				ChildSessionID:  childSessionID,
				TaskTitle:       taskTitle,
				Outcome:         outcome,
				Error:           errMsg,
				Timestamp:       time.Now().UTC(),
			}
			if err := bus.PublishJSON(context.Background(), o.bus, bus.ChildEventSubject(parentSessionID), ev); err != nil {
				o.log.WithError(err).Warn("child event publish failed")
			}
		})
	}

	var err error
	unsub, err = o.store.Subscribe(childSessionID, func(blk *streams.Block) {
		switch blk.Kind {
		case streams.BlockAgentCompleted:
			release("completed", "")
		case streams.BlockAgentFailed:
			release("failed", blk.Error)
		}
	})
	if err != nil {
		o.log.WithError(err).WithSessionID(childSessionID).Warn("child subscribe failed")
	}
	return release
}

// Pump drains a handle's notifications into the session store. When the
// upstream closes its stream, buffers are flushed and done is invoked with
// the final outcome; done may be nil.
func Pump(store *session.Store, handle *supervisor.Handle, done func(outcome, errMsg string)) {
	ctx := context.Background()
	for params := range handle.Notifications() {
		_ = store.PushNotification(ctx, handle.SessionID, params)
	}
	store.FlushAgentBuffer(ctx, handle.SessionID)
	if done != nil {
		done("completed", "")
	}
}

// DelegationPrompt renders one task as the structured prompt sent to a
// child specialist.
func DelegationPrompt(header string, task taskblock.Task) string {
	var sb strings.Builder
	if header != "" {
		sb.WriteString(header)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("# Task: %s\n", task.Title))
	section := func(name, body string) {
		if body != "" {
			sb.WriteString(fmt.Sprintf("\n## %s\n%s\n", name, body))
		}
	}
	section("Objective", task.Sections.Objective)
	section("Scope", task.Sections.Scope)
	section("Inputs", task.Sections.Inputs)
	section("Definition of Done", task.Sections.DefinitionOfDone)
	section("Verification", task.Sections.Verification)
	section("Output Required", task.Sections.OutputRequired)
	return sb.String()
}
