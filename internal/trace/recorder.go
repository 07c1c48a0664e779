package trace

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cohort-dev/cohort/internal/adapter"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/internal/types/streams"
	"github.com/cohort-dev/cohort/internal/vcs"
)

// pendingCall is a tool call announced before its arguments were known.
type pendingCall struct {
	name      string
	input     map[string]any
	arrivedAt time.Time
	finalized bool
}

// sessionState is the recorder's per-session working set. callEmitted and
// resultEmitted guarantee at most one tool_call and one tool_result record
// per tool-call id.
type sessionState struct {
	pending       map[string]*pendingCall
	callEmitted   map[string]bool
	resultEmitted map[string]bool
	messageBuf    strings.Builder
	thoughtBuf    strings.Builder
}

func newSessionState() *sessionState {
	return &sessionState{
		pending:       make(map[string]*pendingCall),
		callEmitted:   make(map[string]bool),
		resultEmitted: make(map[string]bool),
	}
}

// Options tunes the recorder.
type Options struct {
	// FlushThreshold is the buffered prose size, in characters, that
	// triggers an automatic flush.
	FlushThreshold int

	// VCSBudget bounds the git snapshot taken for tool_call records.
	VCSBudget time.Duration
}

// Recorder reassembles (tool_call, tool_result) pairs from the canonical
// update stream and writes them to the journal, along with flushed prose.
type Recorder struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	journal  Journal
	registry *adapter.Registry
	opts     Options
	log      *logger.Logger
}

// NewRecorder builds a recorder writing to the given journal.
func NewRecorder(journal Journal, registry *adapter.Registry, opts Options, log *logger.Logger) *Recorder {
	if opts.FlushThreshold <= 0 {
		opts.FlushThreshold = 100
	}
	if opts.VCSBudget <= 0 {
		opts.VCSBudget = 5 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	return &Recorder{
		sessions: make(map[string]*sessionState),
		journal:  journal,
		registry: registry,
		opts:     opts,
		log:      log,
	}
}

// Record consumes one canonical update. cwd locates the workspace for the
// best-effort VCS snapshot; it may be empty.
func (r *Recorder) Record(ctx context.Context, u *streams.Update, cwd string) {
	if u == nil {
		return
	}

	r.mu.Lock()
	state := r.state(u.SessionID)
	var records []*Record

	switch u.Kind {
	case streams.UpdateToolCall:
		records = r.onToolCall(state, u)
	case streams.UpdateToolCallUpdate:
		records = r.onToolCallUpdate(state, u)
	case streams.UpdateAgentMessage:
		records = r.onProse(state, u, &state.messageBuf, RecordAgentMessage)
	case streams.UpdateAgentThought:
		records = r.onProse(state, u, &state.thoughtBuf, RecordAgentThought)
	case streams.UpdateUserMessage:
		if u.Message != nil && u.Message.Text != "" {
			rec := newRecord(u, RecordUserMessage)
			rec.Conversation = &ConversationSection{Text: u.Message.Text}
			records = append(records, rec)
		}
	case streams.UpdateTurnComplete:
		records = r.flushLocked(state, u.SessionID, u.Provider)
	}
	r.mu.Unlock()

	r.append(ctx, records, cwd)
}

// Flush drains both prose buffers for a session. Called at end-of-prompt and
// end-of-session.
func (r *Recorder) Flush(ctx context.Context, sessionID, provider string) {
	r.mu.Lock()
	state, ok := r.sessions[sessionID]
	var records []*Record
	if ok {
		records = r.flushLocked(state, sessionID, provider)
	}
	r.mu.Unlock()

	r.append(ctx, records, "")
}

// DropSession discards all per-session recorder state without emitting
// anything.
func (r *Recorder) DropSession(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

func (r *Recorder) state(sessionID string) *sessionState {
	state, ok := r.sessions[sessionID]
	if !ok {
		state = newSessionState()
		r.sessions[sessionID] = state
	}
	return state
}

func (r *Recorder) onToolCall(state *sessionState, u *streams.Update) []*Record {
	tc := u.ToolCall
	if tc == nil || tc.ID == "" {
		return nil
	}

	if !tc.InputFinalized {
		state.pending[tc.ID] = &pendingCall{
			name:      tc.Name,
			input:     tc.Input,
			arrivedAt: u.Timestamp,
		}
		return nil
	}

	if state.callEmitted[tc.ID] {
		return nil
	}
	state.callEmitted[tc.ID] = true

	rec := newRecord(u, RecordToolCall)
	rec.Tool = &ToolSection{
		CallID: tc.ID,
		Name:   tc.Name,
		Input:  tc.Input,
		Status: string(tc.Status),
	}
	rec.Files = extractFiles(tc.Input)
	return []*Record{rec}
}

func (r *Recorder) onToolCallUpdate(state *sessionState, u *streams.Update) []*Record {
	tc := u.ToolCall
	if tc == nil || tc.ID == "" {
		return nil
	}

	var records []*Record

	if pend, ok := state.pending[tc.ID]; ok && !pend.finalized {
		finalized := r.finalize(u, tc.ID)
		if finalized != nil {
			pend.finalized = true
			name := finalized.Name
			if name == "" {
				name = pend.name
			}
			input := finalized.Input
			if len(input) == 0 {
				input = pend.input
			}
			if !state.callEmitted[tc.ID] {
				state.callEmitted[tc.ID] = true
				rec := newRecord(u, RecordToolCall)
				rec.Tool = &ToolSection{
					CallID: tc.ID,
					Name:   name,
					Input:  input,
					Status: string(finalized.Status),
				}
				rec.Files = extractFiles(input)
				records = append(records, rec)
			}
		}
	}

	if (tc.Status.Terminal() || tc.Output != nil) && !state.resultEmitted[tc.ID] {
		state.resultEmitted[tc.ID] = true
		rec := newRecord(u, RecordToolResult)
		rec.Tool = &ToolSection{
			CallID: tc.ID,
			Name:   tc.Name,
			Output: tc.Output,
			Status: string(tc.Status),
		}
		records = append(records, rec)
	}

	if tc.Status.Terminal() {
		delete(state.pending, tc.ID)
	}
	return records
}

// finalize asks the provider's adapter whether this update finalizes the
// pending call's input.
func (r *Recorder) finalize(u *streams.Update, toolCallID string) *streams.ToolCallPayload {
	a := r.registry.Get(u.Provider)
	if finalized := a.HandleDeferredInput(toolCallID, u); finalized != nil {
		return finalized
	}
	// The adapter declined (immediate-input provider, or input still
	// missing); a terminal status finalizes anyway since nothing more is
	// coming.
	if u.ToolCall != nil && u.ToolCall.Status.Terminal() {
		final := *u.ToolCall
		final.InputFinalized = true
		return &final
	}
	return nil
}

func (r *Recorder) onProse(state *sessionState, u *streams.Update, buf *strings.Builder, recType RecordType) []*Record {
	if u.Message == nil || u.Message.Text == "" {
		return nil
	}

	if !u.Message.IsChunk {
		// A complete message flushes everything buffered so far, then is
		// recorded on its own.
		records := r.flushLocked(state, u.SessionID, u.Provider)
		rec := newRecord(u, recType)
		rec.Conversation = &ConversationSection{Text: u.Message.Text}
		return append(records, rec)
	}

	buf.WriteString(u.Message.Text)
	if buf.Len() < r.opts.FlushThreshold {
		return nil
	}
	rec := newRecord(u, recType)
	rec.Conversation = &ConversationSection{Text: buf.String()}
	buf.Reset()
	return []*Record{rec}
}

func (r *Recorder) flushLocked(state *sessionState, sessionID, provider string) []*Record {
	var records []*Record
	now := time.Now().UTC()
	if state.messageBuf.Len() > 0 {
		records = append(records, &Record{
			SessionID:    sessionID,
			Type:         RecordAgentMessage,
			Contributor:  provider,
			Timestamp:    now,
			Conversation: &ConversationSection{Text: state.messageBuf.String()},
		})
		state.messageBuf.Reset()
	}
	if state.thoughtBuf.Len() > 0 {
		records = append(records, &Record{
			SessionID:    sessionID,
			Type:         RecordAgentThought,
			Contributor:  provider,
			Timestamp:    now,
			Conversation: &ConversationSection{Text: state.thoughtBuf.String()},
		})
		state.thoughtBuf.Reset()
	}
	return records
}

// append writes records to the journal outside the recorder lock, annotating
// tool_call records with a best-effort VCS snapshot.
func (r *Recorder) append(ctx context.Context, records []*Record, cwd string) {
	for _, rec := range records {
		if rec.Type == RecordToolCall && cwd != "" {
			if snap := vcs.Capture(ctx, cwd, r.opts.VCSBudget); snap.Branch != "" {
				rec.VCS = &snap
			}
		}
		if err := r.journal.Append(ctx, rec); err != nil {
			r.log.WithError(err).WithSessionID(rec.SessionID).Warn("trace journal append failed")
		}
	}
}

func newRecord(u *streams.Update, t RecordType) *Record {
	ts := u.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Record{
		SessionID:   u.SessionID,
		Type:        t,
		Contributor: u.Provider,
		Timestamp:   ts,
	}
}
