package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cohort-dev/cohort/internal/adapter"
	"github.com/cohort-dev/cohort/internal/bridge"
	"github.com/cohort-dev/cohort/internal/common/config"
	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/internal/persistence"
	"github.com/cohort-dev/cohort/internal/trace"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

// Listener receives one canonical update on an attached SSE stream. A
// returned error detaches the listener; the session keeps buffering.
type Listener func(*streams.Update) error

// BlockHandler receives semantic events for one session. Handler errors are
// logged, never propagated.
type BlockHandler func(*streams.Block)

// UpdateHook observes every canonical update published for any session.
// Used for background-task progress; failures are swallowed by the hook.
type UpdateHook func(sessionID string, u *streams.Update)

// sessionState is everything the store holds for one live session, guarded
// by its own lock. No callback runs while the lock is held.
type sessionState struct {
	mu sync.Mutex

	sess    *Session
	history []*streams.Update
	pending []*streams.Update

	listener  Listener
	streaming bool

	bridge      *bridge.Bridge
	subscribers map[int]BlockHandler
	nextSubID   int

	lastActivity time.Time
}

// MemoryStats is the store's resource snapshot.
type MemoryStats struct {
	Sessions       int `json:"sessions"`
	ActiveSSE      int `json:"activeSse"`
	Streaming      int `json:"streaming"`
	HistoryEntries int `json:"historyEntries"`
	Buffered       int `json:"buffered"`
	Stale          int `json:"stale"`
}

// Store is the process-wide registry of live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState

	cfg      config.StoreConfig
	recorder *trace.Recorder
	adapters *adapter.Registry
	persist  persistence.Store
	log      *logger.Logger

	hooksMu sync.RWMutex
	hooks   []UpdateHook

	hydrateOnce sync.Once

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStore builds a session store.
func NewStore(cfg config.StoreConfig, recorder *trace.Recorder, adapters *adapter.Registry, persist persistence.Store, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Default()
	}
	return &Store{
		sessions: make(map[string]*sessionState),
		cfg:      cfg,
		recorder: recorder,
		adapters: adapters,
		persist:  persist,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Hydrate loads durable session records and upserts each missing one. Runs
// at most once; safe to call from any request path.
func (s *Store) Hydrate(ctx context.Context) {
	s.hydrateOnce.Do(func() {
		recs, err := s.persist.ListSessions(ctx)
		if err != nil {
			s.log.WithError(err).Warn("session hydration failed")
			return
		}
		for _, rec := range recs {
			sess := FromRecord(rec)
			if _, ok := s.get(sess.ID); !ok {
				s.Upsert(ctx, sess)
			}
		}
		if len(recs) > 0 {
			s.log.Info("sessions hydrated", zap.Int("count", len(recs)))
		}
	})
}

// Upsert inserts or updates a session. A new session gets its own event
// bridge and an agent_started semantic event.
func (s *Store) Upsert(ctx context.Context, sess *Session) {
	s.mu.Lock()
	state, exists := s.sessions[sess.ID]
	if !exists {
		state = &sessionState{
			sess:         sess,
			bridge:       bridge.New(sess.ID),
			subscribers:  make(map[int]BlockHandler),
			lastActivity: time.Now().UTC(),
		}
		s.sessions[sess.ID] = state
	}
	s.mu.Unlock()

	if exists {
		state.mu.Lock()
		state.sess = sess
		state.mu.Unlock()
	} else {
		started := streams.NewBlock(sess.ID, streams.BlockAgentStarted)
		s.dispatchBlocks(state, []*streams.Block{started})
	}

	if err := s.persist.SaveSession(ctx, sess.Record()); err != nil {
		s.log.WithError(err).WithSessionID(sess.ID).Warn("session save failed")
	}
}

// Get returns a copy of the session.
func (s *Store) Get(sessionID string) (*Session, error) {
	state, ok := s.get(sessionID)
	if !ok {
		return nil, cerr.SessionNotFound(sessionID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	cp := *state.sess
	return &cp, nil
}

// List returns all sessions, newest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	states := make([]*sessionState, 0, len(s.sessions))
	for _, state := range s.sessions {
		states = append(states, state)
	}
	s.mu.RUnlock()

	out := make([]*Session, 0, len(states))
	for _, state := range states {
		state.mu.Lock()
		cp := *state.sess
		state.mu.Unlock()
		out = append(out, &cp)
	}
	sortSessions(out)
	return out
}

// Delete tears the session down: bridge, subscribers, buffers, pending
// traces.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	state, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}

	state.mu.Lock()
	state.bridge.Cleanup()
	state.subscribers = make(map[int]BlockHandler)
	state.listener = nil
	state.pending = nil
	state.history = nil
	state.mu.Unlock()

	s.recorder.DropSession(sessionID)
	if err := s.persist.DeleteSession(ctx, sessionID); err != nil {
		s.log.WithError(err).WithSessionID(sessionID).Warn("session delete persist failed")
	}
	return nil
}

// Rename updates the session title.
func (s *Store) Rename(ctx context.Context, sessionID, title string) error {
	state, ok := s.get(sessionID)
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}
	state.mu.Lock()
	state.sess.Title = title
	state.mu.Unlock()
	if err := s.persist.RenameSession(ctx, sessionID, title); err != nil {
		s.log.WithError(err).WithSessionID(sessionID).Warn("session rename persist failed")
	}
	return nil
}

// MarkFirstPromptSent flips the first-prompt flag.
func (s *Store) MarkFirstPromptSent(ctx context.Context, sessionID string) error {
	state, ok := s.get(sessionID)
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}
	state.mu.Lock()
	state.sess.FirstPromptSent = true
	rec := state.sess.Record()
	state.mu.Unlock()
	if err := s.persist.SaveSession(ctx, rec); err != nil {
		s.log.WithError(err).WithSessionID(sessionID).Warn("session save failed")
	}
	return nil
}

// SetStreamingMode toggles dedicated-response-stream delivery. While set,
// push-notification skips SSE fan-out; history, traces and the bridge still
// run.
func (s *Store) SetStreamingMode(sessionID string, on bool) error {
	state, ok := s.get(sessionID)
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}
	state.mu.Lock()
	state.streaming = on
	state.mu.Unlock()
	return nil
}

// AttachSSE registers the session's one SSE listener, replacing any previous
// attachment, and flushes the pending buffer to it in order.
func (s *Store) AttachSSE(sessionID string, listener Listener) error {
	state, ok := s.get(sessionID)
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}

	state.mu.Lock()
	state.listener = listener
	backlog := state.pending
	state.pending = nil
	state.mu.Unlock()

	for i, u := range backlog {
		if err := listener(u); err != nil {
			// Listener died mid-flush; requeue the remainder.
			state.mu.Lock()
			if state.listener != nil {
				state.pending = append(backlog[i:], state.pending...)
				state.listener = nil
			}
			state.mu.Unlock()
			return nil
		}
	}
	return nil
}

// DetachSSE unregisters the listener; later updates buffer again.
func (s *Store) DetachSSE(sessionID string) {
	if state, ok := s.get(sessionID); ok {
		state.mu.Lock()
		state.listener = nil
		state.mu.Unlock()
	}
}

// Subscribe registers a semantic-event handler and returns its unsubscribe
// function.
func (s *Store) Subscribe(sessionID string, handler BlockHandler) (func(), error) {
	state, ok := s.get(sessionID)
	if !ok {
		return nil, cerr.SessionNotFound(sessionID)
	}
	state.mu.Lock()
	id := state.nextSubID
	state.nextSubID++
	state.subscribers[id] = handler
	state.mu.Unlock()

	return func() {
		state.mu.Lock()
		delete(state.subscribers, id)
		state.mu.Unlock()
	}, nil
}

// PushUserMessage appends a synthetic user_message to history and records
// it. It is not fanned out; the user already has the prompt locally.
func (s *Store) PushUserMessage(ctx context.Context, sessionID, text string) error {
	state, ok := s.get(sessionID)
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}

	state.mu.Lock()
	u := streams.NewUpdate(sessionID, state.sess.Provider, streams.UpdateUserMessage)
	u.Message = &streams.MessagePayload{Text: text}
	s.appendHistoryLocked(state, u)
	state.lastActivity = time.Now().UTC()
	cwd := state.sess.Cwd
	state.mu.Unlock()

	s.recorder.Record(ctx, u, cwd)
	s.persistHistory(ctx, sessionID, state)
	return nil
}

// PushNotification ingests one raw wire notification: normalise, append to
// history, record traces, dispatch semantic events, then fan out on SSE
// unless the session is in streaming mode.
func (s *Store) PushNotification(ctx context.Context, sessionID string, raw any) error {
	state, ok := s.get(sessionID)
	if !ok {
		return cerr.SessionNotFound(sessionID)
	}

	state.mu.Lock()
	provider := state.sess.Provider
	cwd := state.sess.Cwd
	state.mu.Unlock()

	updates := s.adapters.Get(provider).Normalize(sessionID, raw)
	for _, u := range updates {
		// The registry key is authoritative; upstreams may report their own
		// internal session id in the envelope.
		u.SessionID = sessionID
		s.publish(ctx, state, u, cwd)
	}
	if len(updates) > 0 {
		s.persistHistory(ctx, sessionID, state)
	}
	return nil
}

// publish runs one canonical update through the pipeline: history, trace,
// bridge, hooks, SSE.
func (s *Store) publish(ctx context.Context, state *sessionState, u *streams.Update, cwd string) {
	state.mu.Lock()
	s.appendHistoryLocked(state, u)
	state.lastActivity = time.Now().UTC()
	sessionID := u.SessionID
	state.mu.Unlock()

	s.recorder.Record(ctx, u, cwd)

	blocks := state.bridge.Translate(u)
	s.dispatchBlocks(state, blocks)

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(sessionID, u)
	}

	state.mu.Lock()
	if state.streaming {
		state.mu.Unlock()
		return
	}
	listener := state.listener
	if listener == nil {
		s.bufferLocked(state, u)
		state.mu.Unlock()
		return
	}
	state.mu.Unlock()

	if err := listener(u); err != nil {
		// Slow or dead consumer: drop the attachment, keep buffering.
		state.mu.Lock()
		if state.listener != nil {
			state.listener = nil
		}
		s.bufferLocked(state, u)
		state.mu.Unlock()
		s.log.WithSessionID(sessionID).Debug("sse listener detached", zap.Error(err))
	}
}

// FlushAgentBuffer drains the recorder's prose buffers for a session.
// Called at end-of-prompt and end-of-session.
func (s *Store) FlushAgentBuffer(ctx context.Context, sessionID string) {
	provider := ""
	if state, ok := s.get(sessionID); ok {
		state.mu.Lock()
		provider = state.sess.Provider
		state.mu.Unlock()
	}
	s.recorder.Flush(ctx, sessionID, provider)
}

// GetHistory returns the raw per-session history in order.
func (s *Store) GetHistory(sessionID string) ([]*streams.Update, error) {
	state, ok := s.get(sessionID)
	if !ok {
		return nil, cerr.SessionNotFound(sessionID)
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	out := make([]*streams.Update, len(state.history))
	copy(out, state.history)
	return out, nil
}

// GetConsolidatedHistory returns history with chunk runs merged.
func (s *Store) GetConsolidatedHistory(sessionID string) ([]*streams.Update, error) {
	history, err := s.GetHistory(sessionID)
	if err != nil {
		return nil, err
	}
	return Consolidate(history), nil
}

// Stats snapshots the store's memory counters.
func (s *Store) Stats() MemoryStats {
	s.mu.RLock()
	states := make([]*sessionState, 0, len(s.sessions))
	for _, state := range s.sessions {
		states = append(states, state)
	}
	s.mu.RUnlock()

	stats := MemoryStats{Sessions: len(states)}
	staleCutoff := time.Now().UTC().Add(-s.cfg.IdleTTL)
	for _, state := range states {
		state.mu.Lock()
		if state.listener != nil {
			stats.ActiveSSE++
		}
		if state.streaming {
			stats.Streaming++
		}
		stats.HistoryEntries += len(state.history)
		stats.Buffered += len(state.pending)
		if state.lastActivity.Before(staleCutoff) {
			stats.Stale++
		}
		state.mu.Unlock()
	}
	return stats
}

// AddUpdateHook registers a hook observing every published update.
func (s *Store) AddUpdateHook(hook UpdateHook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, hook)
	s.hooksMu.Unlock()
}

// Sweep removes sessions idle past the TTL that have no SSE attachment and
// are not streaming. Aggressive sweeps halve the idle threshold. Returns
// the number of sessions removed.
func (s *Store) Sweep(ctx context.Context, aggressive bool) int {
	ttl := s.cfg.IdleTTL
	if aggressive {
		ttl /= 2
	}
	cutoff := time.Now().UTC().Add(-ttl)

	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		state, ok := s.get(id)
		if !ok {
			continue
		}
		state.mu.Lock()
		evictable := state.listener == nil && !state.streaming && state.lastActivity.Before(cutoff)
		state.mu.Unlock()
		if !evictable {
			continue
		}
		if err := s.Delete(ctx, id); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("session sweep", zap.Int("removed", removed), zap.Bool("aggressive", aggressive))
	}
	return removed
}

// Start launches the periodic sweeper.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background(), false)
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the sweeper.
func (s *Store) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Store) get(sessionID string) (*sessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	return state, ok
}

// appendHistoryLocked appends under the session lock, trimming the oldest
// entries past the soft cap.
func (s *Store) appendHistoryLocked(state *sessionState, u *streams.Update) {
	state.history = append(state.history, u)
	if over := len(state.history) - s.cfg.HistorySoftCap; over > 0 {
		state.history = append([]*streams.Update(nil), state.history[over:]...)
	}
}

// bufferLocked enqueues an update for a future SSE attachment, dropping the
// oldest entries past the cap.
func (s *Store) bufferLocked(state *sessionState, u *streams.Update) {
	state.pending = append(state.pending, u)
	if over := len(state.pending) - s.cfg.PendingCap; over > 0 {
		state.pending = append([]*streams.Update(nil), state.pending[over:]...)
	}
}

// dispatchBlocks hands semantic events to subscribers outside the session
// lock; a panicking handler is logged and skipped.
func (s *Store) dispatchBlocks(state *sessionState, blocks []*streams.Block) {
	if len(blocks) == 0 {
		return
	}
	state.mu.Lock()
	handlers := make([]BlockHandler, 0, len(state.subscribers))
	for _, h := range state.subscribers {
		handlers = append(handlers, h)
	}
	state.mu.Unlock()

	for _, blk := range blocks {
		for _, h := range handlers {
			s.safeDispatch(h, blk)
		}
	}
}

func (s *Store) safeDispatch(h BlockHandler, blk *streams.Block) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithSessionID(blk.SessionID).Error("semantic event handler panicked")
		}
	}()
	h(blk)
}

// persistHistory snapshots history to the durable store, best effort.
func (s *Store) persistHistory(ctx context.Context, sessionID string, state *sessionState) {
	state.mu.Lock()
	entries := make([]*streams.Update, len(state.history))
	copy(entries, state.history)
	state.mu.Unlock()

	if err := s.persist.SaveHistory(ctx, sessionID, entries); err != nil {
		s.log.WithError(err).WithSessionID(sessionID).Warn("history persist failed")
	}
}

func sortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
