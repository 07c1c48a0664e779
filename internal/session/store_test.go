package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort-dev/cohort/internal/adapter"
	"github.com/cohort-dev/cohort/internal/common/config"
	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/persistence"
	"github.com/cohort-dev/cohort/internal/trace"
	"github.com/cohort-dev/cohort/internal/types/streams"
)

func testStoreConfig() config.StoreConfig {
	return config.StoreConfig{
		HistorySoftCap: 500,
		PendingCap:     100,
		FlushThreshold: 100,
		SweepInterval:  time.Minute,
		IdleTTL:        time.Hour,
	}
}

func newTestStore(t *testing.T) (*Store, *persistence.MemoryStore) {
	t.Helper()
	mem := persistence.NewMemoryStore()
	registry := adapter.NewRegistry()
	recorder := trace.NewRecorder(mem, registry, trace.Options{FlushThreshold: 100}, nil)
	return NewStore(testStoreConfig(), recorder, registry, mem, nil), mem
}

func newSession(id, provider string) *Session {
	return &Session{
		ID:          id,
		WorkspaceID: "ws-1",
		Provider:    provider,
		Role:        RoleSolo,
		CreatedAt:   time.Now().UTC(),
	}
}

func chunkNotification(sessionID, text string) map[string]any {
	return map[string]any{
		"sessionId": sessionID,
		"update": map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"text":          text,
		},
	}
}

func TestUpsertEmitsAgentStarted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Subscribers attach after creation, so the creation event itself has
	// no audience; upserting an existing session must not re-emit it.
	s.Upsert(ctx, newSession("S1", "claude"))

	var got []*streams.Block
	unsub, err := s.Subscribe("S1", func(blk *streams.Block) { got = append(got, blk) })
	require.NoError(t, err)
	defer unsub()

	s.Upsert(ctx, newSession("S1", "claude"))
	assert.Empty(t, got)
}

func TestListNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sess := newSession(fmt.Sprintf("S%d", i), "claude")
		sess.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		s.Upsert(ctx, sess)
	}

	sessions := s.List()
	require.Len(t, sessions, 3)
	assert.Equal(t, "S2", sessions[0].ID)
	assert.Equal(t, "S0", sessions[2].ID)
}

func TestConsolidatedHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	for _, text := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", text)))
	}

	history, err := s.GetHistory("S1")
	require.NoError(t, err)
	assert.Len(t, history, 5)

	consolidated, err := s.GetConsolidatedHistory("S1")
	require.NoError(t, err)
	require.Len(t, consolidated, 1)
	assert.Equal(t, streams.UpdateAgentMessage, consolidated[0].Kind)
	assert.Equal(t, "abcde", consolidated[0].Message.Text)
}

func TestConsolidatePreservesNonChunkOrder(t *testing.T) {
	user := streams.NewUpdate("S1", "claude", streams.UpdateUserMessage)
	user.Message = &streams.MessagePayload{Text: "hi"}
	c1 := streams.NewUpdate("S1", "claude", streams.UpdateAgentMessage)
	c1.Message = &streams.MessagePayload{Text: "ab", IsChunk: true}
	c2 := streams.NewUpdate("S1", "claude", streams.UpdateAgentMessage)
	c2.Message = &streams.MessagePayload{Text: "cd", IsChunk: true}
	done := streams.NewUpdate("S1", "claude", streams.UpdateTurnComplete)
	c3 := streams.NewUpdate("S1", "claude", streams.UpdateAgentMessage)
	c3.Message = &streams.MessagePayload{Text: "ef", IsChunk: true}

	out := Consolidate([]*streams.Update{user, c1, c2, done, c3})
	require.Len(t, out, 4)
	assert.Equal(t, streams.UpdateUserMessage, out[0].Kind)
	assert.Equal(t, "abcd", out[1].Message.Text)
	assert.Equal(t, streams.UpdateTurnComplete, out[2].Kind)
	assert.Equal(t, "ef", out[3].Message.Text)
}

func TestSSEDeliveryCountsLossless(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	// Three updates before attach land in the pending buffer.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", fmt.Sprintf("pre-%d", i))))
	}

	var frames []*streams.Update
	require.NoError(t, s.AttachSSE("S1", func(u *streams.Update) error {
		frames = append(frames, u)
		return nil
	}))
	assert.Len(t, frames, 3)

	// Two more after attach are written through.
	for i := 0; i < 2; i++ {
		require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", fmt.Sprintf("post-%d", i))))
	}
	require.Len(t, frames, 5)

	// Ordered, no loss, no duplication.
	for i, want := range []string{"pre-0", "pre-1", "pre-2", "post-0", "post-1"} {
		assert.Equal(t, want, frames[i].Message.Text)
	}
}

func TestSecondAttachReplacesFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	var first, second int
	require.NoError(t, s.AttachSSE("S1", func(*streams.Update) error { first++; return nil }))
	require.NoError(t, s.AttachSSE("S1", func(*streams.Update) error { second++; return nil }))

	require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", "x")))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestStreamingModeSuppressesSSE(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	var frames int
	require.NoError(t, s.AttachSSE("S1", func(*streams.Update) error { frames++; return nil }))
	require.NoError(t, s.SetStreamingMode("S1", true))

	require.NoError(t, s.PushNotification(ctx, "S1", map[string]any{
		"sessionId": "S1",
		"update": map[string]any{
			"sessionUpdate": "user_message",
			"content":       map[string]any{"type": "text", "text": "hi"},
		},
	}))

	// SSE suppressed, but history and traces still ran.
	assert.Equal(t, 0, frames)
	history, err := s.GetHistory("S1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.NotEmpty(t, mem.TraceRecords("S1"))

	// Leaving streaming mode resumes fan-out.
	require.NoError(t, s.SetStreamingMode("S1", false))
	require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", "y")))
	assert.Equal(t, 1, frames)
}

func TestBrokenListenerDetachesAndBuffers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	require.NoError(t, s.AttachSSE("S1", func(*streams.Update) error {
		return fmt.Errorf("consumer gone")
	}))
	require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", "x")))

	stats := s.Stats()
	assert.Equal(t, 0, stats.ActiveSSE)
	assert.Equal(t, 1, stats.Buffered)

	// A fresh attach replays the buffered update.
	var frames []*streams.Update
	require.NoError(t, s.AttachSSE("S1", func(u *streams.Update) error {
		frames = append(frames, u)
		return nil
	}))
	require.Len(t, frames, 1)
	assert.Equal(t, "x", frames[0].Message.Text)
}

func TestSubscriberPanicIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	var delivered int
	_, err := s.Subscribe("S1", func(*streams.Block) { panic("boom") })
	require.NoError(t, err)
	_, err = s.Subscribe("S1", func(*streams.Block) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", "x")))
	assert.Equal(t, 1, delivered)
}

func TestHistorySoftCapTrimsOldest(t *testing.T) {
	s, _ := newTestStore(t)
	s.cfg.HistorySoftCap = 5
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	for i := 0; i < 8; i++ {
		require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", fmt.Sprintf("m%d", i))))
	}

	history, err := s.GetHistory("S1")
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "m3", history[0].Message.Text)
	assert.Equal(t, "m7", history[4].Message.Text)
}

func TestMemorySweep(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Nine idle sessions plus one with an active SSE attachment that has
	// been idle even longer.
	for i := 0; i < 9; i++ {
		id := fmt.Sprintf("idle-%d", i)
		s.Upsert(ctx, newSession(id, "claude"))
		s.sessions[id].lastActivity = time.Now().UTC().Add(-61 * time.Minute)
	}
	s.Upsert(ctx, newSession("attached", "claude"))
	require.NoError(t, s.AttachSSE("attached", func(*streams.Update) error { return nil }))
	s.sessions["attached"].lastActivity = time.Now().UTC().Add(-2 * time.Hour)

	removed := s.Sweep(ctx, false)
	assert.Equal(t, 9, removed)

	sessions := s.List()
	require.Len(t, sessions, 1)
	assert.Equal(t, "attached", sessions[0].ID)
}

func TestDeleteTearsDown(t *testing.T) {
	s, mem := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))
	require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", "x")))

	require.NoError(t, s.Delete(ctx, "S1"))
	_, err := s.Get("S1")
	assert.True(t, cerr.IsKind(err, cerr.KindSessionNotFound))

	// Deleted from the durable store as well.
	_, err = mem.GetSession(ctx, "S1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	err = s.PushNotification(ctx, "S1", chunkNotification("S1", "y"))
	assert.True(t, cerr.IsKind(err, cerr.KindSessionNotFound))
}

func TestHydrateUpsertsDurableSessions(t *testing.T) {
	mem := persistence.NewMemoryStore()
	registry := adapter.NewRegistry()
	recorder := trace.NewRecorder(mem, registry, trace.Options{}, nil)
	ctx := context.Background()

	require.NoError(t, mem.SaveSession(ctx, newSession("durable-1", "claude").Record()))
	require.NoError(t, mem.SaveSession(ctx, newSession("durable-2", "codex").Record()))

	s := NewStore(testStoreConfig(), recorder, registry, mem, nil)
	s.Hydrate(ctx)

	assert.Len(t, s.List(), 2)
	sess, err := s.Get("durable-2")
	require.NoError(t, err)
	assert.Equal(t, "codex", sess.Provider)
}

func TestUpdateHookObservesPublishes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	s.Upsert(ctx, newSession("S1", "claude"))

	var seen []string
	s.AddUpdateHook(func(sessionID string, u *streams.Update) {
		seen = append(seen, string(u.Kind))
	})

	require.NoError(t, s.PushNotification(ctx, "S1", chunkNotification("S1", "x")))
	assert.Equal(t, []string{"agent_message"}, seen)
}
