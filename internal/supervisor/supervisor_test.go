package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohort-dev/cohort/internal/common/config"
	cerr "github.com/cohort-dev/cohort/internal/common/errors"
)

func newTestSupervisor(commands map[string][]string) *Supervisor {
	cfg := config.SupervisorConfig{
		SpawnTimeout: 10 * time.Second,
		CloseGrace:   time.Second,
	}
	return New(cfg, NewResolver(config.ProvidersConfig{Commands: commands}), nil)
}

func collect(t *testing.T, h *Handle, timeout time.Duration) []map[string]any {
	t.Helper()
	var out []map[string]any
	deadline := time.After(timeout)
	for {
		select {
		case params, ok := <-h.Notifications():
			if !ok {
				return out
			}
			out = append(out, params)
		case <-deadline:
			t.Fatal("timed out waiting for upstream to finish")
		}
	}
}

func TestResolverUnknownProvider(t *testing.T) {
	r := NewResolver(config.ProvidersConfig{})
	_, _, err := r.Resolve("no-such-agent")
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindUpstreamUnavailable))
}

func TestResolverConfiguredCommandWins(t *testing.T) {
	r := NewResolver(config.ProvidersConfig{Commands: map[string][]string{
		"Claude-Code": {"my-claude", "--acp"},
	}})
	cmd, _, err := r.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, []string{"my-claude", "--acp"}, cmd)
}

func TestSpawnReceivesNotifications(t *testing.T) {
	script := `printf '%s\n' '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"agent_message_chunk","text":"hi"}}}'`
	s := newTestSupervisor(map[string][]string{
		"fake": {"sh", "-c", script},
	})

	h, err := s.Spawn(context.Background(), "S1", "fake", "", nil)
	require.NoError(t, err)

	notifs := collect(t, h, 5*time.Second)
	require.Len(t, notifs, 1)
	assert.Equal(t, "S1", notifs[0]["sessionId"])
	update := notifs[0]["update"].(map[string]any)
	assert.Equal(t, "agent_message_chunk", update["sessionUpdate"])
}

func TestMalformedLinesDiscarded(t *testing.T) {
	script := `printf '%s\n' 'not json at all' '{"jsonrpc":"2.0","method":"other/method","params":{}}' '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"agent_message_chunk","text":"ok"}}}'`
	s := newTestSupervisor(map[string][]string{
		"fake": {"sh", "-c", script},
	})

	h, err := s.Spawn(context.Background(), "S1", "fake", "", nil)
	require.NoError(t, err)

	notifs := collect(t, h, 5*time.Second)
	require.Len(t, notifs, 1)
	update := notifs[0]["update"].(map[string]any)
	assert.Equal(t, "ok", update["text"])
}

func TestUnexpectedExitSynthesizesError(t *testing.T) {
	s := newTestSupervisor(map[string][]string{
		"flaky": {"sh", "-c", "exit 3"},
	})

	h, err := s.Spawn(context.Background(), "S1", "flaky", "", nil)
	require.NoError(t, err)

	notifs := collect(t, h, 5*time.Second)
	require.Len(t, notifs, 1)
	update := notifs[0]["update"].(map[string]any)
	assert.Equal(t, "error", update["sessionUpdate"])
	assert.Equal(t, "upstream_exited", update["code"])
	assert.Equal(t, "upstream exited, code 3", update["message"])

	// The handle is dead; sends fail with the exit kind.
	assert.False(t, h.Alive())
	err = h.Send("hello")
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindUpstreamExited))
}

func TestCleanExitNoSyntheticError(t *testing.T) {
	s := newTestSupervisor(map[string][]string{
		"quiet": {"sh", "-c", "exit 0"},
	})

	h, err := s.Spawn(context.Background(), "S1", "quiet", "", nil)
	require.NoError(t, err)

	notifs := collect(t, h, 5*time.Second)
	assert.Empty(t, notifs)
}

func TestSpawnMissingBinary(t *testing.T) {
	s := newTestSupervisor(map[string][]string{
		"ghost": {"definitely-not-a-real-binary-xyz"},
	})

	_, err := s.Spawn(context.Background(), "S1", "ghost", "", nil)
	require.Error(t, err)
	assert.True(t, cerr.IsKind(err, cerr.KindUpstreamUnavailable))
}

func TestCloseKillsStubborn(t *testing.T) {
	// The child ignores stdin closing and sleeps well past the grace
	// period; Close must fall back to the hard kill.
	s := newTestSupervisor(map[string][]string{
		"stubborn": {"sh", "-c", "sleep 60"},
	})

	h, err := s.Spawn(context.Background(), "S1", "stubborn", "", nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Close())
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.False(t, h.Alive())

	// Released from the supervisor's table once reaped.
	_, ok := s.Get("S1")
	assert.False(t, ok)
}

func TestSendWritesPromptRequest(t *testing.T) {
	// cat echoes our stdin back; the prompt request itself is not a
	// session/update so nothing should arrive on the channel, and the
	// write must succeed while alive.
	s := newTestSupervisor(map[string][]string{
		"echo": {"sh", "-c", "head -n 1 > /dev/null"},
	})

	h, err := s.Spawn(context.Background(), "S1", "echo", "", nil)
	require.NoError(t, err)
	require.NoError(t, h.Send("do the thing"))

	notifs := collect(t, h, 5*time.Second)
	assert.Empty(t, notifs)
}
