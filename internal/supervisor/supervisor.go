package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cohort-dev/cohort/internal/common/config"
	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/common/logger"
	"github.com/cohort-dev/cohort/pkg/acp/jsonrpc"
)

// notifBuffer bounds the per-handle notification channel. The store drains
// it continuously; the buffer only absorbs bursts.
const notifBuffer = 256

// maxLineSize caps one stdout line; upstream tool outputs can be large.
const maxLineSize = 10 * 1024 * 1024

// Handle is the live connection to one upstream subprocess.
type Handle struct {
	SessionID string
	Provider  string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	notifs chan map[string]any

	mu       sync.Mutex
	alive    bool
	exitCode int

	reqID      atomic.Int64
	closeGrace time.Duration
	done       chan struct{}
	readerDone chan struct{}
	log        *logger.Logger
}

// Notifications returns the channel of raw session/update params decoded
// from the subprocess's stdout. The channel closes after the synthetic exit
// notification has been delivered.
func (h *Handle) Notifications() <-chan map[string]any {
	return h.notifs
}

// Alive reports whether the subprocess is still running.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Send writes a session/prompt request on the subprocess's stdin.
func (h *Handle) Send(promptText string) error {
	h.mu.Lock()
	if !h.alive {
		code := h.exitCode
		h.mu.Unlock()
		return cerr.UpstreamExited(code)
	}
	h.mu.Unlock()

	id := h.reqID.Add(1)
	req, err := jsonrpc.NewRequest(id, jsonrpc.MethodSessionPrompt, jsonrpc.SessionPromptParams{
		SessionID: h.SessionID,
		Prompt:    promptText,
	})
	if err != nil {
		return err
	}
	return h.write(req)
}

// Cancel asks the upstream to stop the in-flight prompt. The upstream is
// expected to flush any pending message before stopping.
func (h *Handle) Cancel() error {
	h.mu.Lock()
	if !h.alive {
		code := h.exitCode
		h.mu.Unlock()
		return cerr.UpstreamExited(code)
	}
	h.mu.Unlock()

	notif, err := jsonrpc.NewNotification(jsonrpc.MethodSessionCancel, jsonrpc.SessionCancelParams{
		SessionID: h.SessionID,
	})
	if err != nil {
		return err
	}
	return h.write(notif)
}

// Close shuts the subprocess down: close stdin, wait a bounded grace period,
// then hard-kill.
func (h *Handle) Close() error {
	h.mu.Lock()
	alive := h.alive
	h.mu.Unlock()
	if !alive {
		return nil
	}

	_ = h.stdin.Close()
	select {
	case <-h.done:
	case <-time.After(h.closeGrace):
		h.log.WithSessionID(h.SessionID).Warn("upstream did not exit in time, killing")
		_ = h.cmd.Process.Kill()
		<-h.done
	}
	return nil
}

func (h *Handle) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := h.stdin.Write(data); err != nil {
		h.mu.Lock()
		code := h.exitCode
		h.mu.Unlock()
		return cerr.UpstreamExited(code)
	}
	return nil
}

// Supervisor spawns and tracks upstream subprocesses, one per session.
type Supervisor struct {
	cfg      config.SupervisorConfig
	resolver *Resolver
	log      *logger.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// New builds a supervisor.
func New(cfg config.SupervisorConfig, resolver *Resolver, log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		resolver: resolver,
		log:      log,
		handles:  make(map[string]*Handle),
	}
}

// Spawn launches the provider's subprocess for a session. A handle already
// registered for the session is closed first.
func (s *Supervisor) Spawn(ctx context.Context, sessionID, provider, cwd string, extraEnv []string) (*Handle, error) {
	if prev, ok := s.Get(sessionID); ok {
		_ = prev.Close()
	}

	argv, env, err := s.resolver.Resolve(provider)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SpawnTimeout)
	defer cancel()

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, cerr.UpstreamUnavailable(provider, err)
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), env...)
	cmd.Env = append(cmd.Env, extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, cerr.Internal("stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, cerr.Internal("stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, cerr.Internal("stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, cerr.UpstreamUnavailable(provider, err)
	}

	h := &Handle{
		SessionID:  sessionID,
		Provider:   provider,
		cmd:        cmd,
		stdin:      stdin,
		notifs:     make(chan map[string]any, notifBuffer),
		alive:      true,
		closeGrace: s.cfg.CloseGrace,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		log:        s.log,
	}

	s.mu.Lock()
	s.handles[sessionID] = h
	s.mu.Unlock()

	go s.readStdout(h, stdout)
	go s.readStderr(h, stderr)
	go s.wait(h)

	if ctx.Err() != nil {
		_ = h.Close()
		return nil, cerr.Timeout("spawn")
	}

	s.log.WithSessionID(sessionID).WithProvider(provider).Info("upstream spawned",
		zap.Int("pid", cmd.Process.Pid))
	return h, nil
}

// Get returns the handle for a session.
func (s *Supervisor) Get(sessionID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[sessionID]
	return h, ok
}

// Release closes and forgets the handle for a session.
func (s *Supervisor) Release(sessionID string) {
	s.mu.Lock()
	h, ok := s.handles[sessionID]
	delete(s.handles, sessionID)
	s.mu.Unlock()
	if ok {
		_ = h.Close()
	}
}

// Shutdown closes every live handle.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	for _, h := range handles {
		_ = h.Close()
	}
}

// readStdout decodes line-delimited JSON from the subprocess. Malformed
// lines are logged and discarded; the process is never killed for them.
func (s *Supervisor) readStdout(h *Handle, stdout io.Reader) {
	defer close(h.readerDone)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(line, &msg); err != nil {
			s.log.WithSessionID(h.SessionID).Debug("discarding malformed upstream line",
				zap.Error(err), zap.Int("len", len(line)))
			continue
		}
		if msg.Method != jsonrpc.NotificationSessionUpdate {
			continue
		}
		h.notifs <- msg.Params
	}
}

// readStderr surfaces upstream diagnostics in the server log.
func (s *Supervisor) readStderr(h *Handle, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			s.log.WithSessionID(h.SessionID).WithProvider(h.Provider).Debug("upstream stderr",
				zap.String("line", line))
		}
	}
}

// wait reaps the subprocess, synthesizes the exit error update and closes
// the notification channel.
func (s *Supervisor) wait(h *Handle) {
	err := h.cmd.Wait()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	h.mu.Lock()
	h.alive = false
	h.exitCode = exitCode
	h.mu.Unlock()

	// The stdout reader owns sends on the channel; wait for it before the
	// synthetic exit update and close.
	<-h.readerDone

	if exitCode != 0 {
		h.notifs <- map[string]any{
			"sessionId": h.SessionID,
			"update": map[string]any{
				"sessionUpdate": "error",
				"code":          string(cerr.KindUpstreamExited),
				"message":       fmt.Sprintf("upstream exited, code %d", exitCode),
			},
		}
	}
	close(h.notifs)

	s.mu.Lock()
	if s.handles[h.SessionID] == h {
		delete(s.handles, h.SessionID)
	}
	s.mu.Unlock()
	close(h.done)

	s.log.WithSessionID(h.SessionID).WithProvider(h.Provider).Info("upstream exited",
		zap.Int("code", exitCode))
}
