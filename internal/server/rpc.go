package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	cerr "github.com/cohort-dev/cohort/internal/common/errors"
	"github.com/cohort-dev/cohort/internal/orchestrator"
	"github.com/cohort-dev/cohort/internal/session"
	"github.com/cohort-dev/cohort/internal/sysprompt"
	"github.com/cohort-dev/cohort/internal/taskblock"
	"github.com/cohort-dev/cohort/internal/tracing"
	"github.com/cohort-dev/cohort/internal/types/streams"
	"github.com/cohort-dev/cohort/pkg/acp/jsonrpc"
)

// cancelledMessage marks the canonical error pushed on user cancel; the
// prompt waiter maps it to the cancelled stop-reason.
const cancelledMessage = "cancelled"

func (s *Server) handleRPC(c *gin.Context) {
	var req jsonrpc.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeRPCError(c, nil, jsonrpc.CodeParseError, "parse error")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeRPCError(c, req.ID, jsonrpc.CodeInvalidRequest, "invalid request")
		return
	}

	if req.Method != jsonrpc.MethodInitialize && !s.initialized.Load() {
		s.writeRPCError(c, req.ID, jsonrpc.CodeNotInitialized, "server not initialized")
		return
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case jsonrpc.MethodInitialize:
		result, err = s.rpcInitialize(req.Params)
	case jsonrpc.MethodSessionNew:
		result, err = s.rpcSessionNew(c.Request.Context(), req.Params)
	case jsonrpc.MethodSessionPrompt:
		result, err = s.rpcSessionPrompt(c.Request.Context(), req.Params)
	case jsonrpc.MethodSessionLoad:
		result, err = s.rpcSessionLoad(c.Request.Context(), req.Params)
	case jsonrpc.MethodSessionCancel:
		result, err = s.rpcSessionCancel(c.Request.Context(), req.Params)
	case jsonrpc.MethodToolsCall:
		result, err = s.rpcToolsCall(c.Request.Context(), req.Params)
	case jsonrpc.MethodSkillsList:
		result, err = s.rpcSkillsList()
	case jsonrpc.MethodSkillsLoad:
		result, err = s.rpcSkillsLoad(req.Params)
	default:
		s.writeRPCError(c, req.ID, jsonrpc.CodeMethodNotFound, "method not found: "+req.Method)
		return
	}

	if err != nil {
		s.log.WithError(err).Debug("rpc call failed", zap.String("method", req.Method))
		s.writeRPCError(c, req.ID, cerr.RPCCode(err), err.Error())
		return
	}
	if req.IsNotification() {
		c.Status(http.StatusNoContent)
		return
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		s.writeRPCError(c, req.ID, jsonrpc.CodeInternalError, "marshal result")
		return
	}
	c.JSON(http.StatusOK, jsonrpc.Response{JSONRPC: "2.0", ID: req.ID, Result: raw})
}

func (s *Server) writeRPCError(c *gin.Context, id any, code int, message string) {
	c.JSON(http.StatusOK, jsonrpc.Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpc.Error{Code: code, Message: message},
	})
}

func (s *Server) rpcInitialize(raw json.RawMessage) (any, error) {
	var params jsonrpc.InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, cerr.InvalidParams("malformed initialize params")
		}
	}
	s.initialized.Store(true)
	return jsonrpc.InitializeResult{
		ProtocolVersion: 1,
		ServerInfo:      jsonrpc.ClientInfo{Name: "cohort", Version: Version},
		Capabilities:    jsonrpc.ServerCapabilities{Streaming: true, Orchestration: true},
	}, nil
}

func (s *Server) rpcSessionNew(ctx context.Context, raw json.RawMessage) (any, error) {
	var params jsonrpc.SessionNewParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, cerr.InvalidParams("malformed session/new params")
	}
	if params.Provider == "" && params.SpecialistID == "" {
		return nil, cerr.InvalidParams("provider is required")
	}

	role := session.RoleSolo
	if params.Role != "" {
		role = session.Role(params.Role)
		if !role.Valid() {
			return nil, cerr.InvalidParams("unknown role: " + params.Role)
		}
	}

	provider := params.Provider
	var sp *sysprompt.Specialist
	if params.SpecialistID != "" {
		preset, ok := s.specialists.Get(params.SpecialistID)
		if !ok {
			return nil, cerr.InvalidParams("unknown specialist: " + params.SpecialistID)
		}
		sp = &preset
		if params.Role == "" && preset.Role != "" {
			role = preset.Role
		}
		if provider == "" {
			provider = preset.Provider
		}
	}
	if provider == "" {
		return nil, cerr.InvalidParams("provider is required")
	}

	sess := &session.Session{
		ID:              uuid.NewString(),
		WorkspaceID:     params.WorkspaceID,
		Cwd:             params.Cwd,
		Provider:        provider,
		Role:            role,
		ParentSessionID: params.ParentSessionID,
		SystemHeader:    sysprompt.BuildHeader(role, sp, params.WorkspaceID),
		CreatedAt:       time.Now().UTC(),
	}
	if sp != nil {
		sess.SpecialistID = sp.ID
	}
	s.store.Upsert(ctx, sess)
	return jsonrpc.SessionNewResult{SessionID: sess.ID}, nil
}

func (s *Server) rpcSessionPrompt(ctx context.Context, raw json.RawMessage) (any, error) {
	var params jsonrpc.SessionPromptParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, cerr.InvalidParams("malformed session/prompt params")
	}
	if params.SessionID == "" || params.Prompt == "" {
		return nil, cerr.InvalidParams("sessionId and prompt are required")
	}

	ctx, span := tracing.Tracer("server").Start(ctx, "session.prompt",
		trace.WithAttributes(attribute.String("session.id", params.SessionID)))
	defer span.End()

	sess, err := s.store.Get(params.SessionID)
	if err != nil {
		return nil, err
	}

	handle, ok := s.sup.Get(sess.ID)
	if !ok {
		handle, err = s.sup.Spawn(ctx, sess.ID, sess.Provider, sess.Cwd, nil)
		if err != nil {
			return nil, err
		}
		go orchestrator.Pump(s.store, handle, nil)
	}

	if err := s.store.PushUserMessage(ctx, sess.ID, params.Prompt); err != nil {
		s.log.WithError(err).WithSessionID(sess.ID).Warn("user message record failed")
	}

	promptText := params.Prompt
	if !sess.FirstPromptSent && sess.SystemHeader != "" {
		promptText = sess.SystemHeader + "\n\n" + params.Prompt
	}

	// Subscribe before sending so a fast turn cannot slip past the waiter.
	done := make(chan *streams.Block, 1)
	unsub, err := s.store.Subscribe(sess.ID, func(blk *streams.Block) {
		switch blk.Kind {
		case streams.BlockAgentCompleted, streams.BlockAgentFailed:
			select {
			case done <- blk:
			default:
			}
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsub()

	if err := handle.Send(promptText); err != nil {
		return nil, err
	}
	if err := s.store.MarkFirstPromptSent(ctx, sess.ID); err != nil {
		s.log.WithError(err).WithSessionID(sess.ID).Warn("mark first prompt failed")
	}

	select {
	case blk := <-done:
		return s.promptResult(sess.ID, blk), nil
	case <-ctx.Done():
		return nil, cerr.Timeout("prompt")
	}
}

func (s *Server) promptResult(sessionID string, blk *streams.Block) jsonrpc.SessionPromptResult {
	if blk.Kind == streams.BlockAgentFailed {
		stopReason := "error"
		if blk.Error == cancelledMessage {
			stopReason = "cancelled"
		}
		return jsonrpc.SessionPromptResult{StopReason: stopReason, Content: blk.Error}
	}

	stopReason := blk.StopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}
	return jsonrpc.SessionPromptResult{StopReason: stopReason, Content: s.finalContent(sessionID)}
}

// finalContent returns the text of the last consolidated agent message.
func (s *Server) finalContent(sessionID string) string {
	history, err := s.store.GetConsolidatedHistory(sessionID)
	if err != nil {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		u := history[i]
		if u.Kind == streams.UpdateAgentMessage && u.Message != nil {
			return u.Message.Text
		}
	}
	return ""
}

func (s *Server) rpcSessionLoad(ctx context.Context, raw json.RawMessage) (any, error) {
	var params jsonrpc.SessionLoadParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, cerr.InvalidParams("malformed session/load params")
	}
	if params.SessionID == "" {
		return nil, cerr.InvalidParams("sessionId is required")
	}

	if _, err := s.store.Get(params.SessionID); err == nil {
		return jsonrpc.SessionLoadResult{SessionID: params.SessionID, Restored: false}, nil
	}

	rec, err := s.persist.GetSession(ctx, params.SessionID)
	if err != nil {
		return nil, cerr.SessionNotFound(params.SessionID)
	}
	s.store.Upsert(ctx, session.FromRecord(rec))
	return jsonrpc.SessionLoadResult{SessionID: params.SessionID, Restored: true}, nil
}

func (s *Server) rpcSessionCancel(ctx context.Context, raw json.RawMessage) (any, error) {
	var params jsonrpc.SessionCancelParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, cerr.InvalidParams("malformed session/cancel params")
	}
	if params.SessionID == "" {
		return nil, cerr.InvalidParams("sessionId is required")
	}
	if _, err := s.store.Get(params.SessionID); err != nil {
		return nil, err
	}

	if handle, ok := s.sup.Get(params.SessionID); ok {
		if err := handle.Cancel(); err != nil {
			s.log.WithError(err).WithSessionID(params.SessionID).Warn("upstream cancel failed")
		}
	}
	// Surface the cancel on the session's own stream.
	_ = s.store.PushNotification(ctx, params.SessionID, map[string]any{
		"sessionId": params.SessionID,
		"update": map[string]any{
			"sessionUpdate": "error",
			"code":          "cancelled",
			"message":       cancelledMessage,
		},
	})
	return gin.H{"cancelled": true}, nil
}

func (s *Server) rpcSkillsList() (any, error) {
	list, err := s.skills.List()
	if err != nil {
		return nil, cerr.Internal("list skills", err)
	}
	return gin.H{"skills": list}, nil
}

func (s *Server) rpcSkillsLoad(raw json.RawMessage) (any, error) {
	var params jsonrpc.SkillsLoadParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, cerr.InvalidParams("malformed _skills/load params")
	}
	content, err := s.skills.Load(params.Name)
	if err != nil {
		return nil, cerr.InvalidParams(err.Error())
	}
	return gin.H{"name": params.Name, "content": content}, nil
}

// Orchestration helper tools dispatched through tools/call.

type agentSummary struct {
	SessionID       string       `json:"sessionId"`
	Title           string       `json:"title,omitempty"`
	Provider        string       `json:"provider"`
	Role            session.Role `json:"role"`
	ParentSessionID string       `json:"parentSessionId,omitempty"`
}

func (s *Server) rpcToolsCall(ctx context.Context, raw json.RawMessage) (any, error) {
	var params jsonrpc.ToolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, cerr.InvalidParams("malformed tools/call params")
	}

	switch params.Name {
	case "list_agents":
		out := make([]agentSummary, 0)
		for _, sess := range s.store.List() {
			out = append(out, agentSummary{
				SessionID:       sess.ID,
				Title:           sess.Title,
				Provider:        sess.Provider,
				Role:            sess.Role,
				ParentSessionID: sess.ParentSessionID,
			})
		}
		return gin.H{"agents": out}, nil

	case "create_agent":
		var args struct {
			ParentSessionID string `json:"parentSessionId"`
			Title           string `json:"title"`
			Objective       string `json:"objective,omitempty"`
			Role            string `json:"role,omitempty"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return nil, cerr.InvalidParams("malformed create_agent arguments")
		}
		if args.ParentSessionID == "" || args.Title == "" {
			return nil, cerr.InvalidParams("parentSessionId and title are required")
		}
		role := session.RoleImplementor
		if args.Role != "" {
			role = session.Role(args.Role)
			if !role.Valid() {
				return nil, cerr.InvalidParams("unknown role: " + args.Role)
			}
		}
		childID, err := s.orch.DelegateTask(ctx, args.ParentSessionID, taskblock.Task{
			Title:    args.Title,
			Sections: taskblock.Sections{Objective: args.Objective},
		}, role)
		if err != nil {
			return nil, err
		}
		return gin.H{"sessionId": childID}, nil

	case "get_agent_status":
		var args struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.SessionID == "" {
			return nil, cerr.InvalidParams("sessionId is required")
		}
		sess, err := s.store.Get(args.SessionID)
		if err != nil {
			return nil, err
		}
		alive := false
		if handle, ok := s.sup.Get(args.SessionID); ok {
			alive = handle.Alive()
		}
		history, _ := s.store.GetHistory(args.SessionID)
		return gin.H{
			"sessionId":     sess.ID,
			"role":          sess.Role,
			"provider":      sess.Provider,
			"alive":         alive,
			"historyLength": len(history),
		}, nil

	case "ingest_tasks":
		var args struct {
			SessionID string `json:"sessionId"`
			Text      string `json:"text"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.SessionID == "" {
			return nil, cerr.InvalidParams("sessionId and text are required")
		}
		res, err := s.orch.IngestCoordinatorOutput(context.Background(), args.SessionID, args.Text)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"blockCount":        res.BlockCount,
			"validTaskCount":    res.ValidCount,
			"invalidBlockCount": res.InvalidCount,
			"cleanedText":       res.CleanedText,
		}, nil

	default:
		return nil, cerr.InvalidParams("unknown tool: " + params.Name)
	}
}
