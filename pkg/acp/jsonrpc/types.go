// Package jsonrpc implements the JSON-RPC 2.0 envelope used on the /acp
// endpoint and on agent subprocess stdio.
package jsonrpc

import "encoding/json"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`      // Always "2.0"
	ID      interface{}     `json:"id,omitempty"` // Request ID (int or string), omit for notifications
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no ID and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Notification represents a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Standard JSON-RPC error codes, plus the server-defined not-initialized code.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotInitialized = -32000
)

// Methods accepted on the /acp endpoint and spoken to agent subprocesses.
const (
	MethodInitialize    = "initialize"
	MethodSessionNew    = "session/new"
	MethodSessionPrompt = "session/prompt"
	MethodSessionLoad   = "session/load"
	MethodSessionCancel = "session/cancel"
	MethodToolsCall     = "tools/call"

	// Extension methods (leading underscore by convention).
	MethodSkillsList = "_skills/list"
	MethodSkillsLoad = "_skills/load"

	// Agent -> client notification carrying one session update.
	NotificationSessionUpdate = "session/update"
)

// NewRequest builds a request with the envelope version set.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification with the envelope version set.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// InitializeParams for the initialize method.
type InitializeParams struct {
	ProtocolVersion int        `json:"protocolVersion"`
	ClientInfo      ClientInfo `json:"clientInfo"`
}

// ClientInfo identifies the caller.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult from the initialize method.
type InitializeResult struct {
	ProtocolVersion int                `json:"protocolVersion"`
	ServerInfo      ClientInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities,omitempty"`
}

// ServerCapabilities describes what this server supports.
type ServerCapabilities struct {
	Streaming     bool `json:"streaming,omitempty"`
	Orchestration bool `json:"orchestration,omitempty"`
}

// SessionNewParams for session/new.
type SessionNewParams struct {
	WorkspaceID     string `json:"workspaceId"`
	Cwd             string `json:"cwd"`
	Provider        string `json:"provider"`
	Role            string `json:"role,omitempty"`
	SpecialistID    string `json:"specialistId,omitempty"`
	Model           string `json:"model,omitempty"`
	ParentSessionID string `json:"parentSessionId,omitempty"`
}

// SessionNewResult from session/new.
type SessionNewResult struct {
	SessionID string `json:"sessionId"`
}

// SessionPromptParams for session/prompt.
type SessionPromptParams struct {
	SessionID   string `json:"sessionId"`
	Prompt      string `json:"prompt"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

// SessionPromptResult from session/prompt.
type SessionPromptResult struct {
	StopReason string `json:"stopReason"`
	Content    string `json:"content,omitempty"`
}

// SessionLoadParams for session/load.
type SessionLoadParams struct {
	SessionID string `json:"sessionId"`
}

// SessionLoadResult from session/load.
type SessionLoadResult struct {
	SessionID string `json:"sessionId"`
	Restored  bool   `json:"restored"`
}

// SessionCancelParams for the session/cancel notification.
type SessionCancelParams struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// SessionUpdateParams is the payload of a session/update notification.
// The update member carries one provider-specific session update; its
// sessionUpdate discriminator names the kind.
type SessionUpdateParams struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

// ToolsCallParams for tools/call extension dispatch.
type ToolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// SkillsLoadParams for _skills/load.
type SkillsLoadParams struct {
	Name string `json:"name"`
}
