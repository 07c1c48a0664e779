// Package errors provides the error kinds surfaced by the cohort core.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of a core error.
type Kind string

// Error kinds surfaced by the core. Anything inside the stream pipeline
// (parse, subscriber, persistence) recovers locally; anything that makes a
// prompt meaningless (upstream exit, cancel, timeout) surfaces to the caller.
const (
	KindInvalidRequest      Kind = "invalid_request"
	KindNotInitialized      Kind = "not_initialized"
	KindSessionNotFound     Kind = "session_not_found"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamExited      Kind = "upstream_exited"
	KindCancelled           Kind = "cancelled"
	KindTimeout             Kind = "timeout"
	KindParseError          Kind = "parse_error"
	KindSubscriberError     Kind = "subscriber_error"
	KindPersistenceError    Kind = "persistence_error"
	KindInternal            Kind = "internal"
)

// CoreError is an error with a kind, an HTTP status and a JSON-RPC code.
type CoreError struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	RPCCode    int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// InvalidRequest creates an invalid_request error (JSON-RPC -32600).
func InvalidRequest(message string) *CoreError {
	return &CoreError{Kind: KindInvalidRequest, Message: message, HTTPStatus: http.StatusBadRequest, RPCCode: -32600}
}

// InvalidParams creates an invalid_request error for a missing or malformed
// parameter (JSON-RPC -32602).
func InvalidParams(message string) *CoreError {
	return &CoreError{Kind: KindInvalidRequest, Message: message, HTTPStatus: http.StatusBadRequest, RPCCode: -32602}
}

// NotInitialized creates a not_initialized error (JSON-RPC -32000).
func NotInitialized() *CoreError {
	return &CoreError{Kind: KindNotInitialized, Message: "server not initialized", HTTPStatus: http.StatusConflict, RPCCode: -32000}
}

// SessionNotFound creates a session_not_found error.
func SessionNotFound(sessionID string) *CoreError {
	return &CoreError{
		Kind:       KindSessionNotFound,
		Message:    fmt.Sprintf("session '%s' not found", sessionID),
		HTTPStatus: http.StatusNotFound,
		RPCCode:    -32001,
	}
}

// UpstreamUnavailable creates an upstream_unavailable error.
func UpstreamUnavailable(provider string, err error) *CoreError {
	return &CoreError{
		Kind:       KindUpstreamUnavailable,
		Message:    fmt.Sprintf("provider '%s' unavailable", provider),
		HTTPStatus: http.StatusBadGateway,
		RPCCode:    -32002,
		Err:        err,
	}
}

// UpstreamExited creates an upstream_exited error for a subprocess that died.
func UpstreamExited(exitCode int) *CoreError {
	return &CoreError{
		Kind:       KindUpstreamExited,
		Message:    fmt.Sprintf("upstream exited, code %d", exitCode),
		HTTPStatus: http.StatusBadGateway,
		RPCCode:    -32003,
	}
}

// Cancelled creates a cancelled error for a user-requested cancel.
func Cancelled() *CoreError {
	return &CoreError{Kind: KindCancelled, Message: "operation cancelled", HTTPStatus: http.StatusConflict, RPCCode: -32004}
}

// Timeout creates a timeout error for an operation that exceeded its budget.
func Timeout(operation string) *CoreError {
	return &CoreError{
		Kind:       KindTimeout,
		Message:    fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout,
		RPCCode:    -32005,
	}
}

// Persistence wraps an external store failure; callers log and continue.
func Persistence(operation string, err error) *CoreError {
	return &CoreError{
		Kind:       KindPersistenceError,
		Message:    fmt.Sprintf("persistence operation '%s' failed", operation),
		HTTPStatus: http.StatusInternalServerError,
		RPCCode:    -32603,
		Err:        err,
	}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *CoreError {
	return &CoreError{Kind: KindInternal, Message: message, HTTPStatus: http.StatusInternalServerError, RPCCode: -32603, Err: err}
}

// IsKind reports whether err is a CoreError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// HTTPStatus returns the HTTP status code for an error, defaulting to 500.
func HTTPStatus(err error) int {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.HTTPStatus
	}
	return http.StatusInternalServerError
}

// RPCCode returns the JSON-RPC error code for an error, defaulting to -32603.
func RPCCode(err error) int {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.RPCCode
	}
	return -32603
}
