package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoFlow is returned when no flow configuration has been saved yet.
	ErrNoFlow = errors.New("no flow configuration found")
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
)

// Protocol error codes carried on error responses.
const (
	CodeUnexpectedInput = "unexpected_input"
	CodeInvalidFrame    = "invalid_frame"
	CodeRateLimited     = "rate_limited"
	CodeNoFlow          = "no_flow"
	CodeInternal        = "internal"
)

// ValidationError lists every problem found in a submitted flow.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid flow configuration: " + strings.Join(e.Issues, "; ")
}

// ConfigError means a stored flow is inconsistent, e.g. its initial block
// does not resolve.
type ConfigError struct {
	BlockID string
	Message string
}

func (e *ConfigError) Error() string {
	if e.BlockID == "" {
		return "flow config: " + e.Message
	}
	return fmt.Sprintf("flow config: block %s: %s", e.BlockID, e.Message)
}

// FlowError is a runtime graph failure: a dangling reference, a cycle or an
// unsupported block reached during a turn.
type FlowError struct {
	BlockID string
	Message string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow: block %s: %s", e.BlockID, e.Message)
}

// ProtocolError means a frame arrived that the flow cannot accept in its
// current state.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Code, e.Message)
}

// Response renders the error as an outbound error frame.
func (e *ProtocolError) Response() Response {
	return ErrorResponse(e.Code, e.Message)
}
