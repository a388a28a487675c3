package domain

import (
	"errors"
	"fmt"
)

// ErrTicketNotFound is returned by stores when a ticket ID does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrEmptyInstruction rejects an agent request with no instruction text.
var ErrEmptyInstruction = errors.New("instruction is required")

// AuthorizationError rejects a caller whose role may not use the agent.
type AuthorizationError struct {
	Role string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q is not allowed to use the ticket agent", e.Role)
}

// InterpreterError wraps a language-model or network failure.
type InterpreterError struct {
	Err error
}

func (e *InterpreterError) Error() string {
	return "interpreter: " + e.Err.Error()
}

func (e *InterpreterError) Unwrap() error { return e.Err }

// ProtocolError reports model output that does not match the action protocol.
// Raw holds the offending text verbatim.
type ProtocolError struct {
	Reason string
	Raw    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s (raw: %q)", e.Reason, truncate(e.Raw, 200))
}

// ExecutionError reports a store mutation that failed mid-batch. Actions
// before Index were applied and stay committed.
type ExecutionError struct {
	Index   int
	Action  ActionType
	Applied int
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute action %d (%s): %v (%d applied before failure)", e.Index, e.Action, e.Err, e.Applied)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
