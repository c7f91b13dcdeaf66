package search

import (
	"errors"
	"fmt"
)

// ErrKind classifies a session-level orchestrator failure. These are the
// only failures surfaced to callers; individual backend errors are absorbed
// and reflected in the quality report instead.
type ErrKind string

const (
	// ErrAllBackendsUnavailable means every adapter in a round failed.
	ErrAllBackendsUnavailable ErrKind = "all_backends_unavailable"

	// ErrDeadlineExceeded means the overall caller deadline elapsed before
	// a terminal state was reached.
	ErrDeadlineExceeded ErrKind = "deadline_exceeded"

	// ErrInvalidQuery means the input was rejected before any backend call
	// (empty text, non-positive limit).
	ErrInvalidQuery ErrKind = "invalid_query"
)

// OrchestratorError is the structured error surfaced by the public
// operations. It carries a kind and a human-readable message, nothing else.
type OrchestratorError struct {
	Kind    ErrKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *OrchestratorError) Unwrap() error {
	return e.Cause
}

// Is matches against another *OrchestratorError by kind.
func (e *OrchestratorError) Is(target error) bool {
	var t *OrchestratorError
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrKind, message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Message: message, Cause: cause}
}

func invalidQuery(format string, args ...any) *OrchestratorError {
	return newError(ErrInvalidQuery, fmt.Sprintf(format, args...), nil)
}
