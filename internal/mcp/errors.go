// Package mcp exposes the search orchestrator over the Model Context
// Protocol so research-assistant clients can call it as tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/bibliomcp/bibliomcp/internal/search"
)

// Custom MCP error codes.
const (
	// ErrCodeBackendsUnavailable indicates every search backend failed.
	ErrCodeBackendsUnavailable = -32001

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts orchestrator errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var oe *search.OrchestratorError
	if errors.As(err, &oe) {
		switch oe.Kind {
		case search.ErrAllBackendsUnavailable:
			return &MCPError{
				Code:    ErrCodeBackendsUnavailable,
				Message: "No search backend is available. Check backend configuration and connectivity.",
			}
		case search.ErrDeadlineExceeded:
			return &MCPError{
				Code:    ErrCodeTimeout,
				Message: "Search deadline elapsed before any backend responded.",
			}
		case search.ErrInvalidQuery:
			return &MCPError{
				Code:    ErrCodeInvalidParams,
				Message: oe.Message,
			}
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}
