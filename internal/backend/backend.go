// Package backend defines the adapter contract over a single search backend
// (vector index, knowledge graph, or keyword/metadata store) and the typed
// errors adapters report. The orchestration core sees nothing of a backend
// beyond this contract.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrKind classifies an adapter failure.
type ErrKind string

const (
	// ErrUnavailable indicates the backend could not be reached.
	ErrUnavailable ErrKind = "unavailable"

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout ErrKind = "timeout"

	// ErrInvalidQuery indicates the backend rejected the query as malformed.
	ErrInvalidQuery ErrKind = "invalid_query"

	// ErrInternal indicates an unexpected backend-side failure.
	ErrInternal ErrKind = "internal"
)

// Error is the structured error type returned by adapters.
// Every adapter failure is recoverable at the orchestrator level; the
// orchestrator absorbs it as long as at least one backend in the round
// succeeds.
type Error struct {
	// Kind classifies the failure.
	Kind ErrKind

	// Backend is the adapter name that produced the error.
	Backend string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %s", e.Backend, e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches against another *Error by kind, so errors.Is works with
// kind-only targets like &Error{Kind: ErrTimeout}.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && (t.Backend == "" || t.Backend == e.Backend)
}

// Retryable reports whether the failure is worth retrying on a later round.
func (e *Error) Retryable() bool {
	return e.Kind == ErrUnavailable || e.Kind == ErrTimeout
}

// NewError creates a backend error with the given kind.
func NewError(kind ErrKind, backendName, message string, cause error) *Error {
	return &Error{Kind: kind, Backend: backendName, Message: message, Cause: cause}
}

// Classify wraps an arbitrary adapter error, mapping context cancellation
// and deadline expiry onto ErrTimeout. Errors that are already *Error pass
// through unchanged.
func Classify(backendName string, err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewError(ErrTimeout, backendName, "deadline exceeded", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(ErrTimeout, backendName, "network timeout", err)
		}
		return NewError(ErrUnavailable, backendName, err.Error(), err)
	}
	return NewError(ErrInternal, backendName, err.Error(), err)
}

// Filters restricts a search to a slice of the library.
// The zero value applies no restriction.
type Filters struct {
	// Collection restricts results to one named collection.
	Collection string

	// ItemType restricts results to one item type (e.g. "article", "book").
	ItemType string

	// After restricts results to items added at or after this time.
	After time.Time

	// Before restricts results to items added before this time.
	Before time.Time
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Collection == "" && f.ItemType == "" && f.After.IsZero() && f.Before.IsZero()
}

// Candidate is one backend's opinion about one item: a backend-local score
// that is not comparable across backends, plus the rank position within that
// backend's own result list. Immutable after creation.
type Candidate struct {
	// ItemID identifies the library item.
	ItemID string

	// Score is the backend-local relevance score.
	Score float64

	// Backend is the adapter name that produced this candidate.
	Backend string

	// Query is the query text that produced this candidate.
	// Filled in by the orchestrator, not the adapter.
	Query string

	// Rank is the 1-based position in the backend's own result list
	// (0 if the adapter did not assign one; the orchestrator then assigns
	// it from list order).
	Rank int

	// Metadata carries item attributes the backend happens to know
	// (collection, item type). Used by refinement to derive narrowing
	// filters; may be nil.
	Metadata map[string]string
}

// Well-known Candidate metadata keys.
const (
	MetaCollection = "collection"
	MetaItemType   = "item_type"
)

// Adapter is the uniform interface over a single search backend.
//
// Implementations must return candidates ordered best-first by the backend's
// own notion of relevance, with no duplicate item IDs within one response,
// must honor ctx cancellation, and must be safe for concurrent invocation.
type Adapter interface {
	// Name returns the stable backend identifier (e.g. "vector", "graph").
	Name() string

	// Search executes one query against the backend.
	// limit must be > 0; the deadline travels on ctx.
	Search(ctx context.Context, text string, filters Filters, limit int) ([]Candidate, error)

	// Close releases backend resources.
	Close() error
}
