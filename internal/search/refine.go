package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bibliomcp/bibliomcp/internal/backend"
)

// SearchFunc executes one search attempt. The refinement controller is
// driven through this abstraction so it can be tested without a full
// orchestrator.
type SearchFunc func(ctx context.Context, q Query) (*Response, error)

// attempt is one completed (query, response) pair in a session's history.
type attempt struct {
	query Query
	resp  *Response
}

// session is the only mutable, long-lived state of a refinement run. It is
// created at the start of the call, mutated only by the controller driving
// it, and discarded when the call returns.
type session struct {
	original Query
	deadline time.Time
	attempts []attempt
}

// best returns the strongest attempt seen: max by confidence, then result
// count, then earliest (stable). Every attempt is retained, so refinement
// never loses information.
func (s *session) best() *attempt {
	var b *attempt
	for i := range s.attempts {
		a := &s.attempts[i]
		if b == nil {
			b = a
			continue
		}
		ar, br := a.resp.Quality.Confidence.rank(), b.resp.Quality.Confidence.rank()
		if ar > br || (ar == br && a.resp.Quality.ResultCount > b.resp.Quality.ResultCount) {
			b = a
		}
	}
	return b
}

// RefinementController runs the bounded refine loop (search, assess,
// rewrite, repeat) until quality is acceptable or the attempt budget or
// session deadline is exhausted. The terminal response is the best attempt
// seen, not necessarily the last, with its quality report attached so the
// caller can tell a confident result from a best-effort one.
type RefinementController struct {
	cfg    Config
	search SearchFunc
}

// NewRefinementController creates a controller driving searches through fn.
func NewRefinementController(cfg Config, fn SearchFunc) *RefinementController {
	return &RefinementController{cfg: cfg, search: fn}
}

// Run drives the refinement loop to a terminal state for q.
func (c *RefinementController) Run(ctx context.Context, q Query) (*Response, error) {
	budget := q.Deadline
	if budget <= 0 {
		budget = c.cfg.SearchTimeout
	}

	maxAttempts := q.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if q.NoRefine {
		maxAttempts = 1
	}

	sess := &session{original: q, deadline: time.Now().Add(budget)}
	cur := q

	for attemptNo := 1; attemptNo <= maxAttempts; attemptNo++ {
		// Attempts share one session deadline, decremented by elapsed
		// time, never reset per attempt.
		remaining := time.Until(sess.deadline)
		if remaining <= 0 {
			if len(sess.attempts) == 0 {
				return nil, newError(ErrDeadlineExceeded, "session deadline elapsed before first attempt completed", ctx.Err())
			}
			break
		}

		attemptQ := cur
		attemptQ.Deadline = remaining

		resp, err := c.search(ctx, attemptQ)
		if err != nil {
			if len(sess.attempts) > 0 {
				// A completed attempt is never aborted by a later
				// failure; fall back to the best seen.
				slog.Warn("refinement attempt failed, returning best prior attempt",
					slog.Int("attempt", attemptNo),
					slog.String("error", err.Error()))
				break
			}
			return nil, err
		}

		sess.attempts = append(sess.attempts, attempt{query: attemptQ, resp: resp})

		if !resp.Quality.ShouldEscalate {
			break
		}

		next, ok := c.rewrite(cur, resp)
		if !ok {
			slog.Debug("no further rewrite available, terminating refinement",
				slog.Int("attempt", attemptNo))
			break
		}
		slog.Debug("refinement escalation",
			slog.Int("attempt", attemptNo),
			slog.String("from", cur.Text),
			slog.String("to", next.Text))
		cur = next
	}

	best := sess.best()
	if best == nil {
		return nil, newError(ErrDeadlineExceeded, "session deadline elapsed before first attempt completed", nil)
	}

	final := *best.resp
	final.AttemptsUsed = len(sess.attempts)
	return &final, nil
}

// rewrite produces the next query for an escalated attempt. Broaden when
// the attempt found nothing; narrow when it found plenty but coverage kept
// confidence low. Returns false when no meaningful rewrite exists, which
// terminates the loop early.
func (c *RefinementController) rewrite(q Query, resp *Response) (Query, bool) {
	if resp.Quality.ResultCount == 0 {
		return broaden(q)
	}

	minResults := c.cfg.MinResults
	if minResults <= 0 {
		minResults = 3
	}
	if resp.Quality.ResultCount >= minResults && resp.Quality.Coverage < c.cfg.HighCoverage {
		if nq, ok := narrow(q, resp); ok {
			return nq, true
		}
	}
	return broaden(q)
}

// broaden relaxes the query: drop the least-selective filter first (date
// range, then item type, then collection), then drop the most specific
// term (the longest word), keeping at least one.
func broaden(q Query) (Query, bool) {
	next := q
	next.Parent = q.Text

	switch {
	case !q.Filters.After.IsZero() || !q.Filters.Before.IsZero():
		next.Filters.After = time.Time{}
		next.Filters.Before = time.Time{}
		return next, true
	case q.Filters.ItemType != "":
		next.Filters.ItemType = ""
		return next, true
	case q.Filters.Collection != "":
		next.Filters.Collection = ""
		return next, true
	}

	words := strings.Fields(q.Text)
	if len(words) <= 1 {
		return q, false
	}
	drop, longest := -1, 0
	for i, w := range words {
		if len(w) > longest {
			drop, longest = i, len(w)
		}
	}
	next.Text = strings.Join(append(words[:drop:drop], words[drop+1:]...), " ")
	return next, next.Text != q.Text
}

// narrow tightens the query with a filter derived from the top result's
// backend metadata.
func narrow(q Query, resp *Response) (Query, bool) {
	if len(resp.Results) == 0 {
		return q, false
	}
	meta := resp.Results[0].Metadata
	if len(meta) == 0 {
		return q, false
	}

	next := q
	next.Parent = q.Text
	if t := meta[backend.MetaItemType]; t != "" && q.Filters.ItemType == "" {
		next.Filters.ItemType = t
		return next, true
	}
	if col := meta[backend.MetaCollection]; col != "" && q.Filters.Collection == "" {
		next.Filters.Collection = col
		return next, true
	}
	return q, false
}
