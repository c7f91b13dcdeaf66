package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bibliomcp/bibliomcp/internal/backend"
	"github.com/bibliomcp/bibliomcp/internal/telemetry"
)

// Orchestrator coordinates the registered backend adapters and composes
// fusion, quality estimation, decomposition, and refinement into the three
// public operations. It is agnostic to how many adapters are registered:
// with one backend fusion degenerates to a pass-through ranking, with none
// every operation fails with ErrAllBackendsUnavailable.
type Orchestrator struct {
	adapters   []backend.Adapter
	cfg        Config
	fusion     *RRFFusion
	subFusion  *SubQueryFusion
	decomposer Decomposer
	metrics    *telemetry.QueryMetrics
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMetrics sets an optional query metrics collector. When set, every
// public operation records an event.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithDecomposer overrides the default conjunctive decomposer.
func WithDecomposer(d Decomposer) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.decomposer = d
		}
	}
}

// NewOrchestrator creates an orchestrator over the given adapters.
// Configuration is passed explicitly so tests can build deterministic,
// isolated instances.
func NewOrchestrator(adapters []backend.Adapter, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters:   adapters,
		cfg:        cfg,
		fusion:     NewRRFFusion(cfg.RRFK, cfg.Weights),
		subFusion:  NewSubQueryFusion(cfg.SubQueryRRFK, cfg.ConsensusBoost),
		decomposer: NewConjunctiveDecomposer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Backends returns the names of the registered adapters.
func (o *Orchestrator) Backends() []string {
	names := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		names[i] = a.Name()
	}
	return names
}

// Close releases all adapter resources.
func (o *Orchestrator) Close() error {
	var firstErr error
	for _, a := range o.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UnifiedSearch runs one fan-out round across all configured backends,
// fuses, and returns the merged ranking with its quality report. No
// decomposition, no refinement. Deterministic given deterministic backend
// responses.
func (o *Orchestrator) UnifiedSearch(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	q, err := o.normalize(q)
	if err != nil {
		return nil, err
	}
	if len(o.adapters) == 0 {
		return nil, newError(ErrAllBackendsUnavailable, "no backends registered", nil)
	}

	ctx, cancel := o.withDeadline(ctx, q)
	defer cancel()

	resp, err := o.searchRound(ctx, q)
	o.record(telemetry.OpUnified, q, resp, start)
	return resp, err
}

// DecomposeSearch decomposes the query, fans out each sub-query
// concurrently against all backends, fuses each sub-query's results
// independently, then fuses the per-sub-query lists again (two-level
// fusion) into one final ranking.
func (o *Orchestrator) DecomposeSearch(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	q, err := o.normalize(q)
	if err != nil {
		return nil, err
	}
	if len(o.adapters) == 0 {
		return nil, newError(ErrAllBackendsUnavailable, "no backends registered", nil)
	}

	ctx, cancel := o.withDeadline(ctx, q)
	defer cancel()

	subs := o.decomposer.Decompose(q)
	if len(subs) > o.cfg.MaxSubQueries && o.cfg.MaxSubQueries > 0 {
		subs = subs[:o.cfg.MaxSubQueries]
	}
	texts := make([]string, len(subs))
	for i, sq := range subs {
		texts[i] = sq.Text
	}

	// Atomic query: a single round, reported with its one sub-query.
	if len(subs) == 1 {
		resp, err := o.searchRound(ctx, q)
		if resp != nil {
			resp.SubQueries = texts
		}
		o.record(telemetry.OpDecompose, q, resp, start)
		return resp, err
	}

	slog.Debug("query decomposed",
		slog.String("query", q.Text),
		slog.Int("sub_queries", len(subs)))

	budget := q.Deadline
	if budget <= 0 {
		budget = o.cfg.SearchTimeout
	}
	share := DivideDeadline(budget, len(subs), o.cfg.MinSubQueryDeadline)

	subResults := make([]SubQueryResult, len(subs))
	contributed := make(map[string]bool)
	var anySuccess bool
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range subs {
		g.Go(func() error {
			// Each sub-query gets its own share of the round deadline;
			// the shares run against the same wall-clock budget.
			sctx, scancel := context.WithTimeout(gctx, share)
			defer scancel()

			lists, failures := o.fanOut(sctx, sq)
			fused := o.fusion.Fuse(lists, 0)

			mu.Lock()
			subResults[i] = SubQueryResult{Query: sq, Results: fused}
			for name, cands := range lists {
				if len(cands) > 0 {
					contributed[name] = true
				}
			}
			if len(lists) > 0 {
				anySuccess = true
			}
			mu.Unlock()

			for _, f := range failures {
				slog.Debug("sub-query backend failure absorbed",
					slog.String("sub_query", sq.Text),
					slog.String("backend", f.Backend),
					slog.String("kind", string(f.Kind)))
			}
			return nil
		})
	}
	// Goroutines only report per-backend failures through shared state;
	// Wait returns nil unless the context is cancelled.
	_ = g.Wait()

	if !anySuccess {
		err := o.roundFailure(ctx, nil)
		o.record(telemetry.OpDecompose, q, nil, start)
		return nil, err
	}

	final := o.subFusion.Fuse(subResults, q.Limit)
	report := AssessQuality(final, len(o.adapters), len(contributed), o.cfg)

	resp := &Response{
		Results:      final,
		Quality:      report,
		SubQueries:   texts,
		AttemptsUsed: 1,
	}
	o.record(telemetry.OpDecompose, q, resp, start)
	return resp, nil
}

// RefineSearch drives the refinement controller to a terminal state,
// choosing UnifiedSearch or DecomposeSearch per attempt based on whether
// the current query is atomic or compound.
func (o *Orchestrator) RefineSearch(ctx context.Context, q Query) (*Response, error) {
	start := time.Now()

	q, err := o.normalize(q)
	if err != nil {
		return nil, err
	}
	if len(o.adapters) == 0 {
		return nil, newError(ErrAllBackendsUnavailable, "no backends registered", nil)
	}

	ctrl := NewRefinementController(o.cfg, func(ctx context.Context, aq Query) (*Response, error) {
		if o.decomposer.ShouldDecompose(aq.Text) {
			return o.DecomposeSearch(ctx, aq)
		}
		return o.UnifiedSearch(ctx, aq)
	})

	resp, err := ctrl.Run(ctx, q)
	o.record(telemetry.OpRefine, q, resp, start)
	return resp, err
}

// normalize validates the query and applies limit bounds. Malformed input
// fails fast with ErrInvalidQuery before any backend call.
func (o *Orchestrator) normalize(q Query) (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, invalidQuery("query text is empty")
	}
	if q.Limit <= 0 {
		return q, invalidQuery("limit must be positive, got %d", q.Limit)
	}
	if o.cfg.MaxLimit > 0 && q.Limit > o.cfg.MaxLimit {
		q.Limit = o.cfg.MaxLimit
	}
	return q, nil
}

// withDeadline applies the per-call budget to ctx. A caller-supplied
// cancellation on ctx always propagates to in-flight rounds.
func (o *Orchestrator) withDeadline(ctx context.Context, q Query) (context.Context, context.CancelFunc) {
	budget := q.Deadline
	if budget <= 0 {
		budget = o.cfg.SearchTimeout
	}
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// searchRound executes one fan-out round for q and fuses the outcome.
func (o *Orchestrator) searchRound(ctx context.Context, q Query) (*Response, error) {
	lists, failures := o.fanOut(ctx, q)
	if len(lists) == 0 {
		return nil, o.roundFailure(ctx, failures)
	}

	withResults := 0
	for _, cands := range lists {
		if len(cands) > 0 {
			withResults++
		}
	}

	fused := o.fusion.Fuse(lists, q.Limit)
	report := AssessQuality(fused, len(o.adapters), withResults, o.cfg)

	return &Response{Results: fused, Quality: report, AttemptsUsed: 1}, nil
}

// fanOut calls every adapter concurrently and collects the successful
// candidate lists keyed by backend name, plus the absorbed failures. A
// single adapter failure degrades gracefully; only the caller decides what
// an empty map means.
func (o *Orchestrator) fanOut(ctx context.Context, q Query) (map[string][]backend.Candidate, []*backend.Error) {
	limit := fetchLimit(q.Limit)

	lists := make(map[string][]backend.Candidate, len(o.adapters))
	var failures []*backend.Error
	var mu sync.Mutex

	parallelism := o.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = len(o.adapters)
	}
	sem := make(chan struct{}, parallelism)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range o.adapters {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				mu.Lock()
				failures = append(failures, backend.Classify(a.Name(), gctx.Err()))
				mu.Unlock()
				return nil
			}

			cands, err := a.Search(gctx, q.Text, q.Filters, limit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				be := backend.Classify(a.Name(), err)
				failures = append(failures, be)
				slog.Warn("backend failure absorbed",
					slog.String("backend", a.Name()),
					slog.String("kind", string(be.Kind)),
					slog.String("query", q.Text))
				return nil
			}
			lists[a.Name()] = tagCandidates(cands, a.Name(), q.Text)
			return nil
		})
	}
	// Individual failures never cancel the group.
	_ = g.Wait()

	return lists, failures
}

// roundFailure maps a fully failed round onto the session-level error:
// DeadlineExceeded when the overall call deadline elapsed, otherwise
// AllBackendsUnavailable.
func (o *Orchestrator) roundFailure(ctx context.Context, failures []*backend.Error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return newError(ErrDeadlineExceeded, "deadline elapsed before any backend responded", ctx.Err())
	}
	msg := "every backend failed"
	var cause error
	if len(failures) > 0 {
		msg = msg + ": " + failures[0].Message
		cause = failures[0]
	}
	return newError(ErrAllBackendsUnavailable, msg, cause)
}

// tagCandidates stamps backend name, producing query, and 1-based rank
// onto a backend's ordered response.
func tagCandidates(cands []backend.Candidate, name, query string) []backend.Candidate {
	for i := range cands {
		if cands[i].Backend == "" {
			cands[i].Backend = name
		}
		cands[i].Query = query
		if cands[i].Rank <= 0 {
			cands[i].Rank = i + 1
		}
	}
	return cands
}

// fetchLimit is the per-backend fetch size for a round. Fetching beyond
// the caller limit gives fusion enough overlap to rank reliably; small
// caller limits would otherwise make rankings unstable.
func fetchLimit(limit int) int {
	n := limit * 2
	if n < 50 {
		n = 50
	}
	return n
}

// record emits a telemetry event if a collector is configured.
func (o *Orchestrator) record(op telemetry.Operation, q Query, resp *Response, start time.Time) {
	if o.metrics == nil {
		return
	}
	e := telemetry.QueryEvent{
		Operation: op,
		Query:     q.Text,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if resp != nil {
		e.Confidence = string(resp.Quality.Confidence)
		e.ResultCount = resp.Quality.ResultCount
		e.Attempts = resp.AttemptsUsed
	}
	o.metrics.Record(e)
}
