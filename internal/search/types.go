// Package search implements the multi-backend search orchestration core:
// rank fusion across heterogeneous backends, result quality estimation,
// compound-query decomposition, and bounded iterative refinement.
package search

import (
	"time"

	"github.com/bibliomcp/bibliomcp/internal/backend"
)

// Query is an immutable search request. Callers create it once; the
// decomposer and refinement controller derive child queries from it rather
// than mutating it.
type Query struct {
	// Text is the raw query text.
	Text string

	// Filters optionally restricts the search.
	Filters backend.Filters

	// Limit is the maximum number of fused results to return. Must be > 0.
	Limit int

	// Deadline is the per-call wall-clock budget. Zero means the
	// orchestrator's configured default.
	Deadline time.Duration

	// NoRefine opts this query out of iterative refinement.
	NoRefine bool

	// MaxAttempts overrides the configured refinement attempt budget for
	// this call. Zero means the configured default.
	MaxAttempts int

	// Parent is the text of the query this one was derived from, either by
	// decomposition or by a refinement rewrite. Diagnostics only.
	Parent string
}

// WithText returns a copy of q carrying new text and lineage back to q.
func (q Query) WithText(text string) Query {
	child := q
	child.Text = text
	child.Parent = q.Text
	return child
}

// FusedResult is a post-fusion, cross-backend-comparable result.
// Exactly one FusedResult exists per distinct item ID in a merged set, and
// its contributing-backend set is never empty.
type FusedResult struct {
	// ItemID identifies the library item.
	ItemID string

	// Score is the fused RRF score.
	Score float64

	// Backends lists the contributing backend names, sorted.
	Backends []string

	// BackendScores holds the best backend-local score per contributing
	// backend, for explainability.
	BackendScores map[string]float64

	// BackendRanks holds the best rank per contributing backend (1-based).
	BackendRanks map[string]int

	// SubQueryHits is the number of sub-queries that surfaced this item.
	// 1 for single-query searches.
	SubQueryHits int

	// Metadata carries item attributes contributed by the backends
	// (collection, item type); used by refinement narrowing. May be nil.
	Metadata map[string]string
}

// Confidence is the quality estimator's verdict on a result set.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// rank orders confidence levels for best-attempt selection.
func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// QualityReport is a read-only snapshot of result quality, recomputed fresh
// after every search or refinement step.
type QualityReport struct {
	// Confidence is the overall verdict.
	Confidence Confidence

	// Coverage is the fraction of queried backends that returned at least
	// one candidate. Always in [0, 1].
	Coverage float64

	// ResultCount is the number of fused results.
	ResultCount int

	// TopScore is the fused score of the best result (0 if empty).
	TopScore float64

	// BackendsQueried is the number of backends in the round.
	BackendsQueried int

	// BackendsWithResults is the number of backends that contributed.
	BackendsWithResults int

	// ShouldEscalate is true when the refinement controller should rewrite
	// and retry: confidence is low, or the result set is empty.
	ShouldEscalate bool
}

// Response is the outcome of one public orchestrator operation: the fused,
// deduplicated result list plus its quality report. Partial backend failure
// still produces a Response, never an error.
type Response struct {
	// Results is the merged ranking, best first.
	Results []*FusedResult

	// Quality describes the result set.
	Quality QualityReport

	// SubQueries lists the decomposed sub-query texts, in order.
	// Empty for UnifiedSearch.
	SubQueries []string

	// AttemptsUsed is the number of refinement attempts executed.
	// 1 for non-refining operations.
	AttemptsUsed int
}

// Config carries all tuning knobs for the orchestration core. It is passed
// explicitly into NewOrchestrator so tests can build isolated, deterministic
// instances.
type Config struct {
	// RRFK is the smoothing constant for top-level fusion (never 0).
	RRFK int

	// SubQueryRRFK is the smoothing constant for the second fusion level
	// used by decomposed searches. Independent from RRFK.
	SubQueryRRFK int

	// ConsensusBoost is the per-extra-sub-query score multiplier applied at
	// the second fusion level. 0 disables consensus boosting.
	ConsensusBoost float64

	// Weights holds per-backend fusion weights. Backends not listed
	// default to 1.0.
	Weights map[string]float64

	// MaxLimit caps the caller-requested result limit.
	MaxLimit int

	// MinResults is the result count below which confidence is low.
	MinResults int

	// QualityFloor is the fused score the top result must reach for high
	// confidence. 0 means derive 1/(RRFK+1), a rank-1 hit in one backend.
	QualityFloor float64

	// HighCoverage is the coverage threshold for high confidence.
	HighCoverage float64

	// LowCoverage is the coverage threshold below which confidence is low.
	LowCoverage float64

	// MaxAttempts bounds the refinement loop.
	MaxAttempts int

	// SearchTimeout is the default per-call budget when the Query carries
	// no deadline.
	SearchTimeout time.Duration

	// MinSubQueryDeadline is the floor on a sub-query's share of the round
	// deadline, so a large fan-out cannot starve every sub-query.
	MinSubQueryDeadline time.Duration

	// MaxSubQueries caps how many sub-queries a decomposition may fan out.
	MaxSubQueries int

	// Parallelism bounds concurrent backend calls within one round.
	Parallelism int
}

// DefaultConfig returns the tuning defaults.
func DefaultConfig() Config {
	return Config{
		RRFK:                DefaultRRFConstant,
		SubQueryRRFK:        DefaultRRFConstant,
		ConsensusBoost:      0.1,
		MaxLimit:            100,
		MinResults:          3,
		HighCoverage:        0.8,
		LowCoverage:         0.4,
		MaxAttempts:         3,
		SearchTimeout:       10 * time.Second,
		MinSubQueryDeadline: 150 * time.Millisecond,
		MaxSubQueries:       8,
		Parallelism:         4,
	}
}

// qualityFloor resolves the configured floor, deriving the single rank-1
// contribution when unset.
func (c Config) qualityFloor() float64 {
	if c.QualityFloor > 0 {
		return c.QualityFloor
	}
	k := c.RRFK
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return 1.0 / float64(k+1)
}

// weightFor returns the fusion weight for a backend, defaulting to 1.0.
func (c Config) weightFor(name string) float64 {
	if w, ok := c.Weights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}
