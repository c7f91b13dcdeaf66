package search

import (
	"sort"

	"github.com/bibliomcp/bibliomcp/internal/backend"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is the empirically validated cross-domain default (Cormack et al.
// 2009; also used by Azure AI Search and OpenSearch).
const DefaultRRFConstant = 60

// RRFFusion merges per-backend ranked candidate lists into one ranking
// using weighted Reciprocal Rank Fusion:
//
//	score(item) = Σ over backends b that returned item: w_b / (k + rank_b(item))
//
// Fusion depends only on each backend's internal rank order, never on
// arrival order, so the output is reproducible regardless of scheduling.
type RRFFusion struct {
	k       int
	weights map[string]float64
}

// NewRRFFusion creates a fusion engine with the given smoothing constant
// and per-backend weights. k <= 0 falls back to DefaultRRFConstant; absent
// weights default to 1.0.
func NewRRFFusion(k int, weights map[string]float64) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{k: k, weights: weights}
}

// K returns the smoothing constant in use.
func (f *RRFFusion) K() int { return f.k }

func (f *RRFFusion) weightFor(name string) float64 {
	if w, ok := f.weights[name]; ok && w > 0 {
		return w
	}
	return 1.0
}

// Fuse merges the per-backend lists and returns fused results sorted
// descending by score, truncated to limit (limit <= 0 keeps everything).
// Backends that did not return an item contribute nothing to its score.
//
// Ties break by contributing-backend count, then lexicographically smaller
// item ID, so the ordering is deterministic and test-friendly.
func (f *RRFFusion) Fuse(lists map[string][]backend.Candidate, limit int) []*FusedResult {
	if len(lists) == 0 {
		return []*FusedResult{}
	}

	// Iterate backends in sorted order so float accumulation order, and
	// therefore the exact scores, never depend on map iteration.
	names := make([]string, 0, len(lists))
	for name := range lists {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string]*FusedResult)
	for _, name := range names {
		w := f.weightFor(name)
		for i, c := range lists[name] {
			rank := c.Rank
			if rank <= 0 {
				rank = i + 1
			}

			r, ok := merged[c.ItemID]
			if !ok {
				r = &FusedResult{
					ItemID:        c.ItemID,
					BackendScores: make(map[string]float64),
					BackendRanks:  make(map[string]int),
					SubQueryHits:  1,
				}
				merged[c.ItemID] = r
			}

			r.Score += w / float64(f.k+rank)

			if prev, seen := r.BackendScores[name]; !seen || c.Score > prev {
				r.BackendScores[name] = c.Score
			}
			if prev, seen := r.BackendRanks[name]; !seen || rank < prev {
				r.BackendRanks[name] = rank
			}
			mergeMetadata(r, c.Metadata)
		}
	}

	results := make([]*FusedResult, 0, len(merged))
	for _, r := range merged {
		r.Backends = sortedBackendNames(r.BackendScores)
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return compareFused(results[i], results[j])
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// compareFused reports whether a should rank before b.
func compareFused(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Backends) != len(b.Backends) {
		return len(a.Backends) > len(b.Backends)
	}
	return a.ItemID < b.ItemID
}

func sortedBackendNames(scores map[string]float64) []string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mergeMetadata keeps the first non-empty value seen for each key.
func mergeMetadata(r *FusedResult, meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		if v == "" {
			continue
		}
		if _, ok := r.Metadata[k]; !ok {
			r.Metadata[k] = v
		}
	}
}

// SubQueryResult is one sub-query's already-fused result list, input to the
// second fusion level of a decomposed search.
type SubQueryResult struct {
	// Query is the sub-query that produced these results.
	Query Query

	// Results is the sub-query's fused ranking, best first.
	Results []*FusedResult
}

// SubQueryFusion merges the per-sub-query fused lists of a decomposed
// search into one final ranking. It is a second, independent RRF level:
// rank positions come from each sub-query's fused list, and its smoothing
// constant is configured separately from the top level so an item surfaced
// by only one sub-query is not penalized relative to items surfaced by
// multiple backends under the same sub-query.
//
// Items appearing under several sub-queries additionally receive a
// consensus boost of (1 + boost*(hits-1)).
type SubQueryFusion struct {
	k     int
	boost float64
}

// NewSubQueryFusion creates the second-level fusion engine.
// k <= 0 falls back to DefaultRRFConstant; boost < 0 is treated as 0.
func NewSubQueryFusion(k int, boost float64) *SubQueryFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if boost < 0 {
		boost = 0
	}
	return &SubQueryFusion{k: k, boost: boost}
}

// Fuse merges the sub-query result lists, sorted descending by boosted
// score and truncated to limit (limit <= 0 keeps everything).
func (f *SubQueryFusion) Fuse(subResults []SubQueryResult, limit int) []*FusedResult {
	if len(subResults) == 0 {
		return []*FusedResult{}
	}

	merged := make(map[string]*FusedResult)
	for _, sr := range subResults {
		for i, in := range sr.Results {
			r, ok := merged[in.ItemID]
			if !ok {
				r = &FusedResult{
					ItemID:        in.ItemID,
					BackendScores: make(map[string]float64),
					BackendRanks:  make(map[string]int),
				}
				merged[in.ItemID] = r
			}

			r.Score += 1.0 / float64(f.k+i+1)
			r.SubQueryHits++

			for name, s := range in.BackendScores {
				if prev, seen := r.BackendScores[name]; !seen || s > prev {
					r.BackendScores[name] = s
				}
			}
			for name, rank := range in.BackendRanks {
				if prev, seen := r.BackendRanks[name]; !seen || rank < prev {
					r.BackendRanks[name] = rank
				}
			}
			mergeMetadata(r, in.Metadata)
		}
	}

	results := make([]*FusedResult, 0, len(merged))
	for _, r := range merged {
		if r.SubQueryHits > 1 && f.boost > 0 {
			r.Score *= 1 + f.boost*float64(r.SubQueryHits-1)
		}
		r.Backends = sortedBackendNames(r.BackendScores)
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SubQueryHits != b.SubQueryHits {
			return a.SubQueryHits > b.SubQueryHits
		}
		if len(a.Backends) != len(b.Backends) {
			return len(a.Backends) > len(b.Backends)
		}
		return a.ItemID < b.ItemID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
