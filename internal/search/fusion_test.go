package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliomcp/bibliomcp/internal/backend"
)

func cand(id string, rank int, score float64) backend.Candidate {
	return backend.Candidate{ItemID: id, Rank: rank, Score: score}
}

func TestRRFFusion_ExactArithmetic(t *testing.T) {
	f := NewRRFFusion(60, nil)

	lists := map[string][]backend.Candidate{
		"keyword": {cand("a", 1, 12.5), cand("b", 2, 8.0)},
		"vector":  {cand("a", 1, 0.91)},
	}

	results := f.Fuse(lists, 10)
	require.Len(t, results, 2)

	// a: 1/(60+1) from each backend; b: 1/(60+2) from keyword only.
	assert.Equal(t, "a", results[0].ItemID)
	assert.InDelta(t, 2.0/61.0, results[0].Score, 1e-12)
	assert.Equal(t, "b", results[1].ItemID)
	assert.InDelta(t, 1.0/62.0, results[1].Score, 1e-12)

	assert.Equal(t, []string{"keyword", "vector"}, results[0].Backends)
	assert.Equal(t, 1, results[0].BackendRanks["keyword"])
	assert.Equal(t, 12.5, results[0].BackendScores["keyword"])
	assert.Equal(t, 0.91, results[0].BackendScores["vector"])
	assert.Equal(t, 1, results[0].SubQueryHits)
}

func TestRRFFusion_ThreeBackendOrdering(t *testing.T) {
	f := NewRRFFusion(60, nil)

	// p1 appears at rank 1 twice; p2 at ranks 2 and 1; p3 at rank 2 once.
	lists := map[string][]backend.Candidate{
		"keyword": {cand("p1", 1, 3), cand("p2", 2, 2)},
		"vector":  {cand("p2", 1, 0.9), cand("p3", 2, 0.8)},
		"graph":   {cand("p1", 1, 0.7)},
	}

	results := f.Fuse(lists, 10)
	require.Len(t, results, 3)

	assert.Equal(t, "p1", results[0].ItemID)
	assert.InDelta(t, 2.0/61.0, results[0].Score, 1e-12)
	assert.Equal(t, "p2", results[1].ItemID)
	assert.InDelta(t, 1.0/61.0+1.0/62.0, results[1].Score, 1e-12)
	assert.Equal(t, "p3", results[2].ItemID)
	assert.InDelta(t, 1.0/62.0, results[2].Score, 1e-12)

	// Two rank-1 placements beat one rank-1 plus one rank-2.
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)
}

func TestRRFFusion_Monotonicity(t *testing.T) {
	f := NewRRFFusion(60, nil)

	// Improving an item's rank in one backend, all else equal, must never
	// lower its fused score or its fused position.
	fuseAt := func(rank int) []*FusedResult {
		return f.Fuse(map[string][]backend.Candidate{
			"keyword": {cand("other", 1, 5), cand("m", rank, 1)},
			"vector":  {cand("m", 3, 0.5), cand("other", 4, 0.4)},
		}, 0)
	}
	position := func(results []*FusedResult, id string) int {
		for i, r := range results {
			if r.ItemID == id {
				return i
			}
		}
		t.Fatalf("item %s missing from fused results", id)
		return -1
	}
	score := func(results []*FusedResult, id string) float64 {
		return results[position(results, id)].Score
	}

	prev := fuseAt(5)
	for rank := 4; rank >= 2; rank-- {
		next := fuseAt(rank)
		assert.Greater(t, score(next, "m"), score(prev, "m"), "rank %d", rank)
		assert.LessOrEqual(t, position(next, "m"), position(prev, "m"), "rank %d", rank)
		prev = next
	}
}

func TestRRFFusion_Weights(t *testing.T) {
	f := NewRRFFusion(60, map[string]float64{"vector": 2.0})

	lists := map[string][]backend.Candidate{
		"keyword": {cand("kw", 1, 10.0)},
		"vector":  {cand("vec", 1, 0.9)},
	}

	results := f.Fuse(lists, 0)
	require.Len(t, results, 2)
	assert.Equal(t, "vec", results[0].ItemID)
	assert.InDelta(t, 2.0/61.0, results[0].Score, 1e-12)
	assert.InDelta(t, 1.0/61.0, results[1].Score, 1e-12)
}

func TestRRFFusion_TieBreaks(t *testing.T) {
	t.Run("backend count wins over item ID", func(t *testing.T) {
		// "zz" is rank 1 in two backends; "aa" is rank 1 in one backend
		// with weight 2.0. Scores tie exactly; more backends ranks first.
		f := NewRRFFusion(60, map[string]float64{"graph": 2.0})
		lists := map[string][]backend.Candidate{
			"keyword": {cand("zz", 1, 1)},
			"vector":  {cand("zz", 1, 1)},
			"graph":   {cand("aa", 1, 1)},
		}

		results := f.Fuse(lists, 0)
		require.Len(t, results, 2)
		assert.InDelta(t, results[0].Score, results[1].Score, 1e-12)
		assert.Equal(t, "zz", results[0].ItemID)
	})

	t.Run("item ID breaks full ties", func(t *testing.T) {
		f := NewRRFFusion(60, nil)
		lists := map[string][]backend.Candidate{
			"keyword": {cand("beta", 1, 1), cand("alpha", 2, 1)},
			"vector":  {cand("alpha", 1, 1), cand("beta", 2, 1)},
		}

		results := f.Fuse(lists, 0)
		require.Len(t, results, 2)
		assert.Equal(t, "alpha", results[0].ItemID)
		assert.Equal(t, "beta", results[1].ItemID)
	})
}

func TestRRFFusion_Deterministic(t *testing.T) {
	f := NewRRFFusion(60, nil)
	lists := map[string][]backend.Candidate{
		"keyword":  {cand("a", 1, 3), cand("b", 2, 2), cand("c", 3, 1)},
		"vector":   {cand("b", 1, 0.9), cand("c", 2, 0.8)},
		"metadata": {cand("c", 1, 5), cand("a", 2, 4)},
	}

	first := f.Fuse(lists, 0)
	for range 20 {
		again := f.Fuse(lists, 0)
		require.Len(t, again, len(first))
		for i := range first {
			assert.Equal(t, first[i].ItemID, again[i].ItemID)
			assert.Equal(t, first[i].Score, again[i].Score)
		}
	}
}

func TestRRFFusion_LimitAndEmpty(t *testing.T) {
	f := NewRRFFusion(0, nil)
	assert.Equal(t, DefaultRRFConstant, f.K())
	assert.Empty(t, f.Fuse(nil, 10))
	assert.Empty(t, f.Fuse(map[string][]backend.Candidate{}, 10))

	lists := map[string][]backend.Candidate{
		"keyword": {cand("a", 1, 3), cand("b", 2, 2), cand("c", 3, 1)},
	}
	assert.Len(t, f.Fuse(lists, 2), 2)
	assert.Len(t, f.Fuse(lists, 0), 3)
}

func TestRRFFusion_MetadataMerge(t *testing.T) {
	f := NewRRFFusion(60, nil)
	lists := map[string][]backend.Candidate{
		"keyword": {{ItemID: "a", Rank: 1, Metadata: map[string]string{
			backend.MetaCollection: "neuro",
		}}},
		"metadata": {{ItemID: "a", Rank: 1, Metadata: map[string]string{
			backend.MetaCollection: "other",
			backend.MetaItemType:   "article",
		}}},
	}

	results := f.Fuse(lists, 0)
	require.Len(t, results, 1)
	// First non-empty value wins; backends iterate in sorted name order.
	assert.Equal(t, "neuro", results[0].Metadata[backend.MetaCollection])
	assert.Equal(t, "article", results[0].Metadata[backend.MetaItemType])
}

func subResult(query string, ids ...string) SubQueryResult {
	sr := SubQueryResult{Query: Query{Text: query}}
	for i, id := range ids {
		sr.Results = append(sr.Results, &FusedResult{
			ItemID:        id,
			Score:         1.0 / float64(61+i),
			Backends:      []string{"keyword"},
			BackendScores: map[string]float64{"keyword": 1},
			BackendRanks:  map[string]int{"keyword": i + 1},
			SubQueryHits:  1,
		})
	}
	return sr
}

func TestSubQueryFusion_ConsensusBoost(t *testing.T) {
	f := NewSubQueryFusion(60, 0.1)

	results := f.Fuse([]SubQueryResult{
		subResult("memory consolidation", "both", "solo1"),
		subResult("aging", "both", "solo2"),
	}, 10)
	require.Len(t, results, 3)

	assert.Equal(t, "both", results[0].ItemID)
	assert.Equal(t, 2, results[0].SubQueryHits)
	// Rank 1 in both sub-queries, boosted by 1 + 0.1*(2-1).
	assert.InDelta(t, (2.0/61.0)*1.1, results[0].Score, 1e-12)

	assert.Equal(t, 1, results[1].SubQueryHits)
	assert.InDelta(t, 1.0/62.0, results[1].Score, 1e-12)
}

func TestSubQueryFusion_BoostDisabled(t *testing.T) {
	f := NewSubQueryFusion(60, 0)

	results := f.Fuse([]SubQueryResult{
		subResult("a", "shared"),
		subResult("b", "shared"),
	}, 0)
	require.Len(t, results, 1)
	assert.InDelta(t, 2.0/61.0, results[0].Score, 1e-12)
}

func TestSubQueryFusion_HitsBreakTies(t *testing.T) {
	// Disable boost so a single-list rank-1 item ties a two-list item
	// found at matching positions cannot happen; instead construct an
	// exact tie between a 2-hit and a 1-hit item.
	f := NewSubQueryFusion(60, 0)

	results := f.Fuse([]SubQueryResult{
		subResult("q1", "twice", "zz-once"),
		subResult("q2", "aa-once", "twice"),
	}, 0)
	require.Len(t, results, 3)

	// twice: 1/61 + 1/62; singles: 1/61 and 1/62 each.
	assert.Equal(t, "twice", results[0].ItemID)
	assert.Equal(t, "aa-once", results[1].ItemID)
	assert.Equal(t, "zz-once", results[2].ItemID)
}

func TestSubQueryFusion_Empty(t *testing.T) {
	f := NewSubQueryFusion(0, -1)
	assert.Empty(t, f.Fuse(nil, 10))
	assert.Empty(t, f.Fuse([]SubQueryResult{}, 10))
}
