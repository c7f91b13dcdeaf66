package backend

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliomcp/bibliomcp/internal/embed"
)

func newTestVector(t *testing.T) *VectorBackend {
	t.Helper()
	v, err := NewVectorBackend(embed.NewStaticEmbedder())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })

	require.NoError(t, v.Index(context.Background(), testItems()))
	return v
}

func TestVectorBackend_Search(t *testing.T) {
	v := newTestVector(t)

	cands, err := v.Search(context.Background(), "sleep spindles memory consolidation", Filters{}, 3)
	require.NoError(t, err)
	ids := requireIDs(t, cands)
	require.NotEmpty(t, ids)
	assert.Equal(t, "item-sleep", ids[0])

	for i, c := range cands {
		assert.Equal(t, VectorName, c.Backend)
		assert.Equal(t, i+1, c.Rank)
	}
}

func TestVectorBackend_Metadata(t *testing.T) {
	v := newTestVector(t)

	cands, err := v.Search(context.Background(), "hippocampal aging", Filters{}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "item-aging", cands[0].ItemID)
	assert.Equal(t, "neuroscience", cands[0].Metadata[MetaCollection])
	assert.Equal(t, "article", cands[0].Metadata[MetaItemType])
}

func TestVectorBackend_PostFiltering(t *testing.T) {
	v := newTestVector(t)
	ctx := context.Background()

	t.Run("collection", func(t *testing.T) {
		// HNSW cannot filter during the walk; the backend over-fetches
		// and trims, so the filtered item must still surface.
		cands, err := v.Search(ctx, "memory and sleep", Filters{Collection: "reference"}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"item-textbook"}, requireIDs(t, cands))
	})

	t.Run("date range", func(t *testing.T) {
		cands, err := v.Search(ctx, "memory sleep aging", Filters{
			After: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"item-sleep"}, requireIDs(t, cands))
	})

	t.Run("no match", func(t *testing.T) {
		cands, err := v.Search(ctx, "memory", Filters{Collection: "physics"}, 3)
		require.NoError(t, err)
		assert.Empty(t, cands)
	})
}

func TestVectorBackend_LazyDelete(t *testing.T) {
	v := newTestVector(t)
	ctx := context.Background()

	require.NoError(t, v.Delete(ctx, []string{"item-sleep"}))
	assert.Equal(t, 2, v.Count())

	// The orphaned node stays in the graph but must not surface.
	cands, err := v.Search(ctx, "sleep spindles memory consolidation", Filters{}, 3)
	require.NoError(t, err)
	assert.NotContains(t, requireIDs(t, cands), "item-sleep")
}

func TestVectorBackend_IndexReplaces(t *testing.T) {
	v := newTestVector(t)
	ctx := context.Background()

	updated := testItems()[0]
	updated.Title = "Circadian rhythms in zebrafish larvae"
	updated.Abstract = "Light entrainment of the zebrafish circadian clock."
	require.NoError(t, v.Index(ctx, []Item{updated}))
	assert.Equal(t, 3, v.Count())

	cands, err := v.Search(ctx, "zebrafish circadian rhythms", Filters{}, 1)
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.Equal(t, "item-sleep", cands[0].ItemID)
}

func TestVectorBackend_EmptyGraph(t *testing.T) {
	v, err := NewVectorBackend(embed.NewStaticEmbedder())
	require.NoError(t, err)
	defer func() { _ = v.Close() }()

	cands, err := v.Search(context.Background(), "anything", Filters{}, 5)
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Zero(t, v.Count())
}

func TestVectorBackend_RequiresEmbedder(t *testing.T) {
	_, err := NewVectorBackend(nil)
	assert.Error(t, err)
}

func TestVectorBackend_ClosedFails(t *testing.T) {
	embedder := embed.NewStaticEmbedder()
	v, err := NewVectorBackend(embedder)
	require.NoError(t, err)
	require.NoError(t, v.Close())

	_, err = v.Search(context.Background(), "anything", Filters{}, 5)
	assert.ErrorIs(t, err, &Error{Kind: ErrUnavailable})

	// Close does not own the embedder.
	assert.True(t, embedder.Available(context.Background()))
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0), 1e-9)
	assert.InDelta(t, 0.5, distanceToScore(0.5), 1e-9)
	assert.InDelta(t, -1.0, distanceToScore(2), 1e-9)
	assert.Zero(t, distanceToScore(float32(math.NaN())))
}
