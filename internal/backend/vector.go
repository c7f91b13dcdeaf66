package backend

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/bibliomcp/bibliomcp/internal/embed"
)

// VectorName is the backend name reported by the vector adapter.
const VectorName = "vector"

// VectorBackend adapts an HNSW graph over item embeddings. Query text is
// embedded on the fly; filters are applied after the nearest-neighbor
// search since HNSW cannot constrain the walk. Scores are cosine
// similarities mapped to (0, 1].
type VectorBackend struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	embedder embed.Embedder

	// string ID <-> internal graph key. Deletion is lazy: the node stays
	// in the graph, the mapping is dropped, and search skips orphans.
	idMap   map[string]uint64
	keyMap  map[uint64]string
	items   map[string]Item
	nextKey uint64

	closed bool
}

var _ Adapter = (*VectorBackend)(nil)

// NewVectorBackend creates a vector backend over the given embedder.
func NewVectorBackend(embedder embed.Embedder) (*VectorBackend, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorBackend{
		graph:    graph,
		embedder: embedder,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		items:    make(map[string]Item),
	}, nil
}

// Index embeds and inserts items. Existing IDs are replaced via lazy
// deletion.
func (v *VectorBackend) Index(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.SearchText()
	}
	vectors, err := v.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed items: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("store is closed")
	}

	for i, it := range items {
		if existingKey, exists := v.idMap[it.ID]; exists {
			delete(v.keyMap, existingKey)
			delete(v.idMap, it.ID)
		}

		key := v.nextKey
		v.nextKey++

		v.graph.Add(hnsw.MakeNode(key, vectors[i]))
		v.idMap[it.ID] = key
		v.keyMap[key] = it.ID
		v.items[it.ID] = it
	}
	return nil
}

// Delete removes items by ID (lazy: nodes stay in the graph, orphaned).
func (v *VectorBackend) Delete(ctx context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("store is closed")
	}

	for _, id := range ids {
		if key, exists := v.idMap[id]; exists {
			delete(v.keyMap, key)
			delete(v.idMap, id)
			delete(v.items, id)
		}
	}
	return nil
}

// Name implements Adapter.
func (v *VectorBackend) Name() string { return VectorName }

// Search implements Adapter.
func (v *VectorBackend) Search(ctx context.Context, text string, filters Filters, limit int) ([]Candidate, error) {
	queryVec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return nil, NewError(ErrUnavailable, VectorName, "embedding failed", err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, NewError(ErrUnavailable, VectorName, "store is closed", nil)
	}
	if v.graph.Len() == 0 {
		return []Candidate{}, nil
	}

	// Over-fetch when filtering: post-filtering trims the neighbor list.
	k := limit
	if !filters.IsZero() {
		k = limit * 4
	}

	nodes := v.graph.Search(queryVec, k)

	cands := make([]Candidate, 0, limit)
	for _, node := range nodes {
		id, exists := v.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		it := v.items[id]
		if !it.Matches(filters) {
			continue
		}

		distance := v.graph.Distance(queryVec, node.Value)
		cands = append(cands, Candidate{
			ItemID:   id,
			Score:    distanceToScore(distance),
			Backend:  VectorName,
			Rank:     len(cands) + 1,
			Metadata: it.Meta(),
		})
		if len(cands) >= limit {
			break
		}
	}
	return cands, nil
}

// distanceToScore maps cosine distance [0, 2] to similarity (higher is
// better).
func distanceToScore(distance float32) float64 {
	score := 1.0 - float64(distance)
	if math.IsNaN(score) {
		return 0
	}
	return score
}

// Count returns the number of live (non-deleted) items.
func (v *VectorBackend) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Close implements Adapter. The embedder is owned by the caller and is not
// closed here.
func (v *VectorBackend) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}
