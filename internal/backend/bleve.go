package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// KeywordName is the backend name reported by the keyword adapter.
const KeywordName = "keyword"

// KeywordBackend adapts a Bleve full-text index. Scores are Bleve's
// tf-idf-style relevance; only their ordering matters to fusion.
type KeywordBackend struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

var _ Adapter = (*KeywordBackend)(nil)

// bleveItem is the document shape stored in the index. Filter fields are
// lowercased at index time and matched with the keyword analyzer.
type bleveItem struct {
	Content    string    `json:"content"`
	Collection string    `json:"collection"`
	ItemType   string    `json:"item_type"`
	Published  time.Time `json:"published"`
}

// NewKeywordBackend creates or opens a Bleve index. An empty path creates
// an in-memory index for testing.
func NewKeywordBackend(path string) (*KeywordBackend, error) {
	indexMapping := createKeywordMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open index: %w", err)
	}

	return &KeywordBackend{index: idx, path: path}, nil
}

func createKeywordMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	contentField := bleve.NewTextFieldMapping()

	exactField := bleve.NewTextFieldMapping()
	exactField.Analyzer = keyword.Name

	dateField := bleve.NewDateTimeFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", contentField)
	docMapping.AddFieldMappingsAt("collection", exactField)
	docMapping.AddFieldMappingsAt("item_type", exactField)
	docMapping.AddFieldMappingsAt("published", dateField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

// Index adds or replaces items in the index.
func (b *KeywordBackend) Index(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, it := range items {
		doc := bleveItem{
			Content:    it.SearchText(),
			Collection: strings.ToLower(it.Collection),
			ItemType:   strings.ToLower(it.ItemType),
			Published:  it.Published,
		}
		if err := batch.Index(it.ID, doc); err != nil {
			return fmt.Errorf("failed to index item %s: %w", it.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Delete removes items from the index.
func (b *KeywordBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// Name implements Adapter.
func (b *KeywordBackend) Name() string { return KeywordName }

// Search implements Adapter. Filters become conjuncts of the match query.
func (b *KeywordBackend) Search(ctx context.Context, text string, filters Filters, limit int) ([]Candidate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, NewError(ErrUnavailable, KeywordName, "index is closed", nil)
	}
	if strings.TrimSpace(text) == "" {
		return []Candidate{}, nil
	}

	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("content")

	conjuncts := []query.Query{matchQuery}
	if filters.Collection != "" {
		tq := bleve.NewTermQuery(strings.ToLower(filters.Collection))
		tq.SetField("collection")
		conjuncts = append(conjuncts, tq)
	}
	if filters.ItemType != "" {
		tq := bleve.NewTermQuery(strings.ToLower(filters.ItemType))
		tq.SetField("item_type")
		conjuncts = append(conjuncts, tq)
	}
	if !filters.After.IsZero() || !filters.Before.IsZero() {
		dq := bleve.NewDateRangeQuery(filters.After, filters.Before)
		dq.SetField("published")
		conjuncts = append(conjuncts, dq)
	}

	var q query.Query = matchQuery
	if len(conjuncts) > 1 {
		q = bleve.NewConjunctionQuery(conjuncts...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"collection", "item_type"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, Classify(KeywordName, err)
	}

	cands := make([]Candidate, 0, len(result.Hits))
	for i, hit := range result.Hits {
		cands = append(cands, Candidate{
			ItemID:   hit.ID,
			Score:    hit.Score,
			Backend:  KeywordName,
			Rank:     i + 1,
			Metadata: hitMeta(hit.Fields),
		})
	}
	return cands, nil
}

// hitMeta extracts candidate metadata from stored hit fields.
func hitMeta(fields map[string]interface{}) map[string]string {
	meta := make(map[string]string, 2)
	if col, ok := fields["collection"].(string); ok && col != "" {
		meta[MetaCollection] = col
	}
	if t, ok := fields["item_type"].(string); ok && t != "" {
		meta[MetaItemType] = t
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// Count returns the number of indexed items.
func (b *KeywordBackend) Count() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return b.index.DocCount()
}

// Close implements Adapter.
func (b *KeywordBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}
