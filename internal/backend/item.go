package backend

import (
	"strings"
	"time"
)

// Item is a library item as the indexing backends see it. Only the fields
// needed for search are carried; the library of record keeps everything
// else.
type Item struct {
	ID         string
	Title      string
	Abstract   string
	Tags       []string
	Collection string
	ItemType   string
	Published  time.Time
}

// SearchText returns the text indexed for keyword and vector search.
func (it Item) SearchText() string {
	parts := make([]string, 0, 3)
	if it.Title != "" {
		parts = append(parts, it.Title)
	}
	if it.Abstract != "" {
		parts = append(parts, it.Abstract)
	}
	if len(it.Tags) > 0 {
		parts = append(parts, strings.Join(it.Tags, " "))
	}
	return strings.Join(parts, "\n")
}

// Meta returns the candidate metadata contributed by an item.
func (it Item) Meta() map[string]string {
	meta := make(map[string]string, 2)
	if it.Collection != "" {
		meta[MetaCollection] = it.Collection
	}
	if it.ItemType != "" {
		meta[MetaItemType] = it.ItemType
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// Matches reports whether the item satisfies the filters. Used by backends
// that post-filter rather than push filters into the index query.
func (it Item) Matches(f Filters) bool {
	if f.Collection != "" && !strings.EqualFold(it.Collection, f.Collection) {
		return false
	}
	if f.ItemType != "" && !strings.EqualFold(it.ItemType, f.ItemType) {
		return false
	}
	if !f.After.IsZero() && it.Published.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && !it.Published.Before(f.Before) {
		return false
	}
	return true
}
