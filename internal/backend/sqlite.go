package backend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// MetadataName is the backend name reported by the metadata adapter.
const MetadataName = "metadata"

// MetadataBackend adapts a SQLite FTS5 index over item metadata: titles,
// tags, collection and type labels. Scoring is FTS5's bm25(); filters are
// pushed into the SQL query.
type MetadataBackend struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Adapter = (*MetadataBackend)(nil)

// NewMetadataBackend creates or opens the FTS5 database. An empty path
// creates an in-memory database for testing.
func NewMetadataBackend(path string) (*MetadataBackend, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL must be set via PRAGMA for modernc.org/sqlite; DSN params alone
	// are not honored.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	m := &MetadataBackend{db: db, path: path}
	if err := m.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return m, nil
}

func (m *MetadataBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- FTS5 virtual table over searchable metadata text. Filter columns are
	-- UNINDEXED: stored for WHERE clauses, not full-text matched.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_items USING fts5(
		item_id UNINDEXED,
		content,
		collection UNINDEXED,
		item_type UNINDEXED,
		published UNINDEXED,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Index adds or replaces items. FTS5 has no REPLACE, so existing rows are
// deleted first.
func (m *MetadataBackend) Index(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleteStmt, err := tx.PrepareContext(ctx, `DELETE FROM fts_items WHERE item_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}
	defer deleteStmt.Close()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fts_items(item_id, content, collection, item_type, published) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer insertStmt.Close()

	for _, it := range items {
		if _, err := deleteStmt.ExecContext(ctx, it.ID); err != nil {
			return fmt.Errorf("failed to delete existing item %s: %w", it.ID, err)
		}

		var published string
		if !it.Published.IsZero() {
			published = it.Published.UTC().Format(time.RFC3339)
		}
		_, err := insertStmt.ExecContext(ctx, it.ID, it.SearchText(),
			strings.ToLower(it.Collection), strings.ToLower(it.ItemType), published)
		if err != nil {
			return fmt.Errorf("failed to index item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes items by ID.
func (m *MetadataBackend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("index is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("DELETE FROM fts_items WHERE item_id IN (%s)", strings.Join(placeholders, ","))
	_, err := m.db.ExecContext(ctx, q, args...)
	return err
}

// Name implements Adapter.
func (m *MetadataBackend) Name() string { return MetadataName }

// Search implements Adapter. FTS5 bm25() returns negative scores where
// lower is better; they are negated so higher means a better match.
func (m *MetadataBackend) Search(ctx context.Context, text string, filters Filters, limit int) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewError(ErrUnavailable, MetadataName, "index is closed", nil)
	}

	match := ftsMatchQuery(text)
	if match == "" {
		return []Candidate{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT item_id, bm25(fts_items) AS score, collection, item_type
		FROM fts_items WHERE content MATCH ?`)
	args := []any{match}

	if filters.Collection != "" {
		sb.WriteString(" AND collection = ?")
		args = append(args, strings.ToLower(filters.Collection))
	}
	if filters.ItemType != "" {
		sb.WriteString(" AND item_type = ?")
		args = append(args, strings.ToLower(filters.ItemType))
	}
	if !filters.After.IsZero() {
		sb.WriteString(" AND published >= ?")
		args = append(args, filters.After.UTC().Format(time.RFC3339))
	}
	if !filters.Before.IsZero() {
		sb.WriteString(" AND published != '' AND published < ?")
		args = append(args, filters.Before.UTC().Format(time.RFC3339))
	}
	sb.WriteString(" ORDER BY score LIMIT ?")
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		// FTS5 rejects queries it cannot parse; treat as no results, the
		// text already went through our quoting.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []Candidate{}, nil
		}
		return nil, Classify(MetadataName, err)
	}
	defer rows.Close()

	var cands []Candidate
	rank := 0
	for rows.Next() {
		var itemID, collection, itemType string
		var score float64
		if err := rows.Scan(&itemID, &score, &collection, &itemType); err != nil {
			return nil, Classify(MetadataName, err)
		}
		rank++
		meta := make(map[string]string, 2)
		if collection != "" {
			meta[MetaCollection] = collection
		}
		if itemType != "" {
			meta[MetaItemType] = itemType
		}
		if len(meta) == 0 {
			meta = nil
		}
		cands = append(cands, Candidate{
			ItemID:   itemID,
			Score:    -score,
			Backend:  MetadataName,
			Rank:     rank,
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(MetadataName, err)
	}
	return cands, nil
}

// ftsMatchQuery quotes each term so user text cannot inject FTS5 operators.
// Terms are OR-ed: metadata search favors recall, fusion handles precision.
func ftsMatchQuery(text string) string {
	fields := strings.Fields(text)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		cleaned := strings.Trim(f, `"'`)
		if cleaned == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(cleaned, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Count returns the number of indexed items.
func (m *MetadataBackend) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, fmt.Errorf("index is closed")
	}
	var count int
	err := m.db.QueryRow(`SELECT COUNT(*) FROM fts_items`).Scan(&count)
	return count, err
}

// Close implements Adapter.
func (m *MetadataBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
