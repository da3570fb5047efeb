package index

import (
	"database/sql"
	"fmt"

	"github.com/canopyhq/canopy/internal/parser"
)

// SearchResult is one full-text search hit.
type SearchResult struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchIndexer is a plugin indexer that feeds page text into the
// full-text search tables. The concrete layout depends on the build: with
// the sqlite_fts5 tag it uses an FTS5 virtual table, otherwise a plain
// blob table queried with LIKE. The two builds declare distinct schema
// versions, so switching builds rebuilds the search tables and re-feeds
// every page.
type SearchIndexer struct{}

func (SearchIndexer) Name() string          { return "search" }
func (SearchIndexer) SchemaVersion() string { return searchSchemaVersion }

func (SearchIndexer) InitDB(db *sql.DB) error {
	if err := initSearchTables(db); err != nil {
		return fmt.Errorf("search: init: %w", err)
	}
	return nil
}

func (SearchIndexer) IndexPage(tx *sql.Tx, row PageRow, content *parser.Result) error {
	return searchUpsert(tx, row, content)
}

func (SearchIndexer) UnindexPage(tx *sql.Tx, row PageRow) error {
	return searchDelete(tx, row)
}

func (SearchIndexer) TeardownDB(db *sql.DB) error {
	if err := dropSearchTables(db); err != nil {
		return fmt.Errorf("search: teardown: %w", err)
	}
	return nil
}

// Search runs a full-text query. It fails when the search plugin is not
// registered.
func (ix *Index) Search(query string, limit int) ([]SearchResult, error) {
	if !ix.pluginRegistered("search") {
		return nil, fmt.Errorf("index: search plugin not registered: %w", ErrNotFound)
	}
	if limit <= 0 {
		limit = 20
	}
	return searchQuery(ix.db, query, limit)
}
