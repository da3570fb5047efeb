//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/canopyhq/canopy/internal/parser"
)

const searchSchemaVersion = "1-fts5"

func initSearchTables(db *sql.DB) error {
	_, err := db.Exec(`
		DROP TABLE IF EXISTS pages_fts;
		CREATE VIRTUAL TABLE pages_fts USING fts5(
			name UNINDEXED,
			title,
			body,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func dropSearchTables(db *sql.DB) error {
	_, err := db.Exec(`DROP TABLE IF EXISTS pages_fts`)
	return err
}

func searchUpsert(tx *sql.Tx, row PageRow, content *parser.Result) error {
	_, _ = tx.Exec(`DELETE FROM pages_fts WHERE name = ?`, row.Name)
	_, err := tx.Exec(`INSERT INTO pages_fts (name, title, body) VALUES (?, ?, ?)`,
		row.Name, content.Title, content.Body)
	if err != nil {
		return fmt.Errorf("search: upsert fts: %w", err)
	}
	return nil
}

func searchDelete(tx *sql.Tx, row PageRow) error {
	if _, err := tx.Exec(`DELETE FROM pages_fts WHERE name = ?`, row.Name); err != nil {
		return fmt.Errorf("search: delete fts: %w", err)
	}
	return nil
}

func searchQuery(db *sql.DB, query string, limit int) ([]SearchResult, error) {
	rows, err := db.Query(`
		SELECT name,
		       title,
		       snippet(pages_fts, 2, '<b>', '</b>', '...', 64)
		FROM pages_fts
		WHERE pages_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Name, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
