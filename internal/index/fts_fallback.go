//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/canopyhq/canopy/internal/parser"
)

const searchSchemaVersion = "1-like"

func initSearchTables(db *sql.DB) error {
	// FTS5 not compiled in; search falls back to LIKE over plain blobs.
	_, err := db.Exec(`
		DROP TABLE IF EXISTS search_blobs;
		CREATE TABLE search_blobs (
			page_id INTEGER PRIMARY KEY,
			name    TEXT NOT NULL,
			title   TEXT NOT NULL,
			body    TEXT NOT NULL
		);
	`)
	return err
}

func dropSearchTables(db *sql.DB) error {
	_, err := db.Exec(`DROP TABLE IF EXISTS search_blobs`)
	return err
}

func searchUpsert(tx *sql.Tx, row PageRow, content *parser.Result) error {
	_, err := tx.Exec(`
		INSERT INTO search_blobs (page_id, name, title, body) VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id) DO UPDATE SET
			name  = excluded.name,
			title = excluded.title,
			body  = excluded.body
	`, row.ID, row.Name, content.Title, content.Body)
	if err != nil {
		return fmt.Errorf("search: upsert blob: %w", err)
	}
	return nil
}

func searchDelete(tx *sql.Tx, row PageRow) error {
	if _, err := tx.Exec(`DELETE FROM search_blobs WHERE page_id = ?`, row.ID); err != nil {
		return fmt.Errorf("search: delete blob: %w", err)
	}
	return nil
}

func searchQuery(db *sql.DB, query string, limit int) ([]SearchResult, error) {
	like := "%" + query + "%"
	rows, err := db.Query(`
		SELECT name, title, substr(body, 1, 200)
		FROM search_blobs
		WHERE title LIKE ? OR body LIKE ?
		LIMIT ?
	`, like, like, limit)
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
