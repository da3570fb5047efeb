package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/canopyhq/canopy/internal/parser"
)

// LinksIndexer maintains the links table: one row per (source page, target
// name) pair found in page content. Targets are recorded by resolved name
// and may refer to pages that do not exist yet.
type LinksIndexer struct{}

func (LinksIndexer) Name() string { return "links" }

func (LinksIndexer) InitDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS links (
			source_id INTEGER NOT NULL,
			target    TEXT NOT NULL,
			UNIQUE(source_id, target)
		);
		CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);
	`)
	return err
}

func (LinksIndexer) IndexPage(tx *sql.Tx, row PageRow, content *parser.Result) error {
	if _, err := tx.Exec(`DELETE FROM links WHERE source_id = ?`, row.ID); err != nil {
		return fmt.Errorf("links: clear: %w", err)
	}
	if len(content.Links) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO links (source_id, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("links: prepare: %w", err)
	}
	defer stmt.Close()
	for _, raw := range content.Links {
		target := ResolveLink(row.Name, raw)
		if target == "" {
			continue
		}
		if _, err := stmt.Exec(row.ID, target); err != nil {
			return fmt.Errorf("links: insert: %w", err)
		}
	}
	return nil
}

func (LinksIndexer) UnindexPage(tx *sql.Tx, row PageRow) error {
	if _, err := tx.Exec(`DELETE FROM links WHERE source_id = ?`, row.ID); err != nil {
		return fmt.Errorf("links: clear: %w", err)
	}
	return nil
}

// ResolveLink resolves a raw link target against the page it appears on.
// A "+Child" target names a child of the source page; anything else is an
// absolute name, with an optional leading colon and surrounding whitespace
// tolerated.
func ResolveLink(source, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		child := strings.Trim(raw[1:], ":")
		if child == "" {
			return ""
		}
		if source == "" {
			return child
		}
		return source + ":" + child
	}
	return strings.Trim(raw, ":")
}

// Backlinks returns the names of pages that link to target, in name order.
func (ix *Index) Backlinks(target string) ([]string, error) {
	rows, err := ix.db.Query(`
		SELECT p.name FROM links l
		JOIN pages p ON p.id = l.source_id
		WHERE l.target = ?
		ORDER BY p.name
	`, target)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LinksFrom returns the resolved link targets recorded for source.
func (ix *Index) LinksFrom(source string) ([]string, error) {
	rows, err := ix.db.Query(`
		SELECT l.target FROM links l
		JOIN pages p ON p.id = l.source_id
		WHERE p.name = ?
		ORDER BY l.target
	`, source)
	if err != nil {
		return nil, fmt.Errorf("index: links from: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
