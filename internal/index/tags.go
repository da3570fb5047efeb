package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/canopyhq/canopy/internal/parser"
)

// TagRow is one row of the tags table. NPages is computed at scan time.
type TagRow struct {
	ID     int64
	Name   string
	NPages int
}

// TagsIndexer maintains the tags and tagged tables from the @tags and
// frontmatter tags found in page content. Tags that no longer tag any page
// are dropped as part of unindexing.
type TagsIndexer struct{}

func (TagsIndexer) Name() string { return "tags" }

func (TagsIndexer) InitDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tags (
			id   INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS tagged (
			tag_id  INTEGER NOT NULL,
			page_id INTEGER NOT NULL,
			UNIQUE(tag_id, page_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tagged_page ON tagged(page_id);
	`)
	return err
}

func (ti TagsIndexer) IndexPage(tx *sql.Tx, row PageRow, content *parser.Result) error {
	if err := ti.UnindexPage(tx, row); err != nil {
		return err
	}
	for _, tag := range content.Tags {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
			return fmt.Errorf("tags: insert tag: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO tagged (tag_id, page_id)
			SELECT id, ? FROM tags WHERE name = ?
		`, row.ID, tag); err != nil {
			return fmt.Errorf("tags: tag page: %w", err)
		}
	}
	return nil
}

func (TagsIndexer) UnindexPage(tx *sql.Tx, row PageRow) error {
	if _, err := tx.Exec(`DELETE FROM tagged WHERE page_id = ?`, row.ID); err != nil {
		return fmt.Errorf("tags: untag page: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM tagged)`); err != nil {
		return fmt.Errorf("tags: drop orphans: %w", err)
	}
	return nil
}

const tagColumns = `t.id, t.name,
	(SELECT COUNT(*) FROM tagged tg WHERE tg.tag_id = t.id) AS n_pages`

func scanTag(s rowScanner) (TagRow, error) {
	var t TagRow
	if err := s.Scan(&t.ID, &t.Name, &t.NPages); err != nil {
		return TagRow{}, err
	}
	return t, nil
}

// Tags returns all tags in name order.
func (ix *Index) Tags() ([]TagRow, error) {
	rows, err := ix.db.Query(`SELECT ` + tagColumns + ` FROM tags t ORDER BY t.name`)
	if err != nil {
		return nil, fmt.Errorf("index: tags: %w", err)
	}
	defer rows.Close()

	var out []TagRow
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PagesByTag returns the pages carrying tag, in sibling order.
func (ix *Index) PagesByTag(tag string) ([]PageRow, error) {
	rows, err := ix.db.Query(`
		SELECT `+pageColumns+` FROM pages p
		JOIN tagged tg ON tg.page_id = p.id
		JOIN tags t ON t.id = tg.tag_id
		WHERE t.name = ?
		ORDER BY p.sortkey, p.basename
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("index: pages by tag: %w", err)
	}
	defer rows.Close()

	var out []PageRow
	for rows.Next() {
		r, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func tagByName(q querier, name string) (TagRow, error) {
	t, err := scanTag(q.QueryRow(`SELECT `+tagColumns+` FROM tags t WHERE t.name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return TagRow{}, fmt.Errorf("index: tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return TagRow{}, fmt.Errorf("index: tag %q: %w", name, err)
	}
	return t, nil
}

func tagCount(q querier) (int, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: tag count: %w", err)
	}
	return n, nil
}

// tagAt returns the pos-th tag in name order.
func tagAt(q querier, pos int) (TagRow, error) {
	if pos < 0 {
		return TagRow{}, fmt.Errorf("index: tag at %d: %w", pos, ErrNotFound)
	}
	t, err := scanTag(q.QueryRow(`
		SELECT `+tagColumns+` FROM tags t ORDER BY t.name LIMIT 1 OFFSET ?
	`, pos))
	if errors.Is(err, sql.ErrNoRows) {
		return TagRow{}, fmt.Errorf("index: tag at %d: %w", pos, ErrNotFound)
	}
	if err != nil {
		return TagRow{}, fmt.Errorf("index: tag at %d: %w", pos, err)
	}
	return t, nil
}

// tagPosition returns the zero-based position of tag in name order.
func tagPosition(q querier, tag TagRow) (int, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM tags WHERE name < ?`, tag.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: position of tag %q: %w", tag.Name, err)
	}
	return n, nil
}

// taggedPageAt returns the pos-th page carrying the tag, in sibling order.
func taggedPageAt(q querier, tagID int64, pos int) (PageRow, error) {
	if pos < 0 {
		return PageRow{}, fmt.Errorf("index: tagged page at %d: %w", pos, ErrNotFound)
	}
	r, err := scanPage(q.QueryRow(`
		SELECT `+pageColumns+` FROM pages p
		JOIN tagged tg ON tg.page_id = p.id
		WHERE tg.tag_id = ?
		ORDER BY p.sortkey, p.basename
		LIMIT 1 OFFSET ?
	`, tagID, pos))
	if errors.Is(err, sql.ErrNoRows) {
		return PageRow{}, fmt.Errorf("index: tagged page at %d: %w", pos, ErrNotFound)
	}
	if err != nil {
		return PageRow{}, fmt.Errorf("index: tagged page at %d: %w", pos, err)
	}
	return r, nil
}

// taggedPagePosition returns the zero-based position of row among the
// pages carrying the tag.
func taggedPagePosition(q querier, tagID int64, row PageRow) (int, error) {
	var n int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM pages p
		JOIN tagged tg ON tg.page_id = p.id
		WHERE tg.tag_id = ? AND (p.sortkey < ? OR (p.sortkey = ? AND p.basename < ?))
	`, tagID, row.SortKey, row.SortKey, row.Basename).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("index: position of %q under tag: %w", row.Name, err)
	}
	return n, nil
}

// tagsOfPage returns the tags carried by pageID in name order.
func tagsOfPage(q querier, pageID int64) ([]TagRow, error) {
	rows, err := q.Query(`
		SELECT `+tagColumns+` FROM tags t
		JOIN tagged tg ON tg.tag_id = t.id
		WHERE tg.page_id = ?
		ORDER BY t.name
	`, pageID)
	if err != nil {
		return nil, fmt.Errorf("index: tags of page: %w", err)
	}
	defer rows.Close()

	var out []TagRow
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
