package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// rootID is the id of the synthetic root row. It is inserted at open and
// never removed, so every other row has a parent chain ending here.
const rootID int64 = 1

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// PageRow is one row of the pages table. NChildren is computed at scan
// time, so it reflects the moment the row was read.
type PageRow struct {
	ID         int64
	ParentID   int64
	Name       string
	Basename   string
	SortKey    string
	Title      string
	Checksum   string
	HasContent bool
	NChildren  int
	Attrs      []byte
	UpdatedAt  time.Time
}

// IsRoot reports whether r is the synthetic root row.
func (r PageRow) IsRoot() bool { return r.ID == rootID }

// IsPlaceholder reports whether r exists only because descendants or the
// root need it, with no content of its own.
func (r PageRow) IsPlaceholder() bool { return !r.HasContent }

const pageColumns = `p.id, p.parent_id, p.name, p.basename, p.sortkey, p.title, p.checksum, p.has_content, p.attrs, p.updated_at,
	(SELECT COUNT(*) FROM pages c WHERE c.parent_id = p.id) AS n_children`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(s rowScanner) (PageRow, error) {
	var (
		r          PageRow
		hasContent int
	)
	err := s.Scan(&r.ID, &r.ParentID, &r.Name, &r.Basename, &r.SortKey, &r.Title,
		&r.Checksum, &hasContent, &r.Attrs, &r.UpdatedAt, &r.NChildren)
	if err != nil {
		return PageRow{}, err
	}
	r.HasContent = hasContent != 0
	return r, nil
}

// pageByName looks a row up by its full colon-separated name. The root row
// is addressable as "". A miss is a normal ErrNotFound.
func pageByName(q querier, name string) (PageRow, error) {
	r, err := scanPage(q.QueryRow(`SELECT `+pageColumns+` FROM pages p WHERE p.name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return PageRow{}, fmt.Errorf("index: page %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return PageRow{}, fmt.Errorf("index: page %q: %w", name, err)
	}
	return r, nil
}

// pageByID looks a row up by id. The ids passed here come from other rows,
// so a miss means the parent chain is broken and is reported as
// ErrConsistency rather than a plain not-found.
func pageByID(q querier, id int64) (PageRow, error) {
	r, err := scanPage(q.QueryRow(`SELECT `+pageColumns+` FROM pages p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PageRow{}, fmt.Errorf("index: page id %d: %w", id, ErrConsistency)
	}
	if err != nil {
		return PageRow{}, fmt.Errorf("index: page id %d: %w", id, err)
	}
	return r, nil
}

// Sibling order everywhere is (sortkey, basename); sortkey is the
// case-folded basename, so ordering is case-insensitive with the raw
// basename as tie-break.

func sortKey(basename string) string {
	return strings.ToLower(basename)
}

// childCount returns the number of direct children of parentID.
func childCount(q querier, parentID int64) (int, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM pages WHERE parent_id = ?`, parentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: child count of %d: %w", parentID, err)
	}
	return n, nil
}

// childAt returns the pos-th child of parentID in sibling order. Probing
// past the end is a normal ErrNotFound.
func childAt(q querier, parentID int64, pos int) (PageRow, error) {
	if pos < 0 {
		return PageRow{}, fmt.Errorf("index: child %d of %d: %w", pos, parentID, ErrNotFound)
	}
	r, err := scanPage(q.QueryRow(`
		SELECT `+pageColumns+` FROM pages p
		WHERE p.parent_id = ?
		ORDER BY p.sortkey, p.basename
		LIMIT 1 OFFSET ?
	`, parentID, pos))
	if errors.Is(err, sql.ErrNoRows) {
		return PageRow{}, fmt.Errorf("index: child %d of %d: %w", pos, parentID, ErrNotFound)
	}
	if err != nil {
		return PageRow{}, fmt.Errorf("index: child %d of %d: %w", pos, parentID, err)
	}
	return r, nil
}

// childRows returns the direct children of parentID in sibling order.
func childRows(q querier, parentID int64) ([]PageRow, error) {
	rows, err := q.Query(`
		SELECT `+pageColumns+` FROM pages p
		WHERE p.parent_id = ?
		ORDER BY p.sortkey, p.basename
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("index: children of %d: %w", parentID, err)
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

// positionOf returns the zero-based position of row among its siblings.
func positionOf(q querier, row PageRow) (int, error) {
	var n int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM pages
		WHERE parent_id = ? AND (sortkey < ? OR (sortkey = ? AND basename < ?))
	`, row.ParentID, row.SortKey, row.SortKey, row.Basename).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("index: position of %q: %w", row.Name, err)
	}
	return n, nil
}

// lookupPathOf computes the structural path of row in the pages tree by
// walking the parent chain up to the root. A broken chain surfaces as
// ErrConsistency from pageByID.
func lookupPathOf(q querier, row PageRow) (LookupPath, error) {
	var rev []int
	cur := row
	for !cur.IsRoot() {
		pos, err := positionOf(q, cur)
		if err != nil {
			return nil, err
		}
		rev = append(rev, pos)
		if cur.ParentID == rootID {
			break
		}
		parent, err := pageByID(q, cur.ParentID)
		if err != nil {
			return nil, err
		}
		cur = parent
	}
	path := make(LookupPath, len(rev))
	for i, pos := range rev {
		path[len(rev)-1-i] = pos
	}
	return path, nil
}
