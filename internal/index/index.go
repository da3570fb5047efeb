package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/canopyhq/canopy/internal/checksum"
	"github.com/canopyhq/canopy/internal/models"
	"github.com/canopyhq/canopy/internal/parser"
)

// PageIndex defines the operations the rest of the system uses against the
// page index. Consumers should depend on this interface rather than the
// concrete *Index type to facilitate testing with fakes.
type PageIndex interface {
	UpsertPage(name string, content []byte) error
	DeletePage(name string) error
	DeleteSubtree(name string) error
	PageByName(name string) (PageRow, error)
	Children(name string) ([]PageRow, error)
	AllChecksums() (map[string]string, error)
	Backlinks(target string) ([]string, error)
	LinksFrom(source string) ([]string, error)
	Tags() ([]TagRow, error)
	PagesByTag(tag string) ([]PageRow, error)
	Tasks() ([]models.TaskItem, error)
	Search(query string, limit int) ([]SearchResult, error)
	Stats() (Stats, error)
	AddPluginIndexer(p PluginIndexer) error
	RemovePluginIndexer(p PluginIndexer) error
	Subscribe(l UpdateListener)
	Unsubscribe(l UpdateListener)
	Close() error
}

// Verify *Index satisfies PageIndex at compile time.
var _ PageIndex = (*Index)(nil)

// UpsertPage parses content and records the page under name, creating
// placeholder rows for any missing ancestors. Change events for every row
// touched are delivered to listeners before UpsertPage returns.
func (ix *Index) UpsertPage(name string, content []byte) error {
	res, err := parser.Parse(content)
	if err != nil {
		return fmt.Errorf("index: parse %q: %w", name, err)
	}
	return ix.applyParsed(name, checksum.Sum(content), res)
}

// applyParsed is the single-writer core of UpsertPage. Sync calls it
// directly with pre-parsed content so parsing can run outside the lock.
func (ix *Index) applyParsed(name, sum string, res *parser.Result) error {
	if name == "" {
		return fmt.Errorf("index: upsert: empty page name")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	events, err := ix.upsertInTx(tx, name, sum, res)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	ix.dispatch(events)
	return nil
}

func (ix *Index) upsertInTx(tx *sql.Tx, name, sum string, res *parser.Result) ([]Event, error) {
	var events []Event

	attrs, err := json.Marshal(res.Frontmatter)
	if err != nil {
		attrs = []byte("{}")
	}

	// Walk the name creating placeholder rows for missing ancestors.
	parts := strings.Split(name, ":")
	parentID := rootID
	for i, part := range parts[:len(parts)-1] {
		prefix := strings.Join(parts[:i+1], ":")
		row, err := pageByName(tx, prefix)
		if errors.Is(err, ErrNotFound) {
			var evs []Event
			row, evs, err = insertRow(tx, parentID, prefix, part, false, "", "", nil)
			if err != nil {
				return nil, err
			}
			events = append(events, evs...)
		} else if err != nil {
			return nil, err
		}
		parentID = row.ID
	}

	basename := parts[len(parts)-1]
	row, err := pageByName(tx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		var evs []Event
		row, evs, err = insertRow(tx, parentID, name, basename, true, sum, res.Title, attrs)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)

	case err != nil:
		return nil, err

	default:
		if _, err := tx.Exec(`
			UPDATE pages SET title = ?, checksum = ?, has_content = 1, attrs = ?, updated_at = ?
			WHERE id = ?
		`, res.Title, sum, string(attrs), time.Now().UTC(), row.ID); err != nil {
			return nil, fmt.Errorf("index: update page %q: %w", name, err)
		}
		row, err = pageByID(tx, row.ID)
		if err != nil {
			return nil, err
		}
		path, err := lookupPathOf(tx, row)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{Kind: RowChanged, Row: row, Path: path})
	}

	if err := ix.runIndexers(tx, row, res); err != nil {
		return nil, err
	}
	return events, nil
}

// insertRow adds one page row and returns it along with the events the
// insert produced: RowInserted for the row itself and, when the parent
// just gained its first child, RowStructureChanged for the parent.
func insertRow(tx *sql.Tx, parentID int64, name, basename string, hasContent bool, sum, title string, attrs []byte) (PageRow, []Event, error) {
	if attrs == nil {
		attrs = []byte("{}")
	}
	hc := 0
	if hasContent {
		hc = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO pages (parent_id, name, basename, sortkey, title, checksum, has_content, attrs, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, parentID, name, basename, sortKey(basename), title, sum, hc, string(attrs), time.Now().UTC()); err != nil {
		return PageRow{}, nil, fmt.Errorf("index: insert page %q: %w", name, err)
	}

	row, err := pageByName(tx, name)
	if err != nil {
		return PageRow{}, nil, err
	}
	path, err := lookupPathOf(tx, row)
	if err != nil {
		return PageRow{}, nil, err
	}
	events := []Event{{Kind: RowInserted, Row: row, Path: path}}

	if parentID != rootID {
		parent, err := pageByID(tx, parentID)
		if err != nil {
			return PageRow{}, nil, err
		}
		if parent.NChildren == 1 {
			ppath, err := lookupPathOf(tx, parent)
			if err != nil {
				return PageRow{}, nil, err
			}
			events = append(events, Event{Kind: RowStructureChanged, Row: parent, Path: ppath})
		}
	}
	return row, events, nil
}

// DeletePage removes the record for name. A row that still has children is
// demoted to a placeholder instead of removed, since the children keep its
// name alive in the tree. Placeholder ancestors left empty by a removal
// are pruned bottom-up in the same transaction.
func (ix *Index) DeletePage(name string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := pageByName(tx, name)
	if err != nil {
		return err
	}
	if row.IsRoot() {
		return fmt.Errorf("index: cannot delete the root")
	}

	if err := ix.unindexRow(tx, row); err != nil {
		return err
	}

	var events []Event
	if row.NChildren > 0 {
		if _, err := tx.Exec(`
			UPDATE pages SET has_content = 0, checksum = '', title = '', attrs = '{}', updated_at = ?
			WHERE id = ?
		`, time.Now().UTC(), row.ID); err != nil {
			return fmt.Errorf("index: demote page %q: %w", row.Name, err)
		}
		demoted, err := pageByID(tx, row.ID)
		if err != nil {
			return err
		}
		path, err := lookupPathOf(tx, demoted)
		if err != nil {
			return err
		}
		events = append(events, Event{Kind: RowChanged, Row: demoted, Path: path})
	} else {
		path, err := lookupPathOf(tx, row)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM pages WHERE id = ?`, row.ID); err != nil {
			return fmt.Errorf("index: delete page %q: %w", row.Name, err)
		}
		events = append(events, Event{Kind: RowDeleted, Row: row, Path: path})

		evs, err := pruneAncestors(tx, row.ParentID)
		if err != nil {
			return err
		}
		events = append(events, evs...)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	ix.dispatch(events)
	return nil
}

// DeleteSubtree removes name and every descendant row in one transaction.
// Rows go deepest-first, so each deletion event carries the path the row
// held at the moment it went away. Page moves use this to clear the old
// location in one step.
func (ix *Index) DeleteSubtree(name string) error {
	if name == "" {
		return fmt.Errorf("index: cannot delete the root")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	root, err := pageByName(tx, name)
	if err != nil {
		return err
	}

	rows, err := tx.Query(`
		SELECT `+pageColumns+` FROM pages p
		WHERE p.name = ? OR p.name LIKE ? || ':%'
		ORDER BY LENGTH(p.name) DESC, p.name DESC
	`, name, name)
	if err != nil {
		return fmt.Errorf("index: collect subtree %q: %w", name, err)
	}
	var doomed []PageRow
	for rows.Next() {
		r, err := scanPage(rows)
		if err != nil {
			rows.Close()
			return err
		}
		doomed = append(doomed, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	var events []Event
	for _, r := range doomed {
		if err := ix.unindexRow(tx, r); err != nil {
			return err
		}
		path, err := lookupPathOf(tx, r)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM pages WHERE id = ?`, r.ID); err != nil {
			return fmt.Errorf("index: delete page %q: %w", r.Name, err)
		}
		events = append(events, Event{Kind: RowDeleted, Row: r, Path: path})
	}

	evs, err := pruneAncestors(tx, root.ParentID)
	if err != nil {
		return err
	}
	events = append(events, evs...)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	ix.dispatch(events)
	return nil
}

// pruneAncestors walks up from parentID removing placeholder rows that no
// longer have children, and reports a structure change on the first
// surviving ancestor that just lost its last child.
func pruneAncestors(tx *sql.Tx, parentID int64) ([]Event, error) {
	var events []Event
	for parentID != rootID {
		parent, err := pageByID(tx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.HasContent || parent.NChildren > 0 {
			if parent.NChildren == 0 {
				path, err := lookupPathOf(tx, parent)
				if err != nil {
					return nil, err
				}
				events = append(events, Event{Kind: RowStructureChanged, Row: parent, Path: path})
			}
			return events, nil
		}
		path, err := lookupPathOf(tx, parent)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(`DELETE FROM pages WHERE id = ?`, parent.ID); err != nil {
			return nil, fmt.Errorf("index: prune placeholder %q: %w", parent.Name, err)
		}
		events = append(events, Event{Kind: RowDeleted, Row: parent, Path: path})
		parentID = parent.ParentID
	}
	return events, nil
}

// PageByName returns the row for name. The root row is addressable as "".
func (ix *Index) PageByName(name string) (PageRow, error) {
	return pageByName(ix.db, name)
}

// Children returns the direct children of name in tree order. Use "" for
// the top level.
func (ix *Index) Children(name string) ([]PageRow, error) {
	parent, err := pageByName(ix.db, name)
	if err != nil {
		return nil, err
	}
	return childRows(ix.db, parent.ID)
}

// AllChecksums returns the stored checksum of every content page, keyed by
// page name. Placeholders are excluded.
func (ix *Index) AllChecksums() (map[string]string, error) {
	rows, err := ix.db.Query(`SELECT name, checksum FROM pages WHERE has_content = 1`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, err
		}
		out[name] = sum
	}
	return out, rows.Err()
}

// Stats summarizes index contents.
type Stats struct {
	Pages        int `json:"pages"`
	Placeholders int `json:"placeholders"`
	Links        int `json:"links"`
	Tags         int `json:"tags"`
}

// Stats counts content pages, placeholder rows, links and tags. The root
// row is not counted as a placeholder.
func (ix *Index) Stats() (Stats, error) {
	var s Stats
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM pages WHERE has_content = 1`).Scan(&s.Pages); err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM pages WHERE has_content = 0 AND id != ?`, rootID).Scan(&s.Placeholders); err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM links`).Scan(&s.Links); err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM tags`).Scan(&s.Tags); err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}
	return s, nil
}
