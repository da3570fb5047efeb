// Package index maintains the SQLite-backed page index: the page tree,
// the secondary records derived from page content (links, tags, tasks,
// full-text search), and the row change notifications that tree models
// consume.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// dbVersion tags the layout of the core tables. A mismatch on open
	// drops and rebuilds the whole database; page content lives on disk,
	// so the next Sync restores everything.
	dbVersion = "1"

	propDBVersion    = "db_version"
	propPluginPrefix = "plugin_schema."
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS properties (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id   INTEGER NOT NULL DEFAULT 0,
	name        TEXT NOT NULL UNIQUE,
	basename    TEXT NOT NULL,
	sortkey     TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	has_content INTEGER NOT NULL DEFAULT 0,
	attrs       TEXT NOT NULL DEFAULT '{}',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_parent ON pages(parent_id);
CREATE INDEX IF NOT EXISTS idx_pages_order  ON pages(parent_id, sortkey, basename);
`

// Index owns the SQLite connection behind the page index. All mutations
// are serialized by mu, and change events are dispatched under the same
// lock, so listeners observe them in apply order.
type Index struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	indexers []Indexer
	plugins  map[string]PluginIndexer

	lmu       sync.Mutex
	listeners []UpdateListener
}

// Open opens (or creates) the index database at path, applies the core
// schema and registers the built-in links and tags indexers.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	ix := &Index{db: conn, logger: logger, plugins: make(map[string]PluginIndexer)}
	if err := ix.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	for _, in := range []Indexer{LinksIndexer{}, TagsIndexer{}} {
		if err := in.InitDB(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("index: init %s indexer: %w", in.Name(), err)
		}
		ix.indexers = append(ix.indexers, in)
	}
	return ix, nil
}

// migrate applies the core schema and enforces the db_version gate.
func (ix *Index) migrate() error {
	if _, err := ix.db.Exec(coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply core schema: %w", err)
	}
	stored, err := ix.getProperty(propDBVersion)
	if err != nil {
		return err
	}
	if stored != "" && stored != dbVersion {
		ix.logger.Warn("index: database version changed, rebuilding",
			slog.String("have", stored),
			slog.String("want", dbVersion))
		if err := ix.rebuild(); err != nil {
			return err
		}
	}
	if err := ix.setProperty(propDBVersion, dbVersion); err != nil {
		return err
	}
	return ix.ensureRoot()
}

// rebuild drops every core table and recreates the schema. The properties
// table goes with it, which wipes the recorded plugin schema versions and
// forces every plugin to re-initialize on registration.
func (ix *Index) rebuild() error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS properties`,
		`DROP TABLE IF EXISTS pages`,
		`DROP TABLE IF EXISTS links`,
		`DROP TABLE IF EXISTS tags`,
		`DROP TABLE IF EXISTS tagged`,
	} {
		if _, err := ix.db.Exec(stmt); err != nil {
			return fmt.Errorf("index: rebuild: %w", err)
		}
	}
	if _, err := ix.db.Exec(coreSchemaSQL); err != nil {
		return fmt.Errorf("index: rebuild core schema: %w", err)
	}
	return nil
}

// ensureRoot inserts the synthetic root row all top-level pages hang off.
func (ix *Index) ensureRoot() error {
	_, err := ix.db.Exec(`
		INSERT OR IGNORE INTO pages (id, parent_id, name, basename, sortkey)
		VALUES (?, 0, '', '', '')
	`, rootID)
	if err != nil {
		return fmt.Errorf("index: ensure root row: %w", err)
	}
	return nil
}

func (ix *Index) getProperty(key string) (string, error) {
	var v string
	err := ix.db.QueryRow(`SELECT value FROM properties WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: property %q: %w", key, err)
	}
	return v, nil
}

func (ix *Index) setProperty(key, value string) error {
	_, err := ix.db.Exec(`
		INSERT INTO properties (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("index: set property %q: %w", key, err)
	}
	return nil
}

func (ix *Index) deleteProperty(key string) error {
	if _, err := ix.db.Exec(`DELETE FROM properties WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: delete property %q: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}
