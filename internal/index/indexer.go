package index

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/canopyhq/canopy/internal/parser"
)

// An Indexer derives secondary records (links, tags, tasks, search text)
// from page content. IndexPage and UnindexPage run inside the transaction
// of the page mutation that triggered them, so their writes commit or roll
// back together with the pages table.
type Indexer interface {
	// Name identifies the indexer in logs and, for plugins, keys its
	// schema version in the properties table.
	Name() string
	// InitDB prepares the indexer's tables.
	InitDB(db *sql.DB) error
	// IndexPage replaces the indexer's records for row with ones derived
	// from content.
	IndexPage(tx *sql.Tx, row PageRow, content *parser.Result) error
	// UnindexPage drops the indexer's records for row.
	UnindexPage(tx *sql.Tx, row PageRow) error
}

// A PluginIndexer is an Indexer that can be registered and removed at
// runtime and that owns a versioned schema. InitDB is only called when the
// recorded schema version differs from SchemaVersion, and a differing
// version means the old layout cannot be trusted, so InitDB must rebuild
// the plugin's tables from scratch rather than keep what exists.
type PluginIndexer interface {
	Indexer
	// SchemaVersion tags the plugin's table layout.
	SchemaVersion() string
	// TeardownDB drops the plugin's tables. It runs on explicit removal
	// only, never on process shutdown.
	TeardownDB(db *sql.DB) error
}

// AddPluginIndexer registers p. When p's schema version differs from the
// one recorded in the properties table the plugin's tables are rebuilt and
// every page checksum is cleared, which makes the next Sync re-feed every
// page through the registered indexers.
func (ix *Index) AddPluginIndexer(p PluginIndexer) error {
	name, version := p.Name(), p.SchemaVersion()
	if name == "" || version == "" {
		return fmt.Errorf("index: plugin indexer must declare a name and a schema version")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, dup := ix.plugins[name]; dup {
		return fmt.Errorf("index: plugin indexer %q already registered", name)
	}

	stored, err := ix.getProperty(propPluginPrefix + name)
	if err != nil {
		return err
	}
	if stored != version {
		if err := p.InitDB(ix.db); err != nil {
			return fmt.Errorf("index: init plugin %q: %w", name, err)
		}
		if err := ix.setProperty(propPluginPrefix+name, version); err != nil {
			return err
		}
		if _, err := ix.db.Exec(`UPDATE pages SET checksum = ''`); err != nil {
			return fmt.Errorf("index: reset checksums for plugin %q: %w", name, err)
		}
		ix.logger.Info("index: plugin schema initialized",
			slog.String("plugin", name),
			slog.String("version", version),
			slog.String("previous", stored))
	}

	ix.plugins[name] = p
	ix.indexers = append(ix.indexers, p)
	return nil
}

// RemovePluginIndexer unregisters p and tears down its tables. The stored
// schema version is cleared so a later re-registration starts fresh. The
// plugin is unregistered even when teardown fails.
func (ix *Index) RemovePluginIndexer(p PluginIndexer) error {
	name := p.Name()

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.plugins[name]; !ok {
		return fmt.Errorf("index: plugin indexer %q: %w", name, ErrNotFound)
	}
	delete(ix.plugins, name)
	for i, in := range ix.indexers {
		if pi, ok := in.(PluginIndexer); ok && pi.Name() == name {
			ix.indexers = append(ix.indexers[:i], ix.indexers[i+1:]...)
			break
		}
	}
	if err := ix.deleteProperty(propPluginPrefix + name); err != nil {
		return err
	}
	if err := p.TeardownDB(ix.db); err != nil {
		return fmt.Errorf("index: teardown plugin %q: %w", name, err)
	}
	return nil
}

func (ix *Index) pluginRegistered(name string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.plugins[name]
	return ok
}

// runIndexers feeds a page through every registered indexer. Core indexer
// failures abort the surrounding transaction; plugin failures are logged
// and skipped so a broken plugin cannot block page indexing.
func (ix *Index) runIndexers(tx *sql.Tx, row PageRow, content *parser.Result) error {
	for _, in := range ix.indexers {
		err := in.IndexPage(tx, row, content)
		if err == nil {
			continue
		}
		if _, plugin := in.(PluginIndexer); plugin {
			ix.logger.Warn("index: plugin indexer failed",
				slog.String("plugin", in.Name()),
				slog.String("page", row.Name),
				slog.String("error", err.Error()))
			continue
		}
		return fmt.Errorf("index: %s indexer: %w", in.Name(), err)
	}
	return nil
}

// unindexRow is the removal counterpart of runIndexers, with the same
// isolation rule for plugins.
func (ix *Index) unindexRow(tx *sql.Tx, row PageRow) error {
	for _, in := range ix.indexers {
		err := in.UnindexPage(tx, row)
		if err == nil {
			continue
		}
		if _, plugin := in.(PluginIndexer); plugin {
			ix.logger.Warn("index: plugin unindex failed",
				slog.String("plugin", in.Name()),
				slog.String("page", row.Name),
				slog.String("error", err.Error()))
			continue
		}
		return fmt.Errorf("index: %s indexer: %w", in.Name(), err)
	}
	return nil
}
