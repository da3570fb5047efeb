// Package testutil provides shared test helpers for setting up notebook
// directories and index databases.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Index opens a temporary SQLite index with the tasks and search
// indexers registered. It is closed when the test finishes.
func Index(t *testing.T) *index.Index {
	t.Helper()
	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	for _, p := range []index.PluginIndexer{index.TasksIndexer{}, index.SearchIndexer{}} {
		if err := ix.AddPluginIndexer(p); err != nil {
			t.Fatal(err)
		}
	}
	return ix
}

// NotebookDir creates a temporary notebook directory with a storage
// provider rooted on it.
func NotebookDir(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}
