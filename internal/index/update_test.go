package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/canopyhq/canopy/internal/storage"
)

func writePageFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncIndexesNotebook(t *testing.T) {
	root := t.TempDir()
	writePageFile(t, root, "Home.md", "# Home\n\nwelcome\n")
	writePageFile(t, root, "Projects/Canopy.md", "canopy @project\n")
	writePageFile(t, root, "Projects/Canopy/Roadmap.md", "- [ ] ship it\n")

	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	ix := testIndex(t)
	if err := Sync(context.Background(), ix, store, testLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	for _, name := range []string{"Home", "Projects:Canopy", "Projects:Canopy:Roadmap"} {
		row, err := ix.PageByName(name)
		if err != nil {
			t.Fatalf("PageByName(%s): %v", name, err)
		}
		if !row.HasContent {
			t.Errorf("%s should have content", name)
		}
	}
	projects, err := ix.PageByName("Projects")
	if err != nil {
		t.Fatalf("PageByName(Projects): %v", err)
	}
	if !projects.IsPlaceholder() {
		t.Error("Projects should be a placeholder")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writePageFile(t, root, "One.md", "one\n")
	writePageFile(t, root, "Two.md", "two\n")

	store, _ := storage.NewFS(root)
	ix := testIndex(t)
	if err := Sync(context.Background(), ix, store, testLogger()); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := Sync(context.Background(), ix, store, testLogger()); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 0 {
		t.Errorf("unchanged notebook produced events: %v", rec.describe())
	}
}

func TestSyncPicksUpChangesAndRemovals(t *testing.T) {
	root := t.TempDir()
	writePageFile(t, root, "Keep.md", "keep v1\n")
	writePageFile(t, root, "Gone.md", "gone\n")

	store, _ := storage.NewFS(root)
	ix := testIndex(t)
	if err := Sync(context.Background(), ix, store, testLogger()); err != nil {
		t.Fatal(err)
	}

	writePageFile(t, root, "Keep.md", "keep v2\n")
	if err := os.Remove(filepath.Join(root, "Gone.md")); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := Sync(context.Background(), ix, store, testLogger()); err != nil {
		t.Fatal(err)
	}
	// Upserts land before the removal pass, so Keep is still position 1
	// behind Gone when its change event fires.
	wantEvents(t, rec,
		"changed Keep@1",
		"deleted Gone@0",
	)

	if _, err := ix.PageByName("Gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Gone should be removed, got %v", err)
	}
}

func TestSyncRespectsCancellation(t *testing.T) {
	root := t.TempDir()
	writePageFile(t, root, "One.md", "one\n")

	store, _ := storage.NewFS(root)
	ix := testIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sync(ctx, ix, store, testLogger()); !errors.Is(err, context.Canceled) {
		t.Errorf("Sync on cancelled ctx = %v, want context.Canceled", err)
	}
}
