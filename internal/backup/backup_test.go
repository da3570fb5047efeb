package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteAndRestore(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "Journal.md"), []byte("# Journal"))
	writeFile(t, filepath.Join(src, "Projects", "Canopy.md"), []byte("# Canopy"))
	writeFile(t, filepath.Join(src, "Projects", "Canopy", "diagram.png"), []byte("binary"))
	writeFile(t, filepath.Join(src, ".canopy", "index.db"), []byte("derived"))

	var buf bytes.Buffer
	if err := Write(context.Background(), &buf, src); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dst := t.TempDir()
	if err := Restore(context.Background(), &buf, dst); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	for path, want := range map[string]string{
		"Journal.md":                  "# Journal",
		"Projects/Canopy.md":          "# Canopy",
		"Projects/Canopy/diagram.png": "binary",
	} {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(path)))
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}

	// Derived state is not part of a snapshot.
	if _, err := os.Stat(filepath.Join(dst, ".canopy")); !os.IsNotExist(err) {
		t.Error("dotted directory was backed up")
	}
}

func TestWriteCancelled(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.md"), []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if err := Write(ctx, &buf, src); err == nil {
		t.Error("Write with cancelled context should fail")
	}
}

func TestRestoreRejectsTraversal(t *testing.T) {
	if _, err := safeJoin(t.TempDir(), "../escape.md"); err == nil {
		t.Error("safeJoin accepted a traversal entry")
	}
	if _, err := safeJoin(t.TempDir(), "/abs.md"); err == nil {
		t.Error("safeJoin accepted an absolute entry")
	}
}
