package index

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/canopyhq/canopy/internal/parser"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

// eventRecorder captures dispatched events for assertions.
type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) RowInserted(e Event)         { r.events = append(r.events, e) }
func (r *eventRecorder) RowChanged(e Event)          { r.events = append(r.events, e) }
func (r *eventRecorder) RowStructureChanged(e Event) { r.events = append(r.events, e) }
func (r *eventRecorder) RowDeleted(e Event)          { r.events = append(r.events, e) }

// describe renders events as "kind name@path" strings for easy comparison.
func (r *eventRecorder) describe() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = fmt.Sprintf("%s %s@%s", e.Kind, e.Row.Name, e.Path)
	}
	return out
}

func wantEvents(t *testing.T, rec *eventRecorder, want ...string) {
	t.Helper()
	got := rec.describe()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestOpenCreatesRootRow(t *testing.T) {
	ix := testIndex(t)
	root, err := ix.PageByName("")
	if err != nil {
		t.Fatalf("PageByName root: %v", err)
	}
	if !root.IsRoot() {
		t.Errorf("root row id = %d, want %d", root.ID, rootID)
	}
	if root.HasContent {
		t.Error("root row must not have content")
	}
}

func TestUpsertCreatesPlaceholderAncestors(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("A:B:C", []byte("# Charlie\n\nbody\n")); err != nil {
		t.Fatalf("UpsertPage: %v", err)
	}

	a, err := ix.PageByName("A")
	if err != nil {
		t.Fatalf("PageByName A: %v", err)
	}
	if !a.IsPlaceholder() {
		t.Error("A should be a placeholder")
	}
	b, err := ix.PageByName("A:B")
	if err != nil {
		t.Fatalf("PageByName A:B: %v", err)
	}
	if !b.IsPlaceholder() || b.ParentID != a.ID {
		t.Errorf("A:B = %+v, want placeholder child of A", b)
	}
	c, err := ix.PageByName("A:B:C")
	if err != nil {
		t.Fatalf("PageByName A:B:C: %v", err)
	}
	if c.IsPlaceholder() || c.ParentID != b.ID || c.Title != "Charlie" {
		t.Errorf("A:B:C = %+v, want content page titled Charlie under A:B", c)
	}

	// Placeholders have no checksum, so they are invisible to Sync's
	// changed-file detection.
	sums, err := ix.AllChecksums()
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(sums) != 1 {
		t.Errorf("AllChecksums = %v, want only A:B:C", sums)
	}
}

func TestUpsertEventOrder(t *testing.T) {
	ix := testIndex(t)
	rec := &eventRecorder{}
	ix.Subscribe(rec)

	if err := ix.UpsertPage("A:B:C", []byte("body\n")); err != nil {
		t.Fatalf("UpsertPage: %v", err)
	}
	wantEvents(t, rec,
		"inserted A@0",
		"inserted A:B@0:0",
		"structure-changed A@0",
		"inserted A:B:C@0:0:0",
		"structure-changed A:B@0:0",
	)

	rec.events = nil
	if err := ix.UpsertPage("A:B:C", []byte("new body\n")); err != nil {
		t.Fatalf("UpsertPage again: %v", err)
	}
	wantEvents(t, rec, "changed A:B:C@0:0:0")
}

func TestInsertPositionRespectsSiblingOrder(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("Bravo", []byte("b\n")); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := ix.UpsertPage("Alpha", []byte("a\n")); err != nil {
		t.Fatal(err)
	}
	wantEvents(t, rec, "inserted Alpha@0")

	children, err := ix.Children("")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	var names []string
	for _, c := range children {
		names = append(names, c.Name)
	}
	if len(names) != 2 || names[0] != "Alpha" || names[1] != "Bravo" {
		t.Errorf("top level = %v, want [Alpha Bravo]", names)
	}
}

func TestDeleteLeafPrunesPlaceholders(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("A:B:C", []byte("c\n")); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := ix.DeletePage("A:B:C"); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	wantEvents(t, rec,
		"deleted A:B:C@0:0:0",
		"deleted A:B@0:0",
		"deleted A@0",
	)

	if _, err := ix.PageByName("A"); !errors.Is(err, ErrNotFound) {
		t.Errorf("A should be pruned, got %v", err)
	}
}

func TestDeleteLeafKeepsContentAncestor(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("A", []byte("a\n")); err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("A:B:C", []byte("c\n")); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := ix.DeletePage("A:B:C"); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	// A:B was a placeholder and goes with its last child; A has content,
	// survives, and reports that it lost its last child.
	wantEvents(t, rec,
		"deleted A:B:C@0:0:0",
		"deleted A:B@0:0",
		"structure-changed A@0",
	)

	a, err := ix.PageByName("A")
	if err != nil {
		t.Fatalf("PageByName A: %v", err)
	}
	if a.IsPlaceholder() || a.NChildren != 0 {
		t.Errorf("A = %+v, want childless content page", a)
	}
}

func TestDeletePageWithChildrenDemotesToPlaceholder(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("A", []byte("# Alpha\n\na\n")); err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("A:B", []byte("b\n")); err != nil {
		t.Fatal(err)
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := ix.DeletePage("A"); err != nil {
		t.Fatalf("DeletePage: %v", err)
	}
	wantEvents(t, rec, "changed A@0")

	a, err := ix.PageByName("A")
	if err != nil {
		t.Fatalf("A should remain as placeholder: %v", err)
	}
	if !a.IsPlaceholder() || a.Title != "" || a.Checksum != "" {
		t.Errorf("A = %+v, want empty placeholder", a)
	}
	if _, err := ix.PageByName("A:B"); err != nil {
		t.Errorf("A:B should survive: %v", err)
	}
}

func TestDeleteMissingPageIsNotFound(t *testing.T) {
	ix := testIndex(t)
	if err := ix.DeletePage("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeletePage(ghost) = %v, want ErrNotFound", err)
	}
}

func TestDeleteSubtree(t *testing.T) {
	ix := testIndex(t)
	for _, name := range []string{"A", "A:B", "A:B:C", "A:D"} {
		if err := ix.UpsertPage(name, []byte("x @shared\n")); err != nil {
			t.Fatal(err)
		}
	}

	rec := &eventRecorder{}
	ix.Subscribe(rec)
	if err := ix.DeleteSubtree("A"); err != nil {
		t.Fatalf("DeleteSubtree: %v", err)
	}

	for _, e := range rec.events {
		if e.Kind != RowDeleted {
			t.Errorf("unexpected %s event for %s", e.Kind, e.Row.Name)
		}
	}
	if len(rec.events) != 4 {
		t.Fatalf("got %d delete events, want 4: %v", len(rec.events), rec.describe())
	}

	for _, name := range []string{"A", "A:B", "A:B:C", "A:D"} {
		if _, err := ix.PageByName(name); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s should be gone, got %v", name, err)
		}
	}
	// The shared tag died with its last page.
	tags, err := ix.Tags()
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want none", tags)
	}
}

func TestBacklinksAndRelativeLinks(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("Projects:Canopy", []byte("See [[+Roadmap]] and [[Journal:2026]].\n")); err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("Inbox", []byte("Work on [[Projects:Canopy:Roadmap]].\n")); err != nil {
		t.Fatal(err)
	}

	bl, err := ix.Backlinks("Projects:Canopy:Roadmap")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 2 || bl[0] != "Inbox" || bl[1] != "Projects:Canopy" {
		t.Errorf("backlinks = %v, want [Inbox Projects:Canopy]", bl)
	}

	targets, err := ix.LinksFrom("Projects:Canopy")
	if err != nil {
		t.Fatalf("LinksFrom: %v", err)
	}
	if len(targets) != 2 || targets[0] != "Journal:2026" || targets[1] != "Projects:Canopy:Roadmap" {
		t.Errorf("targets = %v", targets)
	}
}

func TestResolveLink(t *testing.T) {
	cases := []struct {
		source, raw, want string
	}{
		{"A:B", "+Child", "A:B:Child"},
		{"A:B", ":Top:Page", "Top:Page"},
		{"A:B", "Other", "Other"},
		{"A:B", "  spaced  ", "spaced"},
		{"A:B", "+", ""},
		{"A:B", "", ""},
		{"", "+Orphan", "Orphan"},
	}
	for _, c := range cases {
		if got := ResolveLink(c.source, c.raw); got != c.want {
			t.Errorf("ResolveLink(%q, %q) = %q, want %q", c.source, c.raw, got, c.want)
		}
	}
}

func TestTagsLifecycle(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("One", []byte("hello @go @notes\n")); err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("Two", []byte("hello @go\n")); err != nil {
		t.Fatal(err)
	}

	tags, err := ix.Tags()
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 2 || tags[0].Name != "go" || tags[0].NPages != 2 || tags[1].Name != "notes" {
		t.Errorf("tags = %+v", tags)
	}

	pages, err := ix.PagesByTag("go")
	if err != nil {
		t.Fatalf("PagesByTag: %v", err)
	}
	if len(pages) != 2 || pages[0].Name != "One" || pages[1].Name != "Two" {
		t.Errorf("pages by tag = %+v", pages)
	}

	// Retagging drops stale pairs and orphaned tags.
	if err := ix.UpsertPage("One", []byte("hello @go\n")); err != nil {
		t.Fatal(err)
	}
	tags, _ = ix.Tags()
	if len(tags) != 1 || tags[0].Name != "go" {
		t.Errorf("tags after retag = %+v, want only go", tags)
	}

	if err := ix.DeletePage("One"); err != nil {
		t.Fatal(err)
	}
	if err := ix.DeletePage("Two"); err != nil {
		t.Fatal(err)
	}
	tags, _ = ix.Tags()
	if len(tags) != 0 {
		t.Errorf("tags after deletes = %+v, want none", tags)
	}
}

func TestNotFoundVersusConsistency(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("A:B", []byte("b\n")); err != nil {
		t.Fatal(err)
	}

	_, err := ix.PageByName("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("missing page: %v, want ErrNotFound", err)
	}
	if errors.Is(err, ErrConsistency) {
		t.Error("a normal miss must not be a consistency violation")
	}

	// Break the parent chain behind the index's back; path computation
	// must now report corruption, not a miss.
	if _, err := ix.db.Exec(`UPDATE pages SET parent_id = 9999 WHERE name = 'A:B'`); err != nil {
		t.Fatal(err)
	}
	row, err := ix.PageByName("A:B")
	if err != nil {
		t.Fatal(err)
	}
	_, err = lookupPathOf(ix.db, row)
	if !errors.Is(err, ErrConsistency) {
		t.Errorf("broken chain: %v, want ErrConsistency", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corruption must not look like a normal miss")
	}
}

func TestReopenKeepsPages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	ix, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("Keep", []byte("kept\n")); err != nil {
		t.Fatal(err)
	}
	ix.Close()

	ix2, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer ix2.Close()
	if _, err := ix2.PageByName("Keep"); err != nil {
		t.Errorf("page lost across reopen: %v", err)
	}
}

func TestVersionMismatchRebuildsDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	ix, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("Doomed", []byte("d\n")); err != nil {
		t.Fatal(err)
	}
	// Simulate a database written by a different core version.
	if err := ix.setProperty(propDBVersion, "0"); err != nil {
		t.Fatal(err)
	}
	ix.Close()

	ix2, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer ix2.Close()
	if _, err := ix2.PageByName("Doomed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale page survived rebuild: %v", err)
	}
	v, err := ix2.getProperty(propDBVersion)
	if err != nil || v != dbVersion {
		t.Errorf("db_version = %q (%v), want %q", v, err, dbVersion)
	}
}

// countingPlugin exercises the plugin registration machinery.
type countingPlugin struct {
	name      string
	version   string
	initCalls int
	tearCalls int
	indexErr  error
}

func (p *countingPlugin) Name() string          { return p.name }
func (p *countingPlugin) SchemaVersion() string { return p.version }

func (p *countingPlugin) InitDB(db *sql.DB) error {
	p.initCalls++
	_, err := db.Exec(`DROP TABLE IF EXISTS ` + p.name + `; CREATE TABLE ` + p.name + ` (page_id INTEGER)`)
	return err
}

func (p *countingPlugin) IndexPage(tx *sql.Tx, row PageRow, _ *parser.Result) error {
	if p.indexErr != nil {
		return p.indexErr
	}
	_, err := tx.Exec(`INSERT INTO `+p.name+` (page_id) VALUES (?)`, row.ID)
	return err
}

func (p *countingPlugin) UnindexPage(tx *sql.Tx, row PageRow) error {
	_, err := tx.Exec(`DELETE FROM `+p.name+` WHERE page_id = ?`, row.ID)
	return err
}

func (p *countingPlugin) TeardownDB(db *sql.DB) error {
	p.tearCalls++
	_, err := db.Exec(`DROP TABLE IF EXISTS ` + p.name)
	return err
}

func TestPluginRegistrationResetsChecksumsOnVersionChange(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("Page", []byte("content\n")); err != nil {
		t.Fatal(err)
	}
	before, _ := ix.AllChecksums()
	if before["Page"] == "" {
		t.Fatal("expected a stored checksum")
	}

	p := &countingPlugin{name: "counting", version: "1"}
	if err := ix.AddPluginIndexer(p); err != nil {
		t.Fatalf("AddPluginIndexer: %v", err)
	}
	if p.initCalls != 1 {
		t.Errorf("initCalls = %d, want 1", p.initCalls)
	}

	// The cleared checksums force the next Sync to re-feed every page.
	after, _ := ix.AllChecksums()
	if after["Page"] != "" {
		t.Errorf("checksum not cleared: %q", after["Page"])
	}
}

func TestPluginMatchingVersionSkipsInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	ix, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	p := &countingPlugin{name: "counting", version: "1"}
	if err := ix.AddPluginIndexer(p); err != nil {
		t.Fatal(err)
	}
	if err := ix.UpsertPage("Page", []byte("content\n")); err != nil {
		t.Fatal(err)
	}
	ix.Close()

	ix2, err := Open(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer ix2.Close()
	p2 := &countingPlugin{name: "counting", version: "1"}
	if err := ix2.AddPluginIndexer(p2); err != nil {
		t.Fatal(err)
	}
	if p2.initCalls != 0 {
		t.Errorf("matching version re-initialized the plugin (initCalls = %d)", p2.initCalls)
	}
	sums, _ := ix2.AllChecksums()
	if sums["Page"] == "" {
		t.Error("matching version must not clear checksums")
	}

	// A bumped version rebuilds.
	if err := ix2.RemovePluginIndexer(p2); err != nil {
		t.Fatal(err)
	}
	p3 := &countingPlugin{name: "counting", version: "2"}
	if err := ix2.AddPluginIndexer(p3); err != nil {
		t.Fatal(err)
	}
	if p3.initCalls != 1 {
		t.Errorf("bumped version should re-init, initCalls = %d", p3.initCalls)
	}
}

func TestRemovePluginIndexerTearsDown(t *testing.T) {
	ix := testIndex(t)
	p := &countingPlugin{name: "counting", version: "1"}
	if err := ix.AddPluginIndexer(p); err != nil {
		t.Fatal(err)
	}
	if err := ix.RemovePluginIndexer(p); err != nil {
		t.Fatalf("RemovePluginIndexer: %v", err)
	}
	if p.tearCalls != 1 {
		t.Errorf("tearCalls = %d, want 1", p.tearCalls)
	}
	if err := ix.RemovePluginIndexer(p); !errors.Is(err, ErrNotFound) {
		t.Errorf("second removal = %v, want ErrNotFound", err)
	}

	var n int
	err := ix.db.QueryRow(`SELECT COUNT(*) FROM counting`).Scan(&n)
	if err == nil {
		t.Error("plugin table should be dropped on removal")
	}
}

func TestFailingPluginDoesNotBlockIndexing(t *testing.T) {
	ix := testIndex(t)
	p := &countingPlugin{name: "counting", version: "1", indexErr: errors.New("boom")}
	if err := ix.AddPluginIndexer(p); err != nil {
		t.Fatal(err)
	}

	if err := ix.UpsertPage("Page", []byte("content with @tag\n")); err != nil {
		t.Fatalf("UpsertPage with failing plugin: %v", err)
	}
	// Core indexing still happened.
	if _, err := ix.PageByName("Page"); err != nil {
		t.Errorf("page not indexed: %v", err)
	}
	tags, _ := ix.Tags()
	if len(tags) != 1 {
		t.Errorf("core tags indexer skipped: %+v", tags)
	}
}

func TestPluginWithoutNameOrVersionRejected(t *testing.T) {
	ix := testIndex(t)
	if err := ix.AddPluginIndexer(&countingPlugin{name: "", version: "1"}); err == nil {
		t.Error("nameless plugin accepted")
	}
	if err := ix.AddPluginIndexer(&countingPlugin{name: "x", version: ""}); err == nil {
		t.Error("versionless plugin accepted")
	}
}

func TestStats(t *testing.T) {
	ix := testIndex(t)
	if err := ix.UpsertPage("A:B", []byte("see [[A]] @tag\n")); err != nil {
		t.Fatal(err)
	}
	s, err := ix.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Pages != 1 || s.Placeholders != 1 || s.Links != 1 || s.Tags != 1 {
		t.Errorf("stats = %+v", s)
	}
}
