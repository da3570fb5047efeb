package notebook

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore counts StorePage calls and can fail or block on demand. Like
// the real store it snapshots the content when called and marks that
// revision stored on success. When entered is set, every call signals it
// right after the snapshot; when gate is set, every call then blocks
// until the gate is closed.
type fakeStore struct {
	entered chan struct{}
	gate    chan struct{}

	mu    sync.Mutex
	calls int
	fail  bool
	last  []byte
}

func (s *fakeStore) StorePage(p *Page) error {
	content, rev := p.snapshot()
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.calls++
	s.last = content
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("store refused")
	}
	p.markStored(rev)
	return nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) lastContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.last)
}

func (s *fakeStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) report(_ *Page, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func newTestCoordinator(t *testing.T, store *fakeStore) (*SaveCoordinator, *Page, *recordingReporter) {
	t.Helper()
	page := NewPage(mustPath(t, "Note"))
	reporter := &recordingReporter{}
	c := NewSaveCoordinator(store, func() *Page { return page }, reporter.report, testLogger())
	return c, page, reporter
}

func TestSaveSkipsUnmodifiedPage(t *testing.T) {
	store := &fakeStore{}
	c, _, _ := newTestCoordinator(t, store)

	c.TrySavePage()
	c.Join()
	if err := c.SavePageNow(); err != nil {
		t.Fatalf("SavePageNow: %v", err)
	}

	if got := store.callCount(); got != 0 {
		t.Fatalf("store calls = %d, want 0 for an unmodified page", got)
	}
}

func TestTrySaveWritesInBackground(t *testing.T) {
	store := &fakeStore{}
	c, page, reporter := newTestCoordinator(t, store)

	page.SetContent([]byte("hello"))
	c.TrySavePage()
	c.Join()

	if got := store.callCount(); got != 1 {
		t.Fatalf("store calls = %d, want 1", got)
	}
	if got := store.lastContent(); got != "hello" {
		t.Fatalf("stored content = %q, want %q", got, "hello")
	}
	if page.Modified() {
		t.Error("page still modified after the save completed")
	}
	if err := c.PendingError(); err != nil {
		t.Errorf("PendingError = %v, want nil", err)
	}
	if reporter.count() != 0 {
		t.Errorf("reporter called %d times, want 0", reporter.count())
	}
}

func TestTrySaveSkipsWhileSaveInFlight(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{entered: make(chan struct{}, 4), gate: gate}
	c, page, _ := newTestCoordinator(t, store)

	page.SetContent([]byte("one"))
	c.TrySavePage()
	<-store.entered // the save has snapshotted "one" and is held at the gate
	page.SetContent([]byte("two"))
	c.TrySavePage() // dropped, a save is already running
	close(gate)
	c.Join()

	if got := store.callCount(); got != 1 {
		t.Fatalf("store calls = %d, want 1", got)
	}
	// The running save snapshotted "one" before the edit, so the page must
	// still count as modified.
	if !page.Modified() {
		t.Fatal("page lost its modified flag although the saved snapshot is stale")
	}

	c.TrySavePage()
	c.Join()
	if got := store.lastContent(); got != "two" {
		t.Fatalf("stored content = %q, want %q", got, "two")
	}
	if page.Modified() {
		t.Error("page still modified after the follow-up save")
	}
}

func TestSaveNowWaitsForBackgroundSave(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{gate: gate}
	c, page, _ := newTestCoordinator(t, store)

	page.SetContent([]byte("one"))
	c.TrySavePage()
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()

	if err := c.SavePageNow(); err != nil {
		t.Fatalf("SavePageNow: %v", err)
	}
	// The background save already wrote the current revision, so waiting
	// was enough and no second write happened.
	if got := store.callCount(); got != 1 {
		t.Fatalf("store calls = %d, want 1", got)
	}
	if page.Modified() {
		t.Error("page still modified")
	}
}

func TestBackgroundFailureSetsPendingError(t *testing.T) {
	store := &fakeStore{}
	c, page, reporter := newTestCoordinator(t, store)

	store.setFail(true)
	page.SetContent([]byte("x"))
	c.TrySavePage()
	c.Join()

	if c.PendingError() == nil {
		t.Fatal("PendingError = nil after a failed background save")
	}
	if !page.Modified() {
		t.Error("page lost its modified flag although nothing was stored")
	}
	if reporter.count() != 0 {
		t.Errorf("reporter called %d times for a background failure, want 0", reporter.count())
	}
}

func TestTrySaveEscalatesAfterBackgroundFailure(t *testing.T) {
	store := &fakeStore{}
	c, page, reporter := newTestCoordinator(t, store)

	store.setFail(true)
	page.SetContent([]byte("x"))
	c.TrySavePage()
	c.Join()
	if c.PendingError() == nil {
		t.Fatal("PendingError = nil after a failed background save")
	}

	// With the error pending the next TrySavePage runs in the foreground
	// and surfaces the failure through the reporter.
	c.TrySavePage()
	if got := reporter.count(); got != 1 {
		t.Fatalf("reporter called %d times, want 1", got)
	}
	if got := store.callCount(); got != 2 {
		t.Fatalf("store calls = %d, want 2", got)
	}
	if c.PendingError() == nil {
		t.Fatal("a failed foreground save must not clear the pending error")
	}

	// Once the store recovers the escalated save succeeds and clears the
	// pending error.
	store.setFail(false)
	c.TrySavePage()
	if err := c.PendingError(); err != nil {
		t.Fatalf("PendingError = %v after a successful save, want nil", err)
	}
	if page.Modified() {
		t.Error("page still modified after a successful save")
	}
	if got := store.callCount(); got != 3 {
		t.Fatalf("store calls = %d, want 3", got)
	}
}

func TestSaveNowFailureReportsButDoesNotFlag(t *testing.T) {
	store := &fakeStore{}
	c, page, reporter := newTestCoordinator(t, store)

	store.setFail(true)
	page.SetContent([]byte("x"))
	if err := c.SavePageNow(); err == nil {
		t.Fatal("SavePageNow returned nil although the store failed")
	}

	if got := reporter.count(); got != 1 {
		t.Fatalf("reporter called %d times, want 1", got)
	}
	if c.PendingError() != nil {
		t.Fatal("foreground failures must not set the background pending error")
	}
	if !page.Modified() {
		t.Error("page lost its modified flag although nothing was stored")
	}
}

func TestEditDuringSaveKeepsPageModified(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{entered: make(chan struct{}, 4), gate: gate}
	c, page, _ := newTestCoordinator(t, store)

	page.SetContent([]byte("one"))
	c.TrySavePage()
	<-store.entered // the save has snapshotted "one"
	page.SetContent([]byte("two"))
	close(gate)
	c.Join()

	if !page.Modified() {
		t.Fatal("edit made during the save was marked stored")
	}
	if err := c.SavePageNow(); err != nil {
		t.Fatalf("SavePageNow: %v", err)
	}
	if got := store.lastContent(); got != "two" {
		t.Fatalf("stored content = %q, want %q", got, "two")
	}
	if page.Modified() {
		t.Error("page still modified")
	}
}

func TestNilPageIsIgnored(t *testing.T) {
	store := &fakeStore{}
	c := NewSaveCoordinator(store, func() *Page { return nil }, nil, testLogger())

	c.TrySavePage()
	c.Join()
	if err := c.SavePageNow(); err != nil {
		t.Fatalf("SavePageNow: %v", err)
	}
	if got := store.callCount(); got != 0 {
		t.Fatalf("store calls = %d, want 0", got)
	}
}
