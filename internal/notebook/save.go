package notebook

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultAutosaveInterval is the edit session autosave period when none
// is configured.
const DefaultAutosaveInterval = 15 * time.Second

// PageStore persists a page's current content. Notebook is the
// production implementation.
type PageStore interface {
	StorePage(page *Page) error
}

// SaveErrorFunc receives the error of a failed foreground save so the
// calling layer can surface it to the user.
type SaveErrorFunc func(page *Page, err error)

// SaveCoordinator schedules saves for a single page. TrySavePage writes
// in the background and never blocks the caller; SavePageNow writes in
// the calling goroutine. At most one background save runs at a time.
//
// After a background save fails the coordinator stops trusting the
// background path: the next TrySavePage runs in the foreground instead,
// so the error reaches the caller through the reporter. Any completed
// save clears the failure state again.
//
// Methods are meant to be called from a single goroutine; only the
// internal background worker runs concurrently with them.
type SaveCoordinator struct {
	store  PageStore
	page   func() *Page
	report SaveErrorFunc
	logger *slog.Logger

	mu       sync.Mutex
	inflight chan struct{}
	saveErr  error
}

// NewSaveCoordinator creates a coordinator that saves the page returned
// by current through store. report may be nil.
func NewSaveCoordinator(store PageStore, current func() *Page, report SaveErrorFunc, logger *slog.Logger) *SaveCoordinator {
	if report == nil {
		report = func(*Page, error) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveCoordinator{store: store, page: current, report: report, logger: logger}
}

// TrySavePage schedules a background save of the current page and
// returns immediately. Unmodified pages are not written. While a save
// is running the call is dropped; the page stays marked modified, so a
// later call picks the change up.
func (c *SaveCoordinator) TrySavePage() {
	page := c.page()
	if page == nil || !page.Modified() {
		return
	}
	c.mu.Lock()
	if c.inflight != nil {
		c.mu.Unlock()
		return
	}
	if c.saveErr != nil {
		c.mu.Unlock()
		c.logger.Debug("save: background save pending an error, saving in foreground",
			slog.String("page", page.Name))
		_ = c.SavePageNow() // the failure reaches the caller through the reporter
		return
	}
	done := make(chan struct{})
	c.inflight = done
	c.mu.Unlock()
	go c.backgroundSave(page, done)
}

func (c *SaveCoordinator) backgroundSave(page *Page, done chan struct{}) {
	defer close(done)
	err := c.store.StorePage(page)
	c.mu.Lock()
	c.inflight = nil
	c.saveErr = err
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("save: background save failed",
			slog.String("page", page.Name),
			slog.String("error", err.Error()))
	}
}

// SavePageNow saves the current page in the calling goroutine. It waits
// for a running background save first and skips the write when the page
// has nothing new. A failure goes to the error reporter as well as the
// caller; it does not set the background failure state, which only the
// background worker owns.
func (c *SaveCoordinator) SavePageNow() error {
	c.Join()
	page := c.page()
	if page == nil || !page.Modified() {
		return nil
	}
	if err := c.store.StorePage(page); err != nil {
		c.logger.Error("save: foreground save failed",
			slog.String("page", page.Name),
			slog.String("error", err.Error()))
		c.report(page, err)
		return err
	}
	c.mu.Lock()
	c.saveErr = nil
	c.mu.Unlock()
	return nil
}

// Join blocks until no background save is running.
func (c *SaveCoordinator) Join() {
	c.mu.Lock()
	done := c.inflight
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// PendingError returns the error of the last background save, or nil
// once any save has succeeded since.
func (c *SaveCoordinator) PendingError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveErr
}
