package notebook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/canopyhq/canopy/internal/apperr"
)

// ErrSessionClosed is returned by operations on a session that has been
// closed.
var ErrSessionClosed = errors.New("notebook: session closed")

// Session is one open editor on a page. SetContent stages content in
// memory; Save, TrySave and the autosave ticker persist it through the
// session's SaveCoordinator. A notebook keeps at most one session per
// page, so concurrent editors share staged content.
type Session struct {
	nb     *Notebook
	page   *Page
	coord  *SaveCoordinator
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// OpenSession returns the edit session for path, creating one when the
// page has none. The page's current file content seeds the session; a
// page without a file starts empty.
func (nb *Notebook) OpenSession(path PagePath) (*Session, error) {
	if path.IsRoot() {
		return nil, fmt.Errorf("notebook: the root is not a page: %w", apperr.ErrInvalidName)
	}
	nb.smu.Lock()
	defer nb.smu.Unlock()
	if s, ok := nb.sessions[path.Name]; ok {
		return s, nil
	}
	page, err := nb.GetPage(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{nb: nb, page: page, cancel: cancel}
	s.coord = NewSaveCoordinator(nb, s.currentPage, nb.report, nb.logger)
	nb.sessions[path.Name] = s
	if nb.autosave > 0 {
		go s.autosaveLoop(ctx, nb.autosave)
	}
	return s, nil
}

// Session returns the open session for name, if any.
func (nb *Notebook) Session(name string) (*Session, bool) {
	nb.smu.Lock()
	defer nb.smu.Unlock()
	s, ok := nb.sessions[name]
	return s, ok
}

// takeSession detaches and returns the session for name, if any.
func (nb *Notebook) takeSession(name string) *Session {
	nb.smu.Lock()
	defer nb.smu.Unlock()
	s := nb.sessions[name]
	delete(nb.sessions, name)
	return s
}

func (nb *Notebook) dropSession(s *Session) {
	nb.smu.Lock()
	defer nb.smu.Unlock()
	if nb.sessions[s.page.Name] == s {
		delete(nb.sessions, s.page.Name)
	}
}

// Close saves and closes every open session.
func (nb *Notebook) Close() error {
	nb.smu.Lock()
	sessions := make([]*Session, 0, len(nb.sessions))
	for _, s := range nb.sessions {
		sessions = append(sessions, s)
	}
	nb.smu.Unlock()
	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Path returns the page the session edits.
func (s *Session) Path() PagePath { return s.page.PagePath }

// Page returns the live page object.
func (s *Session) Page() *Page { return s.page }

func (s *Session) currentPage() *Page { return s.page }

// SetContent stages new content in memory. Nothing is written until
// Save, TrySave or the autosave ticker runs.
func (s *Session) SetContent(content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.page.SetContent(content)
	return nil
}

// Save writes staged content in the calling goroutine.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.coord.SavePageNow()
}

// TrySave schedules a background save and returns immediately.
func (s *Session) TrySave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.coord.TrySavePage()
}

// Modified reports whether the session has staged content that is not
// on disk yet.
func (s *Session) Modified() bool { return s.page.Modified() }

// PendingError returns the error of the last failed background save,
// or nil once a save has succeeded since.
func (s *Session) PendingError() error { return s.coord.PendingError() }

// Close saves outstanding changes in the foreground, stops the autosave
// ticker and detaches the session from its notebook. Closing twice is a
// no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	err := s.coord.SavePageNow()
	s.nb.dropSession(s)
	return err
}

// discard closes the session without saving. Used when the page is
// deleted or moved away underneath it.
func (s *Session) discard() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.coord.Join()
}

func (s *Session) autosaveLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TrySave()
		}
	}
}
