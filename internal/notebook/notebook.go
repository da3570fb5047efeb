package notebook

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/canopyhq/canopy/internal/apperr"
	"github.com/canopyhq/canopy/internal/index"
	"github.com/canopyhq/canopy/internal/storage"
)

// Notebook ties the page files on disk to the page index and hands out
// edit sessions. Writes go to storage first and to the index second;
// storage is the source of truth and the index can always be rebuilt
// from it.
type Notebook struct {
	store    storage.Provider
	index    index.PageIndex
	logger   *slog.Logger
	autosave time.Duration
	report   SaveErrorFunc

	smu      sync.Mutex
	sessions map[string]*Session
}

// Option configures a Notebook.
type Option func(*Notebook)

// WithLogger sets the notebook logger.
func WithLogger(logger *slog.Logger) Option {
	return func(nb *Notebook) { nb.logger = logger }
}

// WithAutosave sets the autosave interval for edit sessions. Zero
// disables the autosave ticker.
func WithAutosave(interval time.Duration) Option {
	return func(nb *Notebook) { nb.autosave = interval }
}

// WithSaveErrorReporter sets the collaborator that surfaces failed
// foreground saves to the user-facing layer.
func WithSaveErrorReporter(report SaveErrorFunc) Option {
	return func(nb *Notebook) { nb.report = report }
}

// New creates a Notebook over store and ix.
func New(store storage.Provider, ix index.PageIndex, opts ...Option) *Notebook {
	nb := &Notebook{
		store:    store,
		index:    ix,
		logger:   slog.Default(),
		autosave: DefaultAutosaveInterval,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(nb)
	}
	return nb
}

// Index returns the page index behind the notebook.
func (nb *Notebook) Index() index.PageIndex { return nb.index }

// Store returns the storage provider behind the notebook.
func (nb *Notebook) Store() storage.Provider { return nb.store }

// GetPage loads the page at path. A page with no file yet is returned
// empty rather than as an error; pages come into existence by being
// saved.
func (nb *Notebook) GetPage(path PagePath) (*Page, error) {
	if path.IsRoot() {
		return nil, fmt.Errorf("notebook: the root is not a page: %w", apperr.ErrInvalidName)
	}
	data, err := nb.store.Read(path.FilePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewPage(path), nil
		}
		return nil, err
	}
	return loadedPage(path, data), nil
}

// StorePage persists the page's current content and feeds it to the
// index. An index failure does not fail the save: the content is durable
// once written, and the next Sync repairs the index from the checksums.
func (nb *Notebook) StorePage(page *Page) error {
	if page.IsRoot() {
		return fmt.Errorf("notebook: the root is not a page: %w", apperr.ErrInvalidName)
	}
	content, rev := page.snapshot()
	if err := nb.store.Write(page.FilePath(), content); err != nil {
		return err
	}
	if err := nb.index.UpsertPage(page.Name, content); err != nil {
		nb.logger.Warn("notebook: index update failed after save",
			slog.String("page", page.Name),
			slog.String("error", err.Error()))
	}
	page.markStored(rev)
	return nil
}

// DeletePage removes the page's file and its index record. Child pages
// survive: their files stay on disk and the index demotes the deleted
// row to a placeholder. Deleting a page that exists in neither storage
// nor the index is apperr.ErrNotFound.
func (nb *Notebook) DeletePage(path PagePath) error {
	if path.IsRoot() {
		return fmt.Errorf("notebook: the root is not a page: %w", apperr.ErrInvalidName)
	}
	if s := nb.takeSession(path.Name); s != nil {
		s.discard()
	}

	existed, err := nb.store.Exists(path.FilePath())
	if err != nil {
		return err
	}
	if existed {
		if err := nb.store.Delete(path.FilePath()); err != nil {
			return err
		}
	}
	if err := nb.index.DeletePage(path.Name); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			if !existed {
				return fmt.Errorf("notebook: page %q: %w", path.Name, apperr.ErrNotFound)
			}
			return nil
		}
		return err
	}
	return nil
}

// MovePage renames a page together with its whole subtree. The target
// name must be free. The index drops the old subtree and re-indexes the
// moved files from their new location; link targets inside the moved
// pages keep their recorded text and re-resolve on their next edit.
func (nb *Notebook) MovePage(old, new PagePath) error {
	if old.IsRoot() || new.IsRoot() {
		return fmt.Errorf("notebook: the root cannot be moved: %w", apperr.ErrInvalidName)
	}
	if old.Name == new.Name {
		return fmt.Errorf("notebook: move to the same name: %w", apperr.ErrInvalidName)
	}
	if old.IsAncestorOf(new) {
		return fmt.Errorf("notebook: cannot move %q into its own subtree: %w", old.Name, apperr.ErrInvalidName)
	}

	for _, target := range []string{new.FilePath(), new.DirPath()} {
		occupied, err := nb.store.Exists(target)
		if err != nil {
			return err
		}
		if occupied {
			return fmt.Errorf("notebook: page %q: %w", new.Name, apperr.ErrAlreadyExists)
		}
	}

	// Flush the editor before looking at the files so staged edits travel
	// with the page.
	if s := nb.takeSession(old.Name); s != nil {
		if err := s.Close(); err != nil {
			return err
		}
	}

	srcFile, err := nb.store.Exists(old.FilePath())
	if err != nil {
		return err
	}
	srcDir, err := nb.store.Exists(old.DirPath())
	if err != nil {
		return err
	}
	if !srcFile && !srcDir {
		return fmt.Errorf("notebook: page %q: %w", old.Name, apperr.ErrNotFound)
	}

	if srcFile {
		if err := nb.store.Move(old.FilePath(), new.FilePath()); err != nil {
			return err
		}
	}
	if srcDir {
		if err := nb.store.Move(old.DirPath(), new.DirPath()); err != nil {
			return err
		}
	}

	if err := nb.index.DeleteSubtree(old.Name); err != nil && !errors.Is(err, index.ErrNotFound) {
		return err
	}
	if srcFile {
		if err := nb.reindexFile(new.FilePath()); err != nil {
			return err
		}
	}
	if srcDir {
		metas, err := nb.store.List(new.DirPath())
		if err != nil {
			return err
		}
		for _, m := range metas {
			if err := nb.reindexFile(m.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (nb *Notebook) reindexFile(rel string) error {
	name := storage.PageName(rel)
	if name == "" {
		return nil
	}
	data, err := nb.store.Read(rel)
	if err != nil {
		return err
	}
	return nb.index.UpsertPage(name, data)
}
