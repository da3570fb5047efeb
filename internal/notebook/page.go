package notebook

import "sync"

// Page is one page held in memory: its path, its current content, and a
// modified flag tracking whether that content has reached storage.
//
// Content carries a revision counter so a save that raced with a newer
// edit cannot wipe the modified flag: the flag only clears when the saved
// revision is still the current one.
type Page struct {
	PagePath

	mu       sync.Mutex
	content  []byte
	rev      int64
	modified bool
	onDisk   bool
}

// NewPage returns an empty, unmodified page at path.
func NewPage(path PagePath) *Page {
	return &Page{PagePath: path}
}

// loadedPage builds a page from content already in storage.
func loadedPage(path PagePath, content []byte) *Page {
	return &Page{PagePath: path, content: content, onDisk: true}
}

// Content returns the current content. The returned slice must be treated
// as read-only.
func (p *Page) Content() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

// SetContent replaces the content, bumps the revision and marks the page
// modified.
func (p *Page) SetContent(content []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = content
	p.rev++
	p.modified = true
}

// Modified reports whether the page has edits not yet saved.
func (p *Page) Modified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modified
}

// Exists reports whether the page has ever been observed in storage.
func (p *Page) Exists() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onDisk
}

// snapshot returns the content and the revision it belongs to, for a save
// attempt.
func (p *Page) snapshot() ([]byte, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content, p.rev
}

// markStored records that the content at rev reached storage. The
// modified flag clears only if no newer edit arrived while the save ran;
// a stale rev leaves the page dirty so the next save picks the newer
// content up.
func (p *Page) markStored(rev int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisk = true
	if p.rev == rev {
		p.modified = false
	}
}
