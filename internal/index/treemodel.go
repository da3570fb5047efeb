package index

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LookupPath addresses a tree node by position: one zero-based child
// offset per level. The empty path addresses the invisible root.
type LookupPath []int

func (p LookupPath) String() string {
	if len(p) == 0 {
		return ""
	}
	parts := make([]string, len(p))
	for i, n := range p {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ":")
}

// ParseLookupPath parses the colon-separated form produced by String.
func ParseLookupPath(s string) (LookupPath, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ":")
	path := make(LookupPath, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("index: invalid lookup path %q", s)
		}
		path[i] = n
	}
	return path, nil
}

// Equal reports whether p and q address the same position.
func (p LookupPath) Equal(q LookupPath) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// TreeIter pairs a resolved tree position with the data behind it. Page
// nodes carry Page; the tag level of the tags model carries Tag instead.
type TreeIter struct {
	Path LookupPath
	Page *PageRow
	Tag  *TagRow
}

// TreeModel is the read surface a hierarchical view consumes: positional
// resolution plus reverse lookup from a page name to its position or
// positions. Implementations cache resolved iters and drop the whole
// cache on any index change event, trading repeat lookups for simple
// correctness.
type TreeModel interface {
	// NChildrenTop returns the number of top-level nodes.
	NChildrenTop() (int, error)
	// IterAt resolves path. It returns nil with no error when the path
	// does not currently point at a node.
	IterAt(path LookupPath) (*TreeIter, error)
	// Find returns the first position of the page called name. Absence
	// from this particular view is a normal ErrNotFound.
	Find(name string) (LookupPath, error)
	// FindAll returns every position of the page called name. A page
	// known to the index but absent from the view yields an empty slice.
	FindAll(name string) ([]LookupPath, error)
	// Teardown detaches the model from the index. The model must not be
	// used afterwards.
	Teardown()
}

// iterCacheSize bounds the per-model iter cache. Lookups behind a miss are
// cheap single-row queries, so a modest cache absorbs view refresh bursts
// without holding the tree in memory.
const iterCacheSize = 512

// modelBase carries the cache-and-invalidate machinery shared by the tree
// models. It subscribes itself to the index and purges the cache on every
// event. Events arrive under the index writer lock, so the purge always
// completes before the mutation that caused it returns, and no stale iter
// can be observed afterwards.
type modelBase struct {
	ix    *Index
	cache *lru.Cache[string, *TreeIter]
}

func newModelBase(ix *Index) *modelBase {
	cache, _ := lru.New[string, *TreeIter](iterCacheSize)
	b := &modelBase{ix: ix, cache: cache}
	ix.Subscribe(b)
	return b
}

func (b *modelBase) RowInserted(Event)         { b.cache.Purge() }
func (b *modelBase) RowChanged(Event)          { b.cache.Purge() }
func (b *modelBase) RowStructureChanged(Event) { b.cache.Purge() }
func (b *modelBase) RowDeleted(Event)          { b.cache.Purge() }

// Teardown unsubscribes from the index and drops the cache.
func (b *modelBase) Teardown() {
	b.ix.Unsubscribe(b)
	b.cache.Purge()
}

func (b *modelBase) cached(path LookupPath) (*TreeIter, bool) {
	return b.cache.Get(path.String())
}

func (b *modelBase) remember(iter *TreeIter) *TreeIter {
	b.cache.Add(iter.Path.String(), iter)
	return iter
}

// CacheLen reports the number of cached iters.
func (b *modelBase) CacheLen() int { return b.cache.Len() }

// PagesModel adapts the page tree to the TreeModel surface: the top level
// holds the root's children and every page sits under its parent.
type PagesModel struct {
	*modelBase
}

// NewPagesModel returns a model attached to ix. Call Teardown when the
// model is no longer needed.
func NewPagesModel(ix *Index) *PagesModel {
	return &PagesModel{modelBase: newModelBase(ix)}
}

func (m *PagesModel) NChildrenTop() (int, error) {
	return childCount(m.ix.db, rootID)
}

// IterAt resolves path one level at a time, reusing cached prefixes.
func (m *PagesModel) IterAt(path LookupPath) (*TreeIter, error) {
	if len(path) == 0 {
		return nil, nil
	}
	if iter, ok := m.cached(path); ok {
		return iter, nil
	}

	parentID := rootID
	var iter *TreeIter
	for depth := 1; depth <= len(path); depth++ {
		prefix := path[:depth]
		if cachedIter, ok := m.cached(prefix); ok {
			iter = cachedIter
			parentID = iter.Page.ID
			continue
		}
		row, err := childAt(m.ix.db, parentID, prefix[depth-1])
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		r := row
		iter = m.remember(&TreeIter{
			Path: append(LookupPath(nil), prefix...),
			Page: &r,
		})
		parentID = row.ID
	}
	return iter, nil
}

// Find returns the position of the page called name.
func (m *PagesModel) Find(name string) (LookupPath, error) {
	row, err := pageByName(m.ix.db, name)
	if err != nil {
		return nil, err
	}
	if row.IsRoot() {
		return nil, fmt.Errorf("index: root has no position: %w", ErrNotFound)
	}
	return lookupPathOf(m.ix.db, row)
}

// FindAll returns the position of the page. Pages occur exactly once in
// this model.
func (m *PagesModel) FindAll(name string) ([]LookupPath, error) {
	path, err := m.Find(name)
	if err != nil {
		return nil, err
	}
	return []LookupPath{path}, nil
}

var _ TreeModel = (*PagesModel)(nil)

// TagsModel adapts the tag cloud to the TreeModel surface: tags in name
// order at the top level, the pages carrying a tag beneath it. A page
// appears once under every tag it carries, so FindAll can return several
// positions. Every position in this model is one or two levels deep.
type TagsModel struct {
	*modelBase
}

// NewTagsModel returns a model attached to ix. Call Teardown when the
// model is no longer needed.
func NewTagsModel(ix *Index) *TagsModel {
	return &TagsModel{modelBase: newModelBase(ix)}
}

func (m *TagsModel) NChildrenTop() (int, error) {
	return tagCount(m.ix.db)
}

func (m *TagsModel) IterAt(path LookupPath) (*TreeIter, error) {
	if len(path) == 0 || len(path) > 2 {
		return nil, nil
	}
	if iter, ok := m.cached(path); ok {
		return iter, nil
	}

	tag, err := tagAt(m.ix.db, path[0])
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(path) == 1 {
		t := tag
		return m.remember(&TreeIter{
			Path: append(LookupPath(nil), path...),
			Tag:  &t,
		}), nil
	}

	row, err := taggedPageAt(m.ix.db, tag.ID, path[1])
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r := row
	return m.remember(&TreeIter{
		Path: append(LookupPath(nil), path...),
		Page: &r,
	}), nil
}

// FindTag returns the top-level position of tag.
func (m *TagsModel) FindTag(name string) (LookupPath, error) {
	tag, err := tagByName(m.ix.db, name)
	if err != nil {
		return nil, err
	}
	pos, err := tagPosition(m.ix.db, tag)
	if err != nil {
		return nil, err
	}
	return LookupPath{pos}, nil
}

// Find returns the first position of the page called name, scanning tags
// in name order. A page carrying no tags is absent from this view.
func (m *TagsModel) Find(name string) (LookupPath, error) {
	all, err := m.FindAll(name)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("index: page %q not tagged: %w", name, ErrNotFound)
	}
	return all[0], nil
}

// FindAll returns one position per tag the page carries.
func (m *TagsModel) FindAll(name string) ([]LookupPath, error) {
	row, err := pageByName(m.ix.db, name)
	if err != nil {
		return nil, err
	}
	tags, err := tagsOfPage(m.ix.db, row.ID)
	if err != nil {
		return nil, err
	}
	var out []LookupPath
	for _, tag := range tags {
		tpos, err := tagPosition(m.ix.db, tag)
		if err != nil {
			return nil, err
		}
		ppos, err := taggedPagePosition(m.ix.db, tag.ID, row)
		if err != nil {
			return nil, err
		}
		out = append(out, LookupPath{tpos, ppos})
	}
	return out, nil
}

var _ TreeModel = (*TagsModel)(nil)
