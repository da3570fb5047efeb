// Package notebook owns the page tree on disk: page naming, page
// lifecycle, and the save coordination between interactive edits and
// storage.
package notebook

import (
	"fmt"
	"strings"

	"github.com/canopyhq/canopy/internal/apperr"
	"github.com/canopyhq/canopy/internal/storage"
)

// Sep separates the segments of a page name: "Projects:Canopy:Roadmap".
const Sep = ":"

// forbiddenChars are rejected in page name segments. Most of them collide
// with the file mapping or the markup; "+" is reserved as the relative
// link prefix when it leads a segment.
const forbiddenChars = "/\\?#*\"'<>|%\t\n\r"

// PagePath identifies a page by its full colon-separated name. The zero
// value is the root, which is not itself a page.
type PagePath struct {
	Name string
}

// Root is the top of the page tree.
var Root = PagePath{}

// NewPagePath validates and normalizes name into a PagePath. Segments are
// trimmed of surrounding whitespace; empty segments, forbidden characters
// and a leading "+" are rejected with apperr.ErrInvalidName.
func NewPagePath(name string) (PagePath, error) {
	clean, err := CleanName(name)
	if err != nil {
		return PagePath{}, err
	}
	return PagePath{Name: clean}, nil
}

// CleanName normalizes a raw page name, or fails with
// apperr.ErrInvalidName.
func CleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("notebook: empty page name: %w", apperr.ErrInvalidName)
	}
	parts := strings.Split(name, Sep)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			return "", fmt.Errorf("notebook: empty segment in %q: %w", name, apperr.ErrInvalidName)
		case strings.HasPrefix(part, "+"):
			return "", fmt.Errorf("notebook: segment %q starts with reserved '+': %w", part, apperr.ErrInvalidName)
		case strings.HasPrefix(part, "."):
			return "", fmt.Errorf("notebook: segment %q starts with '.': %w", part, apperr.ErrInvalidName)
		case strings.ContainsAny(part, forbiddenChars):
			return "", fmt.Errorf("notebook: segment %q contains forbidden characters: %w", part, apperr.ErrInvalidName)
		}
		parts[i] = part
	}
	return strings.Join(parts, Sep), nil
}

func (p PagePath) String() string { return p.Name }

// IsRoot reports whether p is the root of the tree.
func (p PagePath) IsRoot() bool { return p.Name == "" }

// Parts returns the name segments, nil for the root.
func (p PagePath) Parts() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(p.Name, Sep)
}

// Basename returns the final segment, "" for the root.
func (p PagePath) Basename() string {
	if i := strings.LastIndex(p.Name, Sep); i >= 0 {
		return p.Name[i+1:]
	}
	return p.Name
}

// Parent returns the parent path; the root is its own parent.
func (p PagePath) Parent() PagePath {
	if i := strings.LastIndex(p.Name, Sep); i >= 0 {
		return PagePath{Name: p.Name[:i]}
	}
	return Root
}

// Child returns the path of a direct child.
func (p PagePath) Child(basename string) (PagePath, error) {
	if p.IsRoot() {
		return NewPagePath(basename)
	}
	return NewPagePath(p.Name + Sep + basename)
}

// IsAncestorOf reports whether p lies strictly above other.
func (p PagePath) IsAncestorOf(other PagePath) bool {
	if p.IsRoot() {
		return !other.IsRoot()
	}
	return strings.HasPrefix(other.Name, p.Name+Sep)
}

// FilePath returns the notebook-relative file behind p.
func (p PagePath) FilePath() string {
	return storage.FilePath(p.Name)
}

// DirPath returns the notebook-relative directory p's children live in.
func (p PagePath) DirPath() string {
	return storage.DirPath(p.Name)
}

// PathFromFile maps a notebook-relative file path back to a page path.
func PathFromFile(rel string) (PagePath, error) {
	name := storage.PageName(rel)
	if name == "" {
		return PagePath{}, fmt.Errorf("notebook: %q is not a page file: %w", rel, apperr.ErrInvalidName)
	}
	return NewPagePath(name)
}
