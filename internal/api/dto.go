package api

import (
	"time"

	"github.com/canopyhq/canopy/internal/models"
)

// CreatePageRequest is the body of POST /pages.
type CreatePageRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// UpdatePageRequest is the body of PUT /pages/*.
type UpdatePageRequest struct {
	Content string `json:"content"`
}

// MovePageRequest is the body of POST /pages/move.
type MovePageRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PageDetail is the full page payload returned by the page endpoints.
type PageDetail struct {
	Name        string         `json:"name"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Checksum    string         `json:"checksum"`
	Tags        []string       `json:"tags"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Backlinks   []string       `json:"backlinks"`
	Links       []string       `json:"links"`
	HasContent  bool           `json:"has_content"`
	NChildren   int            `json:"n_children"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PageSummary is a lightweight page item in list responses.
type PageSummary struct {
	Name       string    `json:"name"`
	Basename   string    `json:"basename"`
	Title      string    `json:"title,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	HasContent bool      `json:"has_content"`
	NChildren  int       `json:"n_children"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TreeResponse is one level of a tree model.
type TreeResponse struct {
	Path  string            `json:"path"`
	Nodes []models.TreeNode `json:"nodes"`
}

// ResolveResponse maps a page or tag name to its tree position(s).
type ResolveResponse struct {
	Name  string   `json:"name"`
	Paths []string `json:"paths"`
}

// TagItem is one entry of the tag listing.
type TagItem struct {
	Name   string `json:"name"`
	NPages int    `json:"n_pages"`
}

// OpenSessionRequest is the body of POST /sessions.
type OpenSessionRequest struct {
	Name string `json:"name"`
}

// SaveSessionRequest is the body of POST /sessions/save.
type SaveSessionRequest struct {
	Name string `json:"name"`
}

// DraftRequest is the body of PUT /sessions/*.
type DraftRequest struct {
	Content string `json:"content"`
}

// SessionState describes an edit session to clients.
type SessionState struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	Modified  bool   `json:"modified"`
	SaveError string `json:"save_error,omitempty"`
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
