// Package models defines the domain types shared across canopy's layers.
package models

import "time"

// PageFile is the lightweight on-disk representation returned by storage
// list operations.
type PageFile struct {
	Path      string    `json:"path"` // storage-relative file path, e.g. "Projects/Go.md"
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TreeNode is one node of the page tree as served to API clients.
type TreeNode struct {
	Name       string `json:"name"`     // full page name, e.g. "Projects:Go"
	Basename   string `json:"basename"` // last name part, e.g. "Go"
	Title      string `json:"title,omitempty"`
	HasContent bool   `json:"has_content"`
	NChildren  int    `json:"n_children"`
	LookupPath []int  `json:"lookup_path"`
}

// TaskItem is a checkbox line surfaced by the tasks plugin indexer.
type TaskItem struct {
	Page string `json:"page"`
	Text string `json:"text"`
	Line int    `json:"line"`
	Done bool   `json:"done"`
}

// PageLink is a directed edge between two pages.
type PageLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
