package storage

import (
	"path/filepath"
	"strings"
)

// PageName converts a notebook-relative file path to a colon-separated
// page name: "Projects/Canopy.md" becomes "Projects:Canopy". It returns ""
// for paths outside the page namespace.
func PageName(rel string) string {
	rel = filepath.ToSlash(rel)
	if !strings.HasSuffix(rel, PageExt) {
		return ""
	}
	name := strings.Trim(strings.TrimSuffix(rel, PageExt), "/")
	if name == "" {
		return ""
	}
	return strings.ReplaceAll(name, "/", ":")
}

// FilePath converts a page name to its notebook-relative file path:
// "Projects:Canopy" becomes "Projects/Canopy.md".
func FilePath(name string) string {
	return strings.ReplaceAll(name, ":", "/") + PageExt
}

// DirPath converts a page name to the directory its child pages live in:
// "Projects:Canopy" becomes "Projects/Canopy".
func DirPath(name string) string {
	return strings.ReplaceAll(name, ":", "/")
}
