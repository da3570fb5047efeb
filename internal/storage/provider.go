// Package storage defines the notebook file-system abstraction.
package storage

import "github.com/canopyhq/canopy/internal/models"

// Provider is the interface for notebook file operations. Paths are always
// relative to the notebook root and use forward slashes.
type Provider interface {
	// List returns metadata for every page file under dir.
	List(dir string) ([]models.PageFile, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Exists reports whether path exists.
	Exists(path string) (bool, error)
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath. Both files and directories move.
	Move(oldPath, newPath string) error
}
