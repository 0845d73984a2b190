// Package storage defines the file-system abstraction over the scan root.
package storage

import "github.com/starford/librarian/internal/models"

// Provider is the interface for file operations under the scan root.
// Paths may be absolute (inside the root) or relative to it; returned
// paths are always absolute and cleaned.
type Provider interface {
	// Root returns the absolute scan root.
	Root() string
	// Resolve maps path to its absolute, cleaned form and rejects paths
	// outside the root.
	Resolve(path string) (string, error)
	// Supported reports whether the file at path takes part in indexing.
	Supported(path string) bool
	// SkipDir reports whether the directory at path is excluded.
	SkipDir(path string) bool
	// List returns metadata for every supported file under dir.
	List(dir string) ([]models.FileMeta, error)
	// Stat returns metadata for a single file.
	Stat(path string) (models.FileMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath; an existing target is a conflict.
	Move(oldPath, newPath string) error
}
