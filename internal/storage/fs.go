package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/models"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to the scan root
	filter *Filter
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist. A nil filter indexes the default
// extensions with no excludes.
func NewFS(root string, filter *Filter) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if filter == nil {
		if filter, err = NewFilter(abs, nil, nil, false); err != nil {
			return nil, err
		}
	}
	return &FS{root: abs, filter: filter}, nil
}

// Root returns the absolute scan root.
func (f *FS) Root() string { return f.root }

// Resolve cleans path and rejects any result that escapes the root.
func (f *FS) Resolve(path string) (string, error) {
	if path == "" {
		return f.root, nil
	}
	p := filepath.Clean(path)
	if !filepath.IsAbs(p) {
		p = filepath.Join(f.root, p)
	}
	if p != f.root && !strings.HasPrefix(p, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: %s: %w", path, apperr.ErrOutsideRoot)
	}
	return p, nil
}

// Supported reports whether path has an indexed extension and is not excluded.
func (f *FS) Supported(path string) bool {
	abs, err := f.Resolve(path)
	if err != nil {
		return false
	}
	return f.filter.Supported(abs)
}

// SkipDir reports whether the directory at path is excluded from walking.
func (f *FS) SkipDir(path string) bool {
	abs, err := f.Resolve(path)
	if err != nil {
		return true
	}
	return f.filter.SkipDir(abs)
}

// List walks dir and returns metadata for every supported file.
// Entries that vanish during the walk are skipped.
func (f *FS) List(dir string) ([]models.FileMeta, error) {
	base, err := f.Resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []models.FileMeta
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) && p != base {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			if f.filter.SkipDir(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !f.filter.Supported(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, models.FileMeta{Path: p, ModTime: info.ModTime(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", notFound(dir, err))
	}
	return out, nil
}

// Stat returns metadata for the file at path.
func (f *FS) Stat(path string) (models.FileMeta, error) {
	abs, err := f.Resolve(path)
	if err != nil {
		return models.FileMeta{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileMeta{}, fmt.Errorf("storage: stat: %w", notFound(path, err))
	}
	if info.IsDir() {
		return models.FileMeta{}, fmt.Errorf("storage: stat %s: is a directory: %w", path, apperr.ErrNotFound)
	}
	return models.FileMeta{Path: abs, ModTime: info.ModTime(), Size: info.Size()}, nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read: %w", notFound(path, err))
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.Resolve(path)
	if err != nil {
		return err
	}
	return WriteFileAtomic(abs, content)
}

// Delete removes a file.
func (f *FS) Delete(path string) error {
	abs, err := f.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete: %w", notFound(path, err))
	}
	return nil
}

// Move renames a file within the root. The target must not exist.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.Resolve(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.Resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(absOld); err != nil {
		return fmt.Errorf("storage: move: %w", notFound(oldPath, err))
	}
	if _, err := os.Lstat(absNew); err == nil {
		return fmt.Errorf("storage: move to %s: %w", newPath, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	return nil
}

// notFound maps a missing-file error onto apperr.ErrNotFound.
func notFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", path, apperr.ErrNotFound)
	}
	return err
}
