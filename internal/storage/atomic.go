package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter replaces files via temp file → fsync → rename so readers
// observe either the previous or the new content, never a partial write.
type AtomicWriter struct {
	// Perm is applied to the new file; zero means 0o644.
	Perm os.FileMode
	// BeforeRename, when set, runs after the temp file is durable and
	// before it replaces the target. A non-nil error aborts the write.
	BeforeRename func(tmpPath string) error
}

// WriteFileAtomic writes content to path with a zero-value AtomicWriter.
func WriteFileAtomic(path string, content []byte) error {
	return AtomicWriter{}.WriteFile(path, content)
}

// WriteFile atomically replaces path with content. The temp file lives in
// the target directory so the final rename never crosses filesystems.
func (w AtomicWriter) WriteFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	perm := w.Perm
	if perm == 0 {
		perm = 0o644
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("storage: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if w.BeforeRename != nil {
		if err := w.BeforeRename(tmpName); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true

	// Persist the directory entry; not every platform supports it.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
