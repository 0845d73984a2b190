package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/starford/librarian/internal/storage"
)

const (
	jsonFormatVersion  = 1
	defaultLockTimeout = 5 * time.Second
	lockRetryDelay     = 25 * time.Millisecond
)

// jsonDocument is the on-disk layout of the snapshot file.
type jsonDocument struct {
	Version int                   `json:"version"`
	Files   map[string]*FileEntry `json:"files"`
}

// JSONFile stores snapshots as a single JSON document. Saves go through
// an atomic temp-file rename and hold an advisory lock on <path>.lock so
// cooperating processes do not interleave writes.
type JSONFile struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
	writer      storage.AtomicWriter
}

// NewJSONFile returns a JSONFile backend for path. lockTimeout bounds the
// wait for the cross-process lock; zero selects a default.
func NewJSONFile(path string, lockTimeout time.Duration) *JSONFile {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &JSONFile{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
	}
}

// Path returns the snapshot file location.
func (f *JSONFile) Path() string { return f.path }

// Load reads the snapshot file. Entries with a null body are skipped.
func (f *JSONFile) Load() (Snapshot, error) {
	empty := Snapshot{Files: map[string]FileEntry{}}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return empty, fmt.Errorf("index: read snapshot: %w", err)
	}
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return empty, fmt.Errorf("index: decode snapshot %s: %w", f.path, err)
	}
	if doc.Files == nil {
		return empty, fmt.Errorf("index: decode snapshot %s: missing files", f.path)
	}

	snap := Snapshot{Files: make(map[string]FileEntry, len(doc.Files))}
	for p, e := range doc.Files {
		if e == nil {
			continue
		}
		snap.Files[p] = *e
	}
	return snap, nil
}

// Save writes snap atomically under the cross-process lock.
func (f *JSONFile) Save(snap Snapshot) error {
	doc := jsonDocument{Version: jsonFormatVersion, Files: make(map[string]*FileEntry, len(snap.Files))}
	for p, e := range snap.Files {
		e := e
		doc.Files[p] = &e
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("index: mkdir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.lockTimeout)
	defer cancel()
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("index: lock snapshot: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, f.lock.Path())
	}
	defer f.lock.Unlock() //nolint:errcheck // released on close anyway

	if err := f.writer.WriteFile(f.path, data); err != nil {
		return fmt.Errorf("index: write snapshot: %w", err)
	}
	return nil
}

// Close releases the lock handle.
func (f *JSONFile) Close() error {
	return f.lock.Close()
}
