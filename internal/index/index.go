package index

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/starford/librarian/internal/apperr"
)

// Index is the single owner of the in-memory store and its persistence.
// Every collaborator receives the same *Index; there is no global state.
type Index struct {
	store   *Store
	persist *Manager
	backend SnapshotStore
	logger  *slog.Logger
	loadErr error
	closed  atomic.Bool
}

// Open loads the snapshot from backend. Loading fails soft: a missing,
// unreadable or corrupt snapshot yields an empty index, and the problem
// is logged and reported by LoadError.
func Open(backend SnapshotStore, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &Index{
		store:   NewStore(),
		persist: NewManager(backend, logger),
		backend: backend,
		logger:  logger,
	}

	snap, err := backend.Load()
	switch {
	case err == nil:
		idx.store.Replace(snap)
		logger.Info("index: loaded", slog.Int("files", idx.store.Len()))
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("index: no snapshot, starting empty")
	default:
		idx.loadErr = err
		logger.Warn("index: snapshot unreadable, starting empty", slog.String("error", err.Error()))
	}
	idx.persist.markDurable(idx.store.Version())
	return idx
}

// LoadError returns the error that made Open start from an empty index,
// or nil.
func (idx *Index) LoadError() error { return idx.loadErr }

func (idx *Index) usable() error {
	if idx == nil || idx.store == nil || idx.persist == nil {
		return apperr.ErrNotLoaded
	}
	if idx.closed.Load() {
		return apperr.ErrClosed
	}
	return nil
}

// Upsert stores the tags of path. An empty tag list removes the path.
func (idx *Index) Upsert(path string, mtime float64, tags []string) error {
	if err := idx.usable(); err != nil {
		return err
	}
	idx.store.Upsert(filepath.Clean(path), mtime, tags)
	return idx.persist.mutated(idx.store.Snapshot)
}

// Remove drops path from the index.
func (idx *Index) Remove(path string) error {
	if err := idx.usable(); err != nil {
		return err
	}
	idx.store.Remove(filepath.Clean(path))
	return idx.persist.mutated(idx.store.Snapshot)
}

// Clear drops every entry.
func (idx *Index) Clear() error {
	if err := idx.usable(); err != nil {
		return err
	}
	idx.store.Clear()
	return idx.persist.mutated(idx.store.Snapshot)
}

// Batch runs fn with per-mutation saves suspended. Batches nest; when the
// outermost one returns without error and something changed, the index is
// saved exactly once. If fn fails or panics nothing is saved and the
// in-memory changes stay until the next successful save.
func (idx *Index) Batch(fn func() error) error {
	if err := idx.usable(); err != nil {
		return err
	}
	idx.persist.begin()
	done := false
	defer func() {
		if !done {
			idx.persist.abort()
		}
	}()

	if err := fn(); err != nil {
		done = true
		idx.persist.abort()
		return err
	}
	done = true
	return idx.persist.commit(idx.store.Snapshot)
}

// Flush saves pending changes now.
func (idx *Index) Flush() error {
	if idx == nil || idx.persist == nil {
		return apperr.ErrNotLoaded
	}
	return idx.persist.Save(idx.store.Snapshot())
}

// Close writes any pending changes and releases the backend. Later
// mutations fail with apperr.ErrClosed.
func (idx *Index) Close() error {
	if idx == nil || idx.persist == nil {
		return apperr.ErrNotLoaded
	}
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := idx.persist.Save(idx.store.Snapshot())
	if cerr := idx.backend.Close(); err == nil {
		err = cerr
	}
	return err
}

// Get returns the record for path.
func (idx *Index) Get(path string) (FileRecord, bool) {
	return idx.store.Get(filepath.Clean(path))
}

// Len returns the number of indexed files.
func (idx *Index) Len() int { return idx.store.Len() }

// Paths returns every indexed path, sorted.
func (idx *Index) Paths() []string { return idx.store.Paths() }

// Records returns every record sorted by path.
func (idx *Index) Records() []FileRecord { return idx.store.Records() }

// Tags returns every tag with its file count.
func (idx *Index) Tags() []TagCount { return idx.store.Tags() }

// FilesFor returns the files carrying tag, newest first.
func (idx *Index) FilesFor(tag string) []FileRecord { return idx.store.FilesFor(tag) }

// PathsUnder returns the indexed paths inside dir.
func (idx *Index) PathsUnder(dir string) []string { return idx.store.PathsUnder(dir) }

// Search runs a name/tag search over the index.
func (idx *Index) Search(query string, limit int) []SearchResult {
	return idx.store.Search(query, limit)
}

// Snapshot returns a copy of the current contents.
func (idx *Index) Snapshot() Snapshot { return idx.store.Snapshot() }

// Stats summarizes index and persistence state.
type Stats struct {
	Files     int    `json:"files"`
	Tags      int    `json:"tags"`
	Version   uint64 `json:"version"`
	Dirty     bool   `json:"dirty"`
	Saves     uint64 `json:"saves"`
	SaveFails uint64 `json:"save_failures"`
	LoadError string `json:"load_error,omitempty"`
}

// Stats returns a point-in-time summary.
func (idx *Index) Stats() Stats {
	saves, fails := idx.persist.SaveStats()
	st := Stats{
		Files:     idx.store.Len(),
		Tags:      len(idx.store.Tags()),
		Version:   idx.store.Version(),
		Dirty:     idx.persist.Dirty(),
		Saves:     saves,
		SaveFails: fails,
	}
	if idx.loadErr != nil {
		st.LoadError = idx.loadErr.Error()
	}
	return st
}
