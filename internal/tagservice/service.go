// Package tagservice is the query and action surface over the tag index.
package tagservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/storage"
)

// Change kinds reported to the change callback.
const (
	ChangeIndexed = "indexed"
	ChangeRemoved = "removed"
)

// FileDetail is a file body together with its index entry.
type FileDetail struct {
	Path    string    `json:"path"`
	RelPath string    `json:"rel_path"`
	Content string    `json:"content"`
	Digest  string    `json:"digest"`
	Tags    []string  `json:"tags"`
	Indexed bool      `json:"indexed"`
	ModTime time.Time `json:"updated_at"`
}

// Status summarizes the engine for health and UI purposes.
type Status struct {
	Root  string             `json:"root"`
	Index index.Stats        `json:"index"`
	Cache storage.CacheStats `json:"cache"`
}

// Service coordinates storage, the content cache and the index.
type Service struct {
	store    storage.Provider
	idx      *index.Index
	cache    *storage.Cache
	scanner  index.Scanner
	logger   *slog.Logger
	rescans  singleflight.Group
	onChange func(kind, path string)
	onRescan func(res index.SyncResult, full bool)
}

// NewService creates a new tag service.
func NewService(store storage.Provider, idx *index.Index, cache *storage.Cache, sc index.Scanner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, idx: idx, cache: cache, scanner: sc, logger: logger}
}

// OnChange registers fn to be told about paths changed by service actions.
func (s *Service) OnChange(fn func(kind, path string)) {
	s.onChange = fn
}

// OnRescan registers fn to be told when a full-root rescan completes.
func (s *Service) OnRescan(fn func(res index.SyncResult, full bool)) {
	s.onRescan = fn
}

func (s *Service) notify(kind, path string) {
	if s.onChange != nil {
		s.onChange(kind, path)
	}
}

// Observe applies a reconcile outcome to the cache and reports the
// indexed and removed paths to the change callback.
func (s *Service) Observe(res index.ReconcileResult) {
	for _, p := range res.Paths {
		s.cache.Invalidate(p)
	}
	for _, p := range res.Removed {
		s.notify(ChangeRemoved, p)
	}
	for _, p := range res.Indexed {
		s.notify(ChangeIndexed, p)
	}
}

// AllTags lists every tag with its file count.
func (s *Service) AllTags(_ context.Context) []index.TagCount {
	return s.idx.Tags()
}

// FilesForTag lists the files carrying tag, newest first. A leading '#'
// is ignored.
func (s *Service) FilesForTag(_ context.Context, tag string) []index.FileRecord {
	return s.idx.FilesFor(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// AllFiles lists every indexed file sorted by path.
func (s *Service) AllFiles(_ context.Context) []index.FileRecord {
	return s.idx.Records()
}

// Search matches query against file names and tags.
func (s *Service) Search(_ context.Context, query string, limit int) []index.SearchResult {
	return s.idx.Search(query, limit)
}

// GetFile returns the content of path through the cache.
func (s *Service) GetFile(_ context.Context, path string) (*FileDetail, error) {
	c, err := s.cache.Get(path)
	if err != nil {
		return nil, err
	}
	rel, _ := filepath.Rel(s.store.Root(), c.Path)
	d := &FileDetail{
		Path:    c.Path,
		RelPath: filepath.ToSlash(rel),
		Content: string(c.Data),
		Digest:  c.Digest,
		Tags:    []string{},
		ModTime: c.ModTime,
	}
	if rec, ok := s.idx.Get(c.Path); ok {
		d.Tags = rec.Tags
		d.Indexed = true
	}
	return d, nil
}

// RescanAll brings the whole index up to date. Concurrent calls with the
// same mode share one run, and that run is not bound to any single
// caller's context: a caller that gives up only stops waiting.
func (s *Service) RescanAll(ctx context.Context, full bool) (index.SyncResult, error) {
	key := "incremental"
	if full {
		key = "full"
	}
	runCtx := context.WithoutCancel(ctx)
	ch := s.rescans.DoChan(key, func() (any, error) {
		res, err := index.Sync(runCtx, s.idx, s.store, s.scanner, full, s.logger)
		if err != nil {
			return res, err
		}
		if full {
			s.cache.Purge()
		}
		if s.onRescan != nil {
			s.onRescan(res, full)
		}
		return res, nil
	})
	var v any
	var err error
	select {
	case r := <-ch:
		v, err = r.Val, r.Err
	case <-ctx.Done():
		return index.SyncResult{}, ctx.Err()
	}
	if err != nil {
		return index.SyncResult{}, err
	}
	return v.(index.SyncResult), nil
}

// RescanOne re-reads a single file and reports whether it is indexed.
func (s *Service) RescanOne(_ context.Context, path string) (bool, error) {
	abs, err := s.store.Resolve(path)
	if err != nil {
		return false, err
	}
	_, was := s.idx.Get(abs)
	indexed, err := index.RescanFile(s.idx, s.store, s.scanner, abs)
	if err != nil {
		return false, err
	}
	s.cache.Invalidate(abs)
	switch {
	case indexed:
		s.notify(ChangeIndexed, abs)
	case was:
		s.notify(ChangeRemoved, abs)
	}
	return indexed, nil
}

// RemoveOne drops path from the index without touching the file.
func (s *Service) RemoveOne(_ context.Context, path string) error {
	abs, err := s.store.Resolve(path)
	if err != nil {
		return err
	}
	if _, ok := s.idx.Get(abs); !ok {
		return fmt.Errorf("tagservice: %s: %w", path, apperr.ErrNotFound)
	}
	if err := s.idx.Remove(abs); err != nil {
		return err
	}
	s.cache.Invalidate(abs)
	s.notify(ChangeRemoved, abs)
	return nil
}

// Rename gives path a new base name in the same directory and moves its
// index entry. It returns the new absolute path.
func (s *Service) Rename(ctx context.Context, path, newName string) (string, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" || newName == "." || newName == ".." || strings.ContainsAny(newName, `/\`) {
		return "", fmt.Errorf("tagservice: invalid name %q", newName)
	}
	abs, err := s.store.Resolve(path)
	if err != nil {
		return "", err
	}
	return s.relocate(ctx, abs, filepath.Join(filepath.Dir(abs), newName))
}

// Move puts path into directory destDir (relative to the root or
// absolute inside it) and moves its index entry.
func (s *Service) Move(ctx context.Context, path, destDir string) (string, error) {
	abs, err := s.store.Resolve(path)
	if err != nil {
		return "", err
	}
	dir, err := s.store.Resolve(destDir)
	if err != nil {
		return "", err
	}
	return s.relocate(ctx, abs, filepath.Join(dir, filepath.Base(abs)))
}

// relocate renames on disk, then removes the old entry and indexes the
// new path in a single batch.
func (s *Service) relocate(_ context.Context, from, to string) (string, error) {
	if from == to {
		return to, nil
	}
	if err := s.store.Move(from, to); err != nil {
		return "", err
	}
	var indexed bool
	err := s.idx.Batch(func() error {
		if err := s.idx.Remove(from); err != nil {
			return err
		}
		var err error
		indexed, err = index.RescanFile(s.idx, s.store, s.scanner, to)
		return err
	})
	s.cache.Invalidate(from)
	s.cache.Invalidate(to)
	if err != nil {
		return to, fmt.Errorf("tagservice: reindex after move: %w", err)
	}

	s.logger.Info("tagservice: moved", slog.String("from", from), slog.String("to", to))
	s.notify(ChangeRemoved, from)
	if indexed {
		s.notify(ChangeIndexed, to)
	}
	return to, nil
}

// Delete removes the file from disk and from the index.
func (s *Service) Delete(_ context.Context, path string) error {
	abs, err := s.store.Resolve(path)
	if err != nil {
		return err
	}
	if _, err := s.store.Stat(abs); err != nil {
		return err
	}
	if err := s.store.Delete(abs); err != nil {
		return err
	}
	s.cache.Invalidate(abs)
	if err := s.idx.Remove(abs); err != nil {
		return err
	}
	s.logger.Info("tagservice: deleted", slog.String("path", abs))
	s.notify(ChangeRemoved, abs)
	return nil
}

// Batch runs fn as one index batch.
func (s *Service) Batch(_ context.Context, fn func() error) error {
	return s.idx.Batch(fn)
}

// Clear drops the whole index.
func (s *Service) Clear(_ context.Context) error {
	s.cache.Purge()
	return s.idx.Clear()
}

// Status reports index and cache state.
func (s *Service) Status(_ context.Context) Status {
	return Status{
		Root:  s.store.Root(),
		Index: s.idx.Stats(),
		Cache: s.cache.Stats(),
	}
}

// ResolveLink finds the file a wiki link target refers to. Candidates are
// target itself and, without an extension, target + ".md". For each the
// lookup tries the directory of from (if given), then an indexed file
// with the same base name, then an indexed path ending in target.
func (s *Service) ResolveLink(_ context.Context, target, from string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("tagservice: empty link target: %w", apperr.ErrNotFound)
	}
	candidates := []string{target}
	if !strings.EqualFold(filepath.Ext(target), ".md") {
		candidates = append(candidates, target+".md")
	}

	paths := s.idx.Paths()
	for _, c := range candidates {
		if from != "" {
			if abs, err := s.store.Resolve(from); err == nil {
				if p, ok := s.existing(filepath.Join(filepath.Dir(abs), filepath.FromSlash(c))); ok {
					return p, nil
				}
			}
		}

		name := strings.ToLower(filepath.Base(filepath.FromSlash(c)))
		for _, p := range paths {
			if strings.ToLower(filepath.Base(p)) == name {
				if p, ok := s.existing(p); ok {
					return p, nil
				}
			}
		}

		if strings.Contains(c, "/") {
			suffix := strings.ToLower(filepath.FromSlash(c))
			for _, p := range paths {
				if strings.HasSuffix(strings.ToLower(p), suffix) {
					if p, ok := s.existing(p); ok {
						return p, nil
					}
				}
			}
		}
	}
	return "", fmt.Errorf("tagservice: link %q: %w", target, apperr.ErrNotFound)
}

func (s *Service) existing(path string) (string, bool) {
	meta, err := s.store.Stat(path)
	if err != nil {
		if !storage.IsNotFound(err) && !errors.Is(err, apperr.ErrOutsideRoot) {
			s.logger.Debug("tagservice: stat failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return "", false
	}
	return meta.Path, true
}
