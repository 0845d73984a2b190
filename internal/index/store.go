// Package index maintains the in-memory tag index, persists it as an
// atomic snapshot and keeps it in step with the file system.
package index

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileEntry is the stored state of one indexed file.
type FileEntry struct {
	MTime float64  `json:"mtime"`
	Tags  []string `json:"tags"`
}

// FileRecord is a FileEntry together with its path.
type FileRecord struct {
	Path  string   `json:"path"`
	MTime float64  `json:"mtime"`
	Tags  []string `json:"tags"`
}

// TagCount is a tag together with the number of files carrying it.
type TagCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Snapshot is a complete, self-consistent copy of the index contents.
// Version increases with every mutation of the owning Store.
type Snapshot struct {
	Version uint64               `json:"version"`
	Files   map[string]FileEntry `json:"files"`
}

// Store is the in-memory index: a path → entry map plus the derived
// tag → paths map. Both are mutated together under one exclusive lock,
// so a tag maps to a path exactly when that path's entry lists the tag.
type Store struct {
	mu      sync.RWMutex
	files   map[string]FileEntry
	tags    map[string]map[string]struct{}
	version uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		files: make(map[string]FileEntry),
		tags:  make(map[string]map[string]struct{}),
	}
}

// Upsert replaces the entry for path. An empty tag list removes it, so
// every stored entry carries at least one tag.
func (s *Store) Upsert(path string, mtime float64, tags []string) {
	tags = normalizeTags(tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.unlink(path)
	if len(tags) == 0 {
		if removed {
			s.version++
		}
		return
	}
	s.files[path] = FileEntry{MTime: mtime, Tags: tags}
	for _, t := range tags {
		paths, ok := s.tags[t]
		if !ok {
			paths = make(map[string]struct{})
			s.tags[t] = paths
		}
		paths[path] = struct{}{}
	}
	s.version++
}

// Remove deletes the entry for path. Removing an unknown path is a no-op.
func (s *Store) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlink(path) {
		s.version++
	}
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]FileEntry)
	s.tags = make(map[string]map[string]struct{})
	s.version++
}

// unlink removes path from both maps. Callers hold s.mu.
func (s *Store) unlink(path string) bool {
	old, ok := s.files[path]
	if !ok {
		return false
	}
	delete(s.files, path)
	for _, t := range old.Tags {
		paths := s.tags[t]
		delete(paths, path)
		if len(paths) == 0 {
			delete(s.tags, t)
		}
	}
	return true
}

// Replace installs snap as the whole index contents. Entries without
// tags are dropped.
func (s *Store) Replace(snap Snapshot) {
	files := make(map[string]FileEntry, len(snap.Files))
	tags := make(map[string]map[string]struct{})
	for p, e := range snap.Files {
		e.Tags = normalizeTags(e.Tags)
		if len(e.Tags) == 0 {
			continue
		}
		p = filepath.Clean(p)
		files[p] = e
		for _, t := range e.Tags {
			if tags[t] == nil {
				tags[t] = make(map[string]struct{})
			}
			tags[t][p] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = files
	s.tags = tags
	s.version++
}

// Snapshot copies the current contents.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := make(map[string]FileEntry, len(s.files))
	for p, e := range s.files {
		files[p] = FileEntry{MTime: e.MTime, Tags: append([]string(nil), e.Tags...)}
	}
	return Snapshot{Version: s.version, Files: files}
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Get returns the record for path.
func (s *Store) Get(path string) (FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.files[path]
	if !ok {
		return FileRecord{}, false
	}
	return record(path, e), true
}

// Len returns the number of indexed files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Paths returns every indexed path, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Records returns every record sorted by path.
func (s *Store) Records() []FileRecord {
	s.mu.RLock()
	out := make([]FileRecord, 0, len(s.files))
	for p, e := range s.files {
		out = append(out, record(p, e))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// MTimes returns the stored mtime of every indexed path.
func (s *Store) MTimes() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.files))
	for p, e := range s.files {
		out[p] = e.MTime
	}
	return out
}

// Tags returns every tag with its file count, most used first and then
// by name.
func (s *Store) Tags() []TagCount {
	s.mu.RLock()
	out := make([]TagCount, 0, len(s.tags))
	for t, paths := range s.tags {
		out = append(out, TagCount{Name: t, Count: len(paths)})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FilesFor returns the records carrying tag, newest first and then by path.
func (s *Store) FilesFor(tag string) []FileRecord {
	s.mu.RLock()
	paths := s.tags[tag]
	out := make([]FileRecord, 0, len(paths))
	for p := range paths {
		out = append(out, record(p, s.files[p]))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MTime != out[j].MTime {
			return out[i].MTime > out[j].MTime
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// PathsUnder returns the indexed paths inside directory dir, sorted.
func (s *Store) PathsUnder(dir string) []string {
	prefix := filepath.Clean(dir) + string(filepath.Separator)
	s.mu.RLock()
	var out []string
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func record(path string, e FileEntry) FileRecord {
	return FileRecord{Path: path, MTime: e.MTime, Tags: append([]string(nil), e.Tags...)}
}

// normalizeTags drops empty and duplicate tags, keeping first-seen order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
