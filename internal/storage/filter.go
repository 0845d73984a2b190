package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/denormal/go-gitignore"
)

// DefaultExtensions are the file types indexed when none are configured.
var DefaultExtensions = []string{".md", ".taskpaper"}

// Filter decides which paths under the root take part in indexing.
type Filter struct {
	root       string
	extensions map[string]struct{}
	exclude    []string // doublestar patterns, slash-separated, relative to root
	gitIgnore  gitignore.GitIgnore
}

// NewFilter builds a Filter for root. Extensions are matched
// case-insensitively with or without the leading dot. When
// respectGitignore is set, root/.gitignore rules are honoured.
func NewFilter(root string, extensions, exclude []string, respectGitignore bool) (*Filter, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	f := &Filter{
		root:       root,
		extensions: make(map[string]struct{}, len(extensions)),
	}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	for _, pattern := range exclude {
		pattern = filepath.ToSlash(strings.TrimSpace(pattern))
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("storage: invalid exclude pattern %q", pattern)
		}
		f.exclude = append(f.exclude, pattern)
	}
	if respectGitignore {
		f.gitIgnore = loadGitignore(root)
	}
	return f, nil
}

// Supported reports whether the file at abs should be indexed.
func (f *Filter) Supported(abs string) bool {
	if _, ok := f.extensions[strings.ToLower(filepath.Ext(abs))]; !ok {
		return false
	}
	return !f.ignored(abs, false)
}

// SkipDir reports whether the directory at abs should be neither walked
// nor watched. Hidden directories below the root are always skipped.
func (f *Filter) SkipDir(abs string) bool {
	if abs == f.root {
		return false
	}
	if strings.HasPrefix(filepath.Base(abs), ".") {
		return true
	}
	return f.ignored(abs, true)
}

func (f *Filter) ignored(abs string, isDir bool) bool {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range f.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	if f.gitIgnore != nil {
		if m := f.gitIgnore.Relative(rel, isDir); m != nil && m.Ignore() {
			return true
		}
	}
	return false
}

func loadGitignore(root string) gitignore.GitIgnore {
	fh, err := os.Open(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	defer fh.Close()
	return gitignore.New(fh, root, nil)
}
