// Package testutil provides shared test helpers for setting up scan roots and indexes.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/scanner"
	"github.com/starford/librarian/internal/storage"
	"github.com/starford/librarian/internal/tagservice"
)

// Logger returns a logger that discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestIndex opens an index backed by a JSON snapshot in a temp dir.
// It is closed automatically.
func TestIndex(t *testing.T) (*index.Index, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.json")
	idx := index.Open(index.NewJSONFile(path, time.Second), Logger())
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

// TestRoot creates a temporary scan root with a storage.Provider.
func TestRoot(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	return store.Root(), store
}

// TestService wires a service over a fresh root and index.
func TestService(t *testing.T) (string, *tagservice.Service, *index.Index) {
	t.Helper()
	root, store := TestRoot(t)
	idx, _ := TestIndex(t)
	cache, err := storage.NewCache(store, storage.DefaultCacheSize)
	if err != nil {
		t.Fatal(err)
	}
	svc := tagservice.NewService(store, idx, cache, scanner.New(scanner.ModeAll, nil), Logger())
	return root, svc, idx
}

// WriteFile creates rel under root and returns its absolute path.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}
