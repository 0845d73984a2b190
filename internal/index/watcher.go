package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/librarian/internal/storage"
)

// Watcher feeds file system notifications under the scan root into a
// Reconciler. New directories are watched as they appear; excluded
// directories are never watched.
type Watcher struct {
	fsw    *fsnotify.Watcher
	rec    *Reconciler
	store  storage.Provider
	logger *slog.Logger
}

// NewWatcher starts watching the scan root. Events are delivered only
// once Run is called.
func NewWatcher(rec *Reconciler, store storage.Provider, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsw: fsw, rec: rec, store: store, logger: logger}
	if err := w.addDirsRecursive(store.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Watch is NewWatcher followed by Run.
func Watch(ctx context.Context, rec *Reconciler, store storage.Provider, logger *slog.Logger) error {
	w, err := NewWatcher(rec, store, logger)
	if err != nil {
		return err
	}
	return w.Run(ctx)
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.logger.Info("watcher: started", slog.String("root", w.store.Root()))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchNewDir(path)
			return
		}
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		// A vanished directory takes its indexed files with it. Its
		// files get no events of their own when it is moved away.
		w.unwatchTree(path)
		if under := w.rec.idx.PathsUnder(path); len(under) > 0 {
			for _, p := range under {
				w.rec.Notify(p, ChangeRemoved)
			}
			w.logger.Debug("watcher: directory gone", slog.String("path", path), slog.Int("files", len(under)))
		}
	}

	if !w.store.Supported(path) {
		return
	}
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		w.rec.Notify(path, ChangeModified)
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.rec.Notify(path, ChangeRemoved)
	}
}

// watchNewDir starts watching a directory created (or moved in) at
// runtime and queues the supported files it already holds.
func (w *Watcher) watchNewDir(dir string) {
	if w.store.SkipDir(dir) {
		return
	}
	if err := w.addDirsRecursive(dir); err != nil {
		w.logger.Warn("watcher: add new dir failed",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("watcher: watching new dir", slog.String("path", dir))

	metas, err := w.store.List(dir)
	if err != nil {
		w.logger.Warn("watcher: list new dir failed",
			slog.String("path", dir),
			slog.String("error", err.Error()))
		return
	}
	for _, m := range metas {
		w.rec.Notify(m.Path, ChangeModified)
	}
}

// unwatchTree drops the watches of dir and everything below it. Watches
// follow the inode, so a moved directory would otherwise keep reporting
// under its old name.
func (w *Watcher) unwatchTree(dir string) {
	prefix := dir + string(filepath.Separator)
	for _, p := range w.fsw.WatchList() {
		if p == dir || strings.HasPrefix(p, prefix) {
			_ = w.fsw.Remove(p)
		}
	}
}

// addDirsRecursive adds root and all its non-excluded subdirectories.
func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.store.SkipDir(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
