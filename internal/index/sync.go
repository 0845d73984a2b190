package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/storage"
)

// readConcurrency bounds parallel file reads during a full sync.
const readConcurrency = 8

// Scanner extracts the tags stored for a file.
type Scanner interface {
	Tags(data []byte) []string
}

// SyncResult counts what a sync changed.
type SyncResult struct {
	Added    int           `json:"added"`
	Updated  int           `json:"updated"`
	Removed  int           `json:"removed"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

type scanned struct {
	path  string
	mtime float64
	tags  []string
	ok    bool
}

// Sync walks the scan root and brings the index up to date:
//   - files gone from disk are removed
//   - new files, and files whose mtime changed, are read and re-tagged
//   - with full set, every file is re-read regardless of mtime
//   - entries written meanwhile with a newer mtime are kept
//
// Files are read before any mutation; all changes are then applied in one
// batch, so a sync costs a single save. ctx only cancels the read phase.
func Sync(ctx context.Context, idx *Index, store storage.Provider, sc Scanner, full bool, logger *slog.Logger) (SyncResult, error) {
	start := time.Now()
	var res SyncResult

	metas, err := store.List("")
	if err != nil {
		return res, err
	}
	known := idx.store.MTimes()

	disk := make(map[string]struct{}, len(metas))
	var work []scanned
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		mt := m.MTime()
		if old, ok := known[m.Path]; ok && !full && old == mt {
			continue
		}
		work = append(work, scanned{path: m.Path, mtime: mt})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i := range work {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := store.Read(work[i].path)
			if err != nil {
				logger.Warn("sync: read failed", slog.String("path", work[i].path), slog.String("error", err.Error()))
				return nil
			}
			work[i].tags = sc.Tags(data)
			work[i].ok = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}

	// The reconciler may have written entries while files were read. An
	// entry newer than what this sync observed is left alone.
	err = idx.Batch(func() error {
		for p, mt := range known {
			if _, ok := disk[p]; ok {
				continue
			}
			if cur, ok := idx.Get(p); !ok || cur.MTime > mt {
				continue
			}
			if _, err := store.Stat(p); err == nil {
				continue
			}
			if err := idx.Remove(p); err != nil {
				return err
			}
			res.Removed++
			logger.Debug("sync: removed stale", slog.String("path", p))
		}
		for _, w := range work {
			cur, existed := idx.Get(w.path)
			switch {
			case !w.ok:
				res.Skipped++
				continue
			case existed && cur.MTime > w.mtime:
				logger.Debug("sync: newer entry kept", slog.String("path", w.path))
				continue
			case len(w.tags) == 0:
				if existed {
					if err := idx.Remove(w.path); err != nil {
						return err
					}
					res.Removed++
				}
				continue
			}
			if err := idx.Upsert(w.path, w.mtime, w.tags); err != nil {
				return err
			}
			if existed {
				res.Updated++
			} else {
				res.Added++
			}
		}
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	logger.Info("sync: done",
		slog.Bool("full", full),
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
		slog.Int("skipped", res.Skipped),
		slog.Duration("took", res.Duration))
	return res, nil
}

// RescanFile re-reads a single path and updates its entry. A missing or
// no-longer-supported file is removed. It reports whether the path is
// indexed afterwards. Read failures other than a missing file are
// returned and leave the index untouched.
func RescanFile(idx *Index, store storage.Provider, sc Scanner, path string) (bool, error) {
	abs, err := store.Resolve(path)
	if err != nil {
		return false, err
	}
	if !store.Supported(abs) {
		return false, idx.Remove(abs)
	}

	meta, err := store.Stat(abs)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, idx.Remove(abs)
		}
		return false, err
	}
	data, err := store.Read(abs)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, idx.Remove(abs)
		}
		return false, err
	}

	tags := sc.Tags(data)
	if err := idx.Upsert(abs, meta.MTime(), tags); err != nil {
		return false, err
	}
	return len(tags) > 0, nil
}
