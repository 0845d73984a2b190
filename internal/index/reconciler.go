package index

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/storage"
)

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// ChangeKind classifies a pending path.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota
	ChangeRemoved
)

func (k ChangeKind) String() string {
	if k == ChangeRemoved {
		return "removed"
	}
	return "modified"
}

// ReconcileResult describes one applied burst of changes.
type ReconcileResult struct {
	ID       string        `json:"id"`
	Paths    []string      `json:"paths"`
	Indexed  []string      `json:"indexed,omitempty"`
	Removed  []string      `json:"removed,omitempty"`
	Skipped  []string      `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Reconciler collapses bursts of file change notifications into single
// index batches. Notify records a path and restarts the quiet-period
// timer; when the timer fires the worker started by Run drains every
// pending path and applies them inside one Index.Batch.
type Reconciler struct {
	idx      *Index
	store    storage.Provider
	scanner  Scanner
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	pending   map[string]ChangeKind
	timer     *time.Timer
	observers []func(ReconcileResult)

	ready   chan struct{}
	runMu   sync.Mutex // one batch at a time
	batches atomic.Uint64
}

// NewReconciler returns a Reconciler with the given quiet period.
func NewReconciler(idx *Index, store storage.Provider, sc Scanner, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		idx:      idx,
		store:    store,
		scanner:  sc,
		logger:   logger,
		interval: interval,
		pending:  make(map[string]ChangeKind),
		ready:    make(chan struct{}, 1),
	}
}

// OnReconcile registers fn to run after every applied batch. Observers
// run on the worker goroutine and must not call Flush.
func (r *Reconciler) OnReconcile(fn func(ReconcileResult)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Notify records a change to path. The latest kind for a path wins.
func (r *Reconciler) Notify(path string, kind ChangeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[path] = kind
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, r.wake)
		return
	}
	r.timer.Reset(r.interval)
}

func (r *Reconciler) wake() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Pending returns the number of paths waiting for reconciliation.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Batches returns how many non-empty batches have been applied.
func (r *Reconciler) Batches() uint64 { return r.batches.Load() }

// Run applies pending changes whenever the quiet period elapses, until
// ctx is cancelled. Changes still pending at that point are left for
// Flush.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.timer != nil {
				r.timer.Stop()
			}
			r.mu.Unlock()
			return nil
		case <-r.ready:
			r.Flush()
		}
	}
}

// Flush applies every pending change now and returns what it did.
func (r *Reconciler) Flush() ReconcileResult {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]ChangeKind)
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	if len(pending) == 0 {
		return ReconcileResult{}
	}

	res := ReconcileResult{ID: uuid.NewString(), Paths: make([]string, 0, len(pending))}
	for p := range pending {
		res.Paths = append(res.Paths, p)
	}
	sort.Strings(res.Paths)

	start := time.Now()
	res.Err = r.idx.Batch(func() error {
		for _, p := range res.Paths {
			_, was := r.idx.Get(p)
			if pending[p] == ChangeRemoved {
				if err := r.idx.Remove(p); err != nil {
					return err
				}
				if was {
					res.Removed = append(res.Removed, p)
				}
				continue
			}

			indexed, err := RescanFile(r.idx, r.store, r.scanner, p)
			if err != nil {
				if errors.Is(err, apperr.ErrClosed) || errors.Is(err, apperr.ErrNotLoaded) {
					return err
				}
				r.logger.Warn("reconcile: rescan failed",
					slog.String("path", p),
					slog.String("error", err.Error()))
				res.Skipped = append(res.Skipped, p)
				continue
			}
			switch {
			case indexed:
				res.Indexed = append(res.Indexed, p)
			case was:
				res.Removed = append(res.Removed, p)
			}
		}
		return nil
	})
	res.Duration = time.Since(start)
	r.batches.Add(1)

	if res.Err != nil {
		r.logger.Error("reconcile: batch failed",
			slog.String("batch_id", res.ID),
			slog.Int("paths", len(res.Paths)),
			slog.String("error", res.Err.Error()))
	} else {
		r.logger.Debug("reconcile: batch applied",
			slog.String("batch_id", res.ID),
			slog.Int("paths", len(res.Paths)),
			slog.Int("indexed", len(res.Indexed)),
			slog.Int("removed", len(res.Removed)),
			slog.Int("skipped", len(res.Skipped)),
			slog.Duration("took", res.Duration))
	}

	for _, fn := range observers {
		fn(res)
	}
	return res
}
