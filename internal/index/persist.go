package index

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the durable copy of a Store. Saves are serialized and a
// snapshot older than the last durable one is never written, so the file
// only moves forward. Batches suspend per-mutation saves; the outermost
// successful batch exit saves once.
type Manager struct {
	backend SnapshotStore
	logger  *slog.Logger

	saveMu  sync.Mutex
	durable uint64 // version of the last written snapshot

	mu      sync.Mutex
	depth   int
	dirty   bool
	pending uint64 // highest version whose save failed
	saves   uint64
	fails   uint64
}

// NewManager returns a Manager writing through backend.
func NewManager(backend SnapshotStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{backend: backend, logger: logger}
}

// Save writes snap unless an equal or newer version is already durable.
func (m *Manager) Save(snap Snapshot) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if snap.Version <= m.durable {
		m.settled(m.durable)
		return nil
	}
	start := time.Now()
	if err := m.backend.Save(snap); err != nil {
		m.mu.Lock()
		m.fails++
		m.mu.Unlock()
		return fmt.Errorf("index: save: %w", err)
	}
	m.durable = snap.Version

	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	m.settled(snap.Version)
	m.logger.Debug("index: snapshot saved",
		slog.Int("files", len(snap.Files)),
		slog.Uint64("version", snap.Version),
		slog.Duration("took", time.Since(start)))
	return nil
}

// markDurable records version as already matching the durable copy.
func (m *Manager) markDurable(version uint64) {
	m.saveMu.Lock()
	m.durable = version
	m.saveMu.Unlock()
}

// InBatch reports whether a batch is open.
func (m *Manager) InBatch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}

// Dirty reports whether memory holds mutations not yet written.
func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.depth++
	m.mu.Unlock()
}

// abort closes a batch without saving. The dirty flag survives, so the
// next successful batch exit writes the mutations made so far.
func (m *Manager) abort() {
	m.mu.Lock()
	m.depth--
	m.mu.Unlock()
}

// commit closes a batch and saves if it was the outermost one and
// anything changed.
func (m *Manager) commit(snapshot func() Snapshot) error {
	m.mu.Lock()
	m.depth--
	flush := m.depth == 0 && m.dirty
	if flush {
		m.dirty = false
	}
	m.mu.Unlock()

	if !flush {
		return nil
	}
	snap := snapshot()
	if err := m.Save(snap); err != nil {
		m.setDirty(snap.Version)
		return err
	}
	return nil
}

// mutated records a mutation: inside a batch it only marks the state
// dirty, outside it saves immediately.
func (m *Manager) mutated(snapshot func() Snapshot) error {
	m.mu.Lock()
	if m.depth > 0 {
		m.dirty = true
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	snap := snapshot()
	if err := m.Save(snap); err != nil {
		m.setDirty(snap.Version)
		return err
	}
	return nil
}

func (m *Manager) setDirty(version uint64) {
	m.mu.Lock()
	m.dirty = true
	if version > m.pending {
		m.pending = version
	}
	m.mu.Unlock()
}

// settled clears the dirty flag once version covers every failed save.
// An open batch keeps it set until its own commit.
func (m *Manager) settled(version uint64) {
	m.mu.Lock()
	if m.depth == 0 && version >= m.pending {
		m.dirty = false
	}
	m.mu.Unlock()
}

// SaveStats reports how many saves succeeded and failed.
func (m *Manager) SaveStats() (saves, failures uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.fails
}
