package index

import "errors"

// ErrLockTimeout is returned when the cross-process snapshot lock could
// not be acquired in time.
var ErrLockTimeout = errors.New("index: snapshot lock timeout")

// SnapshotStore persists whole snapshots. Save must replace the durable
// copy atomically: a reader sees the previous or the new snapshot, never
// a mix. Load reports a missing snapshot with an error matching
// fs.ErrNotExist.
type SnapshotStore interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
	Close() error
}
