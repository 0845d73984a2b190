package index

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	path  TEXT PRIMARY KEY,
	mtime REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS file_tags (
	path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	pos  INTEGER NOT NULL,
	tag  TEXT NOT NULL,
	UNIQUE(path, tag)
);

CREATE INDEX IF NOT EXISTS idx_file_tags_tag ON file_tags(tag);
`

// SQLite stores snapshots in a SQLite database. Each Save replaces the
// tables inside one transaction, so readers see either snapshot whole.
//
// The schema is applied on first use rather than on open. A database file
// that cannot be read is moved aside to <path>.corrupt and replaced by an
// empty one; Load reports the original error.
type SQLite struct {
	path string

	mu    sync.Mutex
	conn  *sql.DB
	ready bool
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db := &SQLite{path: path}
	if err := db.connect(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *SQLite) connect() error {
	conn, err := sql.Open("sqlite3", db.path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("index: open db: %w", err)
	}
	db.conn = conn
	db.ready = false
	return nil
}

// prepare pings the database and applies the schema once.
func (db *SQLite) prepare() error {
	if db.ready {
		return nil
	}
	if err := db.conn.Ping(); err != nil {
		return fmt.Errorf("index: ping: %w", err)
	}
	if _, err := db.conn.Exec(sqliteSchemaSQL); err != nil {
		return fmt.Errorf("index: apply schema: %w", err)
	}
	db.ready = true
	return nil
}

// quarantine moves the unreadable database aside and starts a fresh one.
func (db *SQLite) quarantine(cause error) error {
	_ = db.conn.Close()
	aside := db.path + ".corrupt"
	if err := os.Rename(db.path, aside); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("index: move aside: %w (load: %w)", err, cause)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(db.path + suffix)
	}
	if err := db.connect(); err != nil {
		return err
	}
	if err := db.prepare(); err != nil {
		return fmt.Errorf("index: fresh db: %w (load: %w)", err, cause)
	}
	return fmt.Errorf("index: unreadable db moved to %s: %w", aside, cause)
}

// Load reads the stored snapshot. An empty database yields an empty snapshot.
func (db *SQLite) Load() (Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	snap := Snapshot{Files: map[string]FileEntry{}}
	if err := db.prepare(); err != nil {
		return snap, db.quarantine(err)
	}

	rows, err := db.conn.Query(`SELECT path, mtime FROM files`)
	if err != nil {
		return snap, fmt.Errorf("index: load files: %w", err)
	}
	mtimes := make(map[string]float64)
	for rows.Next() {
		var p string
		var mt float64
		if err := rows.Scan(&p, &mt); err != nil {
			rows.Close()
			return snap, fmt.Errorf("index: scan file: %w", err)
		}
		mtimes[p] = mt
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("index: load files: %w", err)
	}

	tagRows, err := db.conn.Query(`SELECT path, tag FROM file_tags ORDER BY path, pos`)
	if err != nil {
		return snap, fmt.Errorf("index: load tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var p, t string
		if err := tagRows.Scan(&p, &t); err != nil {
			return snap, fmt.Errorf("index: scan tag: %w", err)
		}
		mt, ok := mtimes[p]
		if !ok {
			continue
		}
		e := snap.Files[p]
		e.MTime = mt
		e.Tags = append(e.Tags, t)
		snap.Files[p] = e
	}
	return snap, tagRows.Err()
}

// Save replaces the stored snapshot inside a single transaction.
func (db *SQLite) Save(snap Snapshot) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.prepare(); err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM file_tags`); err != nil {
		return fmt.Errorf("index: clear tags: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files`); err != nil {
		return fmt.Errorf("index: clear files: %w", err)
	}

	fileStmt, err := tx.Prepare(`INSERT INTO files (path, mtime) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare file insert: %w", err)
	}
	defer fileStmt.Close()
	tagStmt, err := tx.Prepare(`INSERT OR IGNORE INTO file_tags (path, pos, tag) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare tag insert: %w", err)
	}
	defer tagStmt.Close()

	for p, e := range snap.Files {
		if _, err := fileStmt.Exec(p, e.MTime); err != nil {
			return fmt.Errorf("index: insert file: %w", err)
		}
		for i, t := range e.Tags {
			if _, err := tagStmt.Exec(p, i, t); err != nil {
				return fmt.Errorf("index: insert tag: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (db *SQLite) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}
