package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestSync_AddUpdateRemove(t *testing.T) {
	e := newTestEnv(t)
	a := e.write(t, "a.md", "#work #idea")
	e.write(t, "sub/b.taskpaper", "- task #work")
	e.write(t, "plain.md", "no tags here")
	e.write(t, "ignored.txt", "#work")

	res, err := Sync(context.Background(), e.idx, e.fs, e.scanner, false, testLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Added != 2 || res.Updated != 0 || res.Removed != 0 {
		t.Errorf("first sync = %+v", res)
	}
	if n := e.backend.Saves(); n != 1 {
		t.Errorf("saves = %d, want 1", n)
	}
	if got := e.idx.FilesFor("work"); len(got) != 2 {
		t.Errorf("FilesFor(work) = %v", got)
	}

	// Nothing changed: incremental sync reads nothing new and writes nothing.
	res, _ = Sync(context.Background(), e.idx, e.fs, e.scanner, false, testLogger())
	if res.Added != 0 || res.Updated != 0 || res.Removed != 0 {
		t.Errorf("no-op sync = %+v", res)
	}
	if n := e.backend.Saves(); n != 1 {
		t.Errorf("saves after no-op sync = %d, want 1", n)
	}

	_ = os.WriteFile(a, []byte("#work only"), 0o644)
	touch(t, a, time.Second)
	_ = os.Remove(filepath.Join(e.root, "sub", "b.taskpaper"))

	res, _ = Sync(context.Background(), e.idx, e.fs, e.scanner, false, testLogger())
	if res.Updated != 1 || res.Removed != 1 {
		t.Errorf("third sync = %+v", res)
	}
	if got := e.idx.FilesFor("idea"); len(got) != 0 {
		t.Errorf("FilesFor(idea) = %v, want none", got)
	}
	rec, ok := e.idx.Get(a)
	if !ok || len(rec.Tags) != 1 || rec.Tags[0] != "work" {
		t.Errorf("record = %+v", rec)
	}
}

func TestSync_FullRereadsEverything(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.md", "#x")
	e.write(t, "b.md", "#y")
	_, _ = Sync(context.Background(), e.idx, e.fs, e.scanner, false, testLogger())

	res, err := Sync(context.Background(), e.idx, e.fs, e.scanner, true, testLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Updated != 2 {
		t.Errorf("full sync = %+v, want 2 updated", res)
	}
}

func TestSync_FileLosingAllTagsIsRemoved(t *testing.T) {
	e := newTestEnv(t)
	a := e.write(t, "a.md", "#x")
	_, _ = Sync(context.Background(), e.idx, e.fs, e.scanner, false, testLogger())

	_ = os.WriteFile(a, []byte("nothing"), 0o644)
	touch(t, a, time.Second)
	res, _ := Sync(context.Background(), e.idx, e.fs, e.scanner, false, testLogger())
	if res.Removed != 1 || e.idx.Len() != 0 {
		t.Errorf("res = %+v len = %d", res, e.idx.Len())
	}
}

func TestSync_CancelledBeforeApplyChangesNothing(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "a.md", "#x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sync(ctx, e.idx, e.fs, e.scanner, false, testLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if e.idx.Len() != 0 || e.backend.Saves() != 0 {
		t.Errorf("len=%d saves=%d, want untouched index", e.idx.Len(), e.backend.Saves())
	}
}

func TestRescanFile(t *testing.T) {
	e := newTestEnv(t)
	a := e.write(t, "a.md", "#x")

	indexed, err := RescanFile(e.idx, e.fs, e.scanner, "a.md")
	if err != nil || !indexed {
		t.Fatalf("RescanFile: indexed=%v err=%v", indexed, err)
	}
	if _, ok := e.idx.Get(a); !ok {
		t.Fatal("a.md should be indexed under its absolute path")
	}

	_ = os.Remove(a)
	indexed, err = RescanFile(e.idx, e.fs, e.scanner, a)
	if err != nil || indexed {
		t.Fatalf("RescanFile missing: indexed=%v err=%v", indexed, err)
	}
	if e.idx.Len() != 0 {
		t.Error("missing file should be removed")
	}

	if _, err := RescanFile(e.idx, e.fs, e.scanner, "../escape.md"); err == nil {
		t.Error("expected error for path outside root")
	}
}

func TestSync_KeepsEntriesWrittenDuringRead(t *testing.T) {
	e := newTestEnv(t)
	p := e.write(t, "a.md", "#old")
	if _, err := RescanFile(e.idx, e.fs, e.scanner, p); err != nil {
		t.Fatalf("RescanFile: %v", err)
	}

	var once sync.Once
	hooked := &hookedFS{Provider: e.fs, beforeRead: func(path string) error {
		if path == p {
			once.Do(func() {
				rec, _ := e.idx.Get(p)
				// A concurrent reconcile landed a newer version first.
				if err := e.idx.Upsert(p, rec.MTime+10, []string{"fresh"}); err != nil {
					t.Errorf("Upsert: %v", err)
				}
			})
		}
		return nil
	}}

	if _, err := Sync(context.Background(), e.idx, hooked, e.scanner, true, testLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	rec, ok := e.idx.Get(p)
	if !ok || !reflect.DeepEqual(rec.Tags, []string{"fresh"}) {
		t.Errorf("record = %+v, want the newer entry", rec)
	}
}

func TestSync_KeepsFileRecreatedAfterListing(t *testing.T) {
	e := newTestEnv(t)
	p := e.write(t, "a.md", "#keep")
	if _, err := RescanFile(e.idx, e.fs, e.scanner, p); err != nil {
		t.Fatalf("RescanFile: %v", err)
	}
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}

	hooked := &hookedFS{Provider: e.fs, afterList: func() {
		e.write(t, "a.md", "#keep")
	}}
	res, err := Sync(context.Background(), e.idx, hooked, e.scanner, false, testLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Removed != 0 {
		t.Errorf("removed = %d, want 0", res.Removed)
	}
	if _, ok := e.idx.Get(p); !ok {
		t.Error("recreated file should stay indexed")
	}
}
