package tagservice_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/starford/librarian/internal/apperr"
	"github.com/starford/librarian/internal/index"
	"github.com/starford/librarian/internal/testutil"
)

func TestService_RescanAndQuery(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, root, "notes/a.md", "#work #idea")
	testutil.WriteFile(t, root, "b.md", "#work")

	res, err := svc.RescanAll(ctx, false)
	if err != nil {
		t.Fatalf("RescanAll: %v", err)
	}
	if res.Added != 2 {
		t.Errorf("added = %d, want 2", res.Added)
	}

	tags := svc.AllTags(ctx)
	if len(tags) != 2 || tags[0].Name != "work" || tags[0].Count != 2 {
		t.Errorf("tags = %v", tags)
	}
	if files := svc.FilesForTag(ctx, "#idea"); len(files) != 1 || files[0].Path != a {
		t.Errorf("FilesForTag(#idea) = %v", files)
	}
	if files := svc.AllFiles(ctx); len(files) != 2 {
		t.Errorf("AllFiles = %v", files)
	}
	if hits := svc.Search(ctx, "a", 0); len(hits) == 0 || hits[0].Path != a {
		t.Errorf("Search(a) = %v", hits)
	}
}

func TestService_ConcurrentRescansShareWork(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	for i := 0; i < 20; i++ {
		testutil.WriteFile(t, root, filepath.Join("d", string(rune('a'+i))+".md"), "#t")
	}

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RescanAll(context.Background(), false)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RescanAll: %v", err)
		}
	}
	if n := len(svc.FilesForTag(context.Background(), "t")); n != 20 {
		t.Errorf("files = %d, want 20", n)
	}
}

func TestService_GetFile(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	ctx := context.Background()
	testutil.WriteFile(t, root, "sub/a.md", "hello #greet")
	if _, err := svc.RescanOne(ctx, "sub/a.md"); err != nil {
		t.Fatalf("RescanOne: %v", err)
	}

	d, err := svc.GetFile(ctx, "sub/a.md")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if d.Content != "hello #greet" || d.RelPath != "sub/a.md" || !d.Indexed || d.Digest == "" {
		t.Errorf("detail = %+v", d)
	}
	if !reflect.DeepEqual(d.Tags, []string{"greet"}) {
		t.Errorf("tags = %v", d.Tags)
	}

	if _, err := svc.GetFile(ctx, "missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetFile missing: err = %v, want ErrNotFound", err)
	}
}

func TestService_RenameMovesIndexEntry(t *testing.T) {
	root, svc, idx := testutil.TestService(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, root, "A.md", "#keep")
	_, _ = svc.RescanOne(ctx, a)

	var events []string
	svc.OnChange(func(kind, path string) { events = append(events, kind+":"+filepath.Base(path)) })

	newPath, err := svc.Rename(ctx, a, "B.md")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if newPath != filepath.Join(root, "B.md") {
		t.Errorf("new path = %s", newPath)
	}
	if _, ok := idx.Get(a); ok {
		t.Error("old path still indexed")
	}
	if rec, ok := idx.Get(newPath); !ok || !reflect.DeepEqual(rec.Tags, []string{"keep"}) {
		t.Errorf("new record = %+v ok=%v", rec, ok)
	}
	if !reflect.DeepEqual(events, []string{"removed:A.md", "indexed:B.md"}) {
		t.Errorf("events = %v", events)
	}
}

func TestService_RenameRejectsBadNamesAndConflicts(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, root, "a.md", "#x")
	testutil.WriteFile(t, root, "b.md", "#y")

	for _, name := range []string{"", "..", "sub/c.md"} {
		if _, err := svc.Rename(ctx, a, name); err == nil {
			t.Errorf("Rename to %q should fail", name)
		}
	}
	if _, err := svc.Rename(ctx, a, "b.md"); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("Rename onto existing: err = %v", err)
	}
}

func TestService_MoveIntoDirectory(t *testing.T) {
	root, svc, idx := testutil.TestService(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, root, "a.md", "#x")
	_, _ = svc.RescanOne(ctx, a)

	newPath, err := svc.Move(ctx, "a.md", "archive/2024")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if newPath != filepath.Join(root, "archive", "2024", "a.md") {
		t.Errorf("new path = %s", newPath)
	}
	if _, ok := idx.Get(newPath); !ok || idx.Len() != 1 {
		t.Errorf("index after move: %v", idx.Paths())
	}
}

func TestService_DeleteAndRemoveOne(t *testing.T) {
	root, svc, idx := testutil.TestService(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, root, "a.md", "#x")
	b := testutil.WriteFile(t, root, "b.md", "#x")
	_, _ = svc.RescanAll(ctx, false)

	if err := svc.Delete(ctx, "a.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Error("file should be gone from disk")
	}
	if _, ok := idx.Get(a); ok {
		t.Error("deleted file still indexed")
	}

	if err := svc.RemoveOne(ctx, b); err != nil {
		t.Fatalf("RemoveOne: %v", err)
	}
	if _, err := os.Stat(b); err != nil {
		t.Error("RemoveOne must not touch the file")
	}
	if err := svc.RemoveOne(ctx, b); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("RemoveOne twice: err = %v, want ErrNotFound", err)
	}
}

func TestService_ResolveLink(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	ctx := context.Background()
	from := testutil.WriteFile(t, root, "notes/index.md", "#home")
	sibling := testutil.WriteFile(t, root, "notes/sibling.md", "no tags")
	deep := testutil.WriteFile(t, root, "projects/alpha/Plan.md", "#plan")
	_, _ = svc.RescanAll(ctx, false)

	cases := []struct {
		target, from, want string
	}{
		{"sibling", from, sibling},
		{"plan", "", deep},
		{"alpha/Plan.md", "", deep},
		{"PLAN.MD", "", deep},
	}
	for _, c := range cases {
		got, err := svc.ResolveLink(ctx, c.target, c.from)
		if err != nil || got != c.want {
			t.Errorf("ResolveLink(%q) = %q, %v; want %q", c.target, got, err, c.want)
		}
	}
	if _, err := svc.ResolveLink(ctx, "nowhere", from); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unresolvable link: err = %v", err)
	}
}

func TestService_ClearAndStatus(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	ctx := context.Background()
	testutil.WriteFile(t, root, "a.md", "#x")
	_, _ = svc.RescanAll(ctx, false)

	st := svc.Status(ctx)
	if st.Root != root || st.Index.Files != 1 || st.Index.Tags != 1 {
		t.Errorf("status = %+v", st)
	}
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if svc.Status(ctx).Index.Files != 0 {
		t.Error("index should be empty after Clear")
	}
}

func TestService_ObserveReconcile(t *testing.T) {
	root, svc, _ := testutil.TestService(t)
	ctx := context.Background()
	a := testutil.WriteFile(t, root, "a.md", "#one")
	if _, err := svc.GetFile(ctx, a); err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if svc.Status(ctx).Cache.Entries != 1 {
		t.Fatal("file should be cached")
	}

	var events []string
	svc.OnChange(func(kind, path string) { events = append(events, kind+":"+filepath.Base(path)) })
	svc.Observe(index.ReconcileResult{
		Paths:   []string{a, filepath.Join(root, "gone.md")},
		Indexed: []string{a},
		Removed: []string{filepath.Join(root, "gone.md")},
	})

	if svc.Status(ctx).Cache.Entries != 0 {
		t.Error("reconciled path should be evicted from the cache")
	}
	if !reflect.DeepEqual(events, []string{"removed:gone.md", "indexed:a.md"}) {
		t.Errorf("events = %v", events)
	}
}

func TestService_RescanOutlivesCancelledCaller(t *testing.T) {
	root, svc, idx := testutil.TestService(t)
	testutil.WriteFile(t, root, "a.md", "#x")
	testutil.WriteFile(t, root, "b.md", "#y")

	done := make(chan index.SyncResult, 1)
	svc.OnRescan(func(res index.SyncResult, full bool) {
		if !full {
			t.Error("want a full rescan")
		}
		done <- res
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.RescanAll(ctx, true); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("RescanAll: %v", err)
	}

	select {
	case res := <-done:
		if res.Added != 2 {
			t.Errorf("added = %d, want 2", res.Added)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("rescan did not complete after its caller went away")
	}
	if idx.Len() != 2 {
		t.Errorf("indexed = %d, want 2", idx.Len())
	}
}
