package index

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
)

func TestStore_UpsertAndGet(t *testing.T) {
	s := NewStore()
	s.Upsert("/r/a.md", 10, []string{"work", "idea", "work", ""})

	rec, ok := s.Get("/r/a.md")
	if !ok {
		t.Fatal("record not found")
	}
	if rec.MTime != 10 || !reflect.DeepEqual(rec.Tags, []string{"work", "idea"}) {
		t.Errorf("record = %+v", rec)
	}
}

func TestStore_UpsertEmptyTagsRemoves(t *testing.T) {
	s := NewStore()
	s.Upsert("/r/a.md", 1, []string{"x"})
	s.Upsert("/r/a.md", 2, nil)
	if _, ok := s.Get("/r/a.md"); ok {
		t.Error("empty tags should remove the record")
	}
	if len(s.Tags()) != 0 {
		t.Errorf("tags = %v, want none", s.Tags())
	}
}

func TestStore_RemoveUnknownIsNoop(t *testing.T) {
	s := NewStore()
	v := s.Version()
	s.Remove("/nope.md")
	if s.Version() != v {
		t.Error("removing unknown path should not bump the version")
	}
}

func TestStore_ReplaceTagsDropsOld(t *testing.T) {
	s := NewStore()
	s.Upsert("/r/a.md", 1, []string{"old", "keep"})
	s.Upsert("/r/a.md", 2, []string{"keep", "new"})

	if got := s.FilesFor("old"); len(got) != 0 {
		t.Errorf("FilesFor(old) = %v, want none", got)
	}
	if got := s.FilesFor("new"); len(got) != 1 {
		t.Errorf("FilesFor(new) = %v, want 1", got)
	}
}

func TestStore_TagsOrderedByCountThenName(t *testing.T) {
	s := NewStore()
	s.Upsert("/a.md", 1, []string{"beta", "alpha"})
	s.Upsert("/b.md", 1, []string{"beta", "gamma"})
	s.Upsert("/c.md", 1, []string{"beta", "alpha"})

	want := []TagCount{{"beta", 3}, {"alpha", 2}, {"gamma", 1}}
	if got := s.Tags(); !reflect.DeepEqual(got, want) {
		t.Errorf("Tags() = %v, want %v", got, want)
	}
}

func TestStore_FilesForNewestFirst(t *testing.T) {
	s := NewStore()
	s.Upsert("/old.md", 1, []string{"t"})
	s.Upsert("/new.md", 5, []string{"t"})
	s.Upsert("/b-same.md", 3, []string{"t"})
	s.Upsert("/a-same.md", 3, []string{"t"})

	var got []string
	for _, r := range s.FilesFor("t") {
		got = append(got, r.Path)
	}
	want := []string{"/new.md", "/a-same.md", "/b-same.md", "/old.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilesFor = %v, want %v", got, want)
	}
}

func TestStore_PathsUnder(t *testing.T) {
	s := NewStore()
	s.Upsert("/r/notes/a.md", 1, []string{"t"})
	s.Upsert("/r/notes/sub/b.md", 1, []string{"t"})
	s.Upsert("/r/notes-other/c.md", 1, []string{"t"})

	got := s.PathsUnder("/r/notes")
	want := []string{"/r/notes/a.md", "/r/notes/sub/b.md"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PathsUnder = %v, want %v", got, want)
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Upsert("/a.md", 1, []string{"x"})
	snap := s.Snapshot()
	snap.Files["/a.md"].Tags[0] = "mutated"

	rec, _ := s.Get("/a.md")
	if rec.Tags[0] != "x" {
		t.Error("snapshot shares memory with the store")
	}
}

func TestStore_ReplaceDropsUntaggedEntries(t *testing.T) {
	s := NewStore()
	s.Replace(Snapshot{Files: map[string]FileEntry{
		"/a.md": {MTime: 1, Tags: []string{"x"}},
		"/b.md": {MTime: 1},
	}})
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

// checkTagInvariant verifies that the tag map and the records agree.
func checkTagInvariant(t *testing.T, s *Store) {
	t.Helper()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p, e := range s.files {
		if len(e.Tags) == 0 {
			t.Errorf("%s stored without tags", p)
		}
		for _, tag := range e.Tags {
			if _, ok := s.tags[tag][p]; !ok {
				t.Errorf("tag index missing %s for %s", tag, p)
			}
		}
	}
	for tag, paths := range s.tags {
		if len(paths) == 0 {
			t.Errorf("empty path set for tag %s", tag)
		}
		for p := range paths {
			found := false
			for _, pt := range s.files[p].Tags {
				if pt == tag {
					found = true
				}
			}
			if !found {
				t.Errorf("tag index lists %s under %s but the record does not", p, tag)
			}
		}
	}
}

func TestStore_TagInvariantUnderRandomMutations(t *testing.T) {
	s := NewStore()
	rng := rand.New(rand.NewSource(1))
	tags := []string{"a", "b", "c", "d", "e"}

	for i := 0; i < 2000; i++ {
		p := fmt.Sprintf("/f%d.md", rng.Intn(40))
		switch rng.Intn(4) {
		case 0:
			s.Remove(p)
		default:
			var ts []string
			for _, tag := range tags {
				if rng.Intn(3) == 0 {
					ts = append(ts, tag)
				}
			}
			s.Upsert(p, float64(i), ts)
		}
	}
	checkTagInvariant(t, s)
}
