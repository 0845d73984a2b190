package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/librarian/internal/index"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeRescanDone, Data: map[string]int{"added": 3}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: rescan.completed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"added":3`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishFileEvent_TagsThrottle(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishFileEvent("indexed", "/r/a.md")
	b.PublishFileEvent("removed", "/r/b.md")
	b.PublishFileEvent("bogus", "/r/c.md")

	time.Sleep(50 * time.Millisecond)
	var indexed, removed, tags int
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: "+TypeTagsUpdated):
			tags++
		case strings.Contains(s, "event: "+TypeFileIndexed):
			indexed++
			if !strings.Contains(s, `"path":"/r/a.md"`) {
				t.Errorf("indexed payload = %q", s)
			}
		case strings.Contains(s, "event: "+TypeFileRemoved):
			removed++
		default:
			t.Errorf("unexpected message %q", s)
		}
	}
	if indexed != 1 || removed != 1 {
		t.Errorf("file events = %d indexed, %d removed; want 1, 1", indexed, removed)
	}
	if tags != 1 {
		t.Errorf("tags.updated events = %d, want 1 (throttled)", tags)
	}
}

func TestPublishRescan(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Spend the throttle token so only an unconditional tags.updated gets through.
	b.PublishFileEvent("indexed", "/r/a.md")
	b.PublishRescan(index.SyncResult{Added: 2, Removed: 1, Duration: 1500 * time.Millisecond}, true)
	b.PublishRescan(index.SyncResult{}, false)
	time.Sleep(50 * time.Millisecond)

	var kinds []string
	for _, s := range drain(ch) {
		kind := strings.TrimPrefix(strings.SplitN(s, "\n", 2)[0], "event: ")
		kinds = append(kinds, kind)
		if kind == TypeRescanDone && strings.Contains(s, `"full":true`) {
			if !strings.Contains(s, `"added":2`) || !strings.Contains(s, `"duration_ms":1500`) {
				t.Errorf("rescan payload = %q", s)
			}
		}
	}
	want := []string{TypeFileIndexed, TypeTagsUpdated, TypeRescanDone, TypeTagsUpdated, TypeRescanDone}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestPublishFileEvent_TagsResumeAfterInterval(t *testing.T) {
	b := NewBroker(30 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishFileEvent("indexed", "a.md")
	time.Sleep(80 * time.Millisecond)
	b.PublishFileEvent("indexed", "b.md")
	time.Sleep(50 * time.Millisecond)

	tags := 0
	for _, s := range drain(ch) {
		if strings.Contains(s, TypeTagsUpdated) {
			tags++
		}
	}
	if tags != 2 {
		t.Errorf("tags.updated events = %d, want 2", tags)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishFileEvent("indexed", "x.md")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: file.indexed") {
		t.Errorf("handler output missing event: %q", body)
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer holds 64; the rest must be dropped, not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: TypeFileIndexed, Data: map[string]string{"path": "x.md"}})
	b.PublishFileEvent("indexed", "x.md")
	b.Close()
}
