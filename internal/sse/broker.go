// Package sse streams index changes to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/librarian/internal/index"
)

// Event types sent to clients.
const (
	TypeFileIndexed = "file.indexed"
	TypeFileRemoved = "file.removed"
	TypeTagsUpdated = "tags.updated"
	TypeRescanDone  = "rescan.completed"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RescanPayload is the data of a rescan.completed event.
type RescanPayload struct {
	Full       bool  `json:"full"`
	Added      int   `json:"added"`
	Updated    int   `json:"updated"`
	Removed    int   `json:"removed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// tagsFollow says whether a notice is followed by tags.updated.
type tagsFollow int

const (
	tagsNever tagsFollow = iota
	tagsThrottled
	tagsAlways
)

// notice is one encoded frame plus its tags.updated policy.
type notice struct {
	frame []byte
	tags  tagsFollow
}

var tagsFrame, _ = encode(Event{Type: TypeTagsUpdated, Data: struct{}{}})

func encode(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", ev.Type, err)
	}
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, payload), nil
}

// Broker fans index changes out to connected clients.
//
// One loop goroutine owns the client set and the tags.updated limiter.
// Frames are encoded by the publisher, so the loop only copies bytes.
// File events trigger tags.updated at most once per throttle interval;
// a rescan that changed anything always triggers it.
type Broker struct {
	tagsLimit *rate.Limiter

	joins   chan chan []byte
	leaves  chan chan []byte
	notices chan notice
	counts  chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one throttled
// tags.updated event per tagsThrottle.
func NewBroker(tagsThrottle time.Duration) *Broker {
	if tagsThrottle <= 0 {
		tagsThrottle = 2 * time.Second
	}

	b := &Broker{
		tagsLimit: rate.NewLimiter(rate.Every(tagsThrottle), 1),
		joins:     make(chan chan []byte),
		leaves:    make(chan chan []byte),
		notices:   make(chan notice, 256),
		counts:    make(chan chan int),
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	send := func(frame []byte) {
		for ch := range clients {
			select {
			case ch <- frame:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.joins:
			clients[ch] = struct{}{}

		case ch := <-b.leaves:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case n := <-b.notices:
			send(n.frame)
			switch n.tags {
			case tagsAlways:
				send(tagsFrame)
			case tagsThrottled:
				if b.tagsLimit.Allow() {
					send(tagsFrame)
				}
			}

		case resp := <-b.counts:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.joins <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leaves <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.counts <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

func (b *Broker) post(n notice) {
	if b.closed.Load() {
		return
	}
	select {
	case b.notices <- n:
	case <-b.stopped:
	}
}

// Publish sends an event to all connected clients. Events whose data
// cannot be encoded are dropped.
func (b *Broker) Publish(event Event) {
	frame, err := encode(event)
	if err != nil {
		return
	}
	b.post(notice{frame: frame})
}

// PublishFileEvent publishes file.indexed or file.removed for path
// ("indexed" / "removed" kinds) followed by a rate-limited tags.updated.
// Other kinds are ignored.
func (b *Broker) PublishFileEvent(kind, path string) {
	var typ string
	switch kind {
	case "indexed":
		typ = TypeFileIndexed
	case "removed":
		typ = TypeFileRemoved
	default:
		return
	}
	frame, err := encode(Event{Type: typ, Data: map[string]string{"path": path}})
	if err != nil {
		return
	}
	b.post(notice{frame: frame, tags: tagsThrottled})
}

// PublishRescan publishes rescan.completed for a finished root-wide sync.
func (b *Broker) PublishRescan(res index.SyncResult, full bool) {
	frame, err := encode(Event{Type: TypeRescanDone, Data: RescanPayload{
		Full:       full,
		Added:      res.Added,
		Updated:    res.Updated,
		Removed:    res.Removed,
		Skipped:    res.Skipped,
		DurationMS: res.Duration.Milliseconds(),
	}})
	if err != nil {
		return
	}
	n := notice{frame: frame}
	if res.Added+res.Updated+res.Removed > 0 {
		n.tags = tagsAlways
	}
	b.post(n)
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
