// Package sse implements a Server-Sent Events broker for draft and entity
// updates, scoped per owner.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeDraftAutosaved = "draft.autosaved"
	TypeDraftDiscarded = "draft.discarded"
	TypeDraftExternal  = "draft.external"
	TypeEntityCreated  = "entity.created"
	TypeEntityUpdated  = "entity.updated"
	TypeEntityDeleted  = "entity.deleted"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ownedEvent struct {
	owner string
	event Event
}

// DraftData is the payload of draft events.
type DraftData struct {
	Key string `json:"key"`
	// Op is "written" or "removed" for draft.external.
	Op string `json:"op,omitempty"`
}

type draftEventReq struct {
	owner string
	typ   string
	data  DraftData
}

type subscription struct {
	owner string
	ch    chan []byte
}

// Broker manages SSE client connections and broadcasts events to the
// clients of the event's owner.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + autosave throttle timestamps). Public methods communicate with this
// loop through channels, so no mutexes are required.
type Broker struct {
	autosaveMin time.Duration
	ownerOf     func(*http.Request) string

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan ownedEvent
	draftEventCh  chan draftEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. draft.autosaved events are sent at most once
// per autosaveThrottle for each draft key. ownerOf resolves the owner of
// an SSE request; nil treats every client as the same owner.
func NewBroker(autosaveThrottle time.Duration, ownerOf func(*http.Request) string) *Broker {
	if autosaveThrottle <= 0 {
		autosaveThrottle = 2 * time.Second
	}
	if ownerOf == nil {
		ownerOf = func(*http.Request) string { return "" }
	}

	b := &Broker{
		autosaveMin:   autosaveThrottle,
		ownerOf:       ownerOf,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan ownedEvent, 256),
		draftEventCh:  make(chan draftEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastAutosave := make(map[string]time.Time)

	broadcast := func(owner string, event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch, o := range clients {
			if o != owner {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
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

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.owner

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case oe := <-b.publishCh:
			broadcast(oe.owner, oe.event)

		case req := <-b.draftEventCh:
			throttleKey := req.owner + "\x00" + req.data.Key
			if req.typ == TypeDraftAutosaved {
				now := time.Now()
				if now.Sub(lastAutosave[throttleKey]) < b.autosaveMin {
					continue
				}
				lastAutosave[throttleKey] = now
			} else {
				delete(lastAutosave, throttleKey)
			}
			broadcast(req.owner, Event{Type: req.typ, Data: req.data})

		case resp := <-b.countReqCh:
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

// Subscribe adds a client of owner and returns its channel.
func (b *Broker) Subscribe(owner string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{owner: owner, ch: ch}:
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
	case b.unsubscribeCh <- ch:
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
	case b.countReqCh <- resp:
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

// Publish sends an event to the clients of owner.
func (b *Broker) Publish(owner string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- ownedEvent{owner: owner, event: event}:
	case <-b.stopped:
	}
}

// DraftAutosaved reports a draft write; repeated writes of one key are
// throttled.
func (b *Broker) DraftAutosaved(owner, key string) {
	b.draftEvent(draftEventReq{owner: owner, typ: TypeDraftAutosaved, data: DraftData{Key: key}})
}

// DraftDiscarded reports a removed draft.
func (b *Broker) DraftDiscarded(owner, key string) {
	b.draftEvent(draftEventReq{owner: owner, typ: TypeDraftDiscarded, data: DraftData{Key: key}})
}

// DraftExternal reports a draft changed by another process.
func (b *Broker) DraftExternal(owner, key, op string) {
	b.draftEvent(draftEventReq{owner: owner, typ: TypeDraftExternal, data: DraftData{Key: key, Op: op}})
}

func (b *Broker) draftEvent(req draftEventReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.draftEventCh <- req:
	case <-b.stopped:
	}
}

// PublishEntityEvent maps an entity change op ("created", "updated",
// "deleted") to its event type.
func (b *Broker) PublishEntityEvent(owner, op string, data any) {
	var typ string
	switch op {
	case "created":
		typ = TypeEntityCreated
	case "updated":
		typ = TypeEntityUpdated
	case "deleted":
		typ = TypeEntityDeleted
	default:
		return
	}
	b.Publish(owner, Event{Type: typ, Data: data})
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
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(b.ownerOf(r))
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
