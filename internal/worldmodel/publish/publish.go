// Package publish fans model updates out to subscribers.
package publish

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

// Publisher receives every object update and every full model snapshot.
// Implementations must not block the caller for long and must treat the
// values as read-only.
type Publisher interface {
	PublishObject(obj worldmodel.Object)
	PublishModel(model []worldmodel.Object)
}

// SessionPublisher is implemented by publishers that follow model sessions.
// PublishSession is called when the model starts a new session, before the
// first publication of that session.
type SessionPublisher interface {
	PublishSession(id uuid.UUID)
}

// Kind distinguishes the two publication channels.
type Kind string

const (
	KindObject  Kind = "object"  // single-object update
	KindModel   Kind = "model"   // full snapshot
	KindSession Kind = "session" // model reset, new session id
)

// Event is one publication as seen by a subscriber.
type Event struct {
	Seq     uint64              `json:"seq"`
	Kind    Kind                `json:"kind"`
	Session string              `json:"session,omitempty"`
	Object  *worldmodel.Object  `json:"object,omitempty"`
	Model   []worldmodel.Object `json:"model,omitempty"`
}

// Hub broadcasts events to subscribers. A subscriber whose buffer is full
// misses the event rather than blocking the publisher; misses are counted.
type Hub struct {
	buffer int

	mu          sync.Mutex
	subscribers map[string]chan Event
	latest      []worldmodel.Object
	session     string
	closed      bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns how many events were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Latest returns the most recent model snapshot, so late subscribers can
// start from a full picture.
func (h *Hub) Latest() []worldmodel.Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// PublishObject implements Publisher.
func (h *Hub) PublishObject(obj worldmodel.Object) {
	h.broadcast(Event{Kind: KindObject, Object: &obj})
}

// PublishModel implements Publisher.
func (h *Hub) PublishModel(model []worldmodel.Object) {
	h.mu.Lock()
	h.latest = model
	h.mu.Unlock()
	h.broadcast(Event{Kind: KindModel, Model: model})
}

// PublishSession implements SessionPublisher.
func (h *Hub) PublishSession(id uuid.UUID) {
	h.mu.Lock()
	h.session = id.String()
	h.latest = nil
	h.mu.Unlock()
	h.broadcast(Event{Kind: KindSession, Session: id.String()})
}

// Session returns the most recently announced session id.
func (h *Hub) Session() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	ev.Seq = h.seq.Add(1)
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// full; skip so as not to block the tracker
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel and publications are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Multi publishes to each publisher in order.
type Multi []Publisher

// PublishObject implements Publisher.
func (m Multi) PublishObject(obj worldmodel.Object) {
	for _, p := range m {
		p.PublishObject(obj)
	}
}

// PublishModel implements Publisher.
func (m Multi) PublishModel(model []worldmodel.Object) {
	for _, p := range m {
		p.PublishModel(model)
	}
}

// PublishSession forwards to the members that follow sessions.
func (m Multi) PublishSession(id uuid.UUID) {
	for _, p := range m {
		if sp, ok := p.(SessionPublisher); ok {
			sp.PublishSession(id)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishObject(worldmodel.Object) {}
func (Nop) PublishModel([]worldmodel.Object) {}
