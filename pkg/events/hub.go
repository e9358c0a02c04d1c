package events

import (
	"sync"
)

// Hub is the process-wide event bus. One instance is owned by the service
// root and injected into every publisher and the SSE handler.
type Hub struct {
	mu sync.Mutex

	// ring holds the last ≤bufferSize events, oldest first.
	ring       []Event
	bufferSize int
	nextID     int64

	subscribers map[*Subscriber]struct{}
	queueSize   int

	dropped int64
}

// Subscriber is one attached client. Events arrive on C; the channel is
// closed when the subscriber is removed from the hub.
type Subscriber struct {
	C chan Event

	hub    *Hub
	closed bool
}

// NewHub creates a hub retaining bufferSize events with per-subscriber
// queues of queueSize (clamped to bufferSize).
func NewHub(bufferSize, queueSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if queueSize < 1 || queueSize > bufferSize {
		queueSize = bufferSize
	}
	return &Hub{
		bufferSize:  bufferSize,
		queueSize:   queueSize,
		nextID:      1,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Publish assigns the next eventId, retains the event in the ring, and
// fans out to every subscriber. Full subscriber queues drop their oldest
// entry (head-drop) so live tailing keeps moving. Returns the assigned id.
func (h *Hub) Publish(eventType string, data any, eventTS string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	evt := Event{Type: eventType, Data: data, EventID: h.nextID, EventTS: eventTS}
	h.nextID++

	h.ring = append(h.ring, evt)
	if len(h.ring) > h.bufferSize {
		h.ring = h.ring[len(h.ring)-h.bufferSize:]
	}

	for sub := range h.subscribers {
		h.offer(sub, evt)
	}
	return evt.EventID
}

// offer enqueues without blocking; on overflow the oldest queued event is
// discarded to make room. Caller holds h.mu.
func (h *Hub) offer(sub *Subscriber, evt Event) {
	for {
		select {
		case sub.C <- evt:
			return
		default:
		}
		select {
		case <-sub.C:
			h.dropped++
		default:
		}
	}
}

// Subscribe attaches a new subscriber. sinceID > 0 requests replay: if the
// cursor is still within the retained window the missed events are queued
// first; otherwise a single stream.reset sentinel is queued instead.
func (h *Hub) Subscribe(sinceID int64) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{C: make(chan Event, h.queueSize), hub: h}

	if sinceID > 0 {
		replay, reset := h.replayLocked(sinceID)
		if reset {
			h.offer(sub, StreamReset())
		} else {
			for _, evt := range replay {
				h.offer(sub, evt)
			}
		}
	}

	h.subscribers[sub] = struct{}{}
	return sub
}

// Replay returns the retained events with eventId > sinceID. The second
// result is true when the cursor is older than the oldest retained id, in
// which case no events are returned and the caller must emit stream.reset.
func (h *Hub) Replay(sinceID int64) ([]Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replayLocked(sinceID)
}

func (h *Hub) replayLocked(sinceID int64) ([]Event, bool) {
	if len(h.ring) == 0 {
		// Nothing retained. A cursor behind the next id is only stale if
		// events ever existed past it.
		if sinceID < h.nextID-1 {
			return nil, true
		}
		return nil, false
	}

	oldest := h.ring[0].EventID
	if sinceID < oldest-1 {
		return nil, true
	}

	var out []Event
	for _, evt := range h.ring {
		if evt.EventID > sinceID {
			out = append(out, evt)
		}
	}
	return out, false
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subscribers, sub)
	close(sub.C)
}

// Stats reports hub occupancy for the metrics endpoint.
type Stats struct {
	NextEventID   int64 `json:"next_event_id"`
	BufferedCount int   `json:"buffered_count"`
	Subscribers   int   `json:"subscribers"`
	Dropped       int64 `json:"dropped"`
}

// Stats returns a snapshot of hub state.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		NextEventID:   h.nextID,
		BufferedCount: len(h.ring),
		Subscribers:   len(h.subscribers),
		Dropped:       h.dropped,
	}
}
