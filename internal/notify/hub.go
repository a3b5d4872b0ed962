package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// Hub fans events out to in-process subscribers keyed by topic. Sends
// never block: a subscriber whose buffer is full misses the event and
// the drop is counted.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

// TopicAll subscribes to every event regardless of routing key.
const TopicAll = "#"

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]chan Event)}
}

// Subscribe registers interest in a topic and returns the event channel
// plus a cancel function. The channel is closed on cancel or hub close.
func (h *Hub) Subscribe(topic string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[uint64]chan Event)
	}
	h.subs[topic][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[topic]; ok {
				if _, ok := set[id]; ok {
					delete(set, id)
					if len(set) == 0 {
						delete(h.subs, topic)
					}
					close(ch)
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its topic and of
// TopicAll. It never blocks and never returns an error.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	h.send(h.subs[ev.Topic], ev)
	if ev.Topic != TopicAll {
		h.send(h.subs[TopicAll], ev)
	}
	return nil
}

func (h *Hub) send(set map[uint64]chan Event, ev Event) {
	for _, ch := range set {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded because a subscriber
// could not keep up.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close closes every subscriber channel. Further publishes are no-ops
// and further subscriptions receive an already closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.subs {
		for _, ch := range set {
			close(ch)
		}
		delete(h.subs, topic)
	}
}
