package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"conveyor/internal/logging"
)

const defaultSubscriberBuffer = 256

// Subscriber receives events on a private buffered channel.
type Subscriber struct {
	ID     string
	Events <-chan Event

	events chan Event
}

// Hub distributes events to the current subscriber set.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	buffer      int
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
// Non-positive buffer falls back to the default.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		buffer:      buffer,
		logger:      logger.With(logging.String(logging.FieldComponent, "broadcast")),
	}
}

// Subscribe registers a new listener. The caller must Unsubscribe when done.
func (h *Hub) Subscribe() *Subscriber {
	events := make(chan Event, h.buffer)
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Events: events,
		events: events,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(events)
		return sub
	}
	h.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(sub.events)
	}
}

// Publish delivers the event to every subscriber without blocking. An
// event that does not fit a subscriber's buffer is dropped for that
// subscriber only.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for id, sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.dropped.Add(1)
			h.logger.Debug("dropped event for slow subscriber",
				logging.String("subscriber_id", id),
				logging.String(logging.FieldEventType, event.Type))
		}
	}
}

// SubscriberCount returns the number of active listeners.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close removes all subscribers and rejects future publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.events)
	}
}
