package listener

import (
	"sync"

	"driftsync/internal/models"

	"github.com/rs/zerolog"
)

// Callback receives SyncState snapshots.
type Callback func(models.SyncState)

type subscriber struct {
	id int
	fn Callback
}

// Hub is a subscribe/unsubscribe registry broadcasting SyncState snapshots.
// Delivery is synchronous and in registration order; there is no buffering
// of missed updates.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber
	logger *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{logger: logger}
}

// Subscribe registers a callback and returns its disposer.
// The disposer is idempotent.
func (h *Hub) Subscribe(fn Callback) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs = append(h.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subs {
		if sub.id == id {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the snapshot to all current subscribers. A panicking
// subscriber must not prevent delivery to the remaining ones.
func (h *Hub) Publish(state models.SyncState) {
	h.mu.Lock()
	subs := append([]subscriber(nil), h.subs...)
	h.mu.Unlock()

	for _, sub := range subs {
		h.deliver(sub, state)
	}
}

func (h *Hub) deliver(sub subscriber, state models.SyncState) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Int("subscriber", sub.id).Msg("listener panicked")
		}
	}()
	sub.fn(state)
}

// Len reports the number of current subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
