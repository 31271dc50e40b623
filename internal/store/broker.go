package store

import (
	"sync"

	"care-messaging/internal/models"
)

// Broker fans create events out to in-process subscribers. Each subscriber
// receives every event published after it subscribed; delivery order across
// conversations is not guaranteed.
type Broker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its disposer. The disposer is
// idempotent; once it runs, the handler is never invoked again.
func (b *Broker) Subscribe(handler Handler) UnsubscribeFunc {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers the event to every current subscriber.
func (b *Broker) Publish(event models.MessageEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// SubscriberCount reports how many handlers are currently registered.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
