package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for per-frame results.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	clientFilter string // empty receives every client
	channel      chan *FrameResult
	handler      ResultHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

func (b *EventBus) add(sub *eventSubscription) {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()
}

// Subscribe registers a handler for results from all clients.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.SubscribeClient("", handler)
}

// SubscribeClient registers a handler for one client's results.
func (b *EventBus) SubscribeClient(clientID string, handler ResultHandler) func() {
	sub := &eventSubscription{clientFilter: clientID, handler: handler}
	b.add(sub)
	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel of results. Results are
// dropped while the channel is full.
func (b *EventBus) SubscribeChannel(clientID string, bufferSize int) (<-chan *FrameResult, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}
	ch := make(chan *FrameResult, bufferSize)
	sub := &eventSubscription{clientFilter: clientID, channel: ch}
	b.add(sub)

	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}
}

// Publish sends a result to all matching subscribers.
func (b *EventBus) Publish(result *FrameResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.clientFilter != "" && sub.clientFilter != result.ClientID {
			continue
		}

		// Handlers run synchronously so each client sees its frames in order.
		if sub.handler != nil {
			sub.handler.OnFrameResult(result)
		} else if sub.channel != nil {
			select {
			case sub.channel <- result:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
