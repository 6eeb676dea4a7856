package coordinator

import (
	gosync "sync"
)

// Event types published on the bus.
const (
	EventCacheRefreshed = "cache-refreshed"
	EventFetchProgress  = "fetch-progress"
	EventFetchTerminal  = "fetch-terminal"
	EventFileFlagged    = "file-flagged"
)

// Event is a coordinator state update broadcast to UI subscribers.
type Event struct {
	Type     string         `json:"type"`
	Set      Set            `json:"set,omitempty"`
	Count    int            `json:"count,omitempty"`
	Name     string         `json:"name,omitempty"`
	Flag     string         `json:"flag,omitempty"`
	Progress *FetchProgress `json:"progress,omitempty"`
}

// EventBus broadcasts Events to all subscribers. Presentation code
// subscribes and reads; it never mutates coordinator state through the bus.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan Event]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all subscribers.
// Slow subscribers are skipped (non-blocking send).
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop event
		}
	}
}
