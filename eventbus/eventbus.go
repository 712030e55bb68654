// Package eventbus provides in-memory pub/sub for session and chat events.
// Topics follow the "session:{id}" / "chat:{id}" convention used by the store.
package eventbus

import (
	"sync"

	"github.com/jxucoder/agentdeck/model"
)

// SessionTopic returns the event topic for a session id.
func SessionTopic(id string) string { return "session:" + id }

// ChatTopic returns the event topic for a group chat id.
func ChatTopic(id string) string { return "chat:" + id }

// Bus is the event fan-out used by the runtime, router, HTTP API and channels.
type Bus interface {
	Subscribe(topic string) chan *model.Event
	Unsubscribe(topic string, ch chan *model.Event)
	// SubscribeAll receives every published event regardless of topic.
	SubscribeAll() chan *model.Event
	UnsubscribeAll(ch chan *model.Event)
	Publish(topic string, event *model.Event)
}

// InMemoryBus fans events out to per-topic subscribers. Slow subscribers
// lose events rather than block publishers.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Event
	all  []chan *model.Event
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.Event),
	}
}

// Subscribe creates a channel that receives events for one topic.
func (b *InMemoryBus) Subscribe(topic string) chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, 64)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Unsubscribe removes a channel from the topic's subscribers and closes it.
func (b *InMemoryBus) Unsubscribe(topic string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s == ch {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// SubscribeAll creates a channel that receives events from every topic.
func (b *InMemoryBus) SubscribeAll() chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, 64)
	b.all = append(b.all, ch)
	return ch
}

// UnsubscribeAll removes a channel created by SubscribeAll and closes it.
func (b *InMemoryBus) UnsubscribeAll(ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.all {
		if s == ch {
			b.all = append(b.all[:i], b.all[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish sends an event to the topic's subscribers and all firehose
// subscribers.
func (b *InMemoryBus) Publish(topic string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			// Drop event if subscriber is too slow.
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
		}
	}
}
