// Package eventbus is the in-process pub/sub fabric between the ingest
// pipeline and interested consumers (alert sinks, dashboards, log tails).
package eventbus

import (
	"context"
	"sync"
)

// Topics published by the detection pipeline.
const (
	TopicAttackEvent  = "attack.event"
	TopicAlertRaised  = "alert.raised"
	TopicModelTrained = "model.trained"
)

// Event is one published message.
type Event struct {
	Topic   string
	Source  string
	Payload any
}

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Subscriber receives events for its topics.
type Subscriber interface {
	Handle(ctx context.Context, evt Event)
	Topics() []string
}

// Bus is a buffered in-memory pub/sub bus.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]Subscriber
	queue chan Event
	stop  chan struct{}
}

// NewBus constructs a Bus with the given queue depth and starts its
// dispatch loop.
func NewBus(buffer int) *Bus {
	b := &Bus{
		subs:  make(map[string][]Subscriber),
		queue: make(chan Event, buffer),
		stop:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.stop:
			return
		}
	}
}

// Close stops the dispatch loop. Queued events are dropped.
func (b *Bus) Close() { close(b.stop) }

// Register adds a subscriber for all of its topics.
func (b *Bus) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range sub.Topics() {
		b.subs[t] = append(b.subs[t], sub)
	}
}

// Publish enqueues an event, blocking only if the queue is full.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	select {
	case b.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch(evt Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[evt.Topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		go s.Handle(context.Background(), evt)
	}
}
