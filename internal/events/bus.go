package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrBusClosed is returned when publishing to a closed bus
var ErrBusClosed = errors.New("event bus closed")

// Bus distributes events to independent subscribers.
//
// Subscribe sees every event, including those published by other replicas
// sharing the bus. SubscribeLocal sees only events published through this
// process, for consumers that must act once per event across all replicas.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(name string) *Subscription
	SubscribeLocal(name string) *Subscription
	Close() error
}

// Subscription receives events in publish order
type Subscription struct {
	name     string
	ch       chan Event
	done     chan struct{}
	stopOnce sync.Once
	bus      *MemoryBus
	closed   bool
}

// C returns the channel events are delivered on; it is closed on unsubscribe
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Name identifies the subscriber in logs
func (s *Subscription) Name() string {
	return s.name
}

// Unsubscribe stops delivery and closes the channel
func (s *Subscription) Unsubscribe() {
	// Release a publisher blocked on this subscriber before taking the bus lock
	s.stopOnce.Do(func() { close(s.done) })
	s.bus.remove(s)
}

// MemoryBus is the in-process bus. Every subscriber has its own buffered
// channel, so a subscriber sees events in the order they were published.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
	bufferSize  int
	closed      bool
	log         *zap.SugaredLogger
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus(bufferSize int, log *zap.SugaredLogger) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &MemoryBus{
		subscribers: make(map[*Subscription]struct{}),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Subscribe registers a new subscriber
func (b *MemoryBus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		name: name,
		ch:   make(chan Event, b.bufferSize),
		done: make(chan struct{}),
		bus:  b,
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subscribers[sub] = struct{}{}
	return sub
}

// SubscribeLocal is Subscribe: an in-process bus has no other replicas
func (b *MemoryBus) SubscribeLocal(name string) *Subscription {
	return b.Subscribe(name)
}

// Publish hands the event to every subscriber. A full subscriber buffer
// blocks the publisher until there is room or ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	for sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			b.log.Warnf("Event subscriber %s is falling behind, waiting", sub.name)
			select {
			case sub.ch <- ev:
			case <-sub.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (b *MemoryBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subscribers, sub)
	close(sub.ch)
}

// Close closes every subscription channel
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.closed = true
		close(sub.ch)
	}
	b.subscribers = make(map[*Subscription]struct{})
	return nil
}
