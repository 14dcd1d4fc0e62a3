package eventbus

import (
	"context"
	"errors"
	"iter"
	"log"
	"sync"
)

// ErrClosed is returned by Next once the subscription has been closed.
var ErrClosed = errors.New("subscription closed")

// dropLogEvery limits overflow warnings to one per this many dropped events.
const dropLogEvery = 100

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus    *Bus
	id     uint64
	topics []string

	mu      sync.Mutex
	buf     []Event
	head    int
	size    int
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

func newSubscription(b *Bus, id uint64, capacity int) *Subscription {
	return &Subscription{
		bus:    b,
		id:     id,
		buf:    make([]Event, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Topics returns the topics the subscription joined.
func (s *Subscription) Topics() []string {
	out := make([]string, len(s.topics))
	copy(out, s.topics)
	return out
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Next blocks until an event is available, the subscription is closed, or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrClosed
		}
		if s.size > 0 {
			ev := s.buf[s.head]
			s.buf[s.head] = Event{}
			s.head = (s.head + 1) % len(s.buf)
			s.size--
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// All returns the subscription as a lazy sequence that ends when the
// subscription closes or ctx is done.
func (s *Subscription) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Close unsubscribes from the bus. Safe to call repeatedly.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.size == len(s.buf) {
		// Buffer full: discard the oldest undelivered event
		s.buf[s.head] = Event{}
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.dropped++
		if s.dropped%dropLogEvery == 1 {
			log.Printf("WARNING: Subscriber %d is slow, dropped %d events so far (latest drop on %s)", s.id, s.dropped, ev.Topic)
		}
	}

	tail := (s.head + s.size) % len(s.buf)
	s.buf[tail] = ev
	s.size++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.buf = nil
	s.size = 0
	close(s.done)
}
