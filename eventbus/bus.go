// Package eventbus implements topic-based publish/subscribe fan-out of bid
// and notification events to connected clients.
//
// Publishing never blocks: every subscriber owns a bounded ring buffer and
// the oldest undelivered event is dropped when it overflows. The stream is a
// lossy notification channel; authoritative state lives in the ledger and
// settlement records.
package eventbus

import (
	"sync"
	"time"

	"github.com/cloudx-io/rentauction/clock"
)

// Topics used by the marketplace. Other topics may be published to freely.
const (
	TopicAnalysis      = "analysis_group"
	TopicNotifications = "notifications"
)

const defaultBufferSize = 256

// Event is a single published message.
type Event struct {
	Topic       string    `json:"topic"`
	Seq         uint64    `json:"seq"`
	Type        string    `json:"type"`
	Payload     any       `json:"message"`
	PublishedAt time.Time `json:"published_at"`
}

// Bus fans published events out to every subscriber of the topic.
type Bus struct {
	mu         sync.Mutex
	topics     map[string]map[*Subscription]struct{}
	seqs       map[string]uint64
	nextSubID  uint64
	bufferSize int
	clock      clock.Clock
}

type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithClock overrides the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) {
		if c != nil {
			b.clock = c
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		topics:     make(map[string]map[*Subscription]struct{}),
		seqs:       make(map[string]uint64),
		bufferSize: defaultBufferSize,
		clock:      clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber on the given topics.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := newSubscription(b, b.nextSubID, b.bufferSize)

	for _, topic := range topics {
		subs, ok := b.topics[topic]
		if !ok {
			subs = make(map[*Subscription]struct{})
			b.topics[topic] = subs
		}
		if _, dup := subs[sub]; dup {
			continue
		}
		subs[sub] = struct{}{}
		sub.topics = append(sub.topics, topic)
	}
	return sub
}

// Publish delivers an event to every current subscriber of topic and returns it.
// It never waits on a subscriber.
func (b *Bus) Publish(topic, eventType string, payload any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seqs[topic]++
	ev := Event{
		Topic:       topic,
		Seq:         b.seqs[topic],
		Type:        eventType,
		Payload:     payload,
		PublishedAt: b.clock.Now(),
	}

	// Holding the bus lock while pushing keeps per-topic order identical for
	// every subscriber; push itself never blocks.
	for sub := range b.topics[topic] {
		sub.push(ev)
	}
	return ev
}

// Unsubscribe removes sub from every topic it joined. Safe to call repeatedly.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	for _, topic := range sub.topics {
		if subs, ok := b.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(b.topics, topic)
			}
		}
	}
	b.mu.Unlock()

	sub.close()
}

// SubscriberCount returns the number of subscribers currently on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}
