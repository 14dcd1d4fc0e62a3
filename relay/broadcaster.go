package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cloudx-io/rentauction/storage/outbox"
)

const (
	defaultInterval   = 250 * time.Millisecond
	defaultMaxRetries = 10
)

// Store is the outbox as seen by the broadcaster.
type Store interface {
	ScanByState(state outbox.State, fn func(outbox.Entry) error) error
	UpdateState(seq uint64, state outbox.State, retries uint32) error
	Delete(seq uint64) error
}

type Broadcaster struct {
	store      Store
	producer   Producer
	interval   time.Duration
	maxRetries uint32

	wg sync.WaitGroup
}

type BroadcasterOption func(*Broadcaster)

func WithInterval(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithMaxRetries caps send attempts; entries past the cap stay FAILED.
func WithMaxRetries(n uint32) BroadcasterOption {
	return func(b *Broadcaster) { b.maxRetries = n }
}

func NewBroadcaster(store Store, producer Producer, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		store:      store,
		producer:   producer,
		interval:   defaultInterval,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start replays the outbox every interval until ctx is done.
func (b *Broadcaster) Start(ctx context.Context) {
	log.Printf("INFO: Relay broadcaster started (interval %s)", b.interval)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.ReplayOnce(ctx)
			}
		}
	}()
}

// ReplayOnce sends every pending entry once and returns how many the broker acknowledged.
// SENT entries are left over from a crash between send and ack and go out again.
func (b *Broadcaster) ReplayOnce(ctx context.Context) int {
	acked := 0
	attempted := make(map[uint64]bool)
	for _, state := range []outbox.State{outbox.StateSent, outbox.StateFailed, outbox.StateNew} {
		err := b.store.ScanByState(state, func(e outbox.Entry) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempted[e.Seq] || (state == outbox.StateFailed && e.Retries >= b.maxRetries) {
				return nil
			}
			attempted[e.Seq] = true
			if b.send(ctx, e) {
				acked++
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("ERROR: Outbox scan of %s entries failed: %v", state, err)
		}
	}
	return acked
}

func (b *Broadcaster) send(ctx context.Context, e outbox.Entry) bool {
	if err := b.store.UpdateState(e.Seq, outbox.StateSent, e.Retries); err != nil {
		log.Printf("ERROR: Failed to mark outbox entry %d sent: %v", e.Seq, err)
		return false
	}

	if err := b.producer.Send(ctx, []byte(e.Key), e.Payload); err != nil {
		retries := e.Retries + 1
		if retries == b.maxRetries {
			log.Printf("ERROR: Giving up on outbox entry %d after %d attempts: %v", e.Seq, retries, err)
		} else {
			log.Printf("WARNING: Relay of outbox entry %d failed (attempt %d): %v", e.Seq, retries, err)
		}
		if err := b.store.UpdateState(e.Seq, outbox.StateFailed, retries); err != nil {
			log.Printf("ERROR: Failed to mark outbox entry %d failed: %v", e.Seq, err)
		}
		return false
	}

	// Acked entries have nothing left to do
	if err := b.store.Delete(e.Seq); err != nil {
		log.Printf("ERROR: Failed to delete acked outbox entry %d: %v", e.Seq, err)
		_ = b.store.UpdateState(e.Seq, outbox.StateAcked, e.Retries)
	}
	return true
}

// Close waits for the replay loop to exit and closes the producer.
// Cancel the Start context first.
func (b *Broadcaster) Close() error {
	b.wg.Wait()
	return b.producer.Close()
}
