// Package outbox is a durable pebble-backed queue of bus events waiting to be
// relayed to Kafka.
package outbox

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotFound is returned by Get for an unknown sequence number.
var ErrNotFound = errors.New("outbox entry not found")

// Entry is one captured event. Payload is the JSON the relay publishes.
type Entry struct {
	Seq         uint64 `cbor:"1,keyasint"`
	Key         string `cbor:"2,keyasint"`
	Payload     []byte `cbor:"3,keyasint"`
	State       State  `cbor:"4,keyasint"`
	Retries     uint32 `cbor:"5,keyasint"`
	LastAttempt int64  `cbor:"6,keyasint"`
	CapturedAt  int64  `cbor:"7,keyasint"`
}

const keyPrefix = "event/"

var keyUpperBound = []byte("event/~")

type Outbox struct {
	db *pebble.DB

	mu      sync.Mutex
	nextSeq uint64
}

// Open opens or creates the outbox at dir and resumes sequence numbering
// after the last stored entry.
func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox at %s: %w", dir, err)
	}

	o := &Outbox{db: db, nextSeq: 1}
	last, err := o.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	o.nextSeq = last + 1
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Append stores a NEW entry and returns its sequence number.
func (o *Outbox) Append(key string, payload []byte) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e := Entry{
		Seq:        o.nextSeq,
		Key:        key,
		Payload:    payload,
		State:      StateNew,
		CapturedAt: time.Now().UnixNano(),
	}
	if err := o.put(e); err != nil {
		return 0, err
	}
	o.nextSeq++
	return e.Seq, nil
}

// UpdateState records a send attempt outcome.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = state
	e.Retries = retries
	e.LastAttempt = time.Now().UnixNano()
	return o.put(e)
}

// Delete removes an entry, normally once it is ACKED.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, fmt.Errorf("%w: %d", ErrNotFound, seq)
		}
		return Entry{}, err
	}
	defer closer.Close()

	return decodeEntry(val)
}

// ScanByState calls fn for every entry in state, in sequence order.
// Writes made by fn are not observed by the running scan.
func (o *Outbox) ScanByState(state State, fn func(Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: keyUpperBound,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return fmt.Errorf("entry %s: %w", iter.Key(), err)
		}
		if e.State != state {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (o *Outbox) put(e Entry) error {
	val, err := cbor.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode outbox entry %d: %w", e.Seq, err)
	}
	return o.db.Set(keyFor(e.Seq), val, pebble.Sync)
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: keyUpperBound,
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	if err := cbor.Unmarshal(b, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode outbox entry: %w", err)
	}
	return e, nil
}

// Zero padding keeps byte order equal to sequence order.
func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
}
