// Package relay forwards bus events to Kafka through the durable outbox.
//
// Capture drains a bus subscription into the outbox; the Broadcaster replays
// outbox entries to a Producer until the broker acknowledges them. Delivery is
// at least once.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

// Appender is the part of the outbox Capture writes to.
type Appender interface {
	Append(key string, payload []byte) (uint64, error)
}

// Capture copies every event from sub into the outbox until ctx is done or
// sub is closed. Events are keyed by topic so each topic keeps its order on
// one Kafka partition.
func Capture(ctx context.Context, sub *eventbus.Subscription, out Appender) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		payload, err := json.Marshal(marketapi.OutboundMessage{
			Topic:   ev.Topic,
			Seq:     ev.Seq,
			Type:    ev.Type,
			Message: ev.Payload,
		})
		if err != nil {
			log.Printf("ERROR: Failed to encode %s event %d for relay: %v", ev.Topic, ev.Seq, err)
			continue
		}

		if _, err := out.Append(ev.Topic, payload); err != nil {
			log.Printf("ERROR: Failed to store %s event %d in outbox: %v", ev.Topic, ev.Seq, err)
		}
	}
}
