package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

// RentNow lets a tenant take the property at its base price, ending bidding.
//
// It is only offered while nobody has bid: once a bid exceeds the base price
// the landlord already holds a better offer. On success the window is CLOSED
// with the tenant's purchase as its only bid, and the caller settles it. The
// close handler is not invoked; Restore picks the property up if the caller
// never gets that far.
func (l *Ledger) RentNow(ctx context.Context, propertyID string, tenant core.Principal, currency core.Currency) (core.Bid, error) {
	if tenant.Role != core.RoleTenant {
		return core.Bid{}, fmt.Errorf("%w: only tenants can rent", core.ErrForbidden)
	}
	if !currency.Valid() {
		return core.Bid{}, fmt.Errorf("%w: unsupported currency %q", core.ErrValidation, currency)
	}

	b, err := l.book(propertyID)
	if err != nil {
		return core.Bid{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.clock.Now()
	property := b.property
	if currency.IsFiat() && currency != property.Currency {
		return core.Bid{}, fmt.Errorf("%w: property %s is priced in %s, cannot pay in %s",
			core.ErrValidation, property.ID, property.Currency, currency)
	}

	window := property.Window
	switch window.State {
	case core.WindowUnopened:
		window.OpenedAt = now
	case core.WindowOpen:
		if !now.Before(window.ClosesAt) {
			return core.Bid{}, fmt.Errorf("%w: window of %s closed at %s", core.ErrWindowClosed, property.ID, window.ClosesAt.Format(time.RFC3339))
		}
	default:
		return core.Bid{}, fmt.Errorf("%w: window of %s is %s", core.ErrWindowClosed, property.ID, window.State)
	}
	if len(b.bids) > 0 {
		return core.Bid{}, fmt.Errorf("%w: %s already has %d bids above its base price",
			core.ErrBidTooLow, property.ID, len(b.bids))
	}

	bid := core.Bid{
		ID:         uuid.New().String(),
		PropertyID: property.ID,
		Bidder:     tenant.ID,
		Wallet:     tenant.Wallet,
		Amount:     core.RoundAmount(property.BasePrice),
		Currency:   currency,
		Seq:        1,
		PlacedAt:   now,
	}
	window.State = core.WindowClosed
	window.ClosesAt = now

	if err := l.journal.AppendBid(ctx, bid, window); err != nil {
		return core.Bid{}, fmt.Errorf("failed to append rent-now purchase to journal: %w", err)
	}

	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.bids = append(b.bids, bid)
	b.property.Window = window

	l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventRentedNow, marketapi.Notification{
		PropertyID: property.ID,
		Message:    fmt.Sprintf("%s was rented at %s %s", property.Name, bid.Amount.StringFixed(2), property.Currency),
	})
	l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventWindowClosed, windowEvent(b))
	log.Printf("INFO: Tenant %s rented %s now at %s %s, paying in %s", tenant.ID, property.ID, bid.Amount, property.Currency, currency)
	return bid, nil
}
