package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

// scheduleCloseLocked arms the close timer for the window currently on b.
// The timer remembers which window it belongs to, so a stale or repeated
// firing never closes a later window.
func (l *Ledger) scheduleCloseLocked(b *book, after time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	propertyID := b.property.ID
	openedAt := b.property.Window.OpenedAt
	b.timer = l.scheduler.AfterFunc(after, func() {
		l.fire(propertyID, openedAt)
	})
}

// fire runs when a close timer expires. Repeated firings are no-ops.
func (l *Ledger) fire(propertyID string, openedAt time.Time) {
	b, err := l.book(propertyID)
	if err != nil {
		log.Printf("ERROR: Close timer fired for unknown property %s", propertyID)
		return
	}

	b.mu.Lock()
	closed := false
	w := b.property.Window
	if w.State == core.WindowOpen && w.OpenedAt.Equal(openedAt) {
		closed = l.closeLocked(context.Background(), b)
	}
	b.mu.Unlock()

	if closed {
		l.dispatchClose(propertyID)
	}
}

// closeLocked moves an OPEN window to CLOSED. It reports whether it did.
func (l *Ledger) closeLocked(ctx context.Context, b *book) bool {
	if b.property.Window.State != core.WindowOpen {
		return false
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	l.setWindowLocked(ctx, b, core.Window{
		State:    core.WindowClosed,
		OpenedAt: b.property.Window.OpenedAt,
		ClosesAt: b.property.Window.ClosesAt,
	})

	l.publisher.Publish(eventbus.TopicNotifications, marketapi.EventWindowClosed, windowEvent(b))
	log.Printf("INFO: Closed bidding window for %s with %d bids", b.property.ID, len(b.bids))
	return true
}

func (l *Ledger) dispatchClose(propertyID string) {
	l.handlerMu.RLock()
	h := l.onClose
	l.handlerMu.RUnlock()
	if h == nil {
		return
	}
	go h(propertyID)
}

// BeginSettlement moves a CLOSED window to SETTLING and returns the property
// and its winning bid. A window without bids stays CLOSED and ErrNoBids is returned.
func (l *Ledger) BeginSettlement(ctx context.Context, propertyID string) (core.Property, core.Bid, error) {
	return l.beginSettling(ctx, propertyID, core.WindowClosed)
}

// BeginRetry moves a FAILED window back to SETTLING for another attempt.
func (l *Ledger) BeginRetry(ctx context.Context, propertyID string) (core.Property, core.Bid, error) {
	return l.beginSettling(ctx, propertyID, core.WindowFailed)
}

func (l *Ledger) beginSettling(ctx context.Context, propertyID string, from core.WindowState) (core.Property, core.Bid, error) {
	b, err := l.book(propertyID)
	if err != nil {
		return core.Property{}, core.Bid{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.property.Window.State
	if state != from {
		switch {
		case state == core.WindowUnopened || state == core.WindowOpen:
			return core.Property{}, core.Bid{}, fmt.Errorf("%w: window of %s is %s", core.ErrWindowNotClosed, propertyID, state)
		case from == core.WindowFailed:
			return core.Property{}, core.Bid{}, fmt.Errorf("%w: window of %s is %s", core.ErrNotRetryable, propertyID, state)
		case state == core.WindowSettled:
			return core.Property{}, core.Bid{}, fmt.Errorf("%w: %s", core.ErrAlreadySettled, propertyID)
		default:
			return core.Property{}, core.Bid{}, fmt.Errorf("%w: window of %s is %s", core.ErrSettlementInProgress, propertyID, state)
		}
	}
	if len(b.bids) == 0 {
		return core.Property{}, core.Bid{}, fmt.Errorf("%w: %s", core.ErrNoBids, propertyID)
	}

	window := core.Window{
		State:    core.WindowSettling,
		OpenedAt: b.property.Window.OpenedAt,
		ClosesAt: b.property.Window.ClosesAt,
	}
	if err := l.journal.SaveWindow(ctx, propertyID, window); err != nil {
		return core.Property{}, core.Bid{}, fmt.Errorf("failed to save window for %s: %w", propertyID, err)
	}
	b.property.Window = window

	return b.property, b.bids[len(b.bids)-1], nil
}

// FinishSettlement moves a SETTLING window to SETTLED or FAILED.
func (l *Ledger) FinishSettlement(ctx context.Context, propertyID string, ok bool) error {
	b, err := l.book(propertyID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.property.Window.State != core.WindowSettling {
		return fmt.Errorf("%w: window of %s is %s, not SETTLING", core.ErrValidation, propertyID, b.property.Window.State)
	}

	next := core.WindowFailed
	if ok {
		next = core.WindowSettled
	}
	l.setWindowLocked(ctx, b, core.Window{
		State:    next,
		OpenedAt: b.property.Window.OpenedAt,
		ClosesAt: b.property.Window.ClosesAt,
	})
	return nil
}
