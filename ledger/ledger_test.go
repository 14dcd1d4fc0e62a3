package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

// TestBidLifecycle_Scenario walks a property from first bid to settlement hand-off
func TestBidLifecycle_Scenario(t *testing.T) {
	tl := newTestLedger(t)
	closes := newCloseRecorder(tl.Ledger)
	tl.listProperty(t, "P1", "100")

	a, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)
	check.Equal(t, uint64(1), a.Seq)

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowOpen, snap.Property.Window.State)
	check.Equal(t, testStart, snap.Property.Window.OpenedAt)
	check.Equal(t, testStart.Add(DefaultWindowDuration), snap.Property.Window.ClosesAt)
	check.Equal(t, DefaultWindowDuration, tl.scheduler.last(t).after)

	_, err = tl.bid("B", "P1", "120")
	check.True(t, errors.Is(err, core.ErrBidTooLow))

	c, err := tl.bid("C", "P1", "200")
	assert.Nil(t, err)
	check.Equal(t, uint64(2), c.Seq)

	tl.clock.Advance(DefaultWindowDuration)
	tl.scheduler.last(t).f()

	check.Equal(t, "P1", closes.wait(t))

	prop, winner, err := tl.BeginSettlement(context.Background(), "P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowSettling, prop.Window.State)
	check.Equal(t, c.ID, winner.ID)
	check.True(t, winner.Amount.Equal(decimal.NewFromInt(200)))
	check.Equal(t, "C", winner.Bidder)
}

func TestSubmitBid_MustExceedBasePrice(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr error
	}{
		{"equal to base price", "100", core.ErrBidTooLow},
		{"below base price", "99.99", core.ErrBidTooLow},
		{"sub-cent above base price", "100.004", core.ErrBidTooLow},
		{"one cent above", "100.01", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := newTestLedger(t)
			tl.listProperty(t, "P1", "100")

			_, err := tl.bid("A", "P1", tt.amount)
			if tt.wantErr == nil {
				check.Nil(t, err)
			} else {
				check.True(t, errors.Is(err, tt.wantErr))
			}
		})
	}
}

func TestSubmitBid_RejectedBidLeavesStateUnchanged(t *testing.T) {
	tl := newTestLedger(t)
	tl.listProperty(t, "P1", "100")

	first, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)

	_, err = tl.bid("B", "P1", "150")
	check.True(t, errors.Is(err, core.ErrBidTooLow))

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	check.Equal(t, 1, len(snap.Bids))
	check.Equal(t, first.ID, snap.Summary.Winner.ID)
	check.Equal(t, 1, len(tl.journal.bids))
}

func TestSubmitBid_Validation(t *testing.T) {
	tl := newTestLedger(t)
	tl.listProperty(t, "P1", "100")
	ctx := context.Background()

	tests := []struct {
		name     string
		bidder   core.Principal
		property string
		amount   string
		currency core.Currency
		wantErr  error
	}{
		{"landlord cannot bid", landlord, "P1", "150", core.CurrencyUSD, core.ErrForbidden},
		{"zero amount", tenant("A"), "P1", "0", core.CurrencyUSD, core.ErrValidation},
		{"negative amount", tenant("A"), "P1", "-5", core.CurrencyUSD, core.ErrValidation},
		{"unknown currency", tenant("A"), "P1", "150", core.Currency("EUR"), core.ErrValidation},
		{"fiat currency mismatch", tenant("A"), "P1", "150", core.CurrencyCOP, core.ErrValidation},
		{"unknown property", tenant("A"), "nope", "150", core.CurrencyUSD, core.ErrPropertyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tl.SubmitBid(ctx, tt.property, tt.bidder, decimal.RequireFromString(tt.amount), tt.currency)
			check.True(t, errors.Is(err, tt.wantErr))
		})
	}

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowUnopened, snap.Property.Window.State)
}

func TestSubmitBid_CryptoCurrencyAccepted(t *testing.T) {
	tl := newTestLedger(t)
	tl.listProperty(t, "P1", "100")

	bid, err := tl.SubmitBid(context.Background(), "P1", tenant("A"), decimal.NewFromInt(150), core.CurrencyAVAX)
	assert.Nil(t, err)
	check.Equal(t, core.CurrencyAVAX, bid.Currency)
	check.Equal(t, "0xA", bid.Wallet)
}

func TestSubmitBid_LateBidRejected(t *testing.T) {
	tl := newTestLedger(t)
	closes := newCloseRecorder(tl.Ledger)
	tl.listProperty(t, "P1", "100")

	_, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)

	tl.clock.Advance(DefaultWindowDuration)
	tl.scheduler.last(t).f()
	closes.wait(t)

	_, err = tl.bid("B", "P1", "500")
	check.True(t, errors.Is(err, core.ErrWindowClosed))
}

func TestSubmitBid_DeadlinePassedBeforeTimerFired(t *testing.T) {
	tl := newTestLedger(t)
	closes := newCloseRecorder(tl.Ledger)
	tl.listProperty(t, "P1", "100")

	_, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)

	tl.clock.Advance(DefaultWindowDuration + time.Second)

	_, err = tl.bid("B", "P1", "500")
	check.True(t, errors.Is(err, core.ErrWindowClosed))
	check.Equal(t, "P1", closes.wait(t))

	// The late timer is now a no-op
	tl.scheduler.last(t).f()
	closes.none(t)

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowClosed, snap.Property.Window.State)
	check.Equal(t, 1, len(snap.Bids))
}

func TestCloseTimer_DuplicateFiringClosesOnce(t *testing.T) {
	tl := newTestLedger(t)
	closes := newCloseRecorder(tl.Ledger)
	sub := tl.bus.Subscribe(eventbus.TopicNotifications)
	defer sub.Close()

	tl.listProperty(t, "P1", "100")
	_, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)

	timer := tl.scheduler.last(t)
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer.f()
		}()
	}
	wg.Wait()

	check.Equal(t, "P1", closes.wait(t))
	closes.none(t)

	closedEvents := 0
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for ev := range sub.All(ctx) {
		if ev.Type == marketapi.EventWindowClosed {
			closedEvents++
		}
	}
	check.Equal(t, 1, closedEvents)
}

func TestSubmitBid_ConcurrentBidsSingleHighest(t *testing.T) {
	tl := newTestLedger(t)
	tl.listProperty(t, "P1", "100")

	const bidders = 50
	var wg sync.WaitGroup
	results := make([]error, bidders)
	for i := range bidders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = tl.bid(fmt.Sprintf("T%d", i), "P1", fmt.Sprintf("%d", 101+i))
		}()
	}
	wg.Wait()

	for _, err := range results {
		if err != nil {
			check.True(t, errors.Is(err, core.ErrBidTooLow))
		}
	}

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	assert.True(t, len(snap.Bids) > 0)

	// Accepted amounts strictly increase with acceptance order
	prev := decimal.NewFromInt(100)
	for i, bid := range snap.Bids {
		check.True(t, bid.Amount.GreaterThan(prev))
		check.Equal(t, uint64(i+1), bid.Seq)
		prev = bid.Amount
	}
	check.True(t, snap.Summary.Winner.Amount.Equal(prev))
	check.Equal(t, len(snap.Bids), len(tl.journal.bids))
}

func TestSubmitBid_PropertiesProceedIndependently(t *testing.T) {
	tl := newTestLedger(t)
	tl.listProperty(t, "P1", "100")
	tl.listProperty(t, "P2", "100")

	_, err := tl.bid("A", "P1", "300")
	assert.Nil(t, err)
	_, err = tl.bid("A", "P2", "150")
	assert.Nil(t, err)
	check.Equal(t, 2, tl.scheduler.count())
}

func TestSubmitBid_JournalFailureLeavesStateUnchanged(t *testing.T) {
	tl := newTestLedger(t)
	tl.listProperty(t, "P1", "100")
	tl.journal.setFail(errJournalDown)

	_, err := tl.bid("A", "P1", "150")
	check.True(t, errors.Is(err, errJournalDown))

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	check.Equal(t, 0, len(snap.Bids))
	check.Equal(t, core.WindowUnopened, snap.Property.Window.State)
	check.Equal(t, 0, tl.scheduler.count())

	tl.journal.setFail(nil)
	_, err = tl.bid("A", "P1", "150")
	check.Nil(t, err)
}

func TestSubmitBid_PublishesEvents(t *testing.T) {
	tl := newTestLedger(t)
	analysis := tl.bus.Subscribe(eventbus.TopicAnalysis)
	notifications := tl.bus.Subscribe(eventbus.TopicNotifications)
	defer analysis.Close()
	defer notifications.Close()

	tl.listProperty(t, "P1", "100")
	bid, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := analysis.Next(ctx)
	assert.Nil(t, err)
	check.Equal(t, marketapi.EventBidAccepted, ev.Type)
	accepted, ok := ev.Payload.(marketapi.BidAcceptedEvent)
	assert.True(t, ok)
	check.Equal(t, bid.ID, accepted.BidID)

	opened, err := notifications.Next(ctx)
	assert.Nil(t, err)
	check.Equal(t, marketapi.EventWindowOpened, opened.Type)

	note, err := notifications.Next(ctx)
	assert.Nil(t, err)
	check.Equal(t, marketapi.EventBidNotification, note.Type)
}

func TestStartOnActivation(t *testing.T) {
	tl := newTestLedger(t, WithStartPolicy(StartOnActivation))
	tl.listProperty(t, "P1", "100")

	_, err := tl.bid("A", "P1", "150")
	check.True(t, errors.Is(err, core.ErrWindowClosed))

	_, err = tl.Activate(context.Background(), tenant("A"), "P1")
	check.True(t, errors.Is(err, core.ErrForbidden))

	other := core.Principal{ID: "landlord_2", Role: core.RoleLandlord}
	_, err = tl.Activate(context.Background(), other, "P1")
	check.True(t, errors.Is(err, core.ErrForbidden))

	window, err := tl.Activate(context.Background(), landlord, "P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowOpen, window.State)

	_, err = tl.Activate(context.Background(), landlord, "P1")
	check.True(t, errors.Is(err, core.ErrValidation))

	_, err = tl.bid("A", "P1", "150")
	check.Nil(t, err)
	check.Equal(t, 1, tl.scheduler.count())
}

func TestRegister(t *testing.T) {
	tl := newTestLedger(t)
	ctx := context.Background()

	p, err := tl.Register(ctx, landlord, core.Property{
		Name:      "Loft",
		BasePrice: decimal.RequireFromString("1200000.499"),
		Currency:  core.CurrencyCOP,
	})
	assert.Nil(t, err)
	check.NotEqual(t, "", p.ID)
	check.Equal(t, landlord.ID, p.LandlordID)
	check.Equal(t, core.WindowUnopened, p.Window.State)
	check.Equal(t, "1200000.5", p.BasePrice.String())
	check.Equal(t, testStart, p.ListedAt)

	_, err = tl.Register(ctx, landlord, core.Property{ID: p.ID, Name: "Dup", BasePrice: decimal.NewFromInt(1), Currency: core.CurrencyCOP})
	check.True(t, errors.Is(err, core.ErrPropertyExists))

	tests := []struct {
		name     string
		owner    core.Principal
		property core.Property
		wantErr  error
	}{
		{"tenant cannot list", tenant("A"), core.Property{Name: "x", BasePrice: decimal.NewFromInt(1), Currency: core.CurrencyUSD}, core.ErrForbidden},
		{"missing name", landlord, core.Property{BasePrice: decimal.NewFromInt(1), Currency: core.CurrencyUSD}, core.ErrValidation},
		{"zero base price", landlord, core.Property{Name: "x", Currency: core.CurrencyUSD}, core.ErrValidation},
		{"crypto currency", landlord, core.Property{Name: "x", BasePrice: decimal.NewFromInt(1), Currency: core.CurrencyAVAX}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tl.Register(ctx, tt.owner, tt.property)
			check.True(t, errors.Is(err, tt.wantErr))
		})
	}

	check.Equal(t, 1, len(tl.Properties()))
}

func TestRegister_JournalFailure(t *testing.T) {
	tl := newTestLedger(t)
	tl.journal.setFail(errJournalDown)

	_, err := tl.Register(context.Background(), landlord, core.Property{
		ID: "P1", Name: "x", BasePrice: decimal.NewFromInt(1), Currency: core.CurrencyUSD,
	})
	check.True(t, errors.Is(err, errJournalDown))

	_, err = tl.Snapshot("P1")
	check.True(t, errors.Is(err, core.ErrPropertyNotFound))
}

func TestRelist(t *testing.T) {
	tl := newTestLedger(t, WithStartPolicy(StartOnActivation))
	closes := newCloseRecorder(tl.Ledger)
	tl.listProperty(t, "P1", "100")
	ctx := context.Background()

	_, err := tl.Relist(ctx, landlord, "P1")
	check.True(t, errors.Is(err, core.ErrValidation))

	_, err = tl.Activate(ctx, landlord, "P1")
	assert.Nil(t, err)
	tl.scheduler.last(t).f()
	closes.wait(t)

	_, _, err = tl.BeginSettlement(ctx, "P1")
	check.True(t, errors.Is(err, core.ErrNoBids))

	window, err := tl.Relist(ctx, landlord, "P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowUnopened, window.State)

	// A stale timer from the previous window must not close a new one
	stale := tl.scheduler.last(t)
	tl.clock.Advance(time.Hour)
	_, err = tl.Activate(ctx, landlord, "P1")
	assert.Nil(t, err)
	stale.f()
	closes.none(t)

	snap, err := tl.Snapshot("P1")
	assert.Nil(t, err)
	check.Equal(t, core.WindowOpen, snap.Property.Window.State)
}

func TestRelist_WithBidsRejected(t *testing.T) {
	tl := newTestLedger(t)
	closes := newCloseRecorder(tl.Ledger)
	tl.listProperty(t, "P1", "100")

	_, err := tl.bid("A", "P1", "150")
	assert.Nil(t, err)
	tl.scheduler.last(t).f()
	closes.wait(t)

	_, err = tl.Relist(context.Background(), landlord, "P1")
	check.True(t, errors.Is(err, core.ErrValidation))
}
