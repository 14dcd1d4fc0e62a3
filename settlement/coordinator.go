// Package settlement turns a closed bidding window into a payment.
//
// The coordinator resolves the winning bid, converts crypto payments through
// the rate oracle, calls the payment service and records exactly one
// CONFIRMED or FAILED outcome per attempt. Only an operator retry starts a
// second attempt.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/clock"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/marketapi"
)

const (
	defaultPaymentTimeout = 30 * time.Second
	interruptedReason     = "interrupted by restart"
)

// PaymentRequest asks the payment service to move funds for a winning bid.
type PaymentRequest struct {
	PropertyID string
	BidID      string
	Payer      string
	Wallet     string
	Amount     decimal.Decimal
	Currency   core.Currency
}

// Receipt is the payment service's confirmation.
type Receipt struct {
	Reference string
	SettledAt time.Time
}

// PaymentService settles a payment. Conventional and crypto payments go
// through the same interface; Currency tells them apart.
type PaymentService interface {
	Settle(ctx context.Context, req PaymentRequest) (Receipt, error)
}

// RateOracle quotes crypto prices in a fiat currency.
type RateOracle interface {
	Rate(ctx context.Context, fiat core.Currency) (core.Quote, error)
}

// Sealer produces a signed proof of a settlement outcome.
type Sealer interface {
	Seal(rec core.SettlementRecord, winner core.Bid) ([]byte, error)
}

// Ledger is the part of the bid ledger settlement drives.
type Ledger interface {
	BeginSettlement(ctx context.Context, propertyID string) (core.Property, core.Bid, error)
	BeginRetry(ctx context.Context, propertyID string) (core.Property, core.Bid, error)
	FinishSettlement(ctx context.Context, propertyID string, ok bool) error
}

type Publisher interface {
	Publish(topic, eventType string, payload any) eventbus.Event
}

type Coordinator struct {
	ledger    Ledger
	payments  PaymentService
	oracle    RateOracle
	records   RecordStore
	sealer    Sealer
	publisher Publisher
	clock     clock.Clock
	timeout   time.Duration
}

type Option func(*Coordinator)

func WithRecordStore(s RecordStore) Option {
	return func(c *Coordinator) { c.records = s }
}

func WithSealer(s Sealer) Option {
	return func(c *Coordinator) { c.sealer = s }
}

func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) { c.clock = cl }
}

// WithPaymentTimeout bounds a single payment service call.
func WithPaymentTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewCoordinator(l Ledger, payments PaymentService, oracle RateOracle, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:   l,
		payments: payments,
		oracle:   oracle,
		records:  NewMemoryRecordStore(),
		clock:    clock.NewSystem(),
		timeout:  defaultPaymentTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleClose settles a property whose window just closed. It is meant to be
// registered as the ledger's close handler.
func (c *Coordinator) HandleClose(propertyID string) {
	rec, err := c.Settle(context.Background(), propertyID)
	switch {
	case err == nil:
		log.Printf("INFO: Settlement %s for %s confirmed (receipt %s)", rec.ID, propertyID, rec.Receipt)
	case errors.Is(err, core.ErrNoBids):
		log.Printf("INFO: Window for %s closed without bids, property is available again", propertyID)
	case errors.Is(err, core.ErrSettlementInProgress), errors.Is(err, core.ErrAlreadySettled):
		log.Printf("INFO: Settlement for %s already handled, ignoring close: %v", propertyID, err)
	default:
		log.Printf("ERROR: Settlement for %s failed: %v", propertyID, err)
	}
}

// Settle runs the single automatic settlement attempt for a closed window.
// Caller cancellation does not interrupt an attempt once it has started.
func (c *Coordinator) Settle(ctx context.Context, propertyID string) (core.SettlementRecord, error) {
	ctx = context.WithoutCancel(ctx)

	property, winner, err := c.ledger.BeginSettlement(ctx, propertyID)
	if err != nil {
		return core.SettlementRecord{}, err
	}

	rec := core.SettlementRecord{
		ID:        uuid.New().String(),
		CreatedAt: c.clock.Now(),
	}
	return c.run(ctx, property, winner, rec)
}

// Retry starts a new attempt for a FAILED settlement. Operators only.
func (c *Coordinator) Retry(ctx context.Context, actor core.Principal, propertyID string) (core.SettlementRecord, error) {
	if actor.Role != core.RoleOperator {
		return core.SettlementRecord{}, fmt.Errorf("%w: only operators can retry settlements", core.ErrForbidden)
	}
	ctx = context.WithoutCancel(ctx)

	property, winner, err := c.ledger.BeginRetry(ctx, propertyID)
	if err != nil {
		return core.SettlementRecord{}, err
	}

	rec, err := c.records.LoadRecord(ctx, propertyID)
	if err != nil {
		if !errors.Is(err, core.ErrRecordNotFound) {
			c.finishWindow(ctx, propertyID, false)
			return core.SettlementRecord{}, fmt.Errorf("failed to load settlement record for %s: %w", propertyID, err)
		}
		// Crashed before the first record was written
		rec = core.SettlementRecord{ID: uuid.New().String(), CreatedAt: c.clock.Now()}
	}

	log.Printf("INFO: Operator %s retrying settlement %s for %s (attempt %d)", actor.ID, rec.ID, propertyID, rec.Attempts+1)
	return c.run(ctx, property, winner, rec)
}

// RecoverPending fails every record a previous process left PENDING. Run it
// before the ledger is restored, while no attempt of this process can be in
// flight. The matching windows come back FAILED from Restore, so an operator
// retry resumes them.
func (c *Coordinator) RecoverPending(ctx context.Context) (int, error) {
	pending, err := c.records.PendingRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending settlements: %w", err)
	}

	for _, rec := range pending {
		rec.Status = core.SettlementFailed
		rec.FailureReason = interruptedReason
		rec.Receipt = ""
		rec.Proof = nil
		rec.UpdatedAt = c.clock.Now()

		if err := c.records.SaveRecord(ctx, rec); err != nil {
			return 0, fmt.Errorf("failed to mark settlement %s failed: %w", rec.ID, err)
		}
		c.publish(marketapi.EventSettlementFailed, rec)
		log.Printf("WARNING: Settlement %s for %s was interrupted on attempt %d, marked FAILED", rec.ID, rec.PropertyID, rec.Attempts)
	}
	return len(pending), nil
}

// Record returns the latest settlement record for a property.
func (c *Coordinator) Record(ctx context.Context, propertyID string) (core.SettlementRecord, error) {
	return c.records.LoadRecord(ctx, propertyID)
}

func (c *Coordinator) run(ctx context.Context, property core.Property, winner core.Bid, rec core.SettlementRecord) (out core.SettlementRecord, err error) {
	rec.PropertyID = property.ID
	rec.WinningBidID = winner.ID
	rec.Payer = winner.Bidder
	rec.Amount = winner.Amount
	rec.Currency = winner.Currency
	rec.SettledAmount = decimal.Zero
	rec.SettledCurrency = ""
	rec.Status = core.SettlementPending
	rec.Receipt = ""
	rec.FailureReason = ""
	rec.Proof = nil
	rec.Attempts++
	rec.UpdatedAt = c.clock.Now()

	if saveErr := c.records.SaveRecord(ctx, rec); saveErr != nil {
		c.finishWindow(ctx, property.ID, false)
		return rec, fmt.Errorf("failed to save pending settlement for %s: %w", property.ID, saveErr)
	}

	finalizing := false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.Printf("ERROR: Panic recovered in settlement of %s: %v", property.ID, r)
		if finalizing {
			// Recording the outcome itself blew up; do not try again
			rec.Status = core.SettlementFailed
			rec.FailureReason = fmt.Sprintf("settlement aborted: %v", r)
			rec.Receipt = ""
			rec.Proof = nil
			rec.UpdatedAt = c.clock.Now()
			c.saveAfterPanic(ctx, rec)
			c.finishWindow(ctx, property.ID, false)
			out, err = rec, fmt.Errorf("settlement %s aborted while recording outcome: %v", rec.ID, r)
			return
		}
		out, err = c.finalize(ctx, rec, winner, fmt.Errorf("settlement aborted: %v", r))
	}()

	attemptErr := c.attempt(ctx, property, winner, &rec)
	finalizing = true
	return c.finalize(ctx, rec, winner, attemptErr)
}

// attempt performs conversion and payment, filling in the settled amount and receipt.
func (c *Coordinator) attempt(ctx context.Context, property core.Property, winner core.Bid, rec *core.SettlementRecord) error {
	rec.SettledAmount = winner.Amount
	rec.SettledCurrency = property.Currency

	if winner.Currency.IsCrypto() {
		if winner.Wallet == "" {
			return fmt.Errorf("%w: crypto settlement requires a payer wallet address", core.ErrValidation)
		}

		quote, err := c.oracle.Rate(ctx, property.Currency)
		if err != nil {
			if errors.Is(err, core.ErrRateUnavailable) {
				return err
			}
			return fmt.Errorf("%w: %w", core.ErrRateUnavailable, err)
		}

		units, err := core.ConvertToCrypto(winner.Amount, winner.Currency, quote)
		if err != nil {
			return err
		}
		rec.SettledAmount = units
		rec.SettledCurrency = winner.Currency
		log.Printf("INFO: Converted %s %s to %s %s for settlement %s",
			winner.Amount, property.Currency, units, winner.Currency, rec.ID)
	}

	payCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	receipt, err := c.payments.Settle(payCtx, PaymentRequest{
		PropertyID: property.ID,
		BidID:      winner.ID,
		Payer:      winner.Bidder,
		Wallet:     winner.Wallet,
		Amount:     rec.SettledAmount,
		Currency:   rec.SettledCurrency,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrPaymentFailed, err)
	}

	rec.Receipt = receipt.Reference
	return nil
}

// finalize records the attempt's single outcome, moves the window and publishes it.
func (c *Coordinator) finalize(ctx context.Context, rec core.SettlementRecord, winner core.Bid, attemptErr error) (core.SettlementRecord, error) {
	rec.UpdatedAt = c.clock.Now()
	if attemptErr != nil {
		rec.Status = core.SettlementFailed
		rec.FailureReason = attemptErr.Error()
		rec.Receipt = ""
	} else {
		rec.Status = core.SettlementConfirmed
	}

	rec.Proof = c.seal(rec, winner)

	saveErr := c.records.SaveRecord(ctx, rec)
	if saveErr != nil {
		log.Printf("ERROR: Failed to save %s settlement %s: %v", rec.Status, rec.ID, saveErr)
	}

	c.finishWindow(ctx, rec.PropertyID, attemptErr == nil)

	eventType := marketapi.EventSettlementConfirmed
	if attemptErr != nil {
		eventType = marketapi.EventSettlementFailed
	}
	c.publish(eventType, rec)

	if attemptErr != nil {
		log.Printf("WARNING: Settlement %s for %s failed on attempt %d: %v", rec.ID, rec.PropertyID, rec.Attempts, attemptErr)
		return rec, attemptErr
	}
	if saveErr != nil {
		return rec, fmt.Errorf("failed to save confirmed settlement %s: %w", rec.ID, saveErr)
	}

	log.Printf("INFO: Settlement %s for %s confirmed: %s %s paid by %s",
		rec.ID, rec.PropertyID, rec.SettledAmount, rec.SettledCurrency, rec.Payer)
	return rec, nil
}

// seal returns the proof for rec, or nil when sealing fails or panics.
func (c *Coordinator) seal(rec core.SettlementRecord, winner core.Bid) (proof []byte) {
	if c.sealer == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered while sealing settlement proof for %s: %v", rec.ID, r)
			proof = nil
		}
	}()

	proof, err := c.sealer.Seal(rec, winner)
	if err != nil {
		log.Printf("ERROR: Failed to seal settlement proof for %s: %v", rec.ID, err)
		return nil
	}
	return proof
}

func (c *Coordinator) publish(eventType string, rec core.SettlementRecord) {
	if c.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered while publishing %s for %s: %v", eventType, rec.ID, r)
		}
	}()
	c.publisher.Publish(eventbus.TopicNotifications, eventType, marketapi.NewSettlementEvent(rec))
}

// saveAfterPanic makes one last attempt to store a FAILED record. A record
// still PENDING after this is failed by RecoverPending on the next start.
func (c *Coordinator) saveAfterPanic(ctx context.Context, rec core.SettlementRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered while saving failed settlement %s: %v", rec.ID, r)
		}
	}()
	if err := c.records.SaveRecord(ctx, rec); err != nil {
		log.Printf("ERROR: Failed to save failed settlement %s: %v", rec.ID, err)
	}
}

func (c *Coordinator) finishWindow(ctx context.Context, propertyID string, ok bool) {
	if err := c.ledger.FinishSettlement(ctx, propertyID, ok); err != nil {
		log.Printf("ERROR: Failed to finish settlement window for %s: %v", propertyID, err)
	}
}
