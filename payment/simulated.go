// Package payment provides the simulated payment rails used until a real
// wallet or card processor is integrated.
package payment

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudx-io/rentauction/clock"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/settlement"
)

var _ settlement.PaymentService = (*Simulated)(nil)

// Simulated accepts every well-formed payment. Crypto payments go through the
// simulated Core Wallet and need the payer's wallet address; fiat payments are
// processed conventionally. Payments are idempotent per bid, so a retried
// settlement never charges twice.
type Simulated struct {
	clock clock.Clock

	mu       sync.Mutex
	receipts map[string]settlement.Receipt
}

func NewSimulated(c clock.Clock) *Simulated {
	if c == nil {
		c = clock.NewSystem()
	}
	return &Simulated{clock: c, receipts: make(map[string]settlement.Receipt)}
}

func (s *Simulated) Settle(ctx context.Context, req settlement.PaymentRequest) (settlement.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return settlement.Receipt{}, err
	}
	if !req.Amount.IsPositive() {
		return settlement.Receipt{}, fmt.Errorf("%w: payment amount must be positive, got %s", core.ErrValidation, req.Amount)
	}
	if !req.Currency.Valid() {
		return settlement.Receipt{}, fmt.Errorf("%w: unsupported currency %q", core.ErrValidation, req.Currency)
	}

	rail := "conventional"
	if req.Currency.IsCrypto() {
		if req.Wallet == "" {
			return settlement.Receipt{}, fmt.Errorf("%w: payer %s has no wallet address configured", core.ErrValidation, req.Payer)
		}
		rail = "core-wallet"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.receipts[req.BidID]; ok {
		log.Printf("INFO: Payment for bid %s already processed, returning receipt %s", req.BidID, existing.Reference)
		return existing, nil
	}

	receipt := settlement.Receipt{
		Reference: rail + "-" + uuid.New().String(),
		SettledAt: s.clock.Now(),
	}
	s.receipts[req.BidID] = receipt

	log.Printf("INFO: Processed %s payment of %s %s from %s for property %s",
		rail, req.Amount, req.Currency, req.Payer, req.PropertyID)
	return receipt, nil
}
