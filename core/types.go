package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is a payment currency accepted by the marketplace.
type Currency string

const (
	CurrencyUSD  Currency = "USD"
	CurrencyCOP  Currency = "COP"
	CurrencyAVAX Currency = "AVAX"
	CurrencyUSDT Currency = "USDT"
)

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	return c.IsFiat() || c.IsCrypto()
}

// IsFiat reports whether c settles conventionally.
func (c Currency) IsFiat() bool {
	return c == CurrencyUSD || c == CurrencyCOP
}

// IsCrypto reports whether c settles on chain and needs a rate conversion.
func (c Currency) IsCrypto() bool {
	return c == CurrencyAVAX || c == CurrencyUSDT
}

// Role is the marketplace role carried by an authenticated principal.
type Role string

const (
	RoleLandlord Role = "landlord"
	RoleTenant   Role = "tenant"
	RoleOperator Role = "operator"
)

// Principal is the authenticated caller as handed over by the auth collaborator.
// It is trusted as-is; credentials are never re-validated here.
type Principal struct {
	ID     string `json:"id"`
	Role   Role   `json:"role"`
	Wallet string `json:"wallet_address,omitempty"`
}

// WindowState is the state of a property's bidding window.
type WindowState string

const (
	WindowUnopened WindowState = "UNOPENED"
	WindowOpen     WindowState = "OPEN"
	WindowClosed   WindowState = "CLOSED"
	WindowSettling WindowState = "SETTLING"
	WindowSettled  WindowState = "SETTLED"
	WindowFailed   WindowState = "FAILED"
)

// Window is the bidding window attached to a property.
type Window struct {
	State    WindowState `json:"state"`
	OpenedAt time.Time   `json:"opened_at,omitzero"`
	ClosesAt time.Time   `json:"closes_at,omitzero"`
}

// Property is a listed rental property. Everything except Window is fixed at listing time.
type Property struct {
	ID         string          `json:"id"`
	LandlordID string          `json:"landlord_id"`
	Name       string          `json:"name"`
	Address    string          `json:"address"`
	BasePrice  decimal.Decimal `json:"base_price"`
	Currency   Currency        `json:"currency"`
	Window     Window          `json:"window"`
	ListedAt   time.Time       `json:"listed_at"`
}

// Bid is an accepted bid. Amount is denominated in the property's currency;
// Currency is what the bidder pays with.
type Bid struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"property_id"`
	Bidder     string          `json:"bidder"`
	Wallet     string          `json:"wallet_address,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   Currency        `json:"currency"`
	Seq        uint64          `json:"seq"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// SettlementStatus is the outcome of a settlement attempt.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementConfirmed SettlementStatus = "CONFIRMED"
	SettlementFailed    SettlementStatus = "FAILED"
)

// SettlementRecord is the outcome of a closed window.
type SettlementRecord struct {
	ID              string           `json:"id"`
	PropertyID      string           `json:"property_id"`
	WinningBidID    string           `json:"winning_bid_id"`
	Payer           string           `json:"payer"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        Currency         `json:"currency"`
	SettledAmount   decimal.Decimal  `json:"settled_amount"`
	SettledCurrency Currency         `json:"settled_currency"`
	Status          SettlementStatus `json:"status"`
	Receipt         string           `json:"receipt,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	Attempts        int              `json:"attempts"`
	Proof           []byte           `json:"-"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// RankedProperty is one entry of a tenant's ranking.
type RankedProperty struct {
	Property Property `json:"property"`
	Score    float64  `json:"score"`
}

// BidSummary describes the top of a property's bid history.
type BidSummary struct {
	// Winner is the highest accepted bid (nil if no bids)
	Winner *Bid

	// RunnerUp is the second-highest accepted bid (nil if fewer than 2 bids)
	RunnerUp *Bid

	Count int
}
