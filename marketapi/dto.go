package marketapi

import (
	"github.com/cloudx-io/rentauction/core"
)

// CreatePropertyRequest lists a new property.
type CreatePropertyRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	Address   string `json:"address" validate:"required,max=300"`
	BasePrice string `json:"base_price" validate:"required,numeric"`
	Currency  string `json:"currency" validate:"required,oneof=USD COP"`
}

// SubmitBidRequest places a bid. Amount is expressed in the property's currency.
type SubmitBidRequest struct {
	Amount   string `json:"amount" validate:"required,numeric"`
	Currency string `json:"currency" validate:"required,oneof=USD COP AVAX USDT"`
}

// RentNowRequest takes a property at its base price. Currency picks the payment rail.
type RentNowRequest struct {
	Currency string `json:"currency" validate:"required,oneof=USD COP AVAX USDT"`
}

// CriteriaRequest stores a tenant's ratings for one property.
type CriteriaRequest struct {
	Ratings map[string]int `json:"ratings" validate:"required,min=1,dive,min=1,max=5"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PropertyResponse is the current state of a property and its window.
type PropertyResponse struct {
	Property   core.Property `json:"property"`
	Bids       []core.Bid    `json:"bids"`
	HighestBid *core.Bid     `json:"highest_bid,omitempty"`
	BidCount   int           `json:"bid_count"`
}

// ScoreResponse is a single property score for the calling tenant.
type ScoreResponse struct {
	PropertyID string  `json:"property_id"`
	Score      float64 `json:"score"`
}

// RankingResponse is the calling tenant's property ranking.
type RankingResponse struct {
	TenantID   string                `json:"tenant_id"`
	Properties []core.RankedProperty `json:"properties"`
}

// SettlementResponse wraps a settlement record with its encoded proof.
type SettlementResponse struct {
	Record core.SettlementRecord `json:"record"`
	Proof  ProofBase64           `json:"proof,omitempty"`
}

// RentNowResponse is the purchase and the outcome of its settlement.
type RentNowResponse struct {
	Bid        core.Bid           `json:"bid"`
	Settlement SettlementResponse `json:"settlement"`
}

// PublicKeyResponse publishes the key used to verify settlement proofs.
type PublicKeyResponse struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"public_key"` // PEM format
}
