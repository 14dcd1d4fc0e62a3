package marketapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
)

// Event types published on the bus and delivered to websocket clients.
const (
	EventBidAccepted         = "bid.accepted"
	EventBidNotification     = "bid.notification"
	EventWindowOpened        = "window.opened"
	EventWindowClosed        = "window.closed"
	EventWindowRelisted      = "window.relisted"
	EventRentedNow           = "property.rented_now"
	EventSettlementConfirmed = "settlement.confirmed"
	EventSettlementFailed    = "settlement.failed"

	// Client-originated messages relayed by the gateway
	EventAnalysisMessage     = "analysis_message"
	EventNotificationMessage = "send_notification"
)

// BidAcceptedEvent is published to the analysis topic for every accepted bid.
type BidAcceptedEvent struct {
	PropertyID string          `json:"property_id"`
	BidID      string          `json:"bid_id"`
	Bidder     string          `json:"bidder"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   core.Currency   `json:"currency"`
	Seq        uint64          `json:"seq"`
	PlacedAt   time.Time       `json:"placed_at"`
	ClosesAt   time.Time       `json:"closes_at"`
}

// Notification is a human-readable message for the notifications topic.
type Notification struct {
	PropertyID string `json:"property_id,omitempty"`
	Message    string `json:"message"`
}

// WindowEvent reports a bidding window transition.
type WindowEvent struct {
	PropertyID   string           `json:"property_id"`
	State        core.WindowState `json:"state"`
	OpenedAt     time.Time        `json:"opened_at,omitzero"`
	ClosesAt     time.Time        `json:"closes_at,omitzero"`
	BidCount     int              `json:"bid_count"`
	WinningBidID string           `json:"winning_bid_id,omitempty"`
}

// SettlementEvent reports the outcome of a settlement attempt.
type SettlementEvent struct {
	PropertyID      string                `json:"property_id"`
	RecordID        string                `json:"record_id"`
	WinningBidID    string                `json:"winning_bid_id"`
	Status          core.SettlementStatus `json:"status"`
	SettledAmount   decimal.Decimal       `json:"settled_amount"`
	SettledCurrency core.Currency         `json:"settled_currency"`
	Receipt         string                `json:"receipt,omitempty"`
	FailureReason   string                `json:"failure_reason,omitempty"`
	Attempts        int                   `json:"attempts"`
}

// NewSettlementEvent builds the event for a settlement record.
func NewSettlementEvent(rec core.SettlementRecord) SettlementEvent {
	return SettlementEvent{
		PropertyID:      rec.PropertyID,
		RecordID:        rec.ID,
		WinningBidID:    rec.WinningBidID,
		Status:          rec.Status,
		SettledAmount:   rec.SettledAmount,
		SettledCurrency: rec.SettledCurrency,
		Receipt:         rec.Receipt,
		FailureReason:   rec.FailureReason,
		Attempts:        rec.Attempts,
	}
}
