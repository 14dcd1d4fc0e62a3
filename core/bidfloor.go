package core

import (
	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 2 // 2 decimal places for rental prices (0.01 precision)

// BidExceeds returns true if the bid amount strictly exceeds the floor.
// The floor is the current highest accepted bid, or the base price when there is none.
// Uses decimal arithmetic with monetaryPrecision so 150.001 does not beat 150.00.
func BidExceeds(amount, floor decimal.Decimal) bool {
	return amount.Round(monetaryPrecision).GreaterThan(floor.Round(monetaryPrecision))
}

// RoundAmount rounds a monetary amount to the precision bids are compared at.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(monetaryPrecision)
}

// CurrentFloor returns the amount a new bid has to beat.
func CurrentFloor(basePrice decimal.Decimal, bids []Bid) decimal.Decimal {
	if len(bids) == 0 {
		return basePrice
	}
	// Accepted bids are strictly increasing, so the last one is the highest
	return bids[len(bids)-1].Amount
}

// SummarizeBids extracts winner and runner-up from an accepted bid history.
func SummarizeBids(bids []Bid) BidSummary {
	summary := BidSummary{Count: len(bids)}
	if len(bids) > 0 {
		winner := bids[len(bids)-1]
		summary.Winner = &winner
	}
	if len(bids) > 1 {
		runnerUp := bids[len(bids)-2]
		summary.RunnerUp = &runnerUp
	}
	return summary
}
