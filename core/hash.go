package core

import (
	"crypto/sha256"
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeBidHash computes the hash committing to an accepted bid.
// Used by settlement proofs (to embed) and validation (to verify).
//
// Formula: SHA256(bid_id + "|" + amount.StringFixed(2) + "|" + currency + "|" + nonce)
//
// The amount is formatted to exactly 2 decimal places so equal amounts hash
// identically regardless of how the decimal was constructed.
func ComputeBidHash(bidID string, amount decimal.Decimal, currency Currency, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s", bidID, amount.StringFixed(monetaryPrecision), currency, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeSettlementHash computes the hash committing to a settlement outcome.
//
// Formula: SHA256(property_id + "|" + winning_bid_id + "|" + status + "|" + settled_amount + "|" + settled_currency + "|" + receipt + "|" + nonce)
//
// The settled amount is formatted to exactly 8 decimal places to cover crypto units.
func ComputeSettlementHash(record SettlementRecord, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		record.PropertyID,
		record.WinningBidID,
		record.Status,
		record.SettledAmount.StringFixed(cryptoPrecision),
		record.SettledCurrency,
		record.Receipt,
		nonce,
	)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
