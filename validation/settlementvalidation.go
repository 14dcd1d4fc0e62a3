package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/attest"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/marketapi"
)

// SettlementValidationInput contains all inputs needed to check a settlement proof
type SettlementValidationInput struct {
	Proof        marketapi.ProofBase64
	PublicKeyPEM string
	Record       core.SettlementRecord // As returned by the settlement endpoint

	// The bid the caller believes won. Zero values fall back to the record.
	BidID       string
	BidAmount   decimal.Decimal
	BidCurrency core.Currency
}

// ValidateSettlementProof verifies a settlement proof and checks that:
// - it was signed by the published marketplace key
// - it describes the given settlement record
// - it commits to the expected winning bid
//
// Returns:
//   - SettlementValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed proof or key)
func ValidateSettlementProof(input *SettlementValidationInput) (*SettlementValidationResult, error) {
	proof, err := input.Proof.Decode()
	if err != nil {
		return nil, err
	}

	key, err := attest.ParsePublicKeyPEM(input.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}

	result := &SettlementValidationResult{ValidationDetails: []string{}}

	msg, err := VerifyProofSignature(proof, key)
	if err != nil {
		result.detail("%v", err)
		return result, nil
	}
	result.SignatureValid = true
	result.detail("COSE signature verified")

	result.KeyIDValid, err = keyIDMatches(msg, key)
	if err != nil {
		return nil, err
	}
	if result.KeyIDValid {
		result.detail("Key id matches published key")
	} else {
		result.detail("Key id header missing or does not match published key")
	}

	payload, err := DecodeProofPayload(msg)
	if err != nil {
		return nil, err
	}
	result.Payload = payload

	if payload.HashNonce == "" {
		result.detail("Hash nonce missing from proof")
		return result, nil
	}

	result.RecordMatch = validateRecordFields(input.Record, payload, result)
	result.SettlementHashValid = validateSettlementHash(input.Record, payload, result)
	result.BidHashValid = validateBidHash(input, payload, result)

	return result, nil
}

func validateRecordFields(rec core.SettlementRecord, payload *marketapi.ProofPayload, result *SettlementValidationResult) bool {
	mismatches := 0
	compare := func(field, want, got string) {
		if want != got {
			mismatches++
			result.detail("%s mismatch: record has %q, proof has %q", field, want, got)
		}
	}
	compare("record_id", rec.ID, payload.RecordID)
	compare("property_id", rec.PropertyID, payload.PropertyID)
	compare("winning_bid_id", rec.WinningBidID, payload.WinningBidID)
	compare("status", string(rec.Status), payload.Status)
	compare("settled_currency", string(rec.SettledCurrency), payload.SettledCurrency)
	compare("settled_amount", rec.SettledAmount.StringFixed(8), payload.SettledAmount)

	if mismatches == 0 {
		result.detail("Record fields match proof (status %s)", payload.Status)
		return true
	}
	return false
}

func validateSettlementHash(rec core.SettlementRecord, payload *marketapi.ProofPayload, result *SettlementValidationResult) bool {
	computed := core.ComputeSettlementHash(rec, payload.HashNonce)
	if computed == payload.SettlementHash {
		result.detail("Settlement hash validation passed: %s", computed)
		return true
	}
	result.detail("Settlement hash mismatch: computed %s, proof has %s", computed, payload.SettlementHash)
	return false
}

func validateBidHash(input *SettlementValidationInput, payload *marketapi.ProofPayload, result *SettlementValidationResult) bool {
	bidID := input.BidID
	if bidID == "" {
		bidID = input.Record.WinningBidID
	}
	amount := input.BidAmount
	if amount.IsZero() {
		amount = input.Record.Amount
	}
	currency := input.BidCurrency
	if currency == "" {
		currency = input.Record.Currency
	}

	computed := core.ComputeBidHash(bidID, amount, currency, payload.HashNonce)
	if computed == payload.WinningBidHash {
		result.detail("Winning bid hash validation passed: bid %s for %s %s", bidID, amount.StringFixed(2), currency)
		return true
	}
	result.detail("Winning bid hash mismatch for bid %s: computed %s, proof has %s", bidID, computed, payload.WinningBidHash)
	return false
}
