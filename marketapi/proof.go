package marketapi

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SettlementProof is a raw COSE_Sign1 settlement proof.
type SettlementProof []byte

// ProofBase64 is a standard base64 encoded SettlementProof, as returned by the HTTP API.
type ProofBase64 string

// ProofURLBase64 is a URL-safe, unpadded base64 encoded SettlementProof.
type ProofURLBase64 string

// ProofPayload is the CBOR payload signed into every settlement proof.
type ProofPayload struct {
	RecordID        string `cbor:"record_id" json:"record_id"`
	PropertyID      string `cbor:"property_id" json:"property_id"`
	WinningBidID    string `cbor:"winning_bid_id" json:"winning_bid_id"`
	WinningBidHash  string `cbor:"winning_bid_hash" json:"winning_bid_hash"`
	SettlementHash  string `cbor:"settlement_hash" json:"settlement_hash"`
	HashNonce       string `cbor:"hash_nonce" json:"hash_nonce"`
	Status          string `cbor:"status" json:"status"`
	Amount          string `cbor:"amount" json:"amount"`
	Currency        string `cbor:"currency" json:"currency"`
	SettledAmount   string `cbor:"settled_amount" json:"settled_amount"`
	SettledCurrency string `cbor:"settled_currency" json:"settled_currency"`
	Receipt         string `cbor:"receipt" json:"receipt"`
	Attempts        int    `cbor:"attempts" json:"attempts"`
	Timestamp       int64  `cbor:"timestamp" json:"timestamp"` // unix seconds
}

func (p SettlementProof) EncodeBase64() ProofBase64 {
	return ProofBase64(base64.StdEncoding.EncodeToString(p))
}

func (p SettlementProof) EncodeURLSafe() ProofURLBase64 {
	return ProofURLBase64(base64.RawURLEncoding.EncodeToString(p))
}

func (b ProofBase64) Decode() (SettlementProof, error) {
	raw, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode proof base64: %w", err)
	}
	return SettlementProof(raw), nil
}

func (b ProofBase64) String() string {
	return string(b)
}

// Decode accepts both padded and unpadded input.
func (u ProofURLBase64) Decode() (SettlementProof, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(u), "="))
	if err != nil {
		return nil, fmt.Errorf("decode proof base64url: %w", err)
	}
	return SettlementProof(raw), nil
}

func (u ProofURLBase64) String() string {
	return string(u)
}
