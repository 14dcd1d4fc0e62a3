package validation

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/rentauction/attest"
	"github.com/cloudx-io/rentauction/marketapi"
)

// VerifyProofSignature checks the COSE_Sign1 signature of a settlement proof
// and returns the parsed message.
func VerifyProofSignature(proof marketapi.SettlementProof, key *ecdsa.PublicKey) (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(proof); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, fmt.Errorf("read algorithm header: %w", err)
	}
	if alg != cose.AlgorithmES256 {
		return nil, fmt.Errorf("unexpected algorithm %s, want %s", alg, attest.Algorithm)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("COSE signature verification failed: %w", err)
	}
	return &msg, nil
}

// DecodeProofPayload decodes the CBOR payload of a verified proof.
func DecodeProofPayload(msg *cose.Sign1Message) (*marketapi.ProofPayload, error) {
	var payload marketapi.ProofPayload
	if err := cbor.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, fmt.Errorf("parse proof payload: %w", err)
	}
	return &payload, nil
}

// keyIDMatches compares the proof's key id header with the id derived from key.
func keyIDMatches(msg *cose.Sign1Message, key *ecdsa.PublicKey) (bool, error) {
	want, err := attest.KeyID(key)
	if err != nil {
		return false, err
	}
	got, ok := msg.Headers.Unprotected[cose.HeaderLabelKeyID].([]byte)
	if !ok {
		return false, nil
	}
	return bytes.Equal(got, want), nil
}
