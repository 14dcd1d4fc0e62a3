// Package attest signs settlement outcomes so tenants and landlords can check
// them offline against the marketplace's published key.
package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/rentauction/clock"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/marketapi"
)

// Algorithm is the COSE algorithm used for settlement proofs.
const Algorithm = "ES256"

// Sealer signs settlement proofs with an ECDSA P-256 key.
type Sealer struct {
	privateKey *ecdsa.PrivateKey // never leaves the process
	PublicKey  *ecdsa.PublicKey
	signer     cose.Signer
	keyID      []byte
	clock      clock.Clock
}

// NewSealer generates a fresh signing key.
func NewSealer(c clock.Clock) (*Sealer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewSealerFromKey(key, c)
}

// NewSealerFromKey wraps an existing P-256 key.
func NewSealerFromKey(key *ecdsa.PrivateKey, c clock.Clock) (*Sealer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create COSE signer: %w", err)
	}
	if c == nil {
		c = clock.NewSystem()
	}

	s := &Sealer{
		privateKey: key,
		PublicKey:  &key.PublicKey,
		signer:     signer,
		clock:      c,
	}
	s.keyID, err = KeyID(s.PublicKey)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: Settlement sealer initialized (key id %x)", s.keyID)
	return s, nil
}

// Seal produces a COSE_Sign1 proof committing to the record and its winning bid.
func (s *Sealer) Seal(rec core.SettlementRecord, winner core.Bid) ([]byte, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate hash nonce: %w", err)
	}

	payload := marketapi.ProofPayload{
		RecordID:        rec.ID,
		PropertyID:      rec.PropertyID,
		WinningBidID:    winner.ID,
		WinningBidHash:  core.ComputeBidHash(winner.ID, winner.Amount, winner.Currency, nonce),
		SettlementHash:  core.ComputeSettlementHash(rec, nonce),
		HashNonce:       nonce,
		Status:          string(rec.Status),
		Amount:          rec.Amount.StringFixed(2),
		Currency:        string(rec.Currency),
		SettledAmount:   rec.SettledAmount.StringFixed(8),
		SettledCurrency: string(rec.SettledCurrency),
		Receipt:         rec.Receipt,
		Attempts:        rec.Attempts,
		Timestamp:       s.clock.Now().Unix(),
	}

	payloadBytes, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof payload: %w", err)
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES256)
	msg.Headers.Unprotected[cose.HeaderLabelKeyID] = s.keyID
	msg.Payload = payloadBytes

	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("failed to sign settlement proof: %w", err)
	}

	proof, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settlement proof: %w", err)
	}
	return proof, nil
}

// PublicKeyPEM returns the verification key in PEM format.
func (s *Sealer) PublicKeyPEM() (string, error) {
	return PublicKeyPEM(s.PublicKey)
}

// PublicKeyPEM encodes an ECDSA public key as a PKIX PEM block.
func PublicKeyPEM(key *ecdsa.PublicKey) (string, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes})), nil
}

// ParsePublicKeyPEM decodes a PKIX PEM block holding an ECDSA public key.
func ParsePublicKeyPEM(data string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("no PUBLIC KEY block found in PEM data")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	return key, nil
}

// ParsePrivateKeyPEM decodes a SEC 1 ("EC PRIVATE KEY") or PKCS #8 P-256 key.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key data")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		return checkCurve(key)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS8 private key: %w", err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not ECDSA")
		}
		return checkCurve(key)
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

func checkCurve(key *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error) {
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must use P-256, got %s", key.Curve.Params().Name)
	}
	return key, nil
}

// KeyID is the first 8 bytes of the SHA-256 of the key's PKIX encoding.
func KeyID(key *ecdsa.PublicKey) ([]byte, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(derBytes)
	return sum[:8], nil
}

func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
