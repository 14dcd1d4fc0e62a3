package validation

import (
	"fmt"

	"github.com/cloudx-io/rentauction/marketapi"
)

// SettlementValidationResult contains the outcome of every settlement proof check
type SettlementValidationResult struct {
	SignatureValid      bool
	KeyIDValid          bool
	RecordMatch         bool
	BidHashValid        bool
	SettlementHashValid bool
	Payload             *marketapi.ProofPayload
	ValidationDetails   []string
}

// IsValid returns true if all settlement proof checks passed
func (r *SettlementValidationResult) IsValid() bool {
	return r.SignatureValid && r.KeyIDValid && r.RecordMatch && r.BidHashValid && r.SettlementHashValid
}

func (r *SettlementValidationResult) detail(format string, args ...any) {
	r.ValidationDetails = append(r.ValidationDetails, fmt.Sprintf(format, args...))
}
