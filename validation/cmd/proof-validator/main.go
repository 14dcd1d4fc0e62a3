package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/marketapi"
	"github.com/cloudx-io/rentauction/validation"
)

func main() {
	var (
		settlementInput = flag.String("settlement", "", "Settlement response JSON (file path or inline JSON)")
		publicKeyInput  = flag.String("public-key", "", "Marketplace public key PEM or public-key response JSON (file path or inline)")
		bidID           = flag.String("bid-id", "", "Expected winning bid ID (default: from record)")
		bidAmount       = flag.String("bid-amount", "", "Expected winning bid amount (default: from record)")
		bidCurrency     = flag.String("bid-currency", "", "Expected winning bid currency (default: from record)")
		outputFormat    = flag.String("format", "text", "Output format: text or json")
		help            = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *settlementInput == "" || *publicKeyInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --settlement and --public-key are required\n")
		os.Exit(1)
	}

	settlementJSON, err := readInput(*settlementInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading settlement: %v\n", err)
		os.Exit(2)
	}
	keyData, err := readInput(*publicKeyInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	input, err := buildInput(settlementJSON, keyData, *bidID, *bidAmount, *bidCurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error extracting validation data: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateSettlementProof(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Settlement Proof Validator")
	fmt.Println()
	fmt.Println("Checks that a settlement record was signed by the marketplace and commits to the winning bid.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  proof-validator --settlement <json> --public-key <pem> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --settlement <json>        Response of GET /api/properties/{id}/settlement")
	fmt.Println("  --public-key <pem>         Response of GET /api/settlement/public-key, or the PEM itself")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --bid-id <id>              Bid you expect to have won")
	fmt.Println("  --bid-amount <amount>      Amount of that bid")
	fmt.Println("  --bid-currency <currency>  Currency of that bid")
	fmt.Println("  --format <text|json>       Output format (default: text)")
	fmt.Println("  --help                     Show this help message")
	fmt.Println()
	fmt.Println("Each input accepts either a file path or the inline value.")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readInput(input string) ([]byte, error) {
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	return []byte(input), nil
}

func buildInput(settlementJSON, keyData []byte, bidID, bidAmount, bidCurrency string) (*validation.SettlementValidationInput, error) {
	var settlement marketapi.SettlementResponse
	if err := json.Unmarshal(settlementJSON, &settlement); err != nil {
		return nil, fmt.Errorf("parse settlement: %w", err)
	}
	if settlement.Proof == "" {
		return nil, fmt.Errorf("settlement response has no proof")
	}

	publicKey := string(keyData)
	var keyResp marketapi.PublicKeyResponse
	if err := json.Unmarshal(keyData, &keyResp); err == nil && keyResp.PublicKey != "" {
		publicKey = keyResp.PublicKey
	}

	input := &validation.SettlementValidationInput{
		Proof:        settlement.Proof,
		PublicKeyPEM: publicKey,
		Record:       settlement.Record,
		BidID:        bidID,
		BidCurrency:  core.Currency(bidCurrency),
	}
	if bidAmount != "" {
		amount, err := decimal.NewFromString(bidAmount)
		if err != nil {
			return nil, fmt.Errorf("invalid --bid-amount %q: %w", bidAmount, err)
		}
		input.BidAmount = amount
	}
	return input, nil
}

func outputText(result *validation.SettlementValidationResult) {
	fmt.Println("Settlement Proof Validator")
	fmt.Println("==========================")
	fmt.Println()

	if result.Payload != nil {
		fmt.Println("Proof:")
		fmt.Printf("  Record:          %s\n", result.Payload.RecordID)
		fmt.Printf("  Property:        %s\n", result.Payload.PropertyID)
		fmt.Printf("  Winning Bid:     %s\n", result.Payload.WinningBidID)
		fmt.Printf("  Status:          %s\n", result.Payload.Status)
		fmt.Printf("  Settled:         %s %s\n", result.Payload.SettledAmount, result.Payload.SettledCurrency)
		fmt.Println()
	}

	fmt.Println("Summary:")
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Key ID Valid:            %v\n", result.KeyIDValid)
	fmt.Printf("  Record Match:            %v\n", result.RecordMatch)
	fmt.Printf("  Settlement Hash Valid:   %v\n", result.SettlementHashValid)
	fmt.Printf("  Bid Hash Valid:          %v\n", result.BidHashValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("==========================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *validation.SettlementValidationResult) {
	output := map[string]any{
		"valid":                 result.IsValid(),
		"signature_valid":       result.SignatureValid,
		"key_id_valid":          result.KeyIDValid,
		"record_match":          result.RecordMatch,
		"settlement_hash_valid": result.SettlementHashValid,
		"bid_hash_valid":        result.BidHashValid,
		"payload":               result.Payload,
		"details":               result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
