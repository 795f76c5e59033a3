package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/receiptapi"
	"github.com/cloudx-io/openprocure/validation"
)

// plainTextFormatter prints bare messages, which is what a CLI report wants.
type plainTextFormatter struct{}

func (plainTextFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(e.Message + "\n"), nil
}

var logger = &logrus.Logger{
	Out:       os.Stdout,
	Formatter: plainTextFormatter{},
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.InfoLevel,
}

func main() {
	var (
		receiptInput       = flag.String("receipt", "", "Receipt response JSON or base64 COSE (file path or inline)")
		trustedKeysPath    = flag.String("trusted-keys", "", "Path to trusted keys YAML/JSON file")
		bidID              = flag.String("bid-id", "", "Your bid ID")
		bidPrice           = flag.String("bid-price", "", "Your bid price per unit")
		bidQuantity        = flag.Int64("bid-quantity", 0, "Your bid quantity")
		clearingPrice      = flag.String("clearing-price", "", "Expected winning price per unit (empty: no winner expected)")
		reservePrice       = flag.String("reserve-price", "", "Expected reserve price (optional)")
		isWinner           = flag.Bool("winner", false, "Expect your bid to have won")
		contributionsInput = flag.String("contributions", "", "Lot contributions JSON (file path or inline, optional)")
		outputFormat       = flag.String("format", "text", "Output format: text or json")
		help               = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *receiptInput == "" || *trustedKeysPath == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --receipt and --trusted-keys are required\n")
		os.Exit(1)
	}

	trusted, err := validation.LoadTrustedKeysFromFile(*trustedKeysPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading trusted keys: %v\n", err)
		os.Exit(2)
	}

	receipt, err := readReceipt(*receiptInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}

	input := &validation.ReceiptValidationInput{
		Receipt:     receipt,
		TrustedKeys: trusted,
		BidID:       *bidID,
		BidQuantity: *bidQuantity,
		IsWinner:    *isWinner,
	}

	if *bidID != "" {
		if input.BidPrice, err = decimal.NewFromString(*bidPrice); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing --bid-price: %v\n", err)
			os.Exit(2)
		}
	}
	if input.ClearingPrice, err = optionalPrice(*clearingPrice); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing --clearing-price: %v\n", err)
		os.Exit(2)
	}
	if input.ReservePrice, err = optionalPrice(*reservePrice); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing --reserve-price: %v\n", err)
		os.Exit(2)
	}
	if *contributionsInput != "" {
		if err := json.Unmarshal(readInput(*contributionsInput), &input.Contributions); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing --contributions: %v\n", err)
			os.Exit(2)
		}
	}

	result, err := validation.ValidateReceipt(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Award Receipt Validator")
	logger.Info("")
	logger.Info("Verifies a signed award receipt: signing key, bid inclusion, winner and reserve.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  receipt-validator --receipt <json|base64> --trusted-keys <path> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --receipt <json|base64>           GET /v1/auctions/{id}/receipt response, or the bare receipt")
	logger.Info("  --trusted-keys <path>             Trusted verification keys (YAML or JSON)")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --bid-id <id>                     Your bid ID (checks inclusion)")
	logger.Info("  --bid-price <decimal>             Your bid price per unit")
	logger.Info("  --bid-quantity <n>                Your bid quantity")
	logger.Info("  --clearing-price <decimal>        Expected winning price (omit when the auction should be void)")
	logger.Info("  --winner                          Expect your bid to have won")
	logger.Info("  --reserve-price <decimal>         Expected reserve price")
	logger.Info("  --contributions <json>            [{\"shop_id\":\"shop-a\",\"quantity\":300}, ...]")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Trusted keys file:")
	logger.Info("  keys:")
	logger.Info("    - key_id: 3f1c...")
	logger.Info("      label: procurement-prod")
	logger.Info("      public_key: |")
	logger.Info("        -----BEGIN PUBLIC KEY-----")
	logger.Info("        ...")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func readReceipt(input string) (receiptapi.ReceiptCOSEBase64, error) {
	data := strings.TrimSpace(string(readInput(input)))
	if !strings.HasPrefix(data, "{") {
		return receiptapi.ReceiptCOSEBase64(data), nil
	}

	var resp receiptapi.ReceiptResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return "", fmt.Errorf("parse receipt response: %w", err)
	}
	if resp.ReceiptCOSE == "" {
		return "", fmt.Errorf("missing receipt_cose_base64 in receipt response")
	}
	return resp.ReceiptCOSE, nil
}

func optionalPrice(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func outputText(result *validation.ReceiptValidationResult) {
	logger.Info("Award Receipt Validator")
	logger.Info("=======================")
	logger.Info("")
	logger.Info("Summary:")
	logger.Infof("  Key Trusted:             %v", result.KeyTrusted)
	logger.Infof("  Signature Valid:         %v", result.SignatureValid)
	logger.Infof("  Bid Hash Valid:          %v", result.BidHashValid)
	logger.Infof("  Winner Valid:            %v", result.WinnerValid)
	logger.Infof("  Reserve Price Valid:     %v", result.ReservePriceValid)
	logger.Infof("  Contributions Valid:     %v", result.ContributionsValid)
	logger.Info("")
	logger.Info("Details:")
	for _, detail := range result.ValidationDetails {
		logger.Infof("  - %s", detail)
	}
	logger.Info("")
	logger.Info("=======================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *validation.ReceiptValidationResult) error {
	output := map[string]any{
		"valid":               result.IsValid(),
		"key_trusted":         result.KeyTrusted,
		"signature_valid":     result.SignatureValid,
		"bid_hash_valid":      result.BidHashValid,
		"winner_valid":        result.WinnerValid,
		"reserve_price_valid": result.ReservePriceValid,
		"contributions_valid": result.ContributionsValid,
		"details":             result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}

