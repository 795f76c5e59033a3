package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/receiptapi"
)

// ReceiptValidationInput is what a supplier (or shop) knows independently of the receipt.
type ReceiptValidationInput struct {
	Receipt     receiptapi.ReceiptCOSEBase64
	TrustedKeys []TrustedKey

	BidID       string
	BidPrice    decimal.Decimal
	BidQuantity int64

	// ReservePrice, when set, must match the receipt.
	ReservePrice *decimal.Decimal
	// ClearingPrice nil means no winner is expected.
	ClearingPrice *decimal.Decimal
	IsWinner      bool

	// Contributions, when set, must hash to the receipt's contributions commitment.
	Contributions []core.Contribution
}

// ValidateReceipt verifies a signed award receipt and checks:
// - The receipt is signed by a trusted key
// - The bid was included in the auction
// - The winner and clearing price match expectations
// - The reserve price matches
// - The pooled shop contributions match
//
// Returns:
//   - ReceiptValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., malformed input)
func ValidateReceipt(input *ReceiptValidationInput) (*ReceiptValidationResult, error) {
	baseResult, receipt, err := validateCommonReceipt(input.Receipt, input.TrustedKeys)
	if err != nil {
		return nil, err
	}

	result := &ReceiptValidationResult{
		BaseValidationResult: *baseResult,
	}
	result.ValidationDetails = append(result.ValidationDetails,
		fmt.Sprintf("Auction %s (%s) closed %s", receipt.AuctionID, receipt.Protocol, receipt.Status))

	result.BidHashValid = validateBidHash(input, receipt, result)
	result.WinnerValid = validateWinner(input, receipt, result)
	result.ReservePriceValid = validateReservePrice(input, receipt, result)
	result.ContributionsValid = validateContributions(input, receipt, result)

	return result, nil
}

func validateBidHash(input *ReceiptValidationInput, receipt *receiptapi.AwardReceipt, result *ReceiptValidationResult) bool {
	if input.BidID == "" {
		result.ValidationDetails = append(result.ValidationDetails, "No bid given, bid inclusion not checked")
		return true
	}
	if receipt.BidHashNonce == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Bid hash nonce missing from receipt")
		return false
	}

	computedHash := core.ComputeBidHash(input.BidID, input.BidPrice, input.BidQuantity, receipt.BidHashNonce)
	for _, h := range receipt.BidHashes {
		if h == computedHash {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Bid hash found in receipt: %s", computedHash))
			return true
		}
	}

	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Bid hash NOT found in receipt. Computed: %s", computedHash))
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Total hashes in receipt: %d", len(receipt.BidHashes)))
	return false
}

func validateWinner(input *ReceiptValidationInput, receipt *receiptapi.AwardReceipt, result *ReceiptValidationResult) bool {
	winner := receipt.Winner

	if input.ClearingPrice == nil {
		if winner != nil {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: expected no winner, receipt has winner at %s", winner.Price))
			return false
		}
		if input.IsWinner {
			result.ValidationDetails = append(result.ValidationDetails, "Winner mismatch: expected to win, but the auction was void")
			return false
		}
		result.ValidationDetails = append(result.ValidationDetails, "Winner validation passed: no winner expected and none in receipt")
		return true
	}

	if winner == nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner mismatch: expected clearing price %s, receipt has no winner", core.FormatPrice(*input.ClearingPrice)))
		return false
	}

	if expected := core.FormatPrice(*input.ClearingPrice); expected != winner.Price {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Clearing price mismatch: expected %s, receipt has %s", expected, winner.Price))
		return false
	}

	actuallyWon := input.BidID != "" && winner.ID == input.BidID
	if input.IsWinner != actuallyWon {
		if input.IsWinner {
			result.ValidationDetails = append(result.ValidationDetails, "Winner validation failed: expected to win, but did not win")
		} else {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner validation failed: expected to lose, but won at %s", winner.Price))
		}
		return false
	}

	if actuallyWon {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner validation passed: bid won at %s", winner.Price))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winner validation passed: bid lost, clearing price %s", winner.Price))
	}
	return true
}

func validateReservePrice(input *ReceiptValidationInput, receipt *receiptapi.AwardReceipt, result *ReceiptValidationResult) bool {
	if receipt.Winner != nil {
		winning, err := decimal.NewFromString(receipt.Winner.Price)
		reserve, rerr := decimal.NewFromString(receipt.ReservePrice)
		if err != nil || rerr != nil {
			result.ValidationDetails = append(result.ValidationDetails, "Receipt prices are malformed")
			return false
		}
		if !core.BidMeetsReserve(winning, reserve) {
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Winning price %s is below reserve %s", receipt.Winner.Price, receipt.ReservePrice))
			return false
		}
	}

	if input.ReservePrice == nil {
		return true
	}
	if expected := core.FormatPrice(*input.ReservePrice); expected != receipt.ReservePrice {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Reserve price mismatch: expected %s, receipt has %s", expected, receipt.ReservePrice))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Reserve price validation passed: %s", receipt.ReservePrice))
	return true
}

func validateContributions(input *ReceiptValidationInput, receipt *receiptapi.AwardReceipt, result *ReceiptValidationResult) bool {
	if len(input.Contributions) == 0 {
		return true
	}
	if receipt.ContributionsNonce == "" {
		result.ValidationDetails = append(result.ValidationDetails, "Receipt carries no contributions commitment")
		return false
	}

	computed := core.ComputeContributionsHash(input.Contributions, receipt.ContributionsNonce)
	if computed == receipt.ContributionsHash {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Contributions hash validation passed: %s", computed))
		return true
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Contributions hash mismatch: computed %s, receipt has %s", computed, receipt.ContributionsHash))
	return false
}
