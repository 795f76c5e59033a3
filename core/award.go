package core

import (
	"github.com/shopspring/decimal"
)

// AwardResult contains the complete close-out decision of an auction.
type AwardResult struct {
	// Winner is the best-ranked qualifying bid (nil means the auction voids)
	Winner *Bid

	// RunnerUp is the second-best qualifying bid (nil if fewer than 2 qualify)
	RunnerUp *Bid

	// EligibleBids contains all bids that cleared reserve and quantity bounds, best first
	EligibleBids []Bid

	// RejectedBidIDs contains IDs of bids that failed reserve or quantity bounds
	RejectedBidIDs []string
}

// DecideAward executes the close-out pipeline: reserve enforcement → quantity
// bounds → ranking.
//
// Parameters:
//   - bids: active bids of the auction
//   - reserve: per-unit price floor
//   - total: lot quantity
//   - minOrder: supplier minimum order quantity lookup (nil means 1)
//
// The result is fully deterministic for a given input set.
func DecideAward(
	bids []Bid,
	reserve decimal.Decimal,
	total int64,
	minOrder func(supplierID string) int64,
) *AwardResult {
	// Step 1: Enforce reserve floor
	reserveEligible, reserveRejected := EnforceReserve(bids, reserve)

	// Step 2: Enforce quantity bounds
	eligible, quantityRejected := EnforceQuantityBounds(reserveEligible, total, minOrder)

	// Step 3: Rank eligible bids
	ranking := RankBids(eligible)

	// Step 4: Extract winner and runner-up from ranking
	var winner, runnerUp *Bid
	if len(ranking.SortedBids) > 0 {
		winner = ranking.SortedBids[0]
	}
	if len(ranking.SortedBids) > 1 {
		runnerUp = ranking.SortedBids[1]
	}

	sorted := make([]Bid, 0, len(ranking.SortedBids))
	for _, bid := range ranking.SortedBids {
		sorted = append(sorted, *bid)
	}

	return &AwardResult{
		Winner:         winner,
		RunnerUp:       runnerUp,
		EligibleBids:   sorted,
		RejectedBidIDs: append(reserveRejected, quantityRejected...),
	}
}
