package core

import (
	"sort"
)

// RankingResult contains the ranked bids, best first, and the best bid per supplier.
type RankingResult struct {
	Ranks       map[string]int  `json:"ranks"`
	BestBids    map[string]*Bid `json:"best_bids"`
	SortedBids  []*Bid          `json:"sorted_bids"`
	SortedOrder []string        `json:"sorted_suppliers"`
}

// Better reports whether a ranks strictly ahead of b.
//
// Order: lowest price per unit, then earliest submission, then largest offered
// quantity, then supplier ID, then ledger sequence. The order is total, so ranking
// never depends on input order or randomness.
func Better(a, b *Bid) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	if a.Quantity != b.Quantity {
		return a.Quantity > b.Quantity
	}
	if a.SupplierID != b.SupplierID {
		return a.SupplierID < b.SupplierID
	}
	return a.Sequence < b.Sequence
}

func RankBids(bids []Bid) *RankingResult {
	if len(bids) == 0 {
		return &RankingResult{
			Ranks:       make(map[string]int),
			BestBids:    make(map[string]*Bid),
			SortedBids:  make([]*Bid, 0),
			SortedOrder: make([]string, 0),
		}
	}

	// Keep the best bid per supplier
	bestBySupplier := make(map[string]*Bid)
	supplierOrder := make([]string, 0, len(bids))

	for i := range bids {
		bid := &bids[i]

		existing, exists := bestBySupplier[bid.SupplierID]
		if !exists {
			supplierOrder = append(supplierOrder, bid.SupplierID)
		}
		if !exists || Better(bid, existing) {
			bestBySupplier[bid.SupplierID] = bid
		}
	}

	entries := make([]*Bid, 0, len(supplierOrder))
	for _, supplier := range supplierOrder {
		entries = append(entries, bestBySupplier[supplier])
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return Better(entries[i], entries[j])
	})

	result := &RankingResult{
		Ranks:       make(map[string]int, len(entries)),
		BestBids:    bestBySupplier,
		SortedBids:  entries,
		SortedOrder: make([]string, len(entries)),
	}

	for rank, bid := range entries {
		result.Ranks[bid.ID] = rank + 1
		result.SortedOrder[rank] = bid.SupplierID
	}

	return result
}
