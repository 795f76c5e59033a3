package core

import (
	"github.com/shopspring/decimal"
)

const monetaryPrecision int32 = 4 // 4 decimal places per unit price (0.0001 precision)

// BidMeetsReserve returns true if the bid price is at or above the reserve floor.
// Uses decimal arithmetic with monetaryPrecision to avoid representation noise.
func BidMeetsReserve(price, reserve decimal.Decimal) bool {
	return price.Round(monetaryPrecision).GreaterThanOrEqual(reserve.Round(monetaryPrecision))
}

// QuantityWithinBounds reports whether qty is at most the lot total and at least the
// supplier's minimum order quantity.
func QuantityWithinBounds(qty, total, minOrder int64) bool {
	if qty <= 0 {
		return false
	}
	return qty <= total && qty >= max(minOrder, 1)
}

// EnforceReserve filters bids that fail the reserve floor.
// Returns eligible bids and IDs of rejected bids.
func EnforceReserve(bids []Bid, reserve decimal.Decimal) (eligible []Bid, rejectedBidIDs []string) {
	eligibleBids := make([]Bid, 0, len(bids))
	rejectedIDs := make([]string, 0)

	for _, bid := range bids {
		if BidMeetsReserve(bid.Price, reserve) {
			eligibleBids = append(eligibleBids, bid)
		} else {
			rejectedIDs = append(rejectedIDs, bid.ID)
		}
	}

	return eligibleBids, rejectedIDs
}

// EnforceQuantityBounds filters bids whose quantity falls outside the lot total or
// below the supplier minimum returned by minOrder. A nil minOrder means 1.
func EnforceQuantityBounds(bids []Bid, total int64, minOrder func(supplierID string) int64) (eligible []Bid, rejectedBidIDs []string) {
	eligibleBids := make([]Bid, 0, len(bids))
	rejectedIDs := make([]string, 0)

	for _, bid := range bids {
		moq := int64(1)
		if minOrder != nil {
			moq = minOrder(bid.SupplierID)
		}
		if QuantityWithinBounds(bid.Quantity, total, moq) {
			eligibleBids = append(eligibleBids, bid)
		} else {
			rejectedIDs = append(rejectedIDs, bid.ID)
		}
	}

	return eligibleBids, rejectedIDs
}
