package core

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ComputeBidHash computes the commitment hash of a bid included in an award receipt.
// Used by the receipt signer (to generate hashes) and validation (to verify inclusion).
//
// Formula: SHA256(bid_id + "|" + price(4 dp) + "|" + quantity + "|" + nonce)
//
// The price is formatted to exactly 4 decimal places so that 5.4 and 5.40 hash the same.
func ComputeBidHash(bidID string, price decimal.Decimal, quantity int64, nonce string) string {
	data := fmt.Sprintf("%s|%s|%d|%s", bidID, price.StringFixed(monetaryPrecision), quantity, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeAuctionHash commits to the auction terms a receipt was issued for.
//
// Formula: SHA256(auction_id + "|" + protocol + "|" + reserve(4 dp) + "|" + quantity + "|" + nonce)
func ComputeAuctionHash(auctionID string, protocol Protocol, reserve decimal.Decimal, quantity int64, nonce string) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%s", auctionID, protocol, reserve.StringFixed(monetaryPrecision), quantity, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeContributionsHash commits to the pooled demand behind a lot so each shop can
// check that its quantity was counted.
//
// Formula: SHA256(nonce + "|" + sorted_pairs)
// where sorted_pairs = "shop1:qty1|shop2:qty2|..." (sorted by shop ID)
func ComputeContributionsHash(contributions []Contribution, nonce string) string {
	data := nonce

	sorted := append([]Contribution(nil), contributions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ShopID < sorted[j].ShopID
	})

	for _, c := range sorted {
		data += fmt.Sprintf("|%s:%d", c.ShopID, c.Quantity)
	}
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeKeyID identifies a receipt signing key: SHA256 of its PKIX DER encoding.
func ComputeKeyID(publicKeyDER []byte) string {
	hash := sha256.Sum256(publicKeyDER)
	return fmt.Sprintf("%x", hash)
}
