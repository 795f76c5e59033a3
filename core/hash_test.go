package core

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"testing"

	"github.com/peterldowns/testy/check"
)

func checkHashPattern(t *testing.T, hash string) {
	t.Helper()
	matched, err := regexp.MatchString(`^[a-f0-9]{64}$`, hash)
	check.Nil(t, err)
	check.True(t, matched)
}

func TestComputeBidHash(t *testing.T) {
	hash := ComputeBidHash("bid_123", price("5.4"), 600, "nonce_456")
	checkHashPattern(t, hash)

	expectedData := "bid_123|5.4000|600|nonce_456"
	check.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData))), hash)

	// Trailing zeros do not change the commitment
	check.Equal(t, hash, ComputeBidHash("bid_123", price("5.40"), 600, "nonce_456"))

	// Every field participates
	check.NotEqual(t, hash, ComputeBidHash("bid_124", price("5.4"), 600, "nonce_456"))
	check.NotEqual(t, hash, ComputeBidHash("bid_123", price("5.3"), 600, "nonce_456"))
	check.NotEqual(t, hash, ComputeBidHash("bid_123", price("5.4"), 601, "nonce_456"))
	check.NotEqual(t, hash, ComputeBidHash("bid_123", price("5.4"), 600, "nonce_457"))
}

func TestComputeAuctionHash(t *testing.T) {
	hash := ComputeAuctionHash("auction_1", ProtocolSealed, price("3"), 1000, "n")
	checkHashPattern(t, hash)

	expectedData := "auction_1|sealed|3.0000|1000|n"
	check.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData))), hash)
	check.NotEqual(t, hash, ComputeAuctionHash("auction_1", ProtocolDutch, price("3"), 1000, "n"))
}

func TestComputeContributionsHash_OrderIndependent(t *testing.T) {
	a := []Contribution{{ShopID: "shop_b", Quantity: 200}, {ShopID: "shop_a", Quantity: 300}}
	b := []Contribution{{ShopID: "shop_a", Quantity: 300}, {ShopID: "shop_b", Quantity: 200}}

	hashA := ComputeContributionsHash(a, "nonce")
	checkHashPattern(t, hashA)
	check.Equal(t, hashA, ComputeContributionsHash(b, "nonce"))

	expectedData := "nonce|shop_a:300|shop_b:200"
	check.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte(expectedData))), hashA)

	// Input slice is not reordered
	check.Equal(t, "shop_b", a[0].ShopID)
}

func TestComputeContributionsHash_Empty(t *testing.T) {
	check.Equal(t, fmt.Sprintf("%x", sha256.Sum256([]byte("nonce"))), ComputeContributionsHash(nil, "nonce"))
}
