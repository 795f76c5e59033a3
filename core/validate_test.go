package core

import (
	"errors"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func validSpec(protocol Protocol) AuctionSpec {
	return AuctionSpec{
		ProductID:     "sku-olive-oil-1l",
		Category:      "pantry",
		Protocol:      protocol,
		ReservePrice:  price("5.00"),
		Quantity:      1000,
		StartAt:       t0,
		EndAt:         t0.Add(time.Hour),
		StartPrice:    price("6.00"),
		TickDecrement: price("0.10"),
		TickInterval:  time.Minute,
	}
}

func TestAuctionSpec_Validate(t *testing.T) {
	for _, p := range []Protocol{ProtocolSealed, ProtocolEnglish, ProtocolDutch} {
		check.NoError(t, validSpec(p).Validate())
	}

	tests := []struct {
		name   string
		mutate func(*AuctionSpec)
		want   error
	}{
		{"unknown protocol", func(s *AuctionSpec) { s.Protocol = "vickrey" }, ErrInvalidAuctionSpec},
		{"zero quantity", func(s *AuctionSpec) { s.Quantity = 0 }, ErrInvalidQuantity},
		{"negative reserve", func(s *AuctionSpec) { s.ReservePrice = price("-1") }, ErrInvalidAuctionSpec},
		{"missing start", func(s *AuctionSpec) { s.StartAt = time.Time{} }, ErrInvalidAuctionSpec},
		{"sealed end before start", func(s *AuctionSpec) { s.EndAt = t0 }, ErrInvalidAuctionSpec},
		{"dutch start not above reserve", func(s *AuctionSpec) {
			s.Protocol = ProtocolDutch
			s.StartPrice = price("5.00")
		}, ErrInvalidAuctionSpec},
		{"dutch zero decrement", func(s *AuctionSpec) {
			s.Protocol = ProtocolDutch
			s.TickDecrement = price("0")
		}, ErrInvalidAuctionSpec},
		{"english opening below reserve", func(s *AuctionSpec) {
			s.Protocol = ProtocolEnglish
			s.StartPrice = price("4.00")
		}, ErrInvalidAuctionSpec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec(ProtocolSealed)
			tt.mutate(&spec)
			err := spec.Validate()
			check.True(t, errors.Is(err, tt.want))
		})
	}
}

func TestAutoBidRule_Validate(t *testing.T) {
	rule := AutoBidRule{SupplierID: "supplier_a", Category: "pantry", MaxPrice: price("5.50"), MinWinProbability: 0.4, MaxQuantity: 2000}
	check.NoError(t, rule.Validate())

	bad := rule
	bad.MinWinProbability = 1.5
	check.True(t, errors.Is(bad.Validate(), ErrInvalidRule))

	bad = rule
	bad.MaxPrice = price("0")
	check.True(t, errors.Is(bad.Validate(), ErrInvalidRule))

	bad = rule
	bad.MaxQuantity = 0
	check.True(t, errors.Is(bad.Validate(), ErrInvalidRule))
}

func TestAutoBidRule_RemainingQuantity(t *testing.T) {
	rule := AutoBidRule{MaxQuantity: 1000, CommittedQuantity: 600}
	check.Equal(t, int64(400), rule.RemainingQuantity())

	rule.CommittedQuantity = 1200
	check.Equal(t, int64(0), rule.RemainingQuantity())
}
