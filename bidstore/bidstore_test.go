package bidstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/openprocure/core"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newBid(supplier, price string, qty int64, seconds int) core.Bid {
	return core.Bid{
		AuctionID:   "auction1",
		SupplierID:  supplier,
		Price:       decimal.RequireFromString(price),
		Quantity:    qty,
		SubmittedAt: t0.Add(time.Duration(seconds) * time.Second),
	}
}

func TestAppend_AssignsIdentity(t *testing.T) {
	s := New()

	stored, superseded, err := s.Append(newBid("supplier_a", "3.40", 1000, 1))
	assert.NoError(t, err)

	check.NotEqual(t, "", stored.ID)
	check.Equal(t, uint64(1), stored.Sequence)
	check.Equal(t, uint64(1), stored.Version)
	check.Equal(t, core.BidActive, stored.Status)
	check.Equal(t, 0, len(superseded))
}

func TestAppend_Validation(t *testing.T) {
	s := New()

	tests := []struct {
		name string
		bid  core.Bid
		want error
	}{
		{"missing supplier", core.Bid{AuctionID: "a", Price: decimal.NewFromInt(1), Quantity: 1}, core.ErrMissingIdentity},
		{"zero quantity", core.Bid{AuctionID: "a", SupplierID: "s", Price: decimal.NewFromInt(1)}, core.ErrInvalidQuantity},
		{"zero price", core.Bid{AuctionID: "a", SupplierID: "s", Quantity: 1}, core.ErrInvalidPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Append(tt.bid)
			check.True(t, errors.Is(err, tt.want))
		})
	}
	check.Equal(t, 0, len(s.All("a")))
}

func TestAppend_RejectsDuplicateID(t *testing.T) {
	s := New()
	bid := newBid("supplier_a", "3.40", 10, 1)
	bid.ID = "fixed"

	_, _, err := s.Append(bid)
	assert.NoError(t, err)
	_, _, err = s.Append(bid)
	check.True(t, errors.Is(err, core.ErrDuplicateBid))
}

func TestAppend_SupersedesSameSupplier(t *testing.T) {
	s := New()

	first, _, err := s.Append(newBid("supplier_a", "3.40", 1000, 1))
	assert.NoError(t, err)
	_, _, err = s.Append(newBid("supplier_b", "3.35", 600, 2))
	assert.NoError(t, err)
	second, superseded, err := s.Append(newBid("supplier_a", "3.30", 1000, 3))
	assert.NoError(t, err)

	check.Equal(t, 1, len(superseded))
	check.Equal(t, first.ID, superseded[0].ID)
	check.Equal(t, core.BidWithdrawn, superseded[0].Status)
	check.Equal(t, uint64(2), superseded[0].Version)

	active := s.ListActive("auction1")
	check.Equal(t, 2, len(active))
	check.Equal(t, "supplier_b", active[0].SupplierID)
	check.Equal(t, second.ID, active[1].ID)

	// The audit trail keeps the superseded bid.
	check.Equal(t, 3, len(s.All("auction1")))
}

func TestListActive_OrdersByTimeThenArrival(t *testing.T) {
	s := New()

	late, _, _ := s.Append(newBid("supplier_a", "3.40", 10, 5))
	tieFirst, _, _ := s.Append(newBid("supplier_b", "3.40", 10, 2))
	tieSecond, _, _ := s.Append(newBid("supplier_c", "3.40", 10, 2))

	active := s.ListActive("auction1")
	check.Equal(t, []string{tieFirst.ID, tieSecond.ID, late.ID}, []string{active[0].ID, active[1].ID, active[2].ID})

	// Listing again gives the same finite sequence.
	check.Equal(t, active, s.ListActive("auction1"))
	check.Equal(t, 0, len(s.ListActive("unknown")))
}

func TestGetAndWithdraw(t *testing.T) {
	s := New()
	bid, _, err := s.Append(newBid("supplier_a", "3.40", 10, 1))
	assert.NoError(t, err)

	got, err := s.Get(bid.ID)
	assert.NoError(t, err)
	check.Equal(t, bid, got)

	withdrawn, err := s.Withdraw("auction1", bid.ID)
	assert.NoError(t, err)
	check.Equal(t, core.BidWithdrawn, withdrawn.Status)

	_, err = s.Withdraw("auction1", bid.ID)
	check.True(t, errors.Is(err, core.ErrBidNotActive))

	_, err = s.Get("missing")
	check.True(t, errors.Is(err, core.ErrBidNotFound))
	_, err = s.Withdraw("auction1", "missing")
	check.True(t, errors.Is(err, core.ErrBidNotFound))
}

func TestSettle_AwardsAndSeals(t *testing.T) {
	s := New()
	a, _, _ := s.Append(newBid("supplier_a", "3.40", 1000, 1))
	b, _, _ := s.Append(newBid("supplier_b", "3.35", 600, 2))
	c, _, _ := s.Append(newBid("supplier_c", "3.50", 600, 3))
	_, err := s.Withdraw("auction1", c.ID)
	assert.NoError(t, err)

	settled, err := s.Settle("auction1", b.ID)
	assert.NoError(t, err)
	check.Equal(t, 2, len(settled))

	statuses := map[string]core.BidStatus{}
	for _, bid := range s.All("auction1") {
		statuses[bid.ID] = bid.Status
	}
	check.Equal(t, core.BidLost, statuses[a.ID])
	check.Equal(t, core.BidWon, statuses[b.ID])
	check.Equal(t, core.BidWithdrawn, statuses[c.ID])

	_, err = s.Settle("auction1", b.ID)
	check.True(t, errors.Is(err, core.ErrDoubleAward))

	_, _, err = s.Append(newBid("supplier_d", "3.00", 10, 9))
	check.True(t, errors.Is(err, core.ErrAuctionNotOpen))
	_, err = s.Withdraw("auction1", a.ID)
	check.True(t, errors.Is(err, core.ErrAuctionNotOpen))
}

func TestSettle_NoWinner(t *testing.T) {
	s := New()
	a, _, _ := s.Append(newBid("supplier_a", "2.00", 10, 1))

	settled, err := s.Settle("auction1", "")
	assert.NoError(t, err)
	check.Equal(t, 1, len(settled))
	check.Equal(t, a.ID, settled[0].ID)
	check.Equal(t, core.BidLost, settled[0].Status)
}

func TestAppend_ConcurrentSameAuction(t *testing.T) {
	counter := 0
	var mu sync.Mutex
	s := New(WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("bid-%03d", counter)
	}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Append(newBid(fmt.Sprintf("supplier_%02d", i), "3.00", 10, 1))
			check.NoError(t, err)
		}()
	}
	wg.Wait()

	all := s.All("auction1")
	check.Equal(t, 50, len(all))
	seen := map[uint64]bool{}
	for i, bid := range all {
		check.False(t, seen[bid.Sequence])
		seen[bid.Sequence] = true
		if i > 0 {
			check.True(t, all[i-1].Sequence < bid.Sequence)
		}
	}
}
