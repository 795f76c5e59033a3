package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/openprocure/clock"
	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/engine"
	"github.com/cloudx-io/openprocure/events"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "openprocure.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	check.Error(t, err)
}

func TestSaveLot_OnlyNewerVersionsApply(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	lot := &core.Lot{ID: "lot-1", ProductID: "flour-25kg", Category: "baking", Status: core.LotAggregating, AccumulatedQuantity: 400, Version: 2}
	ok, err := s.SaveLot(ctx, lot)
	assert.NoError(t, err)
	check.True(t, ok)

	stale := *lot
	stale.AccumulatedQuantity = 100
	stale.Version = 1
	ok, err = s.SaveLot(ctx, &stale)
	assert.NoError(t, err)
	check.False(t, ok)

	same := *lot
	same.AccumulatedQuantity = 999
	ok, err = s.SaveLot(ctx, &same)
	assert.NoError(t, err)
	check.False(t, ok)

	newer := *lot
	newer.Status = core.LotReady
	newer.AccumulatedQuantity = 1000
	newer.Version = 3
	ok, err = s.SaveLot(ctx, &newer)
	assert.NoError(t, err)
	check.True(t, ok)

	got, err := s.Lot(ctx, "lot-1")
	assert.NoError(t, err)
	check.Equal(t, core.LotReady, got.Status)
	check.Equal(t, int64(1000), got.AccumulatedQuantity)
	check.Equal(t, uint64(3), got.Version)

	_, err = s.Lot(ctx, "missing")
	check.True(t, errors.Is(err, core.ErrLotNotFound))
}

func TestSaveBid_OrderedBySequence(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for _, b := range []core.Bid{
		{ID: "b2", AuctionID: "a1", SupplierID: "s2", Price: price("3.35"), Quantity: 10, Sequence: 2, Version: 1},
		{ID: "b1", AuctionID: "a1", SupplierID: "s1", Price: price("3.50"), Quantity: 10, Sequence: 1, Version: 1},
		{ID: "x1", AuctionID: "a2", SupplierID: "s1", Price: price("1"), Quantity: 1, Sequence: 3, Version: 1},
	} {
		_, err := s.SaveBid(ctx, &b)
		assert.NoError(t, err)
	}

	bids, err := s.Bids(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, "b1", bids[0].ID)
	check.Equal(t, "b2", bids[1].ID)
	check.True(t, bids[1].Price.Equal(price("3.35")))
}

func TestReceipts_WriteOnce(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	assert.NoError(t, s.SaveReceipt("a1", "k1", []byte("first")))
	assert.NoError(t, s.SaveReceipt("a1", "k1", []byte("second")))

	got, err := s.Receipt(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, []byte("first"), got)

	_, err = s.Receipt(ctx, "a2")
	check.True(t, errors.Is(err, core.ErrReceiptNotFound))
}

func TestAppendEvent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	seq, err := s.LastSeq(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(0), seq)

	bid := core.Bid{ID: "b1", AuctionID: "a1", SupplierID: "s1", Price: price("5.40"), LimitPrice: price("5.10"), Quantity: 2000, SubmittedAt: t0.Add(6 * time.Minute)}
	assert.NoError(t, s.AppendEvent(ctx, events.Event{Seq: 7, Type: events.BidAccepted, At: t0.Add(6 * time.Minute), AuctionID: "a1", Bid: &bid}))
	assert.NoError(t, s.AppendEvent(ctx, events.Event{Seq: 8, Type: events.LotReady, At: t0, LotID: "lot-1"}))

	all, err := s.Events(ctx, "")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(all))

	forAuction, err := s.Events(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(forAuction))
	ev := forAuction[0]
	check.Equal(t, events.BidAccepted, ev.Type)
	check.True(t, ev.At.Equal(t0.Add(6*time.Minute)))
	assert.NotNil(t, ev.Bid)
	check.True(t, ev.Bid.Price.Equal(price("5.4")))
	check.True(t, ev.Bid.LimitPrice.Equal(price("5.1")))
	check.Equal(t, int64(2000), ev.Bid.Quantity)

	seq, err = s.LastSeq(ctx)
	assert.NoError(t, err)
	check.Equal(t, uint64(8), seq)
}

func TestEvents_OrderedBySeqNotWriteOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	for _, seq := range []uint64{12, 10, 11} {
		assert.NoError(t, s.AppendEvent(ctx, events.Event{Seq: seq, Type: events.BidAccepted, At: t0, AuctionID: "a1"}))
	}
	evs, err := s.Events(ctx, "a1")
	assert.NoError(t, err)
	assert.Equal(t, 3, len(evs))
	check.Equal(t, []uint64{10, 11, 12}, []uint64{evs[0].Seq, evs[1].Seq, evs[2].Seq})
}

func TestResetProjection_KeepsJournalAndReceipts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.SaveAuction(ctx, &core.Auction{ID: "a1", Category: "baking", Protocol: core.ProtocolSealed, Status: core.AuctionOpen, Version: 1})
	assert.NoError(t, err)
	_, err = s.SaveRule(ctx, &core.AutoBidRule{ID: "r1", SupplierID: "s1", Category: "baking", Version: 4})
	assert.NoError(t, err)
	assert.NoError(t, s.SaveReceipt("a1", "k1", []byte("r")))
	assert.NoError(t, s.AppendEvent(ctx, events.Event{Seq: 1, Type: events.AuctionCreated, At: t0, AuctionID: "a1"}))

	assert.NoError(t, s.ResetProjection(ctx))

	_, err = s.Auction(ctx, "a1")
	check.True(t, errors.Is(err, core.ErrAuctionNotFound))
	_, err = s.Rule(ctx, "r1")
	check.True(t, errors.Is(err, core.ErrRuleNotFound))

	// A restarted rule store counts versions from 1 again.
	ok, err := s.SaveRule(ctx, &core.AutoBidRule{ID: "r1", SupplierID: "s1", Category: "baking", Version: 1})
	assert.NoError(t, err)
	check.True(t, ok)

	_, err = s.Receipt(ctx, "a1")
	check.NoError(t, err)
	evs, err := s.Events(ctx, "a1")
	assert.NoError(t, err)
	check.Equal(t, 1, len(evs))
}

type fakeRules map[string]core.AutoBidRule

func (f fakeRules) Get(ruleID string) (core.AutoBidRule, error) {
	r, ok := f[ruleID]
	if !ok {
		return core.AutoBidRule{}, core.ErrRuleNotFound
	}
	return r, nil
}

func TestProjector_FollowsAuctionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := clock.NewManual(t0)
	bus := events.NewBus()
	rules := fakeRules{"rule-1": {ID: "rule-1", SupplierID: "mill-b", Category: "baking", MaxQuantity: 5000, Version: 2}}
	bus.Subscribe(NewProjector(s, rules, nil).Handle)

	e := engine.New(engine.WithClock(c), engine.WithBus(bus))
	t.Cleanup(e.Close)

	a, err := e.CreateAuction(ctx, core.AuctionSpec{
		ProductID:    "flour-25kg",
		Category:     "baking",
		Protocol:     core.ProtocolSealed,
		ReservePrice: price("3.00"),
		Quantity:     1000,
		StartAt:      t0,
		EndAt:        t0.Add(time.Hour),
	})
	assert.NoError(t, err)

	submit := func(supplier, p, rule string) *core.BidOutcome {
		out, err := e.SubmitBid(ctx, core.BidRequest{AuctionID: a.ID, SupplierID: supplier, Price: price(p), Quantity: 1000, RuleID: rule})
		assert.NoError(t, err)
		return out
	}
	first := submit("mill-a", "3.50", "")
	second := submit("mill-b", "3.35", "rule-1")
	rejected := submit("mill-c", "2.90", "")
	check.False(t, rejected.Accepted)

	c.Advance(time.Hour)

	stored, err := s.Auction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.AuctionAwarded, stored.Status)
	check.Equal(t, second.Bid.ID, stored.WinnerBidID)

	bids, err := s.Bids(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(bids))
	check.Equal(t, first.Bid.ID, bids[0].ID)
	check.Equal(t, core.BidLost, bids[0].Status)
	check.Equal(t, core.BidWon, bids[1].Status)

	rule, err := s.Rule(ctx, "rule-1")
	assert.NoError(t, err)
	check.Equal(t, uint64(2), rule.Version)

	journal, err := s.Events(ctx, a.ID)
	assert.NoError(t, err)
	types := make([]events.Type, 0, len(journal))
	for _, ev := range journal {
		types = append(types, ev.Type)
	}
	check.Equal(t, []events.Type{
		events.AuctionCreated,
		events.AuctionOpened,
		events.BidAccepted,
		events.BidAccepted,
		events.BidRejected,
		events.AuctionClosed,
		events.BidSettled,
		events.BidSettled,
	}, types)
}

func TestProjector_BehindQueue(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := clock.NewManual(t0)
	bus := events.NewBus()
	q := events.NewQueue(NewProjector(s, fakeRules{}, nil).Handle)
	t.Cleanup(q.Close)
	bus.Subscribe(q.Handle)

	e := engine.New(engine.WithClock(c), engine.WithBus(bus))
	t.Cleanup(e.Close)

	a, err := e.CreateAuction(ctx, core.AuctionSpec{
		ProductID:    "flour-25kg",
		Category:     "baking",
		Protocol:     core.ProtocolSealed,
		ReservePrice: price("3.00"),
		Quantity:     1000,
		StartAt:      t0,
		EndAt:        t0.Add(time.Hour),
	})
	assert.NoError(t, err)
	_, err = e.SubmitBid(ctx, core.BidRequest{AuctionID: a.ID, SupplierID: "mill-a", Price: price("3.50"), Quantity: 1000})
	assert.NoError(t, err)
	c.Advance(time.Hour)

	q.Flush()
	stored, err := s.Auction(ctx, a.ID)
	assert.NoError(t, err)
	check.Equal(t, core.AuctionAwarded, stored.Status)

	journal, err := s.Events(ctx, a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 5, len(journal))
	for i := 1; i < len(journal); i++ {
		check.True(t, journal[i-1].Seq < journal[i].Seq)
	}
}
