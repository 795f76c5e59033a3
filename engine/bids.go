package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
)

// SubmitBid is the single bid entry point for human suppliers and the
// auto-bidder. Every call resolves to exactly one outcome: accepted, or rejected
// with a reason. The error return is reserved for failures that are not bid
// outcomes, such as a canceled context or a broken ledger invariant.
func (e *Engine) SubmitBid(ctx context.Context, req core.BidRequest) (*core.BidOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rt := e.runtime(req.AuctionID)
	if rt == nil {
		return e.reject(nil, req, e.clock.Now(), fmt.Errorf("auction %s: %w", req.AuctionID, core.ErrAuctionNotFound)), nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := e.clock.Now()
	e.syncLocked(rt, now)
	a := &rt.auction

	if reason := e.checkBidLocked(a, req); reason != nil {
		return e.reject(rt, req, now, reason), nil
	}

	bid := core.Bid{
		AuctionID:    a.ID,
		SupplierID:   req.SupplierID,
		Price:        req.Price,
		LimitPrice:   req.Price,
		Quantity:     req.Quantity,
		PaymentTerms: req.PaymentTerms,
		SubmittedAt:  now,
		RuleID:       req.RuleID,
	}
	if a.Protocol == core.ProtocolDutch {
		bid.Price = a.CurrentPrice
	}

	stored, superseded, err := e.store.Append(bid)
	if err != nil {
		if core.IsRejection(err) {
			return e.reject(rt, req, now, err), nil
		}
		e.log.WithError(err).WithField("auction_id", a.ID).Error("bid ledger rejected append")
		return nil, err
	}

	for i := range superseded {
		e.publishLocked(rt, events.BidWithdrawn, now, &superseded[i], "superseded")
	}

	if a.Protocol == core.ProtocolEnglish {
		a.BestBidID = stored.ID
		a.BestPrice = stored.Price
		e.extendLocked(rt, now)
	}
	a.Version++

	e.log.WithFields(logrus.Fields{
		"auction_id":  a.ID,
		"bid_id":      stored.ID,
		"supplier_id": stored.SupplierID,
		"rule_id":     stored.RuleID,
		"price":       stored.Price.String(),
		"quantity":    stored.Quantity,
	}).Info("bid accepted")
	e.publishLocked(rt, events.BidAccepted, now, &stored, "")

	if a.Protocol == core.ProtocolDutch {
		e.closeLocked(rt, now)
		// Settlement moved the bid to Won.
		if settled, err := e.store.Get(stored.ID); err == nil {
			stored = settled
		}
	}
	e.scheduleLocked(rt)

	return &core.BidOutcome{Accepted: true, Bid: &stored, AuctionStatus: a.Status}, nil
}

// checkBidLocked applies the validation and protocol rules in order: shape,
// auction state, quantity bounds, reserve, then protocol competitiveness.
func (e *Engine) checkBidLocked(a *core.Auction, req core.BidRequest) error {
	if req.SupplierID == "" {
		return core.ErrMissingIdentity
	}
	if req.Quantity <= 0 {
		return core.ErrInvalidQuantity
	}
	if !req.Price.IsPositive() {
		return core.ErrInvalidPrice
	}
	if a.Status != core.AuctionOpen {
		return fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, core.ErrAuctionNotOpen)
	}
	if !core.QuantityWithinBounds(req.Quantity, a.Quantity, e.profiles.MinOrderQuantity(req.SupplierID)) {
		return core.ErrQuantityOutOfBounds
	}
	// A Dutch taker pays the tick, never its own limit.
	pays := req.Price
	if a.Protocol == core.ProtocolDutch {
		pays = a.CurrentPrice
	}
	if !core.BidMeetsReserve(pays, a.ReservePrice) {
		return core.ErrBelowReserve
	}

	switch a.Protocol {
	case core.ProtocolEnglish:
		if a.BestBidID == "" {
			if a.StartPrice.IsPositive() && req.Price.GreaterThan(a.StartPrice) {
				return fmt.Errorf("above opening price %s: %w", a.StartPrice, core.ErrNotCompetitive)
			}
			return nil
		}
		if limit := core.Undercut(a.BestPrice, a.MinDecrement); req.Price.GreaterThan(limit) {
			return fmt.Errorf("must be at most %s: %w", limit, core.ErrNotCompetitive)
		}
	case core.ProtocolDutch:
		if req.Price.GreaterThan(a.CurrentPrice) {
			return fmt.Errorf("above current price %s: %w", a.CurrentPrice, core.ErrNotCompetitive)
		}
	}
	return nil
}

// extendLocked pushes an English end time out when a bid lands inside the
// anti-snipe window. The end time only ever moves forward.
func (e *Engine) extendLocked(rt *runtime, now time.Time) {
	a := &rt.auction
	if a.AntiSnipeWindow <= 0 || a.AntiSnipeExtension <= 0 || a.Extensions >= a.MaxExtensions {
		return
	}
	if a.EndAt.Sub(now) > a.AntiSnipeWindow {
		return
	}
	a.EndAt = a.EndAt.Add(a.AntiSnipeExtension)
	a.Extensions++

	e.log.WithFields(logrus.Fields{
		"auction_id": a.ID,
		"end_at":     a.EndAt,
		"extensions": a.Extensions,
	}).Info("auction extended")
	e.publishLocked(rt, events.AuctionExtended, now, nil, "")
}

func (e *Engine) reject(rt *runtime, req core.BidRequest, now time.Time, reason error) *core.BidOutcome {
	attempt := core.Bid{
		AuctionID:    req.AuctionID,
		SupplierID:   req.SupplierID,
		Price:        req.Price,
		LimitPrice:   req.Price,
		Quantity:     req.Quantity,
		PaymentTerms: req.PaymentTerms,
		SubmittedAt:  now,
		RuleID:       req.RuleID,
	}

	e.log.WithFields(logrus.Fields{
		"auction_id":  req.AuctionID,
		"supplier_id": req.SupplierID,
		"rule_id":     req.RuleID,
		"price":       req.Price.String(),
		"reason":      core.CodeOf(reason),
	}).Debug("bid rejected")

	outcome := &core.BidOutcome{Reason: reason}
	if rt == nil {
		e.bus.Publish(events.Event{Type: events.BidRejected, At: now, AuctionID: req.AuctionID, Bid: &attempt, Reason: core.CodeOf(reason)})
		return outcome
	}
	outcome.AuctionStatus = rt.auction.Status
	e.publishLocked(rt, events.BidRejected, now, &attempt, core.CodeOf(reason))
	return outcome
}

// WithdrawBid withdraws a supplier's own Active bid while the auction is Open.
// Sealed bids can always be withdrawn; English bids only when not leading;
// Dutch bids never, since acceptance closes the auction.
func (e *Engine) WithdrawBid(ctx context.Context, auctionID, supplierID, bidID string) (*core.Bid, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rt := e.runtime(auctionID)
	if rt == nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, core.ErrAuctionNotFound)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := e.clock.Now()
	e.syncLocked(rt, now)
	a := &rt.auction

	if a.Status != core.AuctionOpen {
		return nil, fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, core.ErrAuctionNotOpen)
	}
	bid, err := e.store.Get(bidID)
	if err != nil || bid.AuctionID != a.ID {
		return nil, fmt.Errorf("bid %s: %w", bidID, core.ErrBidNotFound)
	}
	if bid.SupplierID != supplierID {
		return nil, core.ErrNotBidOwner
	}
	switch a.Protocol {
	case core.ProtocolDutch:
		return nil, core.ErrWithdrawalNotAllowed
	case core.ProtocolEnglish:
		if bid.ID == a.BestBidID {
			return nil, fmt.Errorf("bid %s is leading: %w", bid.ID, core.ErrWithdrawalNotAllowed)
		}
	}

	withdrawn, err := e.store.Withdraw(a.ID, bid.ID)
	if err != nil {
		return nil, err
	}
	a.Version++

	e.log.WithFields(logrus.Fields{"auction_id": a.ID, "bid_id": bid.ID, "supplier_id": supplierID}).Info("bid withdrawn")
	e.publishLocked(rt, events.BidWithdrawn, now, &withdrawn, "withdrawn")
	return &withdrawn, nil
}
