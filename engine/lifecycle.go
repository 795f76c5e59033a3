package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
)

// wake is the timer callback. It waits for the auction lock like any bid.
func (e *Engine) wake(auctionID string) {
	rt := e.runtime(auctionID)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e.syncLocked(rt, e.clock.Now())
}

// syncLocked applies every time-driven transition due at now, then schedules
// the next wake-up.
func (e *Engine) syncLocked(rt *runtime, now time.Time) {
	a := &rt.auction

	if a.Status == core.AuctionPending && !now.Before(a.StartAt) {
		e.openLocked(rt, a.StartAt)
	}

	if a.Status == core.AuctionOpen {
		switch a.Protocol {
		case core.ProtocolSealed, core.ProtocolEnglish:
			if !now.Before(a.EndAt) {
				e.closeLocked(rt, a.EndAt)
			}
		case core.ProtocolDutch:
			e.tickLocked(rt, now)
		}
	}

	e.scheduleLocked(rt)
}

func (e *Engine) openLocked(rt *runtime, at time.Time) {
	a := &rt.auction
	a.Status = core.AuctionOpen
	a.Version++

	e.log.WithFields(logrus.Fields{"auction_id": a.ID, "protocol": a.Protocol}).Info("auction opened")
	e.publishLocked(rt, events.AuctionOpened, at, nil, "")
}

// tickLocked moves a Dutch auction to the tick in effect at now. The reserve
// tick is still offered; the first tick below reserve voids the auction.
func (e *Engine) tickLocked(rt *runtime, now time.Time) {
	a := &rt.auction
	n := core.DutchTicksElapsed(a.StartAt, now, a.TickInterval)
	if n <= a.Ticks {
		return
	}

	floor := core.DutchFloorTick(a.StartPrice, a.TickDecrement, a.ReservePrice)
	if n > floor {
		a.Ticks = floor + 1
		voidAt := a.StartAt.Add(time.Duration(floor+1) * a.TickInterval)
		e.log.WithField("auction_id", a.ID).Info("dutch price fell below reserve")
		e.closeLocked(rt, voidAt)
		return
	}

	a.Ticks = n
	a.CurrentPrice = core.DutchTickPrice(a.StartPrice, a.TickDecrement, n)
	a.Version++
	at := a.StartAt.Add(time.Duration(n) * a.TickInterval)

	e.log.WithFields(logrus.Fields{
		"auction_id": a.ID,
		"price":      a.CurrentPrice.String(),
		"tick":       n,
	}).Debug("dutch price ticked")
	e.publishLocked(rt, events.PriceTicked, at, nil, "")
}

func (e *Engine) scheduleLocked(rt *runtime) {
	a := rt.auction
	key := "auction:" + a.ID

	var next time.Time
	switch a.Status {
	case core.AuctionPending:
		next = a.StartAt
	case core.AuctionOpen:
		if a.Protocol == core.ProtocolDutch {
			next = a.StartAt.Add(time.Duration(a.Ticks+1) * a.TickInterval)
		} else {
			next = a.EndAt
		}
	default:
		e.sched.Cancel(key)
		return
	}

	id := a.ID
	e.sched.ScheduleAt(key, next, func() { e.wake(id) })
}

// closeLocked runs Open → Closing → Awarded | Void. Ranking reads the ledger
// while the auction is Closing, so no bid can land between ranking and award.
func (e *Engine) closeLocked(rt *runtime, at time.Time) {
	a := &rt.auction
	if !a.Status.CanTransition(core.AuctionClosing) {
		return
	}
	a.Status = core.AuctionClosing
	a.Version++

	bids := e.store.ListActive(a.ID)
	result := core.DecideAward(bids, a.ReservePrice, a.Quantity, e.profiles.MinOrderQuantity)

	winnerID := ""
	if result.Winner != nil {
		winnerID = result.Winner.ID
	}
	settled, err := e.store.Settle(a.ID, winnerID)
	if err != nil {
		e.log.WithError(err).WithField("auction_id", a.ID).Error("failed to settle bids")
		winnerID = ""
		settled = nil
	}

	if winnerID != "" {
		a.Status = core.AuctionAwarded
		a.WinnerBidID = winnerID
	} else {
		a.Status = core.AuctionVoid
	}
	a.ClosedAt = at
	a.Version++

	fields := logrus.Fields{
		"auction_id": a.ID,
		"status":     a.Status,
		"bids":       len(bids),
		"rejected":   len(result.RejectedBidIDs),
	}
	if result.Winner != nil {
		fields["bid_id"] = result.Winner.ID
		fields["supplier_id"] = result.Winner.SupplierID
		fields["price"] = result.Winner.Price.String()
	}
	e.log.WithFields(fields).Info("auction closed")

	snapshot := rt.auction
	e.bus.Publish(events.Event{
		Type:      events.AuctionClosed,
		At:        at,
		LotID:     snapshot.LotID,
		AuctionID: snapshot.ID,
		Auction:   &snapshot,
		Bids:      e.store.All(a.ID),
	})
	for i := range settled {
		e.publishLocked(rt, events.BidSettled, at, &settled[i], string(settled[i].Status))
	}
}
