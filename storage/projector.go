package storage

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/logging"
)

// RuleSource returns the current snapshot of an auto-bid rule.
type RuleSource interface {
	Get(ruleID string) (core.AutoBidRule, error)
}

// Projector journals every event and upserts the snapshots it carries.
// Subscribe it after the rule store so rule counters are already updated.
type Projector struct {
	store *Store
	rules RuleSource
	log   logrus.FieldLogger
}

func NewProjector(store *Store, rules RuleSource, log logrus.FieldLogger) *Projector {
	return &Projector{
		store: store,
		rules: rules,
		log:   logging.OrDiscard(log).WithField("component", "storage"),
	}
}

// Handle is an events.Handler. Write failures are logged; the in-memory state
// stays authoritative.
func (p *Projector) Handle(ev events.Event) {
	ctx := context.Background()
	log := p.log.WithFields(logrus.Fields{"seq": ev.Seq, "type": ev.Type})

	if err := p.store.AppendEvent(ctx, ev); err != nil {
		log.WithError(err).Error("failed to journal event")
	}

	if ev.Lot != nil {
		if _, err := p.store.SaveLot(ctx, ev.Lot); err != nil {
			log.WithError(err).Error("failed to save lot")
		}
	}
	if ev.Auction != nil {
		if _, err := p.store.SaveAuction(ctx, ev.Auction); err != nil {
			log.WithError(err).Error("failed to save auction")
		}
	}

	// Rejected bids were never stored.
	if ev.Bid != nil && ev.Type != events.BidRejected {
		p.saveBid(ctx, log, ev.Bid)
	}
	for i := range ev.Bids {
		p.saveBid(ctx, log, &ev.Bids[i])
	}
}

func (p *Projector) saveBid(ctx context.Context, log logrus.FieldLogger, bid *core.Bid) {
	if _, err := p.store.SaveBid(ctx, bid); err != nil {
		log.WithError(err).WithField("bid_id", bid.ID).Error("failed to save bid")
	}
	if bid.RuleID == "" || p.rules == nil {
		return
	}
	rule, err := p.rules.Get(bid.RuleID)
	if err != nil {
		return
	}
	p.SaveRule(ctx, rule)
}

// SaveRule persists a rule snapshot, for changes that happen outside the bus.
func (p *Projector) SaveRule(ctx context.Context, rule core.AutoBidRule) {
	if _, err := p.store.SaveRule(ctx, &rule); err != nil {
		p.log.WithError(err).WithField("rule_id", rule.ID).Error("failed to save rule")
	}
}
