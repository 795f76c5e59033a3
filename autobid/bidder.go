// Package autobid bids on a supplier's behalf within the bounds of the
// supplier's auto-bid rules. It has no privileged path into the engine: every
// bid goes through the same SubmitBid entry point a human supplier uses.
package autobid

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/engine"
	"github.com/cloudx-io/openprocure/logging"
)

// WinEstimator scores the chance that a bid at price wins the auction. The
// model behind it lives outside this system.
type WinEstimator interface {
	EstimateWinProbability(ctx context.Context, rule core.AutoBidRule, auction core.AuctionView, price decimal.Decimal) (float64, error)
}

// EstimatorFunc adapts a function to WinEstimator.
type EstimatorFunc func(ctx context.Context, rule core.AutoBidRule, auction core.AuctionView, price decimal.Decimal) (float64, error)

func (f EstimatorFunc) EstimateWinProbability(ctx context.Context, rule core.AutoBidRule, auction core.AuctionView, price decimal.Decimal) (float64, error) {
	return f(ctx, rule, auction, price)
}

// ConstantEstimator reports the same probability for every bid.
func ConstantEstimator(p float64) WinEstimator {
	return EstimatorFunc(func(context.Context, core.AutoBidRule, core.AuctionView, decimal.Decimal) (float64, error) {
		return p, nil
	})
}

// Market is the engine surface the bidder uses.
type Market interface {
	OpenAuctions(category string) []core.AuctionView
	View(auctionID string) (core.AuctionView, error)
	SubmitBid(ctx context.Context, req core.BidRequest) (*core.BidOutcome, error)
}

// BidIntent is one bid the bidder decided to place, with its outcome.
type BidIntent struct {
	RuleID         string           `json:"rule_id"`
	SupplierID     string           `json:"supplier_id"`
	AuctionID      string           `json:"auction_id"`
	Price          decimal.Decimal  `json:"price"`
	Quantity       int64            `json:"quantity"`
	WinProbability float64          `json:"win_probability"`
	Attempt        int              `json:"attempt"`
	Outcome        *core.BidOutcome `json:"outcome,omitempty"`
}

type Bidder struct {
	market      Market
	rules       *RuleStore
	estimator   WinEstimator
	profiles    engine.SupplierProfiles
	concurrency int
	log         logrus.FieldLogger
}

// Option configures a Bidder.
type Option func(*Bidder)

func WithConcurrency(n int) Option {
	return func(b *Bidder) { b.concurrency = n }
}

func WithSupplierProfiles(p engine.SupplierProfiles) Option {
	return func(b *Bidder) { b.profiles = p }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bidder) { b.log = l }
}

func NewBidder(market Market, rules *RuleStore, estimator WinEstimator, opts ...Option) *Bidder {
	b := &Bidder{
		market:      market,
		rules:       rules,
		estimator:   estimator,
		profiles:    engine.StaticSupplierProfiles{},
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.OrDiscard(b.log).WithField("component", "autobid")
	return b
}

// Evaluate scans the Open auctions matching each enabled rule of the supplier and
// bids where a rule allows it. Auctions are evaluated concurrently; within one
// auction the supplier's rules are tried in ID order until one of them submits.
// That rule's rejected submission is retried once against fresh auction state,
// then the auction is skipped for this cycle. Only a canceled context fails Evaluate.
func (b *Bidder) Evaluate(ctx context.Context, supplierID string) ([]BidIntent, error) {
	rules := make([]core.AutoBidRule, 0)
	for _, r := range b.rules.ForSupplier(supplierID) {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	if len(rules) == 0 {
		return nil, nil
	}

	candidates := make(map[string][]core.AutoBidRule)
	views := make(map[string]core.AuctionView)
	for _, rule := range rules {
		for _, v := range b.market.OpenAuctions(rule.Category) {
			candidates[v.ID] = append(candidates[v.ID], rule)
			views[v.ID] = v
		}
	}
	auctionIDs := make([]string, 0, len(candidates))
	for id := range candidates {
		auctionIDs = append(auctionIDs, id)
	}
	sort.Strings(auctionIDs)

	var (
		mu      sync.Mutex
		intents []BidIntent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.concurrency, 1))
	for _, id := range auctionIDs {
		g.Go(func() error {
			for _, rule := range candidates[id] {
				got, err := b.bidAuction(gctx, rule, views[id])
				if err != nil {
					return err
				}
				if len(got) == 0 {
					continue
				}
				mu.Lock()
				intents = append(intents, got...)
				mu.Unlock()
				// At most one rule submits per auction and cycle.
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return intents, err
	}

	sort.SliceStable(intents, func(i, j int) bool {
		if intents[i].AuctionID != intents[j].AuctionID {
			return intents[i].AuctionID < intents[j].AuctionID
		}
		return intents[i].Attempt < intents[j].Attempt
	})
	return intents, nil
}

// bidAuction makes at most two submissions for one rule in one auction.
func (b *Bidder) bidAuction(ctx context.Context, rule core.AutoBidRule, view core.AuctionView) ([]BidIntent, error) {
	log := b.log.WithFields(logrus.Fields{"rule_id": rule.ID, "supplier_id": rule.SupplierID, "auction_id": view.ID})

	var intents []BidIntent
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			fresh, err := b.market.View(view.ID)
			if err != nil || fresh.Status != core.AuctionOpen {
				return intents, nil
			}
			view = fresh
		}

		intent, ok, err := b.propose(ctx, rule, view)
		if err != nil {
			return intents, err
		}
		if !ok {
			return intents, nil
		}
		intent.Attempt = attempt

		res, err := b.rules.Reserve(rule.ID, view.ID, intent.Quantity)
		if err != nil {
			log.WithError(err).Debug("auto-bid budget unavailable")
			return intents, nil
		}
		outcome, err := b.market.SubmitBid(ctx, core.BidRequest{
			AuctionID:  view.ID,
			SupplierID: rule.SupplierID,
			Price:      intent.Price,
			Quantity:   intent.Quantity,
			RuleID:     rule.ID,
		})
		b.rules.Release(res)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return intents, err
			}
			log.WithError(err).Warn("auto-bid submission failed")
			// Still counts as this cycle's submission for the auction.
			return append(intents, intent), nil
		}

		intent.Outcome = outcome
		intents = append(intents, intent)
		if outcome.Accepted {
			log.WithFields(logrus.Fields{"price": intent.Price.String(), "quantity": intent.Quantity}).Info("auto-bid accepted")
			return intents, nil
		}
		log.WithFields(logrus.Fields{
			"price":   intent.Price.String(),
			"reason":  outcome.ReasonCode(),
			"attempt": attempt,
		}).Info("auto-bid rejected")
	}
	return intents, nil
}

// propose decides whether and at what price a rule bids into an auction. The
// price never exceeds the rule's max price and the quantity always fits the
// auction total, the supplier's minimum order and the rule budget.
func (b *Bidder) propose(ctx context.Context, rule core.AutoBidRule, view core.AuctionView) (BidIntent, bool, error) {
	var p decimal.Decimal
	switch view.Protocol {
	case core.ProtocolSealed:
		if b.rules.HasActiveBid(rule.ID, view.ID) {
			return BidIntent{}, false, nil
		}
		p = rule.MaxPrice
	case core.ProtocolEnglish:
		if view.HasBest && view.BestSupplierID == rule.SupplierID {
			return BidIntent{}, false, nil
		}
		switch {
		case view.HasBest:
			p = decimal.Min(core.Undercut(view.BestPrice, view.MinDecrement), rule.MaxPrice)
		case view.StartPrice.IsPositive():
			p = decimal.Min(view.StartPrice, rule.MaxPrice)
		default:
			p = rule.MaxPrice
		}
	case core.ProtocolDutch:
		if view.CurrentPrice.GreaterThan(rule.MaxPrice) {
			return BidIntent{}, false, nil
		}
		p = view.CurrentPrice
	default:
		return BidIntent{}, false, nil
	}
	p = core.RoundPrice(p)
	if !p.IsPositive() || !core.BidMeetsReserve(p, view.ReservePrice) {
		return BidIntent{}, false, nil
	}

	avail, err := b.rules.Available(rule.ID, view.ID)
	if err != nil {
		return BidIntent{}, false, nil
	}
	qty := min(view.Quantity, avail)
	if !core.QuantityWithinBounds(qty, view.Quantity, b.profiles.MinOrderQuantity(rule.SupplierID)) {
		return BidIntent{}, false, nil
	}

	prob, err := b.estimator.EstimateWinProbability(ctx, rule, view, p)
	if err != nil {
		if ctx.Err() != nil {
			return BidIntent{}, false, ctx.Err()
		}
		b.log.WithError(err).WithField("rule_id", rule.ID).Warn("win probability estimate failed")
		return BidIntent{}, false, nil
	}
	if prob < rule.MinWinProbability {
		return BidIntent{}, false, nil
	}

	return BidIntent{
		RuleID:         rule.ID,
		SupplierID:     rule.SupplierID,
		AuctionID:      view.ID,
		Price:          p,
		Quantity:       qty,
		WinProbability: prob,
	}, true, nil
}
