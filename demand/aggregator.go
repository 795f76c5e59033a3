// Package demand pools per-shop demand into lots and converts ready lots into
// auctions exactly once.
package demand

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/clock"
	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/logging"
)

// Readiness is the result of evaluating a lot.
type Readiness string

const (
	ReadyForAuction  Readiness = "ready_for_auction"
	StillAggregating Readiness = "still_aggregating"
)

// AuctionCreator creates the auction a converted lot turns into.
type AuctionCreator interface {
	CreateAuction(ctx context.Context, spec core.AuctionSpec) (*core.Auction, error)
}

// Config tunes readiness and contribution rules.
type Config struct {
	// MaxAggregationWindow, when positive, lets a lot that reached its minimum
	// viable quantity become ready this long after it was created.
	MaxAggregationWindow time.Duration
	// StrictContributions rejects repeat submissions from a shop instead of
	// updating its contribution.
	StrictContributions bool
}

type Aggregator struct {
	catalog Catalog
	creator AuctionCreator
	cfg     Config

	clock     clock.Clock
	scheduler *clock.Scheduler
	bus       *events.Bus
	log       logrus.FieldLogger
	newID     func() string

	mu        sync.Mutex
	lots      map[string]*lotState
	accepting map[string]string // product|window -> lot ID still taking demand
}

type lotState struct {
	lot        *core.Lot
	converting bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithConfig(cfg Config) Option {
	return func(a *Aggregator) { a.cfg = cfg }
}

// WithClock sets the time source; the aggregation window timers run on it.
func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

func WithBus(bus *events.Bus) Option {
	return func(a *Aggregator) { a.bus = bus }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Aggregator) { a.log = l }
}

func WithIDGenerator(fn func() string) Option {
	return func(a *Aggregator) { a.newID = fn }
}

func New(catalog Catalog, creator AuctionCreator, opts ...Option) *Aggregator {
	a := &Aggregator{
		catalog:   catalog,
		creator:   creator,
		clock:     clock.Real(),
		newID:     uuid.NewString,
		lots:      make(map[string]*lotState),
		accepting: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = logging.OrDiscard(a.log).WithField("component", "demand")
	a.scheduler = clock.NewScheduler(a.clock)
	return a
}

// Close stops pending aggregation window timers.
func (a *Aggregator) Close() {
	a.scheduler.Stop()
}

// SubmitDemand adds a shop's demand to the lot accepting demand for the product
// and delivery window, opening a new lot when there is none. A repeat submission
// from the same shop replaces its earlier quantity.
func (a *Aggregator) SubmitDemand(ctx context.Context, productID, shopID string, quantity int64, window core.DeliveryWindow) (*core.LotContribution, error) {
	if productID == "" || shopID == "" {
		return nil, core.ErrMissingIdentity
	}
	if quantity <= 0 {
		return nil, core.ErrInvalidQuantity
	}
	if !window.Valid() {
		return nil, core.ErrInvalidDeliveryWindow
	}
	product, err := a.catalog.Product(ctx, productID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	key := productID + "|" + window.Key()
	st := a.acceptingLotLocked(key, product, window, now)
	lot := st.lot

	updated := false
	idx := -1
	for i := range lot.Contributions {
		if lot.Contributions[i].ShopID == shopID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		if a.cfg.StrictContributions {
			return nil, fmt.Errorf("shop %s lot %s: %w", shopID, lot.ID, core.ErrShopAlreadyContributed)
		}
		lot.Contributions[idx].Quantity = quantity
		lot.Contributions[idx].UpdatedAt = now
		updated = true
	} else {
		lot.Contributions = append(lot.Contributions, core.Contribution{
			ShopID:      shopID,
			Quantity:    quantity,
			SubmittedAt: now,
			UpdatedAt:   now,
		})
	}

	lot.AccumulatedQuantity = 0
	for _, c := range lot.Contributions {
		lot.AccumulatedQuantity += c.Quantity
	}
	lot.Status = core.LotAggregating
	lot.Version++

	a.log.WithFields(logrus.Fields{
		"lot_id":   lot.ID,
		"shop_id":  shopID,
		"quantity": quantity,
		"updated":  updated,
	}).Debug("demand submitted")
	a.bus.Publish(events.Event{Type: events.DemandSubmitted, At: now, LotID: lot.ID, ShopID: shopID, Lot: lot.Clone()})

	a.evaluateLocked(st, now)

	return &core.LotContribution{
		LotID:               lot.ID,
		ShopID:              shopID,
		Quantity:            quantity,
		AccumulatedQuantity: lot.AccumulatedQuantity,
		TargetQuantity:      lot.TargetQuantity,
		Status:              lot.Status,
		Updated:             updated,
	}, nil
}

func (a *Aggregator) acceptingLotLocked(key string, product Product, window core.DeliveryWindow, now time.Time) *lotState {
	if id, ok := a.accepting[key]; ok {
		return a.lots[id]
	}

	lot := &core.Lot{
		ID:                a.newID(),
		ProductID:         product.ID,
		Category:          product.Category,
		Window:            window,
		TargetQuantity:    product.TargetQuantity,
		MinViableQuantity: product.MinViableQuantity,
		PriceFloor:        product.PriceFloor,
		Status:            core.LotOpen,
		CreatedAt:         now,
	}
	st := &lotState{lot: lot}
	a.lots[lot.ID] = st
	a.accepting[key] = lot.ID

	if a.cfg.MaxAggregationWindow > 0 {
		lotID := lot.ID
		a.scheduler.ScheduleAt("lot:"+lotID, now.Add(a.cfg.MaxAggregationWindow), func() {
			if _, err := a.EvaluateReadiness(lotID); err != nil {
				a.log.WithError(err).WithField("lot_id", lotID).Warn("aggregation window evaluation failed")
			}
		})
	}

	a.log.WithFields(logrus.Fields{"lot_id": lot.ID, "product_id": product.ID}).Info("lot opened")
	return st
}

// EvaluateReadiness re-checks a lot. A lot is ready once it reaches its target
// quantity, or once the aggregation window has elapsed with at least the minimum
// viable quantity. Ready is entered once; converted lots report ready.
func (a *Aggregator) EvaluateReadiness(lotID string) (Readiness, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.lots[lotID]
	if !ok {
		return "", fmt.Errorf("lot %s: %w", lotID, core.ErrLotNotFound)
	}
	return a.evaluateLocked(st, a.clock.Now()), nil
}

func (a *Aggregator) evaluateLocked(st *lotState, now time.Time) Readiness {
	lot := st.lot
	if lot.Status == core.LotReady || lot.Status == core.LotConverted {
		return ReadyForAuction
	}
	if !a.readyLocked(lot, now) {
		return StillAggregating
	}

	lot.Status = core.LotReady
	lot.ReadyAt = now
	lot.Version++
	delete(a.accepting, lot.ProductID+"|"+lot.Window.Key())
	a.scheduler.Cancel("lot:" + lot.ID)

	a.log.WithFields(logrus.Fields{
		"lot_id":   lot.ID,
		"quantity": lot.AccumulatedQuantity,
		"target":   lot.TargetQuantity,
	}).Info("lot ready")
	a.bus.Publish(events.Event{Type: events.LotReady, At: now, LotID: lot.ID, Lot: lot.Clone()})
	return ReadyForAuction
}

func (a *Aggregator) readyLocked(lot *core.Lot, now time.Time) bool {
	if lot.AccumulatedQuantity >= lot.TargetQuantity {
		return true
	}
	if a.cfg.MaxAggregationWindow <= 0 || lot.MinViableQuantity <= 0 {
		return false
	}
	elapsed := now.Sub(lot.CreatedAt) >= a.cfg.MaxAggregationWindow
	return elapsed && lot.AccumulatedQuantity >= lot.MinViableQuantity
}

// ConvertToAuction turns a ready lot into an auction under protocol. Product,
// category, quantity and lot ID come from the lot; terms supplies timing and
// protocol parameters, and its reserve defaults to the lot's price floor.
//
// Conversion happens at most once per lot: a second or concurrent call fails
// with core.ErrAlreadyConverted. If creating the auction fails the lot stays
// ready and can be converted again.
func (a *Aggregator) ConvertToAuction(ctx context.Context, lotID string, protocol core.Protocol, terms core.AuctionSpec) (*core.Auction, error) {
	a.mu.Lock()
	st, ok := a.lots[lotID]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("lot %s: %w", lotID, core.ErrLotNotFound)
	}
	lot := st.lot
	if st.converting || lot.Status == core.LotConverted {
		a.mu.Unlock()
		a.log.WithField("lot_id", lotID).Error("lot conversion requested twice")
		return nil, fmt.Errorf("lot %s: %w", lotID, core.ErrAlreadyConverted)
	}
	if lot.Status != core.LotReady {
		a.mu.Unlock()
		return nil, fmt.Errorf("lot %s is %s: %w", lotID, lot.Status, core.ErrLotNotReady)
	}
	st.converting = true

	spec := terms
	spec.LotID = lot.ID
	spec.ProductID = lot.ProductID
	spec.Category = lot.Category
	spec.Protocol = protocol
	spec.Quantity = lot.AccumulatedQuantity
	if spec.ReservePrice.IsZero() {
		spec.ReservePrice = lot.PriceFloor
	}
	a.mu.Unlock()

	auction, err := a.creator.CreateAuction(ctx, spec)

	a.mu.Lock()
	defer a.mu.Unlock()
	st.converting = false
	if err != nil {
		a.log.WithError(err).WithField("lot_id", lotID).Warn("lot conversion failed")
		return nil, fmt.Errorf("failed to create auction for lot %s: %w", lotID, err)
	}

	lot.Status = core.LotConverted
	lot.AuctionID = auction.ID
	lot.Version++

	a.log.WithFields(logrus.Fields{
		"lot_id":     lot.ID,
		"auction_id": auction.ID,
		"protocol":   protocol,
	}).Info("lot converted")
	a.bus.Publish(events.Event{Type: events.LotConverted, At: a.clock.Now(), LotID: lot.ID, AuctionID: auction.ID, Lot: lot.Clone()})
	return auction, nil
}

// Lot returns a snapshot of the lot.
func (a *Aggregator) Lot(lotID string) (*core.Lot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("lot %s: %w", lotID, core.ErrLotNotFound)
	}
	return st.lot.Clone(), nil
}

// OpenLots returns snapshots of every lot not yet converted, oldest first.
func (a *Aggregator) OpenLots() []*core.Lot {
	a.mu.Lock()
	out := make([]*core.Lot, 0, len(a.lots))
	for _, st := range a.lots {
		if st.lot.Status != core.LotConverted {
			out = append(out, st.lot.Clone())
		}
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
