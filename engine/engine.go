// Package engine runs auctions. Every auction has its own runtime and lock; all
// bids and transitions for one auction are serialized through that lock while
// different auctions proceed in parallel.
//
// Timers only prompt the engine. Each operation first brings the auction up to
// the clock's current time (opening, Dutch ticks, closing), so a timer delayed by
// an in-flight bid never loses a transition.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/bidstore"
	"github.com/cloudx-io/openprocure/clock"
	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/logging"
)

// Config holds engine-wide defaults for English anti-snipe extensions.
type Config struct {
	AntiSnipeWindow    time.Duration
	AntiSnipeExtension time.Duration
	MaxExtensions      int
}

func DefaultConfig() Config {
	return Config{
		AntiSnipeWindow:    2 * time.Minute,
		AntiSnipeExtension: 2 * time.Minute,
		MaxExtensions:      5,
	}
}

type Engine struct {
	cfg      Config
	clock    clock.Clock
	sched    *clock.Scheduler
	store    *bidstore.Store
	profiles SupplierProfiles
	bus      *events.Bus
	log      logrus.FieldLogger
	newID    func() string

	mu       sync.RWMutex
	auctions map[string]*runtime
}

type runtime struct {
	mu      sync.Mutex
	auction core.Auction
}

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithBidStore shares a bid ledger; by default the engine owns a private one.
func WithBidStore(s *bidstore.Store) Option {
	return func(e *Engine) { e.store = s }
}

func WithSupplierProfiles(p SupplierProfiles) Option {
	return func(e *Engine) { e.profiles = p }
}

func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:      DefaultConfig(),
		clock:    clock.Real(),
		profiles: StaticSupplierProfiles{},
		newID:    uuid.NewString,
		auctions: make(map[string]*runtime),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = bidstore.New()
	}
	e.log = logging.OrDiscard(e.log).WithField("component", "engine")
	e.sched = clock.NewScheduler(e.clock)
	return e
}

// Close cancels every pending timer. Auctions keep their state and still
// advance lazily when touched.
func (e *Engine) Close() {
	e.sched.Stop()
}

// CreateAuction validates spec, fills engine defaults and registers the auction.
// An auction whose start time has passed opens immediately.
func (e *Engine) CreateAuction(ctx context.Context, spec core.AuctionSpec) (*core.Auction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if spec.Protocol == core.ProtocolEnglish {
		if spec.MinDecrement.IsZero() {
			spec.MinDecrement = core.DefaultMinDecrement
		}
		if spec.AntiSnipeDisabled() {
			spec.AntiSnipeWindow, spec.AntiSnipeExtension, spec.MaxExtensions = 0, 0, 0
		} else {
			if spec.AntiSnipeWindow == 0 {
				spec.AntiSnipeWindow = e.cfg.AntiSnipeWindow
			}
			if spec.AntiSnipeExtension == 0 {
				spec.AntiSnipeExtension = e.cfg.AntiSnipeExtension
			}
			if spec.MaxExtensions == 0 {
				spec.MaxExtensions = e.cfg.MaxExtensions
			}
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	rt := &runtime{auction: core.Auction{
		ID:                 e.newID(),
		LotID:              spec.LotID,
		ProductID:          spec.ProductID,
		Category:           spec.Category,
		Protocol:           spec.Protocol,
		ReservePrice:       spec.ReservePrice,
		Quantity:           spec.Quantity,
		StartAt:            spec.StartAt,
		EndAt:              spec.EndAt,
		Status:             core.AuctionPending,
		MinDecrement:       spec.MinDecrement,
		AntiSnipeWindow:    spec.AntiSnipeWindow,
		AntiSnipeExtension: spec.AntiSnipeExtension,
		MaxExtensions:      spec.MaxExtensions,
		StartPrice:         spec.StartPrice,
		CurrentPrice:       spec.StartPrice,
		TickDecrement:      spec.TickDecrement,
		TickInterval:       spec.TickInterval,
		CreatedAt:          now,
		Version:            1,
	}}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	e.mu.Lock()
	e.auctions[rt.auction.ID] = rt
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"auction_id": rt.auction.ID,
		"lot_id":     rt.auction.LotID,
		"protocol":   rt.auction.Protocol,
		"quantity":   rt.auction.Quantity,
	}).Info("auction created")
	e.publishLocked(rt, events.AuctionCreated, now, nil, "")

	e.syncLocked(rt, now)

	snapshot := rt.auction
	return &snapshot, nil
}

func (e *Engine) runtime(auctionID string) *runtime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.auctions[auctionID]
}

// Auction returns a snapshot of the auction as of now.
func (e *Engine) Auction(auctionID string) (*core.Auction, error) {
	rt := e.runtime(auctionID)
	if rt == nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, core.ErrAuctionNotFound)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e.syncLocked(rt, e.clock.Now())
	snapshot := rt.auction
	return &snapshot, nil
}

// Auctions returns snapshots of every auction, oldest first.
func (e *Engine) Auctions() []core.Auction {
	out := make([]core.Auction, 0)
	for _, rt := range e.runtimes() {
		rt.mu.Lock()
		e.syncLocked(rt, e.clock.Now())
		out = append(out, rt.auction)
		rt.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenAuctions returns bidder views of the Open auctions in category, or of all
// Open auctions when category is empty. Sealed views carry no prices.
func (e *Engine) OpenAuctions(category string) []core.AuctionView {
	out := make([]core.AuctionView, 0)
	for _, rt := range e.runtimes() {
		rt.mu.Lock()
		e.syncLocked(rt, e.clock.Now())
		a := rt.auction
		if a.Status == core.AuctionOpen && (category == "" || a.Category == category) {
			out = append(out, e.viewLocked(&a))
		}
		rt.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// View returns the bidder view of one auction.
func (e *Engine) View(auctionID string) (core.AuctionView, error) {
	rt := e.runtime(auctionID)
	if rt == nil {
		return core.AuctionView{}, fmt.Errorf("auction %s: %w", auctionID, core.ErrAuctionNotFound)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e.syncLocked(rt, e.clock.Now())
	a := rt.auction
	return e.viewLocked(&a), nil
}

func (e *Engine) viewLocked(a *core.Auction) core.AuctionView {
	v := core.AuctionView{
		ID:           a.ID,
		Category:     a.Category,
		Protocol:     a.Protocol,
		Status:       a.Status,
		ReservePrice: a.ReservePrice,
		Quantity:     a.Quantity,
		EndAt:        a.EndAt,
	}
	switch a.Protocol {
	case core.ProtocolEnglish:
		v.StartPrice = a.StartPrice
		v.MinDecrement = a.MinDecrement
		if a.BestBidID != "" {
			v.HasBest = true
			v.BestPrice = a.BestPrice
			if best, err := e.store.Get(a.BestBidID); err == nil {
				v.BestSupplierID = best.SupplierID
			}
		}
	case core.ProtocolDutch:
		v.StartPrice = a.StartPrice
		v.CurrentPrice = a.CurrentPrice
	}
	return v
}

// Bids returns the auction's full bid history in arrival order.
func (e *Engine) Bids(auctionID string) ([]core.Bid, error) {
	if e.runtime(auctionID) == nil {
		return nil, fmt.Errorf("auction %s: %w", auctionID, core.ErrAuctionNotFound)
	}
	return e.store.All(auctionID), nil
}

func (e *Engine) runtimes() []*runtime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*runtime, 0, len(e.auctions))
	for _, rt := range e.auctions {
		out = append(out, rt)
	}
	return out
}

func (e *Engine) publishLocked(rt *runtime, typ events.Type, at time.Time, bid *core.Bid, reason string) {
	snapshot := rt.auction
	var bidCopy *core.Bid
	if bid != nil {
		b := *bid
		bidCopy = &b
	}
	e.bus.Publish(events.Event{
		Type:      typ,
		At:        at,
		LotID:     snapshot.LotID,
		AuctionID: snapshot.ID,
		Auction:   &snapshot,
		Bid:       bidCopy,
		Reason:    reason,
	})
}
