package autobid

import (
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

// RuleStore owns auto-bid rules on behalf of their suppliers. Supplier-declared
// fields change only through Configure; counters change only through bid
// outcome events, serialized per rule.
type RuleStore struct {
	clock clock.Clock
	log   logrus.FieldLogger
	newID func() string

	mu    sync.RWMutex
	rules map[string]*ruleEntry
}

type ruleEntry struct {
	mu   sync.Mutex
	rule core.AutoBidRule

	// reserved is quantity held by submissions still in flight.
	reserved int64
	// commits tracks the rule's Active bid per auction.
	commits map[string]commitment
}

type commitment struct {
	bidID    string
	quantity int64
}

// Reservation is quantity held against a rule budget while a bid is submitted.
type Reservation struct {
	RuleID    string
	AuctionID string
	Quantity  int64
}

func NewRuleStore(c clock.Clock, log logrus.FieldLogger) *RuleStore {
	if c == nil {
		c = clock.Real()
	}
	return &RuleStore{
		clock: c,
		log:   logging.OrDiscard(log).WithField("component", "autobid"),
		newID: uuid.NewString,
		rules: make(map[string]*ruleEntry),
	}
}

// Configure creates a rule (empty ID) or edits the supplier-declared fields of an
// existing one. Counters are preserved across edits.
func (s *RuleStore) Configure(rule core.AutoBidRule) (core.AutoBidRule, error) {
	if err := rule.Validate(); err != nil {
		return core.AutoBidRule{}, err
	}

	s.mu.Lock()
	if rule.ID == "" {
		rule.ID = s.newID()
	}
	e, ok := s.rules[rule.ID]
	if !ok {
		e = &ruleEntry{commits: make(map[string]commitment)}
		e.rule = core.AutoBidRule{ID: rule.ID, SupplierID: rule.SupplierID}
		s.rules[rule.ID] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rule.SupplierID != rule.SupplierID {
		return core.AutoBidRule{}, fmt.Errorf("rule %s: %w", rule.ID, core.ErrNotBidOwner)
	}
	e.rule.Category = rule.Category
	e.rule.MaxPrice = rule.MaxPrice
	e.rule.MinWinProbability = rule.MinWinProbability
	e.rule.MaxQuantity = rule.MaxQuantity
	e.rule.Enabled = rule.Enabled
	e.touchLocked(s.clock.Now())

	s.log.WithFields(logrus.Fields{
		"rule_id":     e.rule.ID,
		"supplier_id": e.rule.SupplierID,
		"enabled":     e.rule.Enabled,
	}).Info("auto-bid rule configured")
	return e.rule, nil
}

func (e *ruleEntry) touchLocked(now time.Time) {
	e.rule.UpdatedAt = now
	e.rule.Version++
}

func (s *RuleStore) entry(ruleID string) (*ruleEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rules[ruleID]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", ruleID, core.ErrRuleNotFound)
	}
	return e, nil
}

func (s *RuleStore) Get(ruleID string) (core.AutoBidRule, error) {
	e, err := s.entry(ruleID)
	if err != nil {
		return core.AutoBidRule{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rule, nil
}

// ForSupplier returns the supplier's rules ordered by ID.
func (s *RuleStore) ForSupplier(supplierID string) []core.AutoBidRule {
	out := make([]core.AutoBidRule, 0)
	for _, e := range s.entries() {
		e.mu.Lock()
		if e.rule.SupplierID == supplierID {
			out = append(out, e.rule)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Suppliers returns every supplier with at least one enabled rule, sorted.
func (s *RuleStore) Suppliers() []string {
	seen := make(map[string]bool)
	for _, e := range s.entries() {
		e.mu.Lock()
		if e.rule.Enabled {
			seen[e.rule.SupplierID] = true
		}
		e.mu.Unlock()
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *RuleStore) entries() []*ruleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ruleEntry, 0, len(s.rules))
	for _, e := range s.rules {
		out = append(out, e)
	}
	return out
}

// Available returns the quantity the rule can still put into auctionID. A bid in
// an auction where the rule already has an Active bid replaces that bid, so the
// existing commitment counts as available.
func (s *RuleStore) Available(ruleID, auctionID string) (int64, error) {
	e, err := s.entry(ruleID)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.availableLocked(auctionID), nil
}

func (e *ruleEntry) availableLocked(auctionID string) int64 {
	avail := e.rule.RemainingQuantity() - e.reserved
	if c, ok := e.commits[auctionID]; ok {
		avail += c.quantity
	}
	return max(avail, 0)
}

// HasActiveBid reports whether the rule currently has an Active bid in the auction.
func (s *RuleStore) HasActiveBid(ruleID, auctionID string) bool {
	e, err := s.entry(ruleID)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.commits[auctionID]
	return ok
}

// Reserve holds quantity against the rule budget, failing with
// core.ErrRuleBudgetExhausted when it is not available.
func (s *RuleStore) Reserve(ruleID, auctionID string, quantity int64) (Reservation, error) {
	e, err := s.entry(ruleID)
	if err != nil {
		return Reservation{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rule.Enabled {
		return Reservation{}, fmt.Errorf("rule %s disabled: %w", ruleID, core.ErrInvalidRule)
	}
	if quantity <= 0 || quantity > e.availableLocked(auctionID) {
		return Reservation{}, core.ErrRuleBudgetExhausted
	}
	e.reserved += quantity
	return Reservation{RuleID: ruleID, AuctionID: auctionID, Quantity: quantity}, nil
}

// Release returns a reservation. Accepted bids have already been committed by
// the BidAccepted event by the time the submitter releases.
func (s *RuleStore) Release(r Reservation) {
	e, err := s.entry(r.RuleID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reserved = max(e.reserved-r.Quantity, 0)
}

// Handle is the event bus handler that maintains rule counters.
func (s *RuleStore) Handle(ev events.Event) {
	if ev.Bid == nil || ev.Bid.RuleID == "" {
		return
	}
	switch ev.Type {
	case events.BidAccepted, events.BidWithdrawn, events.BidSettled:
	default:
		return
	}
	e, err := s.entry(ev.Bid.RuleID)
	if err != nil {
		s.log.WithField("rule_id", ev.Bid.RuleID).Warn("outcome for unknown rule")
		return
	}

	bid := ev.Bid
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Type {
	case events.BidAccepted:
		e.rule.BidsPlaced++
		e.rule.CommittedQuantity += bid.Quantity
		e.commits[bid.AuctionID] = commitment{bidID: bid.ID, quantity: bid.Quantity}
	case events.BidWithdrawn:
		e.releaseLocked(bid)
	case events.BidSettled:
		if bid.Status == core.BidWon {
			e.rule.Wins++
			e.rule.TotalSpend = e.rule.TotalSpend.Add(core.Spend(bid.Price, bid.Quantity))
			delete(e.commits, bid.AuctionID)
		} else {
			e.releaseLocked(bid)
		}
	}
	e.touchLocked(s.clock.Now())

	s.log.WithFields(logrus.Fields{
		"rule_id":    e.rule.ID,
		"bid_id":     bid.ID,
		"event":      ev.Type,
		"committed":  e.rule.CommittedQuantity,
		"bids_total": e.rule.BidsPlaced,
		"wins":       e.rule.Wins,
	}).Debug("auto-bid rule counters updated")
}

func (e *ruleEntry) releaseLocked(bid *core.Bid) {
	c, ok := e.commits[bid.AuctionID]
	if !ok || c.bidID != bid.ID {
		return
	}
	e.rule.CommittedQuantity = max(e.rule.CommittedQuantity-c.quantity, 0)
	delete(e.commits, bid.AuctionID)
}
