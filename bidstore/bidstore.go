// Package bidstore is the append-only bid ledger. Each auction has its own ledger
// and its own lock; bids are never deleted, only moved out of the Active status.
package bidstore

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cloudx-io/openprocure/core"
)

type Store struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger
	index   map[string]string // bid ID -> auction ID

	seq   atomic.Uint64
	newID func() string
}

type ledger struct {
	mu     sync.Mutex
	bids   []*core.Bid
	byID   map[string]*core.Bid
	sealed bool
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the UUID generator used for bids submitted without an ID.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		ledgers: make(map[string]*ledger),
		index:   make(map[string]string),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ledger(auctionID string, create bool) *ledger {
	s.mu.RLock()
	l, ok := s.ledgers[auctionID]
	s.mu.RUnlock()
	if ok || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.ledgers[auctionID]; !ok {
		l = &ledger{byID: make(map[string]*core.Bid)}
		s.ledgers[auctionID] = l
	}
	return l
}

// Append records bid as Active and returns the stored copy together with the
// supplier's earlier Active bids, which are now Withdrawn. Append assigns the
// ID (when empty), the arrival Sequence and the Version.
func (s *Store) Append(bid core.Bid) (core.Bid, []core.Bid, error) {
	if bid.AuctionID == "" || bid.SupplierID == "" {
		return core.Bid{}, nil, core.ErrMissingIdentity
	}
	if bid.Quantity <= 0 {
		return core.Bid{}, nil, core.ErrInvalidQuantity
	}
	if !bid.Price.IsPositive() {
		return core.Bid{}, nil, core.ErrInvalidPrice
	}
	if bid.ID == "" {
		bid.ID = s.newID()
	}

	l := s.ledger(bid.AuctionID, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return core.Bid{}, nil, core.ErrAuctionNotOpen
	}
	if _, dup := l.byID[bid.ID]; dup {
		return core.Bid{}, nil, fmt.Errorf("bid %s: %w", bid.ID, core.ErrDuplicateBid)
	}

	var superseded []core.Bid
	for _, prev := range l.bids {
		if prev.SupplierID == bid.SupplierID && prev.Status == core.BidActive {
			prev.Status = core.BidWithdrawn
			prev.Version++
			superseded = append(superseded, *prev)
		}
	}

	bid.Sequence = s.seq.Add(1)
	bid.Status = core.BidActive
	bid.Version = 1
	stored := bid
	l.bids = append(l.bids, &stored)
	l.byID[stored.ID] = &stored

	s.mu.Lock()
	s.index[stored.ID] = stored.AuctionID
	s.mu.Unlock()

	return stored, superseded, nil
}

// ListActive returns the auction's Active bids ordered by submission time, then
// arrival sequence. The slice is a snapshot; calling again restarts the listing.
func (s *Store) ListActive(auctionID string) []core.Bid {
	l := s.ledger(auctionID, false)
	if l == nil {
		return []core.Bid{}
	}
	l.mu.Lock()
	out := make([]core.Bid, 0, len(l.bids))
	for _, b := range l.bids {
		if b.Status == core.BidActive {
			out = append(out, *b)
		}
	}
	l.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// All returns every bid ever recorded for the auction, in arrival order.
func (s *Store) All(auctionID string) []core.Bid {
	l := s.ledger(auctionID, false)
	if l == nil {
		return []core.Bid{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Bid, len(l.bids))
	for i, b := range l.bids {
		out[i] = *b
	}
	return out
}

// Get looks a bid up by ID.
func (s *Store) Get(bidID string) (core.Bid, error) {
	s.mu.RLock()
	auctionID, ok := s.index[bidID]
	s.mu.RUnlock()
	if !ok {
		return core.Bid{}, core.ErrBidNotFound
	}
	l := s.ledger(auctionID, false)
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.byID[bidID], nil
}

// Withdraw moves an Active bid to Withdrawn.
func (s *Store) Withdraw(auctionID, bidID string) (core.Bid, error) {
	l := s.ledger(auctionID, false)
	if l == nil {
		return core.Bid{}, core.ErrBidNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byID[bidID]
	if !ok {
		return core.Bid{}, core.ErrBidNotFound
	}
	if l.sealed {
		return core.Bid{}, core.ErrAuctionNotOpen
	}
	if b.Status != core.BidActive {
		return core.Bid{}, core.ErrBidNotActive
	}
	b.Status = core.BidWithdrawn
	b.Version++
	return *b, nil
}

// Settle marks winnerID Won and every other Active bid Lost, then seals the
// ledger so no bid changes again. An empty winnerID loses every Active bid.
// Settling twice fails with ErrDoubleAward.
func (s *Store) Settle(auctionID, winnerID string) ([]core.Bid, error) {
	l := s.ledger(auctionID, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return nil, fmt.Errorf("auction %s: %w", auctionID, core.ErrDoubleAward)
	}
	if winnerID != "" {
		w, ok := l.byID[winnerID]
		if !ok {
			return nil, core.ErrBidNotFound
		}
		if w.Status != core.BidActive {
			return nil, fmt.Errorf("winner %s: %w", winnerID, core.ErrBidNotActive)
		}
	}

	var settled []core.Bid
	for _, b := range l.bids {
		if b.Status != core.BidActive {
			continue
		}
		if b.ID == winnerID {
			b.Status = core.BidWon
		} else {
			b.Status = core.BidLost
		}
		b.Version++
		settled = append(settled, *b)
	}
	l.sealed = true
	return settled, nil
}
