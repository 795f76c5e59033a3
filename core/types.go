package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Protocol names the auction format an Auction runs under.
type Protocol string

const (
	// ProtocolSealed collects private bids until the end time.
	ProtocolSealed Protocol = "sealed"
	// ProtocolEnglish accepts public bids that must undercut the current best.
	ProtocolEnglish Protocol = "english"
	// ProtocolDutch lowers the offered price on a fixed schedule; the first taker wins.
	ProtocolDutch Protocol = "dutch"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSealed, ProtocolEnglish, ProtocolDutch:
		return true
	}
	return false
}

// LotStatus is the lifecycle state of a demand lot.
type LotStatus string

const (
	LotOpen        LotStatus = "open"
	LotAggregating LotStatus = "aggregating"
	LotReady       LotStatus = "ready"
	LotConverted   LotStatus = "converted"
)

// AuctionStatus is the lifecycle state of an auction. Transitions only move forward:
// pending → open → closing → awarded | void.
type AuctionStatus string

const (
	AuctionPending AuctionStatus = "pending"
	AuctionOpen    AuctionStatus = "open"
	AuctionClosing AuctionStatus = "closing"
	AuctionAwarded AuctionStatus = "awarded"
	AuctionVoid    AuctionStatus = "void"
)

// IsClosed reports whether the auction reached a terminal state.
func (s AuctionStatus) IsClosed() bool {
	return s == AuctionAwarded || s == AuctionVoid
}

func (s AuctionStatus) rank() int {
	switch s {
	case AuctionPending:
		return 0
	case AuctionOpen:
		return 1
	case AuctionClosing:
		return 2
	case AuctionAwarded, AuctionVoid:
		return 3
	}
	return -1
}

// CanTransition reports whether moving from s to next keeps the status monotonic.
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	if s.IsClosed() {
		return false
	}
	return next.rank() > s.rank()
}

// BidStatus is the state of a single bid in the ledger.
type BidStatus string

const (
	BidActive    BidStatus = "active"
	BidWithdrawn BidStatus = "withdrawn"
	BidWon       BidStatus = "won"
	BidLost      BidStatus = "lost"
)

// DeliveryWindow is the period in which pooled demand must be delivered.
type DeliveryWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Valid reports whether the window has a positive length.
func (w DeliveryWindow) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start)
}

// Key identifies the window independently of time zone.
func (w DeliveryWindow) Key() string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

// Contribution is one shop's share of a lot.
type Contribution struct {
	ShopID      string    `json:"shop_id"`
	Quantity    int64     `json:"quantity"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Lot is pooled demand for one product and delivery window.
// AccumulatedQuantity always equals the sum of Contributions.
type Lot struct {
	ID                  string          `json:"id"`
	ProductID           string          `json:"product_id"`
	Category            string          `json:"category"`
	Window              DeliveryWindow  `json:"window"`
	TargetQuantity      int64           `json:"target_quantity"`
	MinViableQuantity   int64           `json:"min_viable_quantity"`
	AccumulatedQuantity int64           `json:"accumulated_quantity"`
	Contributions       []Contribution  `json:"contributions"`
	PriceFloor          decimal.Decimal `json:"price_floor"`
	Status              LotStatus       `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	ReadyAt             time.Time       `json:"ready_at,omitzero"`
	AuctionID           string          `json:"auction_id,omitempty"`
	Version             uint64          `json:"version"`
}

// Clone returns a deep copy safe to hand outside the owning component.
func (l *Lot) Clone() *Lot {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Contributions = append([]Contribution(nil), l.Contributions...)
	return &cp
}

// LotContribution is the result of a demand submission.
type LotContribution struct {
	LotID               string    `json:"lot_id"`
	ShopID              string    `json:"shop_id"`
	Quantity            int64     `json:"quantity"`
	AccumulatedQuantity int64     `json:"accumulated_quantity"`
	TargetQuantity      int64     `json:"target_quantity"`
	Status              LotStatus `json:"status"`
	Updated             bool      `json:"updated"`
}

// AuctionSpec describes an auction to create. Zero-valued fields of the English
// anti-snipe rule fall back to engine defaults; a negative value in any of them
// turns extensions off.
type AuctionSpec struct {
	LotID        string          `json:"lot_id,omitempty"`
	ProductID    string          `json:"product_id"`
	Category     string          `json:"category"`
	Protocol     Protocol        `json:"protocol"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	Quantity     int64           `json:"quantity"`
	StartAt      time.Time       `json:"start_at"`
	EndAt        time.Time       `json:"end_at,omitzero"`

	// StartPrice is the opening ceiling of an English auction (optional) and the
	// first tick of a Dutch auction (required).
	StartPrice   decimal.Decimal `json:"start_price"`
	MinDecrement decimal.Decimal `json:"min_decrement"`

	TickDecrement decimal.Decimal `json:"tick_decrement"`
	TickInterval  time.Duration   `json:"tick_interval"`

	AntiSnipeWindow    time.Duration `json:"anti_snipe_window"`
	AntiSnipeExtension time.Duration `json:"anti_snipe_extension"`
	MaxExtensions      int           `json:"max_extensions"`
}

// AntiSnipeDisabled reports whether the spec opts out of English extensions.
func (s AuctionSpec) AntiSnipeDisabled() bool {
	return s.AntiSnipeWindow < 0 || s.AntiSnipeExtension < 0 || s.MaxExtensions < 0
}

// Auction is one tradeable lot under one protocol.
type Auction struct {
	ID           string          `json:"id"`
	LotID        string          `json:"lot_id,omitempty"`
	ProductID    string          `json:"product_id"`
	Category     string          `json:"category"`
	Protocol     Protocol        `json:"protocol"`
	ReservePrice decimal.Decimal `json:"reserve_price"`
	Quantity     int64           `json:"quantity"`
	StartAt      time.Time       `json:"start_at"`
	EndAt        time.Time       `json:"end_at,omitzero"`
	Status       AuctionStatus   `json:"status"`

	// English state.
	BestBidID          string          `json:"best_bid_id,omitempty"`
	BestPrice          decimal.Decimal `json:"best_price"`
	MinDecrement       decimal.Decimal `json:"min_decrement"`
	AntiSnipeWindow    time.Duration   `json:"anti_snipe_window"`
	AntiSnipeExtension time.Duration   `json:"anti_snipe_extension"`
	MaxExtensions      int             `json:"max_extensions"`
	Extensions         int             `json:"extensions"`

	// Dutch state.
	StartPrice    decimal.Decimal `json:"start_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	TickDecrement decimal.Decimal `json:"tick_decrement"`
	TickInterval  time.Duration   `json:"tick_interval"`
	Ticks         int             `json:"ticks"`

	WinnerBidID string    `json:"winner_bid_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ClosedAt    time.Time `json:"closed_at,omitzero"`
	Version     uint64    `json:"version"`
}

// AuctionView is what a bidder is allowed to observe about an open auction.
// Sealed auctions never expose prices.
type AuctionView struct {
	ID             string          `json:"id"`
	Category       string          `json:"category"`
	Protocol       Protocol        `json:"protocol"`
	Status         AuctionStatus   `json:"status"`
	ReservePrice   decimal.Decimal `json:"reserve_price"`
	Quantity       int64           `json:"quantity"`
	EndAt          time.Time       `json:"end_at,omitzero"`
	StartPrice     decimal.Decimal `json:"start_price"`
	MinDecrement   decimal.Decimal `json:"min_decrement"`
	HasBest        bool            `json:"has_best"`
	BestPrice      decimal.Decimal `json:"best_price"`
	BestSupplierID string          `json:"best_supplier_id,omitempty"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
}

// Bid is one supplier offer. Bids are immutable once the auction is closed.
type Bid struct {
	ID           string          `json:"id"`
	AuctionID    string          `json:"auction_id"`
	SupplierID   string          `json:"supplier_id"`
	Price        decimal.Decimal `json:"price"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	Quantity     int64           `json:"quantity"`
	PaymentTerms string          `json:"payment_terms,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	Sequence     uint64          `json:"sequence"`
	Status       BidStatus       `json:"status"`
	RuleID       string          `json:"rule_id,omitempty"`
	Version      uint64          `json:"version"`
}

// BidRequest is the single entry point used by human suppliers and the auto-bidder alike.
type BidRequest struct {
	AuctionID    string          `json:"auction_id"`
	SupplierID   string          `json:"supplier_id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	PaymentTerms string          `json:"payment_terms,omitempty"`
	RuleID       string          `json:"rule_id,omitempty"`
}

// BidOutcome is the resolution of exactly one bid submission.
type BidOutcome struct {
	Accepted      bool          `json:"accepted"`
	Bid           *Bid          `json:"bid,omitempty"`
	Reason        error         `json:"-"`
	AuctionStatus AuctionStatus `json:"auction_status"`
}

// ReasonCode returns the machine code of the rejection reason, or "" when accepted.
func (o *BidOutcome) ReasonCode() string {
	if o == nil || o.Reason == nil {
		return ""
	}
	return CodeOf(o.Reason)
}

// AutoBidRule is a supplier-declared policy for automatic bidding.
// Counters are only ever changed by outcome notifications.
type AutoBidRule struct {
	ID                string          `json:"id" yaml:"id"`
	SupplierID        string          `json:"supplier_id" yaml:"supplier_id"`
	Category          string          `json:"category" yaml:"category"`
	MaxPrice          decimal.Decimal `json:"max_price" yaml:"max_price"`
	MinWinProbability float64         `json:"min_win_probability" yaml:"min_win_probability"`
	MaxQuantity       int64           `json:"max_quantity" yaml:"max_quantity"`
	Enabled           bool            `json:"enabled" yaml:"enabled"`

	BidsPlaced        int64           `json:"bids_placed" yaml:"-"`
	Wins              int64           `json:"wins" yaml:"-"`
	TotalSpend        decimal.Decimal `json:"total_spend" yaml:"-"`
	CommittedQuantity int64           `json:"committed_quantity" yaml:"-"`
	UpdatedAt         time.Time       `json:"updated_at" yaml:"-"`
	Version           uint64          `json:"version" yaml:"-"`
}

// RemainingQuantity is the part of the rule budget not committed to active or won bids.
func (r AutoBidRule) RemainingQuantity() int64 {
	return max(r.MaxQuantity-r.CommittedQuantity, 0)
}
