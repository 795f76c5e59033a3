// Package events carries the domain event stream. Every state change in the
// aggregator and the auction engine is published on a Bus with a unique sequence
// number; persistence, receipts, auto-bid counters and the websocket feed all
// consume it. Events of one auction are published under that auction's lock, so
// they reach every handler in order. Events of different auctions may interleave.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudx-io/openprocure/core"
)

// Type names a domain event.
type Type string

const (
	DemandSubmitted Type = "demand.submitted"
	LotReady        Type = "lot.ready"
	LotConverted    Type = "lot.converted"
	AuctionCreated  Type = "auction.created"
	AuctionOpened   Type = "auction.opened"
	AuctionExtended Type = "auction.extended"
	PriceTicked     Type = "auction.price_ticked"
	AuctionClosed   Type = "auction.closed"
	BidAccepted     Type = "bid.accepted"
	BidRejected     Type = "bid.rejected"
	BidWithdrawn    Type = "bid.withdrawn"
	BidSettled      Type = "bid.settled"
)

// Event is one published state change. Lot, Auction and Bid are snapshots taken
// when the event was published and are never mutated afterwards.
type Event struct {
	Seq       uint64    `json:"seq" cbor:"1,keyasint"`
	Type      Type      `json:"type" cbor:"2,keyasint"`
	At        time.Time `json:"at" cbor:"3,keyasint"`
	LotID     string    `json:"lot_id,omitempty" cbor:"4,keyasint,omitempty"`
	AuctionID string    `json:"auction_id,omitempty" cbor:"5,keyasint,omitempty"`
	ShopID    string    `json:"shop_id,omitempty" cbor:"6,keyasint,omitempty"`
	Reason    string    `json:"reason,omitempty" cbor:"7,keyasint,omitempty"`

	Lot     *core.Lot     `json:"lot,omitempty" cbor:"8,keyasint,omitempty"`
	Auction *core.Auction `json:"auction,omitempty" cbor:"9,keyasint,omitempty"`
	Bid     *core.Bid     `json:"bid,omitempty" cbor:"10,keyasint,omitempty"`

	// Bids is set on AuctionClosed: every bid the auction ever accepted.
	Bids []core.Bid `json:"bids,omitempty" cbor:"11,keyasint,omitempty"`
}

// Handler consumes events. Handlers run synchronously on the publisher's
// goroutine, usually while the publisher holds its own lock, so they must be
// quick and must not call back into the publisher. Slow consumers belong behind
// a Queue.
type Handler func(Event)

// Bus delivers events to handlers. It holds no lock while handlers run, so
// publishers of different auctions never wait on each other.
type Bus struct {
	seq atomic.Uint64

	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for every event published after the call.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(slices.Clip(b.handlers), h)
}

// Publish stamps e with the next sequence number and delivers it. A nil Bus drops
// the event, which lets components run without a consumer.
func (b *Bus) Publish(e Event) Event {
	if b == nil {
		return e
	}
	e.Seq = b.seq.Add(1)

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return e
}

// Seq returns the sequence number of the last published event.
func (b *Bus) Seq() uint64 {
	return b.seq.Load()
}
