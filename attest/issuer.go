package attest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/openprocure/clock"
	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/events"
	"github.com/cloudx-io/openprocure/logging"
	"github.com/cloudx-io/openprocure/receiptapi"
)

// ReceiptStore persists issued receipts.
type ReceiptStore interface {
	SaveReceipt(auctionID, keyID string, receipt []byte) error
}

// NonceSource returns a fresh hex nonce.
type NonceSource func() (string, error)

// Issuer turns AuctionClosed events into signed receipts and keeps them for lookup.
type Issuer struct {
	keys  *KeyManager
	clock clock.Clock
	log   logrus.FieldLogger
	store ReceiptStore
	nonce NonceSource

	mu            sync.RWMutex
	receipts      map[string]receiptapi.ReceiptCOSE
	contributions map[string][]core.Contribution // auction ID -> lot contributions
	pending       map[string]events.Event        // closed lot auctions waiting for LotConverted
}

type IssuerOption func(*Issuer)

func WithClock(c clock.Clock) IssuerOption {
	return func(i *Issuer) { i.clock = c }
}

func WithLogger(l logrus.FieldLogger) IssuerOption {
	return func(i *Issuer) { i.log = l }
}

// WithReceiptStore persists every issued receipt.
func WithReceiptStore(s ReceiptStore) IssuerOption {
	return func(i *Issuer) { i.store = s }
}

// WithNonceSource replaces crypto/rand nonces, for reproducible tests.
func WithNonceSource(fn NonceSource) IssuerOption {
	return func(i *Issuer) { i.nonce = fn }
}

func NewIssuer(keys *KeyManager, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		keys:          keys,
		clock:         clock.Real(),
		nonce:         generateNonce,
		receipts:      make(map[string]receiptapi.ReceiptCOSE),
		contributions: make(map[string][]core.Contribution),
		pending:       make(map[string]events.Event),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = logging.OrDiscard(i.log).WithField("component", "attest")
	return i
}

// Handle is an events.Handler. It only reads event snapshots; it never calls back
// into the aggregator or the engine.
func (i *Issuer) Handle(ev events.Event) {
	switch ev.Type {
	case events.LotConverted:
		if ev.Lot == nil || ev.AuctionID == "" {
			return
		}
		i.mu.Lock()
		i.contributions[ev.AuctionID] = append([]core.Contribution(nil), ev.Lot.Contributions...)
		closed, ok := i.pending[ev.AuctionID]
		delete(i.pending, ev.AuctionID)
		i.mu.Unlock()
		if ok {
			i.issueClosed(closed)
		}

	case events.AuctionClosed:
		if ev.Auction == nil {
			return
		}
		// Queued delivery may close a lot auction before its conversion arrives.
		if ev.Auction.LotID != "" {
			i.mu.Lock()
			_, known := i.contributions[ev.AuctionID]
			if !known {
				i.pending[ev.AuctionID] = ev
			}
			i.mu.Unlock()
			if !known {
				i.log.WithField("auction_id", ev.AuctionID).Debug("receipt waits for lot conversion")
				return
			}
		}
		i.issueClosed(ev)
	}
}

func (i *Issuer) issueClosed(ev events.Event) {
	if _, _, err := i.Issue(ev.Auction, ev.Bids); err != nil {
		i.log.WithError(err).WithField("auction_id", ev.AuctionID).Error("failed to issue award receipt")
	}
}

// Issue builds, signs and records the receipt of a closed auction.
func (i *Issuer) Issue(auction *core.Auction, bids []core.Bid) (*receiptapi.AwardReceipt, receiptapi.ReceiptCOSE, error) {
	if !auction.Status.IsClosed() {
		return nil, nil, fmt.Errorf("auction %s is %s: %w", auction.ID, auction.Status, core.ErrAuctionNotOpen)
	}

	i.mu.RLock()
	contributions, fromLot := i.contributions[auction.ID]
	i.mu.RUnlock()

	receipt, err := i.buildReceipt(auction, bids, contributions, fromLot)
	if err != nil {
		return nil, nil, err
	}

	payload, err := receipt.MarshalPayload()
	if err != nil {
		return nil, nil, err
	}
	signed, err := i.keys.Sign(payload)
	if err != nil {
		return nil, nil, err
	}
	coseBytes := receiptapi.ReceiptCOSE(signed)

	if i.store != nil {
		if err := i.store.SaveReceipt(auction.ID, receipt.KeyID, coseBytes); err != nil {
			return nil, nil, fmt.Errorf("save receipt: %w", err)
		}
	}

	i.mu.Lock()
	i.receipts[auction.ID] = coseBytes
	delete(i.contributions, auction.ID)
	i.mu.Unlock()

	i.log.WithFields(logrus.Fields{
		"auction_id": auction.ID,
		"status":     auction.Status,
		"bids":       len(bids),
	}).Info("award receipt issued")

	return receipt, coseBytes, nil
}

func (i *Issuer) buildReceipt(auction *core.Auction, bids []core.Bid, contributions []core.Contribution, fromLot bool) (*receiptapi.AwardReceipt, error) {
	auctionNonce, err := i.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate auction nonce: %w", err)
	}
	bidHashNonce, err := i.nonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate bid hash nonce: %w", err)
	}

	receipt := &receiptapi.AwardReceipt{
		AuctionID:    auction.ID,
		LotID:        auction.LotID,
		Protocol:     auction.Protocol,
		Status:       auction.Status,
		ReservePrice: core.FormatPrice(auction.ReservePrice),
		Quantity:     auction.Quantity,
		AuctionHash:  core.ComputeAuctionHash(auction.ID, auction.Protocol, auction.ReservePrice, auction.Quantity, auctionNonce),
		AuctionNonce: auctionNonce,
		BidHashes:    make([]string, 0, len(bids)),
		BidHashNonce: bidHashNonce,
		ClosedAt:     auction.ClosedAt,
		IssuedAt:     i.clock.Now(),
		KeyID:        i.keys.KeyID(),
	}

	for idx := range bids {
		bid := &bids[idx]
		receipt.BidHashes = append(receipt.BidHashes, core.ComputeBidHash(bid.ID, bid.Price, bid.Quantity, bidHashNonce))
		if bid.ID == auction.WinnerBidID {
			receipt.Winner = stripSupplier(bid)
		}
	}

	if fromLot {
		contributionsNonce, err := i.nonce()
		if err != nil {
			return nil, fmt.Errorf("failed to generate contributions nonce: %w", err)
		}
		receipt.ContributionsHash = core.ComputeContributionsHash(contributions, contributionsNonce)
		receipt.ContributionsNonce = contributionsNonce
	}

	return receipt, nil
}

// Receipt returns the signed receipt of a closed auction.
func (i *Issuer) Receipt(auctionID string) (receiptapi.ReceiptCOSE, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	r, ok := i.receipts[auctionID]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", auctionID, core.ErrReceiptNotFound)
	}
	return r, nil
}

func stripSupplier(bid *core.Bid) *receiptapi.ReceiptBid {
	return &receiptapi.ReceiptBid{
		ID:       bid.ID,
		Price:    core.FormatPrice(bid.Price),
		Quantity: bid.Quantity,
	}
}

func generateNonce() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("entropy generation failed: %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}
