// Package receiptapi holds the wire format of signed award receipts.
//
// A receipt is an untagged COSE_Sign1 message ([protected, unprotected, payload,
// signature]) whose payload is the CBOR encoding of AwardReceipt. Supplier
// identities never appear in a receipt: a supplier proves inclusion by recomputing
// the hash of its own bid.
package receiptapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/openprocure/core"
	"github.com/cloudx-io/openprocure/receiptapi/parsing"
)

// KeyAlgorithm is the only signing algorithm receipts are issued with.
const KeyAlgorithm = "ES256"

// ReceiptBid is a bid without its supplier.
type ReceiptBid struct {
	ID       string `json:"id" cbor:"1,keyasint"`
	Price    string `json:"price" cbor:"2,keyasint"` // 4 decimal places
	Quantity int64  `json:"quantity" cbor:"3,keyasint"`
}

// AwardReceipt is the signed statement of how an auction closed.
type AwardReceipt struct {
	AuctionID    string             `json:"auction_id" cbor:"1,keyasint"`
	LotID        string             `json:"lot_id,omitempty" cbor:"2,keyasint,omitempty"`
	Protocol     core.Protocol      `json:"protocol" cbor:"3,keyasint"`
	Status       core.AuctionStatus `json:"status" cbor:"4,keyasint"`
	ReservePrice string             `json:"reserve_price" cbor:"5,keyasint"`
	Quantity     int64              `json:"quantity" cbor:"6,keyasint"`

	// AuctionHash commits to (auction ID, protocol, reserve, quantity).
	AuctionHash  string `json:"auction_hash" cbor:"7,keyasint"`
	AuctionNonce string `json:"auction_nonce" cbor:"8,keyasint"`

	// BidHashes has one entry per bid in the ledger, in arrival order.
	BidHashes    []string `json:"bid_hashes" cbor:"9,keyasint"`
	BidHashNonce string   `json:"bid_hash_nonce" cbor:"10,keyasint"`

	// ContributionsHash commits to the pooled shop demand when the auction came from a lot.
	ContributionsHash  string `json:"contributions_hash,omitempty" cbor:"11,keyasint,omitempty"`
	ContributionsNonce string `json:"contributions_nonce,omitempty" cbor:"12,keyasint,omitempty"`

	Winner   *ReceiptBid `json:"winner,omitempty" cbor:"13,keyasint,omitempty"`
	ClosedAt time.Time   `json:"closed_at" cbor:"14,keyasint"`
	IssuedAt time.Time   `json:"issued_at" cbor:"15,keyasint"`
	KeyID    string      `json:"key_id" cbor:"16,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("receiptapi: cbor encoder: %v", err))
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(fmt.Sprintf("receiptapi: cbor decoder: %v", err))
	}
}

// MarshalPayload encodes the receipt deterministically, so equal receipts sign identical bytes.
func (r *AwardReceipt) MarshalPayload() ([]byte, error) {
	data, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt payload: %w", err)
	}
	return data, nil
}

// UnmarshalPayload decodes a receipt payload.
func UnmarshalPayload(data []byte) (*AwardReceipt, error) {
	var r AwardReceipt
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt payload: %w", err)
	}
	return &r, nil
}

// ReceiptCOSE is a raw COSE_Sign1 receipt.
type ReceiptCOSE []byte

// ReceiptCOSEBase64 is a receipt in standard base64, as carried in JSON.
type ReceiptCOSEBase64 string

// ReceiptCOSEURLBase64 is a receipt in unpadded URL-safe base64, as carried in query strings.
type ReceiptCOSEURLBase64 string

// EncodeBase64 encodes the receipt for JSON transport.
func (c ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(c))
}

// EncodeURLSafe encodes the receipt for URLs.
func (c ReceiptCOSE) EncodeURLSafe() ReceiptCOSEURLBase64 {
	return ReceiptCOSEURLBase64(base64.RawURLEncoding.EncodeToString(c))
}

// Parse extracts and decodes the signed payload. It does not verify the signature.
func (c ReceiptCOSE) Parse() (*AwardReceipt, error) {
	payload, err := parsing.ExtractCOSEPayload(c)
	if err != nil {
		return nil, err
	}
	return UnmarshalPayload(payload)
}

func (s ReceiptCOSEBase64) String() string {
	return string(s)
}

// Decode returns the raw COSE bytes.
func (s ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return ReceiptCOSE(data), nil
}

func (s ReceiptCOSEURLBase64) String() string {
	return string(s)
}

// Decode accepts both padded and unpadded URL-safe input.
func (s ReceiptCOSEURLBase64) Decode() (ReceiptCOSE, error) {
	raw := string(s)
	if m := len(raw) % 4; m != 0 {
		raw += "===="[:4-m]
	}
	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode COSE URL base64: %w", err)
	}
	return ReceiptCOSE(data), nil
}

// ReceiptResponse is the HTTP body returned for a closed auction.
type ReceiptResponse struct {
	AuctionID    string            `json:"auction_id"`
	KeyID        string            `json:"key_id"`
	ReceiptCOSE  ReceiptCOSEBase64 `json:"receipt_cose_base64"`
	Receipt      *AwardReceipt     `json:"receipt"`
	KeyAlgorithm string            `json:"key_algorithm"`
}

// KeyResponse publishes the receipt verification key.
type KeyResponse struct {
	KeyID        string `json:"key_id"`
	KeyAlgorithm string `json:"key_algorithm"`
	PublicKey    string `json:"public_key"` // PEM
}
