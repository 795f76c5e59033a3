package core

import (
	"errors"
)

// Kind classifies domain errors by how callers should treat them.
type Kind int

const (
	// KindUnknown is anything that is not a domain error (I/O, canceled context).
	KindUnknown Kind = iota
	// KindValidation is bad input shape or range; never stored.
	KindValidation
	// KindProtocol is an expected, frequent rejection such as a losing bid.
	KindProtocol
	// KindInvariant signals a race or programming error; the call is rejected, the system keeps running.
	KindInvariant
	// KindNotFound is an unknown ID.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProtocol:
		return "protocol"
	case KindInvariant:
		return "invariant"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation errors.
var (
	ErrInvalidQuantity        = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrQuantityOutOfBounds    = newError(KindValidation, "quantity_out_of_bounds", "quantity outside lot total or supplier minimum order")
	ErrInvalidDeliveryWindow  = newError(KindValidation, "invalid_delivery_window", "delivery window must end after it starts")
	ErrInvalidAuctionSpec     = newError(KindValidation, "invalid_auction_spec", "invalid auction specification")
	ErrInvalidRule            = newError(KindValidation, "invalid_rule", "invalid auto-bid rule")
	ErrInvalidPrice           = newError(KindValidation, "invalid_price", "price must be positive")
	ErrShopAlreadyContributed = newError(KindValidation, "shop_already_contributed", "shop already contributed to this lot")
	ErrMissingIdentity        = newError(KindValidation, "missing_identity", "supplier, shop or product identity missing")
)

// Protocol errors.
var (
	ErrNotCompetitive        = newError(KindProtocol, "not_competitive", "bid does not improve on the current best price")
	ErrBelowReserve          = newError(KindProtocol, "below_reserve", "bid price is below the reserve price")
	ErrAuctionNotOpen        = newError(KindProtocol, "auction_not_open", "auction is not accepting bids")
	ErrLotNotReady           = newError(KindProtocol, "lot_not_ready", "lot is not ready for auction")
	ErrWithdrawalNotAllowed  = newError(KindProtocol, "withdrawal_not_allowed", "bid cannot be withdrawn")
	ErrNotBidOwner           = newError(KindProtocol, "not_bid_owner", "bid belongs to another supplier")
	ErrRuleBudgetExhausted   = newError(KindProtocol, "rule_budget_exhausted", "auto-bid rule quantity budget exhausted")
	ErrStaleVersion          = newError(KindProtocol, "stale_version", "entity version is older than the stored one")
	ErrLotNotAcceptingDemand = newError(KindProtocol, "lot_not_accepting_demand", "lot no longer accepts demand")
	ErrBidNotActive          = newError(KindProtocol, "bid_not_active", "bid is no longer active")
	ErrAuctionNotClosed      = newError(KindProtocol, "auction_not_closed", "auction has not closed yet")
)

// Invariant violations.
var (
	ErrAlreadyConverted = newError(KindInvariant, "already_converted", "lot was already converted to an auction")
	ErrDoubleAward      = newError(KindInvariant, "double_award", "auction was already awarded")
	ErrDuplicateBid     = newError(KindInvariant, "duplicate_bid", "bid ID already recorded")
)

// Not-found errors.
var (
	ErrAuctionNotFound = newError(KindNotFound, "auction_not_found", "auction not found")
	ErrLotNotFound     = newError(KindNotFound, "lot_not_found", "lot not found")
	ErrBidNotFound     = newError(KindNotFound, "bid_not_found", "bid not found")
	ErrRuleNotFound    = newError(KindNotFound, "rule_not_found", "auto-bid rule not found")
	ErrProductNotFound = newError(KindNotFound, "product_not_found", "product not found")
	ErrReceiptNotFound = newError(KindNotFound, "receipt_not_found", "no award receipt for auction")
)

// KindOf returns the Kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first domain error in err's chain, or "internal".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "internal"
}

// IsRejection reports whether err is a normal outcome rather than a system failure.
func IsRejection(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindProtocol, KindNotFound:
		return true
	}
	return false
}
