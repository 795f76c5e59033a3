package core

import (
	"fmt"
)

// Validate checks the spec for the selected protocol.
func (s AuctionSpec) Validate() error {
	if !s.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", ErrInvalidAuctionSpec, s.Protocol)
	}
	if s.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidQuantity, s.Quantity)
	}
	if s.ReservePrice.IsNegative() {
		return fmt.Errorf("%w: negative reserve price %s", ErrInvalidAuctionSpec, s.ReservePrice)
	}
	if s.StartAt.IsZero() {
		return fmt.Errorf("%w: start time required", ErrInvalidAuctionSpec)
	}

	switch s.Protocol {
	case ProtocolSealed, ProtocolEnglish:
		if !s.EndAt.After(s.StartAt) {
			return fmt.Errorf("%w: end time must be after start time", ErrInvalidAuctionSpec)
		}
		if s.Protocol == ProtocolEnglish && s.StartPrice.IsPositive() && s.StartPrice.LessThan(s.ReservePrice) {
			return fmt.Errorf("%w: opening price %s below reserve %s", ErrInvalidAuctionSpec, s.StartPrice, s.ReservePrice)
		}
		if s.MinDecrement.IsNegative() || s.AntiSnipeWindow < 0 || s.AntiSnipeExtension < 0 || s.MaxExtensions < 0 {
			return fmt.Errorf("%w: negative english parameters", ErrInvalidAuctionSpec)
		}
	case ProtocolDutch:
		if !s.StartPrice.GreaterThan(s.ReservePrice) {
			return fmt.Errorf("%w: dutch start price %s must be above reserve %s", ErrInvalidAuctionSpec, s.StartPrice, s.ReservePrice)
		}
		if !s.TickDecrement.IsPositive() {
			return fmt.Errorf("%w: dutch tick decrement must be positive", ErrInvalidAuctionSpec)
		}
		if s.TickInterval <= 0 {
			return fmt.Errorf("%w: dutch tick interval must be positive", ErrInvalidAuctionSpec)
		}
	}
	return nil
}

// Validate checks the supplier-declared fields of a rule.
func (r AutoBidRule) Validate() error {
	if r.SupplierID == "" {
		return fmt.Errorf("%w: supplier required", ErrInvalidRule)
	}
	if r.Category == "" {
		return fmt.Errorf("%w: category required", ErrInvalidRule)
	}
	if !r.MaxPrice.IsPositive() {
		return fmt.Errorf("%w: max price must be positive", ErrInvalidRule)
	}
	if r.MinWinProbability < 0 || r.MinWinProbability > 1 {
		return fmt.Errorf("%w: win probability threshold %.2f outside [0,1]", ErrInvalidRule, r.MinWinProbability)
	}
	if r.MaxQuantity <= 0 {
		return fmt.Errorf("%w: max quantity must be positive", ErrInvalidRule)
	}
	return nil
}
