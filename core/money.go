package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultMinDecrement is the smallest undercut an English bid must make.
var DefaultMinDecrement = decimal.New(1, -2)

// DutchTicksElapsed returns how many whole tick intervals passed since startAt.
func DutchTicksElapsed(startAt, now time.Time, interval time.Duration) int {
	if interval <= 0 || !now.After(startAt) {
		return 0
	}
	return int(now.Sub(startAt) / interval)
}

// DutchTickPrice returns the offered price after the given number of ticks.
func DutchTickPrice(start, decrement decimal.Decimal, ticks int) decimal.Decimal {
	if ticks <= 0 {
		return start
	}
	return start.Sub(decrement.Mul(decimal.NewFromInt(int64(ticks))))
}

// DutchFloorTick returns the last tick whose price is still at or above reserve.
// Reaching the tick after it voids the auction.
func DutchFloorTick(start, decrement, reserve decimal.Decimal) int {
	if !decrement.IsPositive() || start.LessThan(reserve) {
		return 0
	}
	return int(start.Sub(reserve).Div(decrement).Floor().IntPart())
}

// Undercut returns the best competitive price one step below best.
func Undercut(best, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		step = DefaultMinDecrement
	}
	return best.Sub(step)
}

// Spend returns price × quantity rounded to monetary precision.
func Spend(price decimal.Decimal, quantity int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity)).Round(monetaryPrecision)
}

// RoundPrice normalizes a unit price to monetary precision.
func RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(monetaryPrecision)
}

// FormatPrice renders a price with exactly four decimal places, the form prices
// take inside hashes and receipts.
func FormatPrice(price decimal.Decimal) string {
	return price.StringFixed(monetaryPrecision)
}
