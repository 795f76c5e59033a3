package core

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestDutchTicksElapsed(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		interval time.Duration
		expected int
	}{
		{"before start", -time.Second, time.Minute, 0},
		{"at start", 0, time.Minute, 0},
		{"just before first tick", 59 * time.Second, time.Minute, 0},
		{"first tick", time.Minute, time.Minute, 1},
		{"six ticks and change", 6*time.Minute + 30*time.Second, time.Minute, 6},
		{"zero interval", time.Hour, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, DutchTicksElapsed(t0, t0.Add(tt.elapsed), tt.interval))
		})
	}
}

func TestDutchTickPrice(t *testing.T) {
	check.Equal(t, "6.00", DutchTickPrice(price("6.00"), price("0.10"), 0).StringFixed(2))
	check.Equal(t, "5.40", DutchTickPrice(price("6.00"), price("0.10"), 6).StringFixed(2))
	check.Equal(t, "5.00", DutchTickPrice(price("6.00"), price("0.10"), 10).StringFixed(2))
}

func TestDutchFloorTick(t *testing.T) {
	check.Equal(t, 10, DutchFloorTick(price("6.00"), price("0.10"), price("5.00")))
	check.Equal(t, 3, DutchFloorTick(price("6.00"), price("0.30"), price("5.00")))
	check.Equal(t, 0, DutchFloorTick(price("4.00"), price("0.10"), price("5.00")))
}

func TestUndercut(t *testing.T) {
	check.Equal(t, "4.89", Undercut(price("4.90"), DefaultMinDecrement).StringFixed(2))
	check.Equal(t, "4.80", Undercut(price("4.90"), price("0.10")).StringFixed(2))
	check.Equal(t, "4.89", Undercut(price("4.90"), price("0")).StringFixed(2))
}

func TestSpend(t *testing.T) {
	check.Equal(t, "2010.0000", Spend(price("3.35"), 600).StringFixed(4))
	check.Equal(t, "0.0000", Spend(price("3.35"), 0).StringFixed(4))
}

func TestFormatPrice(t *testing.T) {
	check.Equal(t, "5.4000", FormatPrice(price("5.4")))
	check.Equal(t, "5.4000", FormatPrice(price("5.40")))
	check.Equal(t, "0.0000", FormatPrice(price("0")))
}
