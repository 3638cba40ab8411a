package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV sample for a symbol/timeframe. Bars are immutable
// once appended to a Window.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Validate checks the structural invariants of a bar.
func (b *Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar has empty symbol")
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar %s has zero timestamp", b.Symbol)
	}
	if b.Low.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("bar %s@%s has non-positive low", b.Symbol, b.Timestamp)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s@%s has negative volume", b.Symbol, b.Timestamp)
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("bar %s@%s has high below low", b.Symbol, b.Timestamp)
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return fmt.Errorf("bar %s@%s has open outside [low, high]", b.Symbol, b.Timestamp)
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("bar %s@%s has close outside [low, high]", b.Symbol, b.Timestamp)
	}
	return nil
}

// Range returns the high-low spread of the bar.
func (b *Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}

// ClosedInUpperHalf reports whether the close sits in the upper half of the
// bar's own range. A zero-range bar counts as upper half.
func (b *Bar) ClosedInUpperHalf() bool {
	mid := b.High.Add(b.Low).Div(decimal.NewFromInt(2))
	return b.Close.GreaterThanOrEqual(mid)
}

// IsBullish reports whether the bar closed above its open.
func (b *Bar) IsBullish() bool {
	return b.Close.GreaterThan(b.Open)
}
