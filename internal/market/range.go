package market

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Range computation defaults. The percentile split trims wick outliers so a
// single spike does not define the structure.
const (
	DefaultRangeLookback = 30
	MinRangeBars         = 10
)

var (
	defaultSupportPercentile    = decimal.RequireFromString("0.20")
	defaultResistancePercentile = decimal.RequireFromString("0.80")
	defaultMinWidthPct          = decimal.RequireFromString("0.03")
)

// TradingRange is a support/resistance band computed from recent extremes.
// It is recomputed per detection call, never persisted as mutable state.
type TradingRange struct {
	Support    decimal.Decimal `json:"support"`
	Resistance decimal.Decimal `json:"resistance"`
	Start      time.Time       `json:"start"`
}

// Width returns resistance minus support.
func (tr *TradingRange) Width() decimal.Decimal {
	return tr.Resistance.Sub(tr.Support)
}

// Midpoint returns the middle of the band.
func (tr *TradingRange) Midpoint() decimal.Decimal {
	return tr.Support.Add(tr.Resistance).Div(decimal.NewFromInt(2))
}

// Contains reports whether price sits inside the band, inclusive.
func (tr *TradingRange) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(tr.Support) && price.LessThanOrEqual(tr.Resistance)
}

// RangeConfig tunes trading-range computation.
type RangeConfig struct {
	Lookback            int
	SupportPercentile   decimal.Decimal // percentile of lows, [0,1]
	ResistancePercentile decimal.Decimal // percentile of highs, [0,1]
	MinWidthPct         decimal.Decimal // minimum width as fraction of support
}

// DefaultRangeConfig returns the standard range parameters.
func DefaultRangeConfig() RangeConfig {
	return RangeConfig{
		Lookback:             DefaultRangeLookback,
		SupportPercentile:    defaultSupportPercentile,
		ResistancePercentile: defaultResistancePercentile,
		MinWidthPct:          defaultMinWidthPct,
	}
}

// ComputeRange derives the trading range from the lookback window ending at
// bar i. It returns nil when the window is too short or the resulting band
// is too narrow to be structurally meaningful (an ambiguous range is a
// rejection, not an error).
func ComputeRange(w *Window, i int, cfg RangeConfig) *TradingRange {
	if w == nil || i < 0 || i >= w.Len() {
		return nil
	}
	start := i - cfg.Lookback + 1
	if start < 0 {
		start = 0
	}
	n := i - start + 1
	if n < MinRangeBars {
		return nil
	}

	lows := make([]decimal.Decimal, 0, n)
	highs := make([]decimal.Decimal, 0, n)
	for j := start; j <= i; j++ {
		b := w.At(j)
		lows = append(lows, b.Low)
		highs = append(highs, b.High)
	}
	sortDecimals(lows)
	sortDecimals(highs)

	support := percentile(lows, cfg.SupportPercentile)
	resistance := percentile(highs, cfg.ResistancePercentile)

	if !resistance.GreaterThan(support) {
		return nil
	}
	minWidth := support.Mul(cfg.MinWidthPct)
	if resistance.Sub(support).LessThan(minWidth) {
		return nil
	}

	return &TradingRange{
		Support:    support,
		Resistance: resistance,
		Start:      w.At(start).Timestamp,
	}
}

func sortDecimals(ds []decimal.Decimal) {
	sort.Slice(ds, func(a, b int) bool { return ds[a].LessThan(ds[b]) })
}

// percentile picks the value at floor(p * (n-1)) from a sorted slice.
func percentile(sorted []decimal.Decimal, p decimal.Decimal) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}
	idx := p.Mul(decimal.NewFromInt(int64(len(sorted) - 1))).IntPart()
	if idx < 0 {
		idx = 0
	}
	if idx >= int64(len(sorted)) {
		idx = int64(len(sorted) - 1)
	}
	return sorted[idx]
}
