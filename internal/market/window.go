package market

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultVolumeLookback is the rolling average period for volume and spread
// ratios.
const DefaultVolumeLookback = 20

var (
	ErrStreamMismatch = errors.New("bar does not belong to this window's stream")
	ErrOutOfOrderBar  = errors.New("bar timestamp is not strictly increasing")
	ErrIndexOutOfRange = errors.New("bar index out of range")
)

// Window is an append-only, time-ordered bar sequence for one
// (symbol, timeframe) stream. It is the only external input to the pipeline.
//
// A Window is not safe for concurrent mutation; the pipeline processes each
// stream in strict bar-arrival order, so the caller owns serialization.
type Window struct {
	symbol         string
	timeframe      string
	bars           []Bar
	volumeLookback int
}

// NewWindow creates an empty window for the given stream.
func NewWindow(symbol, timeframe string) *Window {
	return &Window{
		symbol:         symbol,
		timeframe:      timeframe,
		volumeLookback: DefaultVolumeLookback,
	}
}

// SetVolumeLookback overrides the rolling average period. Values below 1
// are ignored.
func (w *Window) SetVolumeLookback(n int) {
	if n >= 1 {
		w.volumeLookback = n
	}
}

// Symbol returns the window's symbol.
func (w *Window) Symbol() string { return w.symbol }

// Timeframe returns the window's timeframe.
func (w *Window) Timeframe() string { return w.timeframe }

// Len returns the number of bars in the window.
func (w *Window) Len() int { return len(w.bars) }

// Append validates and appends a bar. Bars must arrive in strictly
// increasing timestamp order for the window's own stream.
func (w *Window) Append(b Bar) error {
	if b.Symbol != w.symbol || b.Timeframe != w.timeframe {
		return fmt.Errorf("%w: got %s/%s, want %s/%s",
			ErrStreamMismatch, b.Symbol, b.Timeframe, w.symbol, w.timeframe)
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if n := len(w.bars); n > 0 && !b.Timestamp.After(w.bars[n-1].Timestamp) {
		return fmt.Errorf("%w: %s not after %s",
			ErrOutOfOrderBar, b.Timestamp, w.bars[n-1].Timestamp)
	}
	w.bars = append(w.bars, b)
	return nil
}

// At returns the bar at index i. It panics on out-of-range access the same
// way a slice would; use Len for bounds.
func (w *Window) At(i int) Bar {
	return w.bars[i]
}

// Last returns the most recent bar, or false if the window is empty.
func (w *Window) Last() (Bar, bool) {
	if len(w.bars) == 0 {
		return Bar{}, false
	}
	return w.bars[len(w.bars)-1], true
}

// VolumeRatio returns the bar-i volume divided by the simple average volume
// of the preceding lookback bars. ok is false when there are no preceding
// bars or the average is zero, so callers can distinguish "no evidence"
// from a genuinely low ratio.
func (w *Window) VolumeRatio(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(w.bars) {
		return decimal.Zero, false
	}
	start := i - w.volumeLookback
	if start < 0 {
		start = 0
	}
	if start == i {
		return decimal.Zero, false
	}
	var sum int64
	for j := start; j < i; j++ {
		sum += w.bars[j].Volume
	}
	if sum <= 0 {
		return decimal.Zero, false
	}
	avg := decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(i - start)))
	return decimal.NewFromInt(w.bars[i].Volume).Div(avg), true
}

// SpreadRatio returns the bar-i high-low range divided by the average range
// of the preceding lookback bars.
func (w *Window) SpreadRatio(i int) (decimal.Decimal, bool) {
	if i < 0 || i >= len(w.bars) {
		return decimal.Zero, false
	}
	start := i - w.volumeLookback
	if start < 0 {
		start = 0
	}
	if start == i {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for j := start; j < i; j++ {
		sum = sum.Add(w.bars[j].Range())
	}
	if sum.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}
	avg := sum.Div(decimal.NewFromInt(int64(i - start)))
	return w.bars[i].Range().Div(avg), true
}
