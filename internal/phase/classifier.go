// Package phase classifies the current market structure phase of an
// accumulation range from recent price behavior. Classification is a pure
// function of the bar window and trading range; no state survives between
// calls, so the same window always yields the same phase.
package phase

import (
	"wyckoff-engine/internal/market"
)

// Phase is the structural phase label of an accumulation range.
type Phase string

const (
	// PhaseB is ongoing range building: price oscillates with no test or
	// breakout evidence yet.
	PhaseB Phase = "B"
	// PhaseC is the test-of-support territory, including penetrations
	// below support.
	PhaseC Phase = "C"
	// PhaseD is strength inside the range: a recent resistance-breaking
	// high or price holding above the midpoint.
	PhaseD Phase = "D"
	// PhaseE is markup, with price trading above resistance.
	PhaseE Phase = "E"
)

// Lookbacks for the range-residency and breakout-recency checks.
const (
	breakHighLookback = 10
	residencyLookback = 30
	residencyMinBars  = 10
)

// Classify derives the phase for bar i against the given trading range.
func Classify(w *market.Window, i int, tr *market.TradingRange) Phase {
	bar := w.At(i)

	if bar.Close.LessThan(tr.Support) {
		return PhaseC
	}
	if bar.Close.GreaterThan(tr.Resistance) {
		return PhaseE
	}

	// Close is inside the range. Strength first: a resistance-breaking
	// high in the recent past, or residence above the midpoint.
	if brokeResistanceRecently(w, i, tr) || bar.Close.GreaterThan(tr.Midpoint()) {
		return PhaseD
	}

	if rangeResidency(w, i, tr) >= residencyMinBars {
		return PhaseC
	}
	return PhaseB
}

// brokeResistanceRecently reports whether any of the last breakHighLookback
// bars (including bar i) printed a high above resistance.
func brokeResistanceRecently(w *market.Window, i int, tr *market.TradingRange) bool {
	start := i - breakHighLookback + 1
	if start < 0 {
		start = 0
	}
	for j := start; j <= i; j++ {
		if w.At(j).High.GreaterThan(tr.Resistance) {
			return true
		}
	}
	return false
}

// rangeResidency counts how many of the last residencyLookback bars closed
// inside the range.
func rangeResidency(w *market.Window, i int, tr *market.TradingRange) int {
	start := i - residencyLookback + 1
	if start < 0 {
		start = 0
	}
	count := 0
	for j := start; j <= i; j++ {
		if tr.Contains(w.At(j).Close) {
			count++
		}
	}
	return count
}
