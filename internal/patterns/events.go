// Package patterns detects the four canonical structural events of an
// accumulation range: absorption at support, breakout with volume, the
// confirmation pullback, and the failed breakout. Detectors are pure
// predicates over the bar window; per-symbol cooldown and breakout memory
// live in an explicit Session owned by the caller.
package patterns

import (
	"fmt"

	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/phase"
)

// EventType identifies a structural event. The set is closed; every
// consumption site switches exhaustively and fails loudly on an unknown
// value so a new event type surfaces everywhere it must be handled.
type EventType string

const (
	Absorption     EventType = "absorption"
	Breakout       EventType = "breakout"
	Pullback       EventType = "pullback"
	FailedBreakout EventType = "failed_breakout"
)

// AllEventTypes lists the closed event set in detection priority order.
var AllEventTypes = []EventType{Absorption, Breakout, Pullback, FailedBreakout}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case Absorption, Breakout, Pullback, FailedBreakout:
		return true
	}
	return false
}

func (t EventType) String() string { return string(t) }

// ErrUnknownEventType is returned by consumers that receive an event type
// outside the closed set.
func ErrUnknownEventType(t EventType) error {
	return fmt.Errorf("unknown structural event type %q", t)
}

// StructuralEvent is one detected structural occurrence. It is produced by
// a detector, consumed once by the signal assembler, and then discarded.
type StructuralEvent struct {
	Type        EventType
	Symbol      string
	Bar         market.Bar
	Index       int
	Range       market.TradingRange
	VolumeRatio decimal.Decimal // thrust-bar ratio for FailedBreakout
	Phase       phase.Phase

	// ThrustIndex is the bar index of the thrust for FailedBreakout and
	// of the triggering breakout for Pullback; -1 otherwise.
	ThrustIndex int

	// ThrustHigh is the thrust bar's high for FailedBreakout (the extreme
	// the stop is anchored to); zero otherwise.
	ThrustHigh decimal.Decimal
}
