package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sizing failures. These are raised, never silently clamped: a position
// that cannot be sized honestly must not exist.
var (
	ErrNonPositiveEquity    = errors.New("account equity is not positive")
	ErrZeroStopDistance     = errors.New("stop distance is zero")
	ErrPositionTooSmall     = errors.New("position size rounds below one share")
	ErrConcentrationExceeded = errors.New("position notional exceeds concentration cap")
	ErrRiskInvariantViolated = errors.New("committed risk exceeds intended risk amount")
)

// SizerConfig bounds position sizing.
type SizerConfig struct {
	// MaxConcentrationPct caps shares x entry as a percentage of equity.
	MaxConcentrationPct decimal.Decimal `json:"max_concentration_pct"`
}

// DefaultSizerConfig returns the standard 20% concentration cap.
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		MaxConcentrationPct: decimal.RequireFromString("20"),
	}
}

// Sizer converts fractional risk into whole-unit position sizes.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer creates a position sizer.
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes shares = floor(equity x riskPct/100 / |entry - stop|) and
// the actual committed risk. The round-down invariant
// committed <= intended is checked on every call, not merely documented.
func (s *Sizer) Size(equity, riskPct, entry, stop decimal.Decimal) (shares int64, committed decimal.Decimal, err error) {
	if equity.LessThanOrEqual(decimal.Zero) {
		return 0, decimal.Zero, fmt.Errorf("%w: %s", ErrNonPositiveEquity, equity)
	}

	stopDistance := entry.Sub(stop).Abs()
	if stopDistance.IsZero() {
		return 0, decimal.Zero, fmt.Errorf("%w: entry=%s", ErrZeroStopDistance, entry)
	}

	intended := equity.Mul(riskPct).Div(decimal.NewFromInt(100))
	shares = intended.Div(stopDistance).IntPart()
	if shares < 1 {
		return 0, decimal.Zero, fmt.Errorf("%w: intended=%s stop_distance=%s",
			ErrPositionTooSmall, intended.StringFixed(2), stopDistance)
	}

	sharesDec := decimal.NewFromInt(shares)
	notional := sharesDec.Mul(entry)
	maxNotional := equity.Mul(s.cfg.MaxConcentrationPct).Div(decimal.NewFromInt(100))
	if notional.GreaterThan(maxNotional) {
		return 0, decimal.Zero, fmt.Errorf("%w: notional=%s cap=%s",
			ErrConcentrationExceeded, notional.StringFixed(2), maxNotional.StringFixed(2))
	}

	committed = sharesDec.Mul(stopDistance)
	if committed.GreaterThan(intended) {
		return 0, decimal.Zero, fmt.Errorf("%w: committed=%s intended=%s",
			ErrRiskInvariantViolated, committed, intended)
	}
	return shares, committed, nil
}
