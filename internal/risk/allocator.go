// Package risk maps candidate signals to fractional-risk budgets and whole
// -unit position sizes. The allocator decides how much of equity a pattern
// may risk; the sizer converts that fraction into shares without ever
// rounding risk up.
package risk

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/patterns"
)

// AllocatorConfig holds the base risk budgets and bounds, as percentages
// of account equity.
type AllocatorConfig struct {
	AbsorptionRiskPct     decimal.Decimal `json:"absorption_risk_pct"`
	PullbackRiskPct       decimal.Decimal `json:"pullback_risk_pct"`
	BreakoutRiskPct       decimal.Decimal `json:"breakout_risk_pct"`
	FailedBreakoutRiskPct decimal.Decimal `json:"failed_breakout_risk_pct"`

	// MinRiskPct and MaxRiskPct bound user overrides; MaxRiskPct is also
	// the global per-trade ceiling.
	MinRiskPct decimal.Decimal `json:"min_risk_pct"`
	MaxRiskPct decimal.Decimal `json:"max_risk_pct"`

	// Session context multipliers for thin liquidity.
	OffHoursMultiplier decimal.Decimal `json:"off_hours_multiplier"`
	LunchMultiplier    decimal.Decimal `json:"lunch_multiplier"`
}

// DefaultAllocatorConfig returns the standard budgets.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		AbsorptionRiskPct:     decimal.RequireFromString("0.5"),
		PullbackRiskPct:       decimal.RequireFromString("0.7"),
		BreakoutRiskPct:       decimal.RequireFromString("0.8"),
		FailedBreakoutRiskPct: decimal.RequireFromString("0.5"),
		MinRiskPct:            decimal.RequireFromString("0.25"),
		MaxRiskPct:            decimal.RequireFromString("2.0"),
		OffHoursMultiplier:    decimal.RequireFromString("0.75"),
		LunchMultiplier:       decimal.RequireFromString("0.90"),
	}
}

// Volume-quality tiers. The break points encode domain-expert calibration
// and are kept exactly as given, not re-derived.
var (
	tier250 = decimal.RequireFromString("2.5")
	tier230 = decimal.RequireFromString("2.3")
	tier200 = decimal.RequireFromString("2.0")
	tier180 = decimal.RequireFromString("1.8")

	mult100 = decimal.RequireFromString("1.00")
	mult095 = decimal.RequireFromString("0.95")
	mult090 = decimal.RequireFromString("0.90")
	mult085 = decimal.RequireFromString("0.85")
	mult075 = decimal.RequireFromString("0.75")
	mult080 = decimal.RequireFromString("0.80")

	quiet030 = decimal.RequireFromString("0.3")
	quiet050 = decimal.RequireFromString("0.5")
)

// Allocator maps pattern type and evidence quality to a fractional risk
// percentage.
type Allocator struct {
	cfg    AllocatorConfig
	logger zerolog.Logger
}

// NewAllocator creates an allocator.
func NewAllocator(cfg AllocatorConfig, logger zerolog.Logger) *Allocator {
	return &Allocator{
		cfg:    cfg,
		logger: logger.With().Str("component", "allocator").Logger(),
	}
}

// Allocate computes the effective risk percentage for an event type given
// its volume ratio and session. A non-nil override replaces the base
// budget but stays clamped to [MinRiskPct, MaxRiskPct]; the computed value
// is always capped at the global per-trade ceiling.
func (a *Allocator) Allocate(pattern patterns.EventType, volumeRatio decimal.Decimal, session market.LiquiditySession, override *decimal.Decimal) (decimal.Decimal, error) {
	base, err := a.baseRisk(pattern)
	if err != nil {
		return decimal.Zero, err
	}
	if override != nil {
		base = clampDecimal(*override, a.cfg.MinRiskPct, a.cfg.MaxRiskPct)
	}

	effective := base.
		Mul(volumeQualityMultiplier(pattern, volumeRatio)).
		Mul(a.sessionMultiplier(session))

	if effective.GreaterThan(a.cfg.MaxRiskPct) {
		effective = a.cfg.MaxRiskPct
	}
	return effective, nil
}

func (a *Allocator) baseRisk(pattern patterns.EventType) (decimal.Decimal, error) {
	switch pattern {
	case patterns.Absorption:
		return a.cfg.AbsorptionRiskPct, nil
	case patterns.Pullback:
		return a.cfg.PullbackRiskPct, nil
	case patterns.Breakout:
		return a.cfg.BreakoutRiskPct, nil
	case patterns.FailedBreakout:
		return a.cfg.FailedBreakoutRiskPct, nil
	default:
		return decimal.Zero, patterns.ErrUnknownEventType(pattern)
	}
}

// volumeQualityMultiplier scales the base risk by evidence quality. For the
// volume-confirmation patterns the tiers run from 0.75x at 1.5x volume to
// 1.00x at 2.5x and above (sub-1.5 ratios are already rejected by the
// detector). Quiet-volume patterns invert the scale: drier is better.
func volumeQualityMultiplier(pattern patterns.EventType, ratio decimal.Decimal) decimal.Decimal {
	switch pattern {
	case patterns.Breakout, patterns.FailedBreakout:
		switch {
		case ratio.GreaterThanOrEqual(tier250):
			return mult100
		case ratio.GreaterThanOrEqual(tier230):
			return mult095
		case ratio.GreaterThanOrEqual(tier200):
			return mult090
		case ratio.GreaterThanOrEqual(tier180):
			return mult085
		default:
			return mult075
		}
	case patterns.Absorption, patterns.Pullback:
		switch {
		case ratio.LessThanOrEqual(quiet030):
			return mult100
		case ratio.LessThanOrEqual(quiet050):
			return mult090
		default:
			return mult080
		}
	default:
		return mult075
	}
}

func (a *Allocator) sessionMultiplier(session market.LiquiditySession) decimal.Decimal {
	switch session {
	case market.SessionOffHours:
		return a.cfg.OffHoursMultiplier
	case market.SessionLunch:
		return a.cfg.LunchMultiplier
	default:
		return mult100
	}
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
