package patterns

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/phase"
)

// Config holds the detection thresholds. The numeric defaults are fixed
// domain calibration and are not re-derived.
type Config struct {
	// Absorption
	MaxPenetrationPct   decimal.Decimal `json:"max_penetration_pct"`   // max dip below support, fraction of support
	RecoveryPct         decimal.Decimal `json:"recovery_pct"`          // close must recover to within this of support
	AbsorptionMaxVolume decimal.Decimal `json:"absorption_max_volume"` // volume ratio must be strictly below

	// Breakout
	BreakoutMinClosePct decimal.Decimal `json:"breakout_min_close_pct"` // close above resistance by at least this
	BreakoutMinVolume   decimal.Decimal `json:"breakout_min_volume"`

	// Pullback
	PullbackProximityPct decimal.Decimal `json:"pullback_proximity_pct"` // |close-resistance|/resistance
	PullbackMaxVolume    decimal.Decimal `json:"pullback_max_volume"`
	PullbackMaxBars      int             `json:"pullback_max_bars"` // max bars since the breakout

	// FailedBreakout
	FailedBreakoutMinVolume decimal.Decimal `json:"failed_breakout_min_volume"` // measured on the thrust bar

	CooldownBars int `json:"cooldown_bars"`
}

// DefaultConfig returns the canonical thresholds.
func DefaultConfig() Config {
	return Config{
		MaxPenetrationPct:       decimal.RequireFromString("0.05"),
		RecoveryPct:             decimal.RequireFromString("0.01"),
		AbsorptionMaxVolume:     decimal.RequireFromString("0.7"),
		BreakoutMinClosePct:     decimal.RequireFromString("0.01"),
		BreakoutMinVolume:       decimal.RequireFromString("1.5"),
		PullbackProximityPct:    decimal.RequireFromString("0.02"),
		PullbackMaxVolume:       decimal.RequireFromString("1.0"),
		PullbackMaxBars:         10,
		FailedBreakoutMinVolume: decimal.RequireFromString("1.2"),
		CooldownBars:            10,
	}
}

// Detector evaluates the four structural event detectors in fixed priority
// order with first-match-wins semantics.
type Detector struct {
	cfg    Config
	logger zerolog.Logger
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config, logger zerolog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With().Str("component", "detector").Logger(),
	}
}

// Detect evaluates bar i and returns at most one structural event. The
// session gates detection with its cooldown and records accepted events.
// A nil result is the normal no-event outcome, not an error.
func (d *Detector) Detect(w *market.Window, i int, tr *market.TradingRange, volumeRatio decimal.Decimal, ph phase.Phase, sess *Session) *StructuralEvent {
	if w == nil || tr == nil || sess == nil || i < 0 || i >= w.Len() {
		return nil
	}
	if sess.InCooldown(i) {
		return nil
	}

	// Priority order: Absorption, Breakout, Pullback, FailedBreakout.
	ev := d.detectAbsorption(w, i, tr, volumeRatio, ph)
	if ev == nil {
		ev = d.detectBreakout(w, i, tr, volumeRatio, ph)
	}
	if ev == nil {
		ev = d.detectPullback(w, i, tr, volumeRatio, ph, sess)
	}
	if ev == nil {
		ev = d.detectFailedBreakout(w, i, tr, ph)
	}
	if ev == nil {
		return nil
	}

	sess.recordEvent(ev.Type, i)
	d.logger.Debug().
		Str("symbol", ev.Symbol).
		Str("event", ev.Type.String()).
		Int("index", i).
		Str("phase", string(ph)).
		Str("volume_ratio", ev.VolumeRatio.String()).
		Msg("structural event detected")
	return ev
}

// detectAbsorption looks for a shallow penetration below support that
// closes back near support on quiet volume: supply being absorbed. Valid
// only in phase C. Violating any clause yields no event, never a weaker one.
func (d *Detector) detectAbsorption(w *market.Window, i int, tr *market.TradingRange, volumeRatio decimal.Decimal, ph phase.Phase) *StructuralEvent {
	if ph != phase.PhaseC {
		return nil
	}
	bar := w.At(i)

	penetration := tr.Support.Sub(bar.Low).Div(tr.Support)
	if penetration.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	if penetration.GreaterThan(d.cfg.MaxPenetrationPct) {
		return nil
	}

	// Closing recovery: back to within RecoveryPct of support.
	recoveryFloor := tr.Support.Mul(decimal.NewFromInt(1).Sub(d.cfg.RecoveryPct))
	if bar.Close.LessThan(recoveryFloor) {
		return nil
	}

	if volumeRatio.GreaterThanOrEqual(d.cfg.AbsorptionMaxVolume) {
		return nil
	}

	return &StructuralEvent{
		Type:        Absorption,
		Symbol:      w.Symbol(),
		Bar:         bar,
		Index:       i,
		Range:       *tr,
		VolumeRatio: volumeRatio,
		Phase:       ph,
		ThrustIndex: -1,
	}
}

// detectBreakout looks for a decisive close above resistance on expanding
// volume with the close in the upper half of the bar. Valid in D or E.
func (d *Detector) detectBreakout(w *market.Window, i int, tr *market.TradingRange, volumeRatio decimal.Decimal, ph phase.Phase) *StructuralEvent {
	if ph != phase.PhaseD && ph != phase.PhaseE {
		return nil
	}
	bar := w.At(i)

	breakoutFloor := tr.Resistance.Mul(decimal.NewFromInt(1).Add(d.cfg.BreakoutMinClosePct))
	if bar.Close.LessThan(breakoutFloor) {
		return nil
	}
	if volumeRatio.LessThan(d.cfg.BreakoutMinVolume) {
		return nil
	}
	if !bar.ClosedInUpperHalf() {
		return nil
	}

	return &StructuralEvent{
		Type:        Breakout,
		Symbol:      w.Symbol(),
		Bar:         bar,
		Index:       i,
		Range:       *tr,
		VolumeRatio: volumeRatio,
		Phase:       ph,
		ThrustIndex: -1,
	}
}

// detectPullback looks for a quiet retest of resistance shortly after an
// accepted breakout: price near resistance, a lower close than the prior
// bar, and contracting volume. Valid in D or E.
func (d *Detector) detectPullback(w *market.Window, i int, tr *market.TradingRange, volumeRatio decimal.Decimal, ph phase.Phase, sess *Session) *StructuralEvent {
	if ph != phase.PhaseD && ph != phase.PhaseE {
		return nil
	}
	breakoutIdx := sess.LastBreakoutIndex()
	if breakoutIdx < 0 || i-breakoutIdx > d.cfg.PullbackMaxBars {
		return nil
	}
	if i == 0 {
		return nil
	}
	bar := w.At(i)

	proximity := bar.Close.Sub(tr.Resistance).Abs().Div(tr.Resistance)
	if proximity.GreaterThan(d.cfg.PullbackProximityPct) {
		return nil
	}
	if bar.Close.GreaterThanOrEqual(w.At(i - 1).Close) {
		return nil
	}
	if volumeRatio.GreaterThanOrEqual(d.cfg.PullbackMaxVolume) {
		return nil
	}

	return &StructuralEvent{
		Type:        Pullback,
		Symbol:      w.Symbol(),
		Bar:         bar,
		Index:       i,
		Range:       *tr,
		VolumeRatio: volumeRatio,
		Phase:       ph,
		ThrustIndex: breakoutIdx,
	}
}

// detectFailedBreakout looks for a thrust above resistance on the previous
// bar that the current bar gives back, closing under resistance. Volume is
// measured on the thrust bar, not the failure bar. Valid only in phase D.
func (d *Detector) detectFailedBreakout(w *market.Window, i int, tr *market.TradingRange, ph phase.Phase) *StructuralEvent {
	if ph != phase.PhaseD {
		return nil
	}
	if i == 0 {
		return nil
	}
	bar := w.At(i)
	thrust := w.At(i - 1)

	if !thrust.High.GreaterThan(tr.Resistance) {
		return nil
	}
	if !bar.Close.LessThan(tr.Resistance) {
		return nil
	}

	thrustVolume, ok := w.VolumeRatio(i - 1)
	if !ok || thrustVolume.LessThan(d.cfg.FailedBreakoutMinVolume) {
		return nil
	}

	return &StructuralEvent{
		Type:        FailedBreakout,
		Symbol:      w.Symbol(),
		Bar:         bar,
		Index:       i,
		Range:       *tr,
		VolumeRatio: thrustVolume,
		Phase:       ph,
		ThrustIndex: i - 1,
		ThrustHigh:  thrust.High,
	}
}
