package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/patterns"
	"wyckoff-engine/internal/phase"
)

// Rejection reasons. Rejections are the expected, frequent outcome and are
// reported as a reason string with a nil candidate, never as an error.
const (
	ReasonInsufficientEvidence = "insufficient evidence"
	ReasonRewardRiskBelowFloor = "reward-to-risk below floor"
	ReasonConfidenceBelowFloor = "confidence below floor"
)

// ErrZeroStopDistance marks a candidate whose stop equals its entry. This
// is a computation failure fatal to the single candidate, not a rejection.
var ErrZeroStopDistance = errors.New("stop distance is zero")

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Config holds the assembly parameters. Stop buffers are fractions of the
// triggering extreme; penalties are negative confidence adjustments applied
// before the floor check.
type Config struct {
	MinRewardRisk  decimal.Decimal `json:"min_reward_risk"`
	ConfidenceFloor int            `json:"confidence_floor"`
	ConfidenceCap   int            `json:"confidence_cap"`

	AbsorptionStopBufferPct     decimal.Decimal `json:"absorption_stop_buffer_pct"`
	BreakoutStopBufferPct       decimal.Decimal `json:"breakout_stop_buffer_pct"`
	PullbackStopBufferPct       decimal.Decimal `json:"pullback_stop_buffer_pct"`
	FailedBreakoutStopBufferPct decimal.Decimal `json:"failed_breakout_stop_buffer_pct"`

	OffHoursPenalty int `json:"off_hours_penalty"`
	LunchPenalty    int `json:"lunch_penalty"`
}

// DefaultConfig returns the standard assembly parameters.
func DefaultConfig() Config {
	return Config{
		MinRewardRisk:               decimal.RequireFromString("2.00"),
		ConfidenceFloor:             70,
		ConfidenceCap:               95,
		AbsorptionStopBufferPct:     decimal.RequireFromString("0.02"),
		BreakoutStopBufferPct:       decimal.RequireFromString("0.01"),
		PullbackStopBufferPct:       decimal.RequireFromString("0.02"),
		FailedBreakoutStopBufferPct: decimal.RequireFromString("0.02"),
		OffHoursPenalty:             -25,
		LunchPenalty:                -10,
	}
}

// Assembler converts structural events into candidate signals.
type Assembler struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewAssembler creates an assembler with the given configuration.
func NewAssembler(cfg Config, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:    cfg,
		logger: logger.With().Str("component", "assembler").Logger(),
		now:    time.Now,
	}
}

// Assemble builds a candidate from a structural event. A nil candidate
// with a non-empty reason is a domain rejection; a non-nil error is a
// computation failure fatal to this candidate only.
func (a *Assembler) Assemble(ev *patterns.StructuralEvent) (*Candidate, string, error) {
	if ev == nil {
		return nil, ReasonInsufficientEvidence, nil
	}

	entry, stop, target, direction, err := a.priceLevels(ev)
	if err != nil {
		return nil, "", err
	}

	riskPerShare := entry.Sub(stop).Abs()
	if riskPerShare.IsZero() {
		return nil, "", fmt.Errorf("%w: entry=%s stop=%s", ErrZeroStopDistance, entry, stop)
	}
	rewardRisk := target.Sub(entry).Abs().Div(riskPerShare)
	if rewardRisk.LessThan(a.cfg.MinRewardRisk) {
		a.logger.Debug().
			Str("symbol", ev.Symbol).
			Str("pattern", ev.Type.String()).
			Str("reward_risk", rewardRisk.StringFixed(2)).
			Str("floor", a.cfg.MinRewardRisk.StringFixed(2)).
			Msg("candidate rejected: reward-to-risk below floor")
		return nil, ReasonRewardRiskBelowFloor, nil
	}

	patternScore, phaseScore, volumeScore, ok := a.confidenceComponents(ev)
	if !ok {
		a.logger.Debug().
			Str("symbol", ev.Symbol).
			Str("pattern", ev.Type.String()).
			Msg("candidate rejected: insufficient evidence")
		return nil, ReasonInsufficientEvidence, nil
	}

	base := weightedConfidence(patternScore, phaseScore, volumeScore)
	if base > a.cfg.ConfidenceCap {
		base = a.cfg.ConfidenceCap
	}
	penalty := a.sessionPenalty(ev.Bar.Timestamp)
	confidence := base + penalty
	if confidence < a.cfg.ConfidenceFloor {
		// Log both values: rejecting on the wrong basis is a silent
		// correctness bug in a risk system.
		a.logger.Info().
			Str("symbol", ev.Symbol).
			Str("pattern", ev.Type.String()).
			Int("pre_penalty", base).
			Int("penalty", penalty).
			Int("post_penalty", confidence).
			Int("floor", a.cfg.ConfidenceFloor).
			Msg("candidate rejected: confidence below floor")
		return nil, ReasonConfidenceBelowFloor, nil
	}
	if confidence > a.cfg.ConfidenceCap {
		confidence = a.cfg.ConfidenceCap
	}

	return &Candidate{
		ID:           uuid.NewString(),
		Symbol:       ev.Symbol,
		Pattern:      ev.Type,
		Phase:        ev.Phase,
		Direction:    direction,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		RewardRisk:   rewardRisk,
		Confidence:   confidence,
		PatternScore: patternScore,
		PhaseScore:   phaseScore,
		VolumeScore:  volumeScore,
		VolumeRatio:  ev.VolumeRatio,
		Range:        ev.Range,
		BarIndex:     ev.Index,
		BarTime:      ev.Bar.Timestamp,
		CreatedAt:    a.now().UTC(),
	}, "", nil
}

// priceLevels derives entry, stop and target for the event. The stop is
// anchored a buffer beyond the triggering extreme; targets are the range
// boundary or the measured move beyond it.
func (a *Assembler) priceLevels(ev *patterns.StructuralEvent) (entry, stop, target decimal.Decimal, dir Direction, err error) {
	entry = ev.Bar.Close
	width := ev.Range.Width()

	switch ev.Type {
	case patterns.Absorption:
		stop = ev.Bar.Low.Mul(one.Sub(a.cfg.AbsorptionStopBufferPct))
		target = ev.Range.Resistance
		dir = DirectionLong
	case patterns.Breakout:
		stop = ev.Range.Resistance.Mul(one.Sub(a.cfg.BreakoutStopBufferPct))
		target = ev.Range.Resistance.Add(width)
		dir = DirectionLong
	case patterns.Pullback:
		stop = ev.Bar.Low.Mul(one.Sub(a.cfg.PullbackStopBufferPct))
		target = ev.Range.Resistance.Add(width)
		dir = DirectionLong
	case patterns.FailedBreakout:
		stop = ev.ThrustHigh.Mul(one.Add(a.cfg.FailedBreakoutStopBufferPct))
		target = ev.Range.Support
		dir = DirectionShort
	default:
		err = patterns.ErrUnknownEventType(ev.Type)
	}
	return
}

// confidenceComponents derives the pattern, phase and volume sub-scores.
// ok is false when the event carries no usable volume evidence, which is
// the "insufficient evidence" rejection rather than a defaulted score.
func (a *Assembler) confidenceComponents(ev *patterns.StructuralEvent) (patternScore, phaseScore, volumeScore int, ok bool) {
	if ev.VolumeRatio.LessThanOrEqual(decimal.Zero) {
		return 0, 0, 0, false
	}

	switch ev.Type {
	case patterns.Absorption:
		patternScore = 90
		phaseScore = scoreForPhase(ev.Phase, phase.PhaseC)
		volumeScore = quietVolumeScore(ev.VolumeRatio)
	case patterns.Breakout:
		patternScore = 84
		phaseScore = scoreForPhase(ev.Phase, phase.PhaseE)
		volumeScore = expandingVolumeScore(ev.VolumeRatio)
	case patterns.Pullback:
		patternScore = 78
		phaseScore = scoreForPhase(ev.Phase, phase.PhaseD)
		volumeScore = quietVolumeScore(ev.VolumeRatio)
	case patterns.FailedBreakout:
		patternScore = 72
		phaseScore = scoreForPhase(ev.Phase, phase.PhaseD)
		volumeScore = expandingVolumeScore(ev.VolumeRatio)
	default:
		return 0, 0, 0, false
	}
	return patternScore, phaseScore, volumeScore, true
}

// weightedConfidence combines the components at 0.5/0.3/0.2 with half-up
// rounding, in pure integer arithmetic.
func weightedConfidence(patternScore, phaseScore, volumeScore int) int {
	return (5*patternScore + 3*phaseScore + 2*volumeScore + 5) / 10
}

func scoreForPhase(actual, ideal phase.Phase) int {
	if actual == ideal {
		return 90
	}
	return 78
}

// quietVolumeScore rewards contraction: the lower the ratio the better.
func quietVolumeScore(ratio decimal.Decimal) int {
	s := 100 - int(ratio.Mul(decimal.NewFromInt(40)).Round(0).IntPart())
	return clampScore(s)
}

// expandingVolumeScore rewards expansion above the confirmation threshold.
func expandingVolumeScore(ratio decimal.Decimal) int {
	s := 55 + int(ratio.Mul(decimal.NewFromInt(15)).Round(0).IntPart())
	return clampScore(s)
}

func clampScore(s int) int {
	if s < 55 {
		return 55
	}
	if s > 95 {
		return 95
	}
	return s
}

// sessionPenalty maps the bar's liquidity session to a confidence penalty.
func (a *Assembler) sessionPenalty(t time.Time) int {
	switch market.SessionOf(t) {
	case market.SessionOffHours:
		return a.cfg.OffHoursPenalty
	case market.SessionLunch:
		return a.cfg.LunchPenalty
	default:
		return 0
	}
}
