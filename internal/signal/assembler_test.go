package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/patterns"
	"wyckoff-engine/internal/phase"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// regularHours is inside the regular liquidity session (15:00 UTC).
var regularHours = time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)

func newAssembler() *Assembler {
	return NewAssembler(DefaultConfig(), zerolog.Nop())
}

func absorptionEvent() *patterns.StructuralEvent {
	return &patterns.StructuralEvent{
		Type:   patterns.Absorption,
		Symbol: "AAPL",
		Bar: market.Bar{
			Symbol:    "AAPL",
			Timeframe: "1d",
			Timestamp: regularHours,
			Open:      dec("95.5"),
			High:      dec("96"),
			Low:       dec("93"),
			Close:     dec("94.80"),
			Volume:    50,
		},
		Index:       29,
		Range:       market.TradingRange{Support: dec("95"), Resistance: dec("105"), Start: regularHours.Add(-29 * time.Minute)},
		VolumeRatio: dec("0.5"),
		Phase:       phase.PhaseC,
		ThrustIndex: -1,
	}
}

func TestAssembleAbsorption(t *testing.T) {
	a := newAssembler()
	cand, reason, err := a.Assemble(absorptionEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatalf("expected a candidate, got rejection %q", reason)
	}

	if cand.Direction != DirectionLong {
		t.Errorf("direction = %s, want long", cand.Direction)
	}
	if !cand.Entry.Equal(dec("94.80")) {
		t.Errorf("entry = %s, want 94.80 (bar close)", cand.Entry)
	}
	// Stop anchors 2% below the triggering low: 93 * 0.98.
	if !cand.Stop.Equal(dec("91.14")) {
		t.Errorf("stop = %s, want 91.14", cand.Stop)
	}
	if !cand.Target.Equal(dec("105")) {
		t.Errorf("target = %s, want resistance 105", cand.Target)
	}

	// (105 - 94.80) / (94.80 - 91.14) = 10.20 / 3.66
	wantRR := dec("10.20").Div(dec("3.66"))
	if !cand.RewardRisk.Equal(wantRR) {
		t.Errorf("reward-risk = %s, want %s", cand.RewardRisk, wantRR)
	}

	// pattern 90, ideal phase 90, quiet volume at 0.5x scores 80:
	// 0.5*90 + 0.3*90 + 0.2*80 = 88, no penalty.
	if cand.Confidence != 88 {
		t.Errorf("confidence = %d, want 88", cand.Confidence)
	}
	if cand.PatternScore != 90 || cand.PhaseScore != 90 || cand.VolumeScore != 80 {
		t.Errorf("component scores = %d/%d/%d, want 90/90/80",
			cand.PatternScore, cand.PhaseScore, cand.VolumeScore)
	}
	if cand.ID == "" {
		t.Error("candidate must carry an ID")
	}
}

func TestAssembleFailedBreakoutShort(t *testing.T) {
	a := newAssembler()
	ev := &patterns.StructuralEvent{
		Type:   patterns.FailedBreakout,
		Symbol: "AAPL",
		Bar: market.Bar{
			Symbol: "AAPL", Timeframe: "1d", Timestamp: regularHours,
			Open: dec("104.9"), High: dec("105"), Low: dec("103.5"), Close: dec("104"), Volume: 120,
		},
		Index:       22,
		Range:       market.TradingRange{Support: dec("95"), Resistance: dec("105")},
		VolumeRatio: dec("1.5"),
		Phase:       phase.PhaseD,
		ThrustIndex: 21,
		ThrustHigh:  dec("105.5"),
	}

	cand, reason, err := a.Assemble(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatalf("expected a candidate, got rejection %q", reason)
	}
	if cand.Direction != DirectionShort {
		t.Errorf("direction = %s, want short", cand.Direction)
	}
	// Stop anchors 2% above the thrust high: 105.5 * 1.02 = 107.61.
	if !cand.Stop.Equal(dec("107.61")) {
		t.Errorf("stop = %s, want 107.61", cand.Stop)
	}
	if !cand.Target.Equal(dec("95")) {
		t.Errorf("target = %s, want support 95", cand.Target)
	}
	// Short reward-risk reads downward: (104 - 95) / (107.61 - 104).
	wantRR := dec("9").Div(dec("3.61"))
	if !cand.RewardRisk.Equal(wantRR) {
		t.Errorf("reward-risk = %s, want %s", cand.RewardRisk, wantRR)
	}
}

func TestAssembleRewardRiskGate(t *testing.T) {
	a := newAssembler()

	// Entry 100, stop 95*0.98 = 93.10, risk 6.90. Target at exactly 2R.
	build := func(resistance string) *patterns.StructuralEvent {
		return &patterns.StructuralEvent{
			Type:   patterns.Absorption,
			Symbol: "AAPL",
			Bar: market.Bar{
				Symbol: "AAPL", Timeframe: "1d", Timestamp: regularHours,
				Open: dec("99"), High: dec("101"), Low: dec("95"), Close: dec("100"), Volume: 50,
			},
			Range:       market.TradingRange{Support: dec("96"), Resistance: dec(resistance)},
			VolumeRatio: dec("0.5"),
			Phase:       phase.PhaseC,
			ThrustIndex: -1,
		}
	}

	// 113.80 gives (113.80-100)/6.90 = 2.00 exactly: admitted, not rejected.
	cand, reason, err := a.Assemble(build("113.80"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatalf("exactly 2.00R must pass the floor, got rejection %q", reason)
	}
	if !cand.RewardRisk.Equal(dec("2")) {
		t.Errorf("reward-risk = %s, want exactly 2", cand.RewardRisk)
	}

	// A hair under 2.00R must be rejected.
	cand, reason, err = a.Assemble(build("113.79"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Fatalf("1.9986R candidate must be rejected, got confidence %d", cand.Confidence)
	}
	if reason != ReasonRewardRiskBelowFloor {
		t.Errorf("reason = %q, want %q", reason, ReasonRewardRiskBelowFloor)
	}
}

func TestAssembleSessionPenalty(t *testing.T) {
	a := newAssembler()

	// Failed breakout at 1.5x thrust volume: pattern 72, phase D 90,
	// volume 55+round(22.5) = 78, base round(0.5*72+0.3*90+0.2*78) = 79.
	build := func(at time.Time) *patterns.StructuralEvent {
		return &patterns.StructuralEvent{
			Type:   patterns.FailedBreakout,
			Symbol: "AAPL",
			Bar: market.Bar{
				Symbol: "AAPL", Timeframe: "1d", Timestamp: at,
				Open: dec("105.8"), High: dec("106"), Low: dec("103.5"), Close: dec("104"), Volume: 120,
			},
			Range:       market.TradingRange{Support: dec("70"), Resistance: dec("105")},
			VolumeRatio: dec("1.5"),
			Phase:       phase.PhaseD,
			ThrustIndex: 21,
			ThrustHigh:  dec("106.5"),
		}
	}

	// Regular hours: 79 passes the floor.
	cand, reason, err := a.Assemble(build(regularHours))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatalf("expected acceptance in regular hours, got %q", reason)
	}
	if cand.Confidence != 79 {
		t.Errorf("confidence = %d, want 79", cand.Confidence)
	}

	// Lunch hour: 79 - 10 = 69 falls below the floor.
	lunch := time.Date(2024, 3, 14, 17, 30, 0, 0, time.UTC)
	cand, reason, err = a.Assemble(build(lunch))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Fatalf("lunch penalty must reject, got confidence %d", cand.Confidence)
	}
	if reason != ReasonConfidenceBelowFloor {
		t.Errorf("reason = %q, want %q", reason, ReasonConfidenceBelowFloor)
	}

	// Off-hours: 79 - 25 = 54, also rejected.
	offHours := time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	cand, reason, _ = a.Assemble(build(offHours))
	if cand != nil || reason != ReasonConfidenceBelowFloor {
		t.Errorf("off-hours penalty must reject with %q, got cand=%v reason=%q",
			ReasonConfidenceBelowFloor, cand, reason)
	}
}

func TestAssembleOffHoursRejectsStrongCandidate(t *testing.T) {
	a := newAssembler()

	// An ideal absorption setup scores 88 in regular hours. The same bar
	// stamped off-hours takes the -25 penalty, lands at 63 and is
	// rejected: no pre-penalty strength can buy back a dead session.
	ev := absorptionEvent()
	cand, reason, err := a.Assemble(ev)
	if err != nil || cand == nil {
		t.Fatalf("regular-hours baseline must assemble, got reason=%q err=%v", reason, err)
	}
	if cand.Confidence != 88 {
		t.Fatalf("baseline confidence = %d, want 88", cand.Confidence)
	}

	ev = absorptionEvent()
	ev.Bar.Timestamp = time.Date(2024, 3, 14, 3, 0, 0, 0, time.UTC)
	cand, reason, err = a.Assemble(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Fatalf("off-hours must reject, got confidence %d", cand.Confidence)
	}
	if reason != ReasonConfidenceBelowFloor {
		t.Errorf("reason = %q, want %q", reason, ReasonConfidenceBelowFloor)
	}
}

func TestAssembleConfidenceExactlyAtFloor(t *testing.T) {
	a := newAssembler()
	// Failed breakout in a non-ideal phase with negligible volume evidence:
	// pattern 72, phase 78, volume clamps to 55, so
	// base = (5*72 + 3*78 + 2*55 + 5)/10 = 70 exactly.
	ev := &patterns.StructuralEvent{
		Type:   patterns.FailedBreakout,
		Symbol: "AAPL",
		Bar: market.Bar{
			Symbol: "AAPL", Timeframe: "1d", Timestamp: regularHours,
			Open: dec("105.8"), High: dec("106"), Low: dec("103.5"), Close: dec("104"), Volume: 120,
		},
		Range:       market.TradingRange{Support: dec("70"), Resistance: dec("105")},
		VolumeRatio: dec("0.01"),
		Phase:       phase.PhaseE,
		ThrustIndex: 21,
		ThrustHigh:  dec("106.5"),
	}
	cand, reason, err := a.Assemble(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand == nil {
		t.Fatalf("confidence exactly at the floor must pass, got %q", reason)
	}
	if cand.Confidence != 70 {
		t.Errorf("confidence = %d, want exactly 70", cand.Confidence)
	}
}

func TestAssembleInsufficientEvidence(t *testing.T) {
	a := newAssembler()
	ev := absorptionEvent()
	ev.VolumeRatio = decimal.Zero

	cand, reason, err := a.Assemble(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cand != nil {
		t.Fatal("expected rejection for missing volume evidence")
	}
	if reason != ReasonInsufficientEvidence {
		t.Errorf("reason = %q, want %q", reason, ReasonInsufficientEvidence)
	}

	if cand, reason, _ := a.Assemble(nil); cand != nil || reason != ReasonInsufficientEvidence {
		t.Error("nil event must reject with insufficient evidence")
	}
}

func TestAssembleZeroStopDistance(t *testing.T) {
	a := newAssembler()
	// A breakout closing exactly at resistance * 0.99 puts entry on the
	// stop.
	ev := &patterns.StructuralEvent{
		Type:   patterns.Breakout,
		Symbol: "AAPL",
		Bar: market.Bar{
			Symbol: "AAPL", Timeframe: "1d", Timestamp: regularHours,
			Open: dec("98.5"), High: dec("100"), Low: dec("98"), Close: dec("99"), Volume: 200,
		},
		Range:       market.TradingRange{Support: dec("90"), Resistance: dec("100")},
		VolumeRatio: dec("1.5"),
		Phase:       phase.PhaseD,
		ThrustIndex: -1,
	}
	cand, _, err := a.Assemble(ev)
	if cand != nil {
		t.Fatal("expected no candidate on zero stop distance")
	}
	if !errors.Is(err, ErrZeroStopDistance) {
		t.Errorf("err = %v, want ErrZeroStopDistance", err)
	}
}

func TestAssembleUnknownEventType(t *testing.T) {
	a := newAssembler()
	ev := absorptionEvent()
	ev.Type = patterns.EventType("spring")

	cand, _, err := a.Assemble(ev)
	if cand != nil {
		t.Fatal("expected no candidate for an unknown event type")
	}
	if err == nil {
		t.Fatal("unknown event type must fail loudly")
	}
}

func TestWeightedConfidenceRounding(t *testing.T) {
	// 0.5*90 + 0.3*90 + 0.2*80 = 88 exactly.
	if got := weightedConfidence(90, 90, 80); got != 88 {
		t.Errorf("weightedConfidence(90,90,80) = %d, want 88", got)
	}
	// 0.5*90 + 0.3*85 + 0.2*80 = 86.5 rounds half-up to 87.
	if got := weightedConfidence(90, 85, 80); got != 87 {
		t.Errorf("weightedConfidence(90,85,80) = %d, want 87", got)
	}
	if got := weightedConfidence(100, 100, 100); got != 100 {
		t.Errorf("weightedConfidence(100,100,100) = %d, want 100", got)
	}
}
