package patterns

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/phase"
)

var baseTime = time.Date(2024, 3, 14, 14, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRange() *market.TradingRange {
	return &market.TradingRange{
		Support:    dec("95"),
		Resistance: dec("105"),
		Start:      baseTime,
	}
}

func newDetector() *Detector {
	return NewDetector(DefaultConfig(), zerolog.Nop())
}

// appendBar appends one bar at the next minute slot.
func appendBar(t *testing.T, w *market.Window, open, high, low, close string, volume int64) {
	t.Helper()
	b := market.Bar{
		Symbol:    "AAPL",
		Timeframe: "1d",
		Timestamp: baseTime.Add(time.Duration(w.Len()) * time.Minute),
		Open:      dec(open),
		High:      dec(high),
		Low:       dec(low),
		Close:     dec(close),
		Volume:    volume,
	}
	if err := w.Append(b); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestDetectAbsorption(t *testing.T) {
	d := newDetector()
	w := market.NewWindow("AAPL", "1d")
	// Dip to 94 (1.05% penetration of 95), close recovered to 94.80.
	appendBar(t, w, "95.5", "96", "94", "94.80", 50)

	ev := d.Detect(w, 0, testRange(), dec("0.5"), phase.PhaseC, NewSession("AAPL", 0))
	if ev == nil {
		t.Fatal("expected absorption event")
	}
	if ev.Type != Absorption {
		t.Errorf("type = %s, want absorption", ev.Type)
	}
	if ev.ThrustIndex != -1 {
		t.Errorf("thrust index = %d, want -1", ev.ThrustIndex)
	}
	if !ev.VolumeRatio.Equal(dec("0.5")) {
		t.Errorf("volume ratio = %s, want 0.5", ev.VolumeRatio)
	}
}

func TestDetectAbsorptionClauses(t *testing.T) {
	d := newDetector()

	cases := []struct {
		name                        string
		open, high, low, close      string
		volumeRatio                 string
		ph                          phase.Phase
	}{
		{"wrong phase", "95.5", "96", "94", "94.80", "0.5", phase.PhaseB},
		{"no penetration", "95.5", "96", "95", "95.20", "0.5", phase.PhaseC},
		{"penetration too deep", "95.5", "96", "89", "94.80", "0.5", phase.PhaseC}, // 6.3% below support
		{"weak recovery", "94.5", "96", "94", "94.00", "0.5", phase.PhaseC},        // below 95*0.99
		{"volume at threshold", "95.5", "96", "94", "94.80", "0.7", phase.PhaseC},
		{"volume too high", "95.5", "96", "94", "94.80", "1.2", phase.PhaseC},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := market.NewWindow("AAPL", "1d")
			appendBar(t, w, tc.open, tc.high, tc.low, tc.close, 50)
			ev := d.Detect(w, 0, testRange(), dec(tc.volumeRatio), tc.ph, NewSession("AAPL", 0))
			if ev != nil {
				t.Errorf("expected no event, got %s", ev.Type)
			}
		})
	}
}

func TestDetectBreakout(t *testing.T) {
	d := newDetector()
	w := market.NewWindow("AAPL", "1d")
	// Close 106.50 is above 105*1.01 and in the upper half of 104-107.
	appendBar(t, w, "104.5", "107", "104", "106.50", 200)

	ev := d.Detect(w, 0, testRange(), dec("1.5"), phase.PhaseD, NewSession("AAPL", 0))
	if ev == nil {
		t.Fatal("expected breakout event")
	}
	if ev.Type != Breakout {
		t.Errorf("type = %s, want breakout", ev.Type)
	}
}

func TestDetectBreakoutClauses(t *testing.T) {
	d := newDetector()

	cases := []struct {
		name                   string
		open, high, low, close string
		volumeRatio            string
		ph                     phase.Phase
	}{
		{"wrong phase", "104.5", "107", "104", "106.50", "1.5", phase.PhaseC},
		{"close below margin", "104.5", "107", "104", "106.00", "1.5", phase.PhaseD}, // under 105*1.01
		{"volume below threshold", "104.5", "107", "104", "106.50", "1.49", phase.PhaseD},
		{"lower half close", "104.5", "110", "104", "106.10", "1.5", phase.PhaseD}, // mid is 107
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := market.NewWindow("AAPL", "1d")
			appendBar(t, w, tc.open, tc.high, tc.low, tc.close, 200)
			ev := d.Detect(w, 0, testRange(), dec(tc.volumeRatio), tc.ph, NewSession("AAPL", 0))
			if ev != nil {
				t.Errorf("expected no event, got %s", ev.Type)
			}
		})
	}
}

// pullbackWindow builds 11 bars: a breakout-shaped bar, nine holding near
// resistance, then the retest bar closing lower at 104.50.
func pullbackWindow(t *testing.T) *market.Window {
	t.Helper()
	w := market.NewWindow("AAPL", "1d")
	appendBar(t, w, "104.5", "107", "104", "106.50", 200)
	for i := 0; i < 9; i++ {
		appendBar(t, w, "106", "107", "105.5", "106", 100)
	}
	appendBar(t, w, "106", "106.5", "104", "104.50", 60)
	return w
}

func TestDetectPullback(t *testing.T) {
	d := newDetector()
	w := pullbackWindow(t)
	sess := NewSession("AAPL", 0)
	sess.recordEvent(Breakout, 0)

	ev := d.Detect(w, 10, testRange(), dec("0.6"), phase.PhaseD, sess)
	if ev == nil {
		t.Fatal("expected pullback event")
	}
	if ev.Type != Pullback {
		t.Errorf("type = %s, want pullback", ev.Type)
	}
	if ev.ThrustIndex != 0 {
		t.Errorf("thrust index = %d, want breakout index 0", ev.ThrustIndex)
	}
}

func TestDetectPullbackClauses(t *testing.T) {
	d := newDetector()
	tr := testRange()

	t.Run("no prior breakout", func(t *testing.T) {
		w := pullbackWindow(t)
		if ev := d.Detect(w, 10, tr, dec("0.6"), phase.PhaseD, NewSession("AAPL", 0)); ev != nil {
			t.Errorf("expected no event without a breakout, got %s", ev.Type)
		}
	})

	t.Run("breakout too old", func(t *testing.T) {
		w := pullbackWindow(t)
		appendBar(t, w, "106", "106.5", "104", "104.40", 60)
		sess := NewSession("AAPL", 0)
		sess.recordEvent(Breakout, 0)
		// Bar 11 is past the 10-bar retest window.
		if ev := d.Detect(w, 11, tr, dec("0.6"), phase.PhaseD, sess); ev != nil {
			t.Errorf("expected no event past the retest window, got %s", ev.Type)
		}
	})

	t.Run("not a lower close", func(t *testing.T) {
		w := market.NewWindow("AAPL", "1d")
		appendBar(t, w, "104.5", "107", "104", "106.50", 200)
		for i := 0; i < 9; i++ {
			appendBar(t, w, "106", "107", "105.5", "106", 100)
		}
		appendBar(t, w, "106", "107", "105.5", "106.20", 60)
		sess := NewSession("AAPL", 0)
		sess.recordEvent(Breakout, 0)
		if ev := d.Detect(w, 10, tr, dec("0.6"), phase.PhaseD, sess); ev != nil {
			t.Errorf("expected no event on a higher close, got %s", ev.Type)
		}
	})

	t.Run("volume not contracting", func(t *testing.T) {
		w := pullbackWindow(t)
		sess := NewSession("AAPL", 0)
		sess.recordEvent(Breakout, 0)
		if ev := d.Detect(w, 10, tr, dec("1.0"), phase.PhaseD, sess); ev != nil {
			t.Errorf("expected no event at 1.0x volume, got %s", ev.Type)
		}
	})

	t.Run("too far from resistance", func(t *testing.T) {
		w := market.NewWindow("AAPL", "1d")
		appendBar(t, w, "104.5", "107", "104", "106.50", 200)
		for i := 0; i < 9; i++ {
			appendBar(t, w, "106", "107", "105.5", "106", 100)
		}
		appendBar(t, w, "106", "106.5", "101", "101.50", 60) // 3.3% from resistance
		sess := NewSession("AAPL", 0)
		sess.recordEvent(Breakout, 0)
		if ev := d.Detect(w, 10, tr, dec("0.6"), phase.PhaseD, sess); ev != nil {
			t.Errorf("expected no event far from resistance, got %s", ev.Type)
		}
	})
}

// failedBreakoutWindow builds 21 baseline bars at volume 100, a thrust bar
// above resistance at the given volume, and a failure bar closing back
// inside the range.
func failedBreakoutWindow(t *testing.T, thrustVolume int64) *market.Window {
	t.Helper()
	w := market.NewWindow("AAPL", "1d")
	for i := 0; i < 21; i++ {
		appendBar(t, w, "100", "101", "99", "100", 100)
	}
	appendBar(t, w, "104.5", "106.5", "104", "106", thrustVolume)
	appendBar(t, w, "105.8", "106", "103.5", "104", 120)
	return w
}

func TestDetectFailedBreakout(t *testing.T) {
	d := newDetector()
	w := failedBreakoutWindow(t, 150)

	ev := d.Detect(w, 22, testRange(), dec("1.2"), phase.PhaseD, NewSession("AAPL", 0))
	if ev == nil {
		t.Fatal("expected failed breakout event")
	}
	if ev.Type != FailedBreakout {
		t.Fatalf("type = %s, want failed_breakout", ev.Type)
	}
	// Volume evidence comes from the thrust bar, not the failure bar.
	if !ev.VolumeRatio.Equal(dec("1.5")) {
		t.Errorf("volume ratio = %s, want thrust-bar 1.5", ev.VolumeRatio)
	}
	if ev.ThrustIndex != 21 {
		t.Errorf("thrust index = %d, want 21", ev.ThrustIndex)
	}
	if !ev.ThrustHigh.Equal(dec("106.5")) {
		t.Errorf("thrust high = %s, want 106.5", ev.ThrustHigh)
	}
}

func TestDetectFailedBreakoutClauses(t *testing.T) {
	d := newDetector()
	tr := testRange()

	t.Run("thrust volume too low", func(t *testing.T) {
		w := failedBreakoutWindow(t, 110) // 1.1x, below the 1.2x floor
		if ev := d.Detect(w, 22, tr, dec("1.2"), phase.PhaseD, NewSession("AAPL", 0)); ev != nil {
			t.Errorf("expected no event on a weak thrust, got %s", ev.Type)
		}
	})

	t.Run("only valid in phase D", func(t *testing.T) {
		w := failedBreakoutWindow(t, 150)
		if ev := d.Detect(w, 22, tr, dec("1.2"), phase.PhaseE, NewSession("AAPL", 0)); ev != nil {
			t.Errorf("expected no event in phase E, got %s", ev.Type)
		}
	})

	t.Run("no thrust above resistance", func(t *testing.T) {
		w := market.NewWindow("AAPL", "1d")
		for i := 0; i < 21; i++ {
			appendBar(t, w, "100", "101", "99", "100", 100)
		}
		appendBar(t, w, "103", "104.5", "102.5", "104", 150)
		appendBar(t, w, "104", "104.2", "103.5", "104", 120)
		if ev := d.Detect(w, 22, tr, dec("1.2"), phase.PhaseD, NewSession("AAPL", 0)); ev != nil {
			t.Errorf("expected no event without a thrust, got %s", ev.Type)
		}
	})
}

func TestDetectCooldown(t *testing.T) {
	d := newDetector()
	w := market.NewWindow("AAPL", "1d")
	for i := 0; i < 11; i++ {
		appendBar(t, w, "95.5", "96", "94", "94.80", 50)
	}
	sess := NewSession("AAPL", 0)
	tr := testRange()

	if ev := d.Detect(w, 0, tr, dec("0.5"), phase.PhaseC, sess); ev == nil {
		t.Fatal("expected initial absorption event")
	}
	// Identical qualifying bar inside the cooldown window.
	if ev := d.Detect(w, 5, tr, dec("0.5"), phase.PhaseC, sess); ev != nil {
		t.Errorf("expected cooldown suppression at bar 5, got %s", ev.Type)
	}
	if ev := d.Detect(w, 9, tr, dec("0.5"), phase.PhaseC, sess); ev != nil {
		t.Errorf("expected cooldown suppression at bar 9, got %s", ev.Type)
	}
	// Cooldown expires after 10 bars.
	if ev := d.Detect(w, 10, tr, dec("0.5"), phase.PhaseC, sess); ev == nil {
		t.Error("expected detection to resume at bar 10")
	}
}

func TestDetectPriorityPullbackOverFailedBreakout(t *testing.T) {
	d := newDetector()
	// Bar 22 qualifies both as a pullback (close near resistance, lower
	// close, quiet failure-bar volume) and as a failed breakout (thrust at
	// bar 21 on 1.5x volume, close back under resistance).
	w := failedBreakoutWindow(t, 150)
	sess := NewSession("AAPL", 0)
	sess.recordEvent(Breakout, 12)

	ev := d.Detect(w, 22, testRange(), dec("0.8"), phase.PhaseD, sess)
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Type != Pullback {
		t.Errorf("type = %s, want pullback to win on priority", ev.Type)
	}
}

func TestSessionDefaults(t *testing.T) {
	sess := NewSession("AAPL", 0)
	if sess.Symbol() != "AAPL" {
		t.Errorf("symbol = %s", sess.Symbol())
	}
	if sess.InCooldown(0) {
		t.Error("fresh session must not be in cooldown")
	}
	if sess.LastBreakoutIndex() != -1 {
		t.Errorf("fresh session breakout index = %d, want -1", sess.LastBreakoutIndex())
	}

	sess.recordEvent(Absorption, 3)
	if !sess.InCooldown(12) {
		t.Error("bar 12 should be inside the default 10-bar cooldown")
	}
	if sess.InCooldown(13) {
		t.Error("bar 13 should be outside the cooldown")
	}
	if sess.LastBreakoutIndex() != -1 {
		t.Error("absorption must not update the breakout index")
	}
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range AllEventTypes {
		if !et.Valid() {
			t.Errorf("%s should be valid", et)
		}
	}
	if EventType("spring").Valid() {
		t.Error("unknown type should be invalid")
	}
}
