// Package heat aggregates committed risk across all open campaigns into a
// single portfolio heat figure and gates new admissions against it. Alert
// state is recomputed from current totals on every query, never latched:
// heat that falls back under a threshold reads Normal again without any
// reset. Only the notification side is rate-limited.
package heat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AlertState classifies the current heat level.
type AlertState string

const (
	StateNormal   AlertState = "normal"
	StateWarning  AlertState = "warning"
	StateCritical AlertState = "critical"
	StateExceeded AlertState = "exceeded"
)

var hundred = decimal.NewFromInt(100)

// AlertSink receives heat alerts, fire-and-forget. The notification
// package provides the production implementation.
type AlertSink interface {
	SendHeatAlert(state AlertState, heatPct decimal.Decimal, at time.Time) error
}

// Config holds the heat thresholds (percent of equity) and the alert
// cooldown.
type Config struct {
	WarningPct    decimal.Decimal `json:"warning_pct"`
	CriticalPct   decimal.Decimal `json:"critical_pct"`
	ExceededPct   decimal.Decimal `json:"exceeded_pct"`
	AlertCooldown time.Duration   `json:"alert_cooldown"`
}

// DefaultConfig returns the standard thresholds: warn at 7%, critical at
// 9%, hard ceiling at 10%, alerts at most every 300s per state.
func DefaultConfig() Config {
	return Config{
		WarningPct:    decimal.RequireFromString("7"),
		CriticalPct:   decimal.RequireFromString("9"),
		ExceededPct:   decimal.RequireFromString("10"),
		AlertCooldown: 300 * time.Second,
	}
}

// Summary is the externally exposed heat snapshot.
type Summary struct {
	HeatPct     decimal.Decimal `json:"heat_pct"`
	State       AlertState      `json:"state"`
	CanAdmit    bool            `json:"can_admit"`
	WarningPct  decimal.Decimal `json:"warning_pct"`
	CriticalPct decimal.Decimal `json:"critical_pct"`
	ExceededPct decimal.Decimal `json:"exceeded_pct"`
	TotalRisk   decimal.Decimal `json:"total_risk"`
}

// Tracker holds the cross-campaign committed risk. It is shared mutable
// state across symbols; every method is mutex-guarded, and the engine
// additionally serializes the full read-check-commit admission sequence.
type Tracker struct {
	mu            sync.Mutex
	cfg           Config
	contributions map[string]decimal.Decimal // campaign ID -> committed currency risk
	lastAlert     map[AlertState]time.Time
	sink          AlertSink
	logger        zerolog.Logger
}

// NewTracker creates a heat tracker. sink may be nil for a silent tracker.
func NewTracker(cfg Config, sink AlertSink, logger zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:           cfg,
		contributions: make(map[string]decimal.Decimal),
		lastAlert:     make(map[AlertState]time.Time),
		sink:          sink,
		logger:        logger.With().Str("component", "heat").Logger(),
	}
}

// AddRisk adds committed currency risk for a campaign.
func (t *Tracker) AddRisk(campaignID string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contributions[campaignID] = t.contributions[campaignID].Add(amount)
}

// ReleaseRisk subtracts committed risk for a campaign, flooring at zero.
func (t *Tracker) ReleaseRisk(campaignID string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.contributions[campaignID].Sub(amount)
	if remaining.LessThanOrEqual(decimal.Zero) {
		delete(t.contributions, campaignID)
		return
	}
	t.contributions[campaignID] = remaining
}

// RemoveCampaign drops a campaign's entire contribution (completion or
// invalidation).
func (t *Tracker) RemoveCampaign(campaignID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.contributions, campaignID)
}

// TotalRisk returns the aggregate committed currency risk.
func (t *Tracker) TotalRisk() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalLocked()
}

func (t *Tracker) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, risk := range t.contributions {
		total = total.Add(risk)
	}
	return total
}

// HeatPct computes total committed risk as a percentage of equity,
// clamped to 100 when equity is not positive.
func (t *Tracker) HeatPct(equity decimal.Decimal) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heatPctLocked(equity)
}

func (t *Tracker) heatPctLocked(equity decimal.Decimal) decimal.Decimal {
	if equity.LessThanOrEqual(decimal.Zero) {
		return hundred
	}
	pct := t.totalLocked().Div(equity).Mul(hundred)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// StateFor maps a heat percentage to an alert state. Monotonic thresholds,
// recomputed from scratch: nothing is sticky.
func (t *Tracker) StateFor(heatPct decimal.Decimal) AlertState {
	switch {
	case heatPct.GreaterThanOrEqual(t.cfg.ExceededPct):
		return StateExceeded
	case heatPct.GreaterThanOrEqual(t.cfg.CriticalPct):
		return StateCritical
	case heatPct.GreaterThanOrEqual(t.cfg.WarningPct):
		return StateWarning
	default:
		return StateNormal
	}
}

// CanAdmit reports whether adding projectedRisk (currency) would keep heat
// strictly below the Exceeded threshold.
func (t *Tracker) CanAdmit(equity, projectedRisk decimal.Decimal) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canAdmitLocked(equity, projectedRisk)
}

func (t *Tracker) canAdmitLocked(equity, projectedRisk decimal.Decimal) bool {
	if equity.LessThanOrEqual(decimal.Zero) {
		return false
	}
	projected := t.totalLocked().Add(projectedRisk).Div(equity).Mul(hundred)
	return projected.LessThan(t.cfg.ExceededPct)
}

// Summary returns the full heat snapshot against the given equity.
func (t *Tracker) Summary(equity decimal.Decimal) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	heatPct := t.heatPctLocked(equity)
	return Summary{
		HeatPct:     heatPct,
		State:       t.StateFor(heatPct),
		CanAdmit:    t.canAdmitLocked(equity, decimal.Zero),
		WarningPct:  t.cfg.WarningPct,
		CriticalPct: t.cfg.CriticalPct,
		ExceededPct: t.cfg.ExceededPct,
		TotalRisk:   t.totalLocked(),
	}
}

// CheckAlerts evaluates the current state and dispatches a notification if
// the state is elevated and its cooldown window has passed. Normal never
// notifies. Dispatch is fire-and-forget; sink errors are logged only.
func (t *Tracker) CheckAlerts(equity decimal.Decimal, now time.Time) {
	t.mu.Lock()
	heatPct := t.heatPctLocked(equity)
	state := t.StateFor(heatPct)
	if state == StateNormal || t.sink == nil {
		t.mu.Unlock()
		return
	}
	if last, ok := t.lastAlert[state]; ok && now.Sub(last) < t.cfg.AlertCooldown {
		t.mu.Unlock()
		return
	}
	t.lastAlert[state] = now
	sink := t.sink
	t.mu.Unlock()

	go func() {
		if err := sink.SendHeatAlert(state, heatPct, now); err != nil {
			t.logger.Error().Err(err).
				Str("state", string(state)).
				Str("heat_pct", heatPct.StringFixed(2)).
				Msg("heat alert dispatch failed")
		}
	}()
}
