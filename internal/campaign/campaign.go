// Package campaign tracks a multi-entry accumulation campaign: the group
// of related entries sharing one trading range, governed as a single risk
// unit through its lifecycle. The state machine rejects invalid
// transitions loudly and enforces the campaign risk ceiling and the fixed
// per-pattern sub-allocation split on every admission.
package campaign

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/patterns"
)

// Status is the campaign lifecycle state. Completed and Invalidated are
// terminal.
type Status string

const (
	StatusActive      Status = "active"
	StatusMarkup      Status = "markup"
	StatusCompleted   Status = "completed"
	StatusInvalidated Status = "invalidated"
)

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusInvalidated
}

// Risk ceilings. The split of the 5% campaign ceiling across entry types
// (40% absorption, 35% breakout, 25% pullback) is fixed methodology, not
// configuration.
var (
	TotalRiskCeilingPct     = decimal.RequireFromString("5.00")
	AbsorptionCeilingPct    = decimal.RequireFromString("2.00")
	BreakoutCeilingPct      = decimal.RequireFromString("1.75")
	PullbackCeilingPct      = decimal.RequireFromString("1.25")
)

// Campaign groups the entries working one trading range. All mutation
// methods take the caller's expected version and fail with
// ErrVersionConflict when it is stale; on success the version is bumped,
// which the persistence layer uses for compare-and-swap updates.
type Campaign struct {
	mu sync.RWMutex

	ID         string
	Symbol     string
	RangeStart time.Time
	Support    decimal.Decimal
	Resistance decimal.Decimal

	status    Status
	positions []*Position

	totalRiskPct  decimal.Decimal
	totalShares   int64
	avgEntry      decimal.Decimal
	unrealizedPnL decimal.Decimal

	version            int64
	createdAt          time.Time
	completedAt        *time.Time
	invalidationReason string

	logger zerolog.Logger
}

// CampaignID builds the canonical identity {symbol}-{range start date}.
func CampaignID(symbol string, rangeStart time.Time) string {
	return fmt.Sprintf("%s-%s", symbol, rangeStart.UTC().Format("20060102"))
}

// New creates an Active campaign for a trading range.
func New(symbol string, tr market.TradingRange, logger zerolog.Logger) *Campaign {
	return &Campaign{
		ID:         CampaignID(symbol, tr.Start),
		Symbol:     symbol,
		RangeStart: tr.Start.UTC(),
		Support:    tr.Support,
		Resistance: tr.Resistance,
		status:     StatusActive,
		version:    1,
		createdAt:  time.Now().UTC(),
		logger:     logger.With().Str("component", "campaign").Str("campaign_id", CampaignID(symbol, tr.Start)).Logger(),
	}
}

// Status returns the current lifecycle state.
func (c *Campaign) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Version returns the current optimistic-lock version.
func (c *Campaign) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// TotalRiskPct returns the campaign's total allocated risk percentage.
func (c *Campaign) TotalRiskPct() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalRiskPct
}

// UnrealizedPnL returns the aggregate unrealized P&L of open positions.
func (c *Campaign) UnrealizedPnL() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unrealizedPnL
}

// WeightedAvgEntry returns the share-weighted average entry price.
func (c *Campaign) WeightedAvgEntry() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.avgEntry
}

// InvalidationReason returns the reason string of an invalidated campaign.
func (c *Campaign) InvalidationReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invalidationReason
}

// CompletedAt returns the terminal timestamp, if any.
func (c *Campaign) CompletedAt() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completedAt
}

// Positions returns a copy of the position slice.
func (c *Campaign) Positions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, len(c.positions))
	for i, p := range c.positions {
		out[i] = *p
	}
	return out
}

// OpenRisk returns the currency risk still committed by open positions.
func (c *Campaign) OpenRisk() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := decimal.Zero
	for _, p := range c.positions {
		total = total.Add(p.openRisk())
	}
	return total
}

// AdmitRequest describes an entry seeking admission.
type AdmitRequest struct {
	Pattern   patterns.EventType
	Entry     decimal.Decimal
	Stop      decimal.Decimal
	Target    decimal.Decimal
	Shares    int64
	RiskPct   decimal.Decimal
	EntryTime time.Time
}

// Admit validates an entry against the lifecycle state, the 5% campaign
// ceiling and the pattern's sub-allocation, then commits it. All
// validations run before any mutation; a failed admission leaves the
// campaign untouched. Admitting the first breakout entry moves an Active
// campaign to Markup.
func (c *Campaign) Admit(req AdmitRequest, expectedVersion int64) (*Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVersion(expectedVersion); err != nil {
		return nil, err
	}
	if c.status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot admit into %s campaign", ErrInvalidTransition, c.status)
	}
	if req.Shares <= 0 {
		return nil, fmt.Errorf("%w: shares=%d", ErrInvalidShares, req.Shares)
	}

	subCeiling, err := patternCeiling(req.Pattern)
	if err != nil {
		return nil, err
	}

	newTotal := c.totalRiskPct.Add(req.RiskPct)
	if newTotal.GreaterThan(TotalRiskCeilingPct) {
		return nil, fmt.Errorf("%w: total=%s new=%s ceiling=%s",
			ErrCampaignCeilingExceeded, c.totalRiskPct, req.RiskPct, TotalRiskCeilingPct)
	}
	patternTotal := c.patternRiskLocked(req.Pattern).Add(req.RiskPct)
	if patternTotal.GreaterThan(subCeiling) {
		return nil, fmt.Errorf("%w: pattern=%s total=%s ceiling=%s",
			ErrPatternCeilingExceeded, req.Pattern, patternTotal, subCeiling)
	}

	pos := &Position{
		ID:              uuid.NewString(),
		Pattern:         req.Pattern,
		EntryPrice:      req.Entry,
		EntryTime:       req.EntryTime.UTC(),
		Shares:          req.Shares,
		RemainingShares: req.Shares,
		StopPrice:       req.Stop,
		TargetPrice:     req.Target,
		CurrentPrice:    req.Entry,
		UnrealizedPnL:   decimal.Zero,
		AllocationPct:   req.RiskPct,
		Status:          PositionOpen,
	}

	c.positions = append(c.positions, pos)
	c.totalRiskPct = newTotal
	if c.status == StatusActive && req.Pattern == patterns.Breakout {
		c.status = StatusMarkup
	}
	c.recomputeTotalsLocked()
	c.version++

	c.logger.Info().
		Str("pattern", req.Pattern.String()).
		Str("entry", req.Entry.String()).
		Int64("shares", req.Shares).
		Str("risk_pct", req.RiskPct.String()).
		Str("campaign_total_pct", c.totalRiskPct.String()).
		Str("status", string(c.status)).
		Msg("entry admitted")
	return pos, nil
}

// UpdatePrice marks all open positions to the given price. Each position's
// stored P&L is cross-checked before mutation.
func (c *Campaign) UpdatePrice(price decimal.Decimal, expectedVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVersion(expectedVersion); err != nil {
		return err
	}
	if c.status.IsTerminal() {
		return fmt.Errorf("%w: cannot update %s campaign", ErrInvalidTransition, c.status)
	}
	for _, p := range c.positions {
		if p.Status == PositionClosed {
			continue
		}
		if err := p.verifyPnL(); err != nil {
			return err
		}
	}
	for _, p := range c.positions {
		if p.Status == PositionClosed {
			continue
		}
		p.markPrice(price)
	}
	c.recomputeTotalsLocked()
	c.version++
	return nil
}

// ReducePosition closes qty shares of a position at the given price.
func (c *Campaign) ReducePosition(positionID string, qty int64, price decimal.Decimal, expectedVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVersion(expectedVersion); err != nil {
		return err
	}
	if c.status.IsTerminal() {
		return fmt.Errorf("%w: cannot reduce position in %s campaign", ErrInvalidTransition, c.status)
	}
	pos := c.findLocked(positionID)
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if err := pos.verifyPnL(); err != nil {
		return err
	}
	if err := pos.reduce(qty, price); err != nil {
		return err
	}
	c.recomputeTotalsLocked()
	c.version++
	return nil
}

// ClosePosition closes all remaining shares of a position.
func (c *Campaign) ClosePosition(positionID string, price decimal.Decimal, expectedVersion int64) error {
	c.mu.Lock()
	pos := c.findLocked(positionID)
	if pos == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	remaining := pos.RemainingShares
	c.mu.Unlock()
	return c.ReducePosition(positionID, remaining, price, expectedVersion)
}

// Complete moves the campaign to its successful terminal state. All
// positions must already be closed.
func (c *Campaign) Complete(at time.Time, expectedVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVersion(expectedVersion); err != nil {
		return err
	}
	if c.status.IsTerminal() {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, c.status)
	}
	for _, p := range c.positions {
		if p.Status != PositionClosed {
			return fmt.Errorf("%w: position %s is %s", ErrOpenPositions, p.ID, p.Status)
		}
	}
	ts := at.UTC()
	c.status = StatusCompleted
	c.completedAt = &ts
	c.version++
	c.logger.Info().Msg("campaign completed")
	return nil
}

// Invalidate moves the campaign to its failed terminal state, legal from
// both Active and Markup. The defining structural level is gone; a reason
// is mandatory.
func (c *Campaign) Invalidate(reason string, at time.Time, expectedVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVersion(expectedVersion); err != nil {
		return err
	}
	if c.status.IsTerminal() {
		return fmt.Errorf("%w: %s -> invalidated", ErrInvalidTransition, c.status)
	}
	if reason == "" {
		return ErrReasonRequired
	}
	ts := at.UTC()
	c.status = StatusInvalidated
	c.completedAt = &ts
	c.invalidationReason = reason
	c.version++
	c.logger.Warn().Str("reason", reason).Msg("campaign invalidated")
	return nil
}

func (c *Campaign) checkVersion(expected int64) error {
	if expected != c.version {
		return fmt.Errorf("%w: expected=%d actual=%d", ErrVersionConflict, expected, c.version)
	}
	return nil
}

func (c *Campaign) findLocked(positionID string) *Position {
	for _, p := range c.positions {
		if p.ID == positionID {
			return p
		}
	}
	return nil
}

func (c *Campaign) patternRiskLocked(pattern patterns.EventType) decimal.Decimal {
	total := decimal.Zero
	for _, p := range c.positions {
		if p.Pattern == pattern {
			total = total.Add(p.AllocationPct)
		}
	}
	return total
}

func (c *Campaign) recomputeTotalsLocked() {
	var shares int64
	weighted := decimal.Zero
	pnl := decimal.Zero
	for _, p := range c.positions {
		shares += p.RemainingShares
		weighted = weighted.Add(p.EntryPrice.Mul(decimal.NewFromInt(p.RemainingShares)))
		if p.Status != PositionClosed {
			pnl = pnl.Add(p.UnrealizedPnL)
		}
	}
	c.totalShares = shares
	if shares > 0 {
		c.avgEntry = weighted.Div(decimal.NewFromInt(shares))
	} else {
		c.avgEntry = decimal.Zero
	}
	c.unrealizedPnL = pnl
}

// patternCeiling returns the sub-allocation for an entry pattern. Failed
// breakouts carry no allocation: they never join accumulation campaigns.
func patternCeiling(pattern patterns.EventType) (decimal.Decimal, error) {
	switch pattern {
	case patterns.Absorption:
		return AbsorptionCeilingPct, nil
	case patterns.Breakout:
		return BreakoutCeilingPct, nil
	case patterns.Pullback:
		return PullbackCeilingPct, nil
	case patterns.FailedBreakout:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPatternNotAllowed, pattern)
	default:
		return decimal.Zero, patterns.ErrUnknownEventType(pattern)
	}
}
