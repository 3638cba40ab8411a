package campaign

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Record is the serializable snapshot of a campaign, used by the
// persistence layer. The version travels with the record so stores can
// implement compare-and-swap updates.
type Record struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	RangeStart time.Time       `json:"range_start"`
	Support    decimal.Decimal `json:"support"`
	Resistance decimal.Decimal `json:"resistance"`
	Status     Status          `json:"status"`
	Positions  []Position      `json:"positions"`

	TotalRiskPct  decimal.Decimal `json:"total_risk_pct"`
	TotalShares   int64           `json:"total_shares"`
	AvgEntry      decimal.Decimal `json:"avg_entry"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`

	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	InvalidationReason string     `json:"invalidation_reason,omitempty"`
}

// Record snapshots the campaign for persistence.
func (c *Campaign) Record() Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	positions := make([]Position, len(c.positions))
	for i, p := range c.positions {
		positions[i] = *p
	}
	var completedAt *time.Time
	if c.completedAt != nil {
		ts := *c.completedAt
		completedAt = &ts
	}
	return Record{
		ID:                 c.ID,
		Symbol:             c.Symbol,
		RangeStart:         c.RangeStart,
		Support:            c.Support,
		Resistance:         c.Resistance,
		Status:             c.status,
		Positions:          positions,
		TotalRiskPct:       c.totalRiskPct,
		TotalShares:        c.totalShares,
		AvgEntry:           c.avgEntry,
		UnrealizedPnL:      c.unrealizedPnL,
		Version:            c.version,
		CreatedAt:          c.createdAt,
		CompletedAt:        completedAt,
		InvalidationReason: c.invalidationReason,
	}
}

// FromRecord rebuilds a campaign from a persisted snapshot.
func FromRecord(rec Record, logger zerolog.Logger) *Campaign {
	positions := make([]*Position, len(rec.Positions))
	for i := range rec.Positions {
		p := rec.Positions[i]
		positions[i] = &p
	}
	return &Campaign{
		ID:                 rec.ID,
		Symbol:             rec.Symbol,
		RangeStart:         rec.RangeStart,
		Support:            rec.Support,
		Resistance:         rec.Resistance,
		status:             rec.Status,
		positions:          positions,
		totalRiskPct:       rec.TotalRiskPct,
		totalShares:        rec.TotalShares,
		avgEntry:           rec.AvgEntry,
		unrealizedPnL:      rec.UnrealizedPnL,
		version:            rec.Version,
		createdAt:          rec.CreatedAt,
		completedAt:        rec.CompletedAt,
		invalidationReason: rec.InvalidationReason,
		logger:             logger.With().Str("component", "campaign").Str("campaign_id", rec.ID).Logger(),
	}
}
