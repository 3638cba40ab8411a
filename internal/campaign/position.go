package campaign

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/patterns"
)

// PositionStatus is the lifecycle state of one campaign entry.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionPartial PositionStatus = "partial"
	PositionClosed  PositionStatus = "closed"
)

// Position is a single admitted entry inside a campaign. The campaign
// exclusively owns its positions; all mutation goes through campaign
// methods so the version counter and totals stay consistent.
type Position struct {
	ID            string             `json:"id"`
	Pattern       patterns.EventType `json:"pattern"`
	EntryPrice    decimal.Decimal    `json:"entry_price"`
	EntryTime     time.Time          `json:"entry_time"`
	Shares        int64              `json:"shares"`
	RemainingShares int64            `json:"remaining_shares"`
	StopPrice     decimal.Decimal    `json:"stop_price"`
	TargetPrice   decimal.Decimal    `json:"target_price"`
	CurrentPrice  decimal.Decimal    `json:"current_price"`
	UnrealizedPnL decimal.Decimal    `json:"unrealized_pnl"`
	AllocationPct decimal.Decimal    `json:"allocation_pct"`
	Status        PositionStatus     `json:"status"`
}

// verifyPnL recomputes (price - entry) x remaining shares and compares it
// to the stored value. This is checked at the start of every mutation, so
// drift or external tampering fails the mutation before any commit.
func (p *Position) verifyPnL() error {
	expected := p.CurrentPrice.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.RemainingShares))
	if !p.UnrealizedPnL.Equal(expected) {
		return fmt.Errorf("%w: position %s stored=%s expected=%s",
			ErrPnLMismatch, p.ID, p.UnrealizedPnL, expected)
	}
	return nil
}

// markPrice updates the live price and recomputes unrealized P&L.
func (p *Position) markPrice(price decimal.Decimal) {
	p.CurrentPrice = price
	p.UnrealizedPnL = price.Sub(p.EntryPrice).Mul(decimal.NewFromInt(p.RemainingShares))
}

// reduce closes qty shares at the given price, moving the position to
// Partial or Closed.
func (p *Position) reduce(qty int64, price decimal.Decimal) error {
	if qty <= 0 || qty > p.RemainingShares {
		return fmt.Errorf("%w: qty=%d remaining=%d", ErrInvalidShares, qty, p.RemainingShares)
	}
	p.RemainingShares -= qty
	if p.RemainingShares == 0 {
		p.Status = PositionClosed
	} else {
		p.Status = PositionPartial
	}
	p.markPrice(price)
	return nil
}

// openRisk returns remaining shares x |entry - stop|, the currency risk
// still committed by this position.
func (p *Position) openRisk() decimal.Decimal {
	return p.EntryPrice.Sub(p.StopPrice).Abs().Mul(decimal.NewFromInt(p.RemainingShares))
}
