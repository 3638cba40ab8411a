// Package signal turns structural events into risk-scored candidate
// signals. Assembly is where the confidence floor and the reward-to-risk
// gate live; anything that fails them is rejected at construction, never
// flagged and passed along.
package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/patterns"
	"wyckoff-engine/internal/phase"
)

// Direction of the trade a candidate proposes.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Candidate is a fully validated, scored trade signal. Reward-to-risk is
// recomputed from entry/stop/target at construction; a candidate that
// exists has already passed the 2.00R and confidence-70 gates.
type Candidate struct {
	ID        string             `json:"id"`
	Symbol    string             `json:"symbol"`
	Pattern   patterns.EventType `json:"pattern"`
	Phase     phase.Phase        `json:"phase"`
	Direction Direction          `json:"direction"`

	Entry  decimal.Decimal `json:"entry"`
	Stop   decimal.Decimal `json:"stop"`
	Target decimal.Decimal `json:"target"`

	RewardRisk decimal.Decimal `json:"reward_risk"`

	Confidence   int `json:"confidence"` // post-penalty, in [70, 95]
	PatternScore int `json:"pattern_score"`
	PhaseScore   int `json:"phase_score"`
	VolumeScore  int `json:"volume_score"`

	VolumeRatio decimal.Decimal  `json:"volume_ratio"`
	Range       market.TradingRange `json:"range"`
	BarIndex    int              `json:"bar_index"`
	BarTime     time.Time        `json:"bar_time"`

	// Filled in by the risk stages after assembly.
	RiskPct decimal.Decimal `json:"risk_pct"`
	Shares  int64           `json:"shares"`

	// CampaignID links the candidate to an existing campaign, if any.
	CampaignID string `json:"campaign_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RiskPerShare returns |entry - stop|.
func (c *Candidate) RiskPerShare() decimal.Decimal {
	return c.Entry.Sub(c.Stop).Abs()
}

// CommittedRisk returns the currency risk of the sized candidate,
// shares x |entry - stop|.
func (c *Candidate) CommittedRisk() decimal.Decimal {
	return c.RiskPerShare().Mul(decimal.NewFromInt(c.Shares))
}
