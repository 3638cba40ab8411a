// Package engine wires the full pipeline: bar window in, ranked and sized
// candidates out, with campaign admission gated by portfolio heat. The
// engine owns the only lock ordering that matters: the whole
// heat-check / campaign-admit / heat-commit sequence runs under one
// admission mutex, so two concurrent admissions can never jointly pass a
// ceiling that either alone would fail.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/campaign"
	"wyckoff-engine/internal/database"
	"wyckoff-engine/internal/heat"
	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/patterns"
	"wyckoff-engine/internal/phase"
	"wyckoff-engine/internal/ranker"
	"wyckoff-engine/internal/risk"
	"wyckoff-engine/internal/signal"
)

// ErrHeatCeiling is returned when admitting a candidate would push
// portfolio heat to the hard ceiling.
var ErrHeatCeiling = errors.New("admission would breach portfolio heat ceiling")

// EquityProvider supplies the current account equity. Sizing and heat both
// read it through this seam so a live account feed can replace the static
// value without touching the pipeline.
type EquityProvider interface {
	Equity() decimal.Decimal
}

// StaticEquity is a fixed-equity provider.
type StaticEquity struct {
	value decimal.Decimal
}

// NewStaticEquity creates a provider that always reports value.
func NewStaticEquity(value decimal.Decimal) *StaticEquity {
	return &StaticEquity{value: value}
}

func (s *StaticEquity) Equity() decimal.Decimal { return s.value }

// Config holds the engine's own knobs; stage configs live with their
// packages.
type Config struct {
	RangeConfig    market.RangeConfig
	DetectorConfig patterns.Config
	SignalConfig   signal.Config
	RiskConfig     risk.AllocatorConfig
	SizerConfig    risk.SizerConfig
	HeatConfig     heat.Config

	// StoreTimeout bounds each persistence call. A slow store degrades to
	// a logged skip; it never stalls bar processing.
	StoreTimeout time.Duration
}

// DefaultConfig returns the canonical stage parameters.
func DefaultConfig() Config {
	return Config{
		RangeConfig:    market.DefaultRangeConfig(),
		DetectorConfig: patterns.DefaultConfig(),
		SignalConfig:   signal.DefaultConfig(),
		RiskConfig:     risk.DefaultAllocatorConfig(),
		SizerConfig:    risk.DefaultSizerConfig(),
		HeatConfig:     heat.DefaultConfig(),
		StoreTimeout:   2 * time.Second,
	}
}

// Engine is the pipeline facade.
type Engine struct {
	cfg       Config
	detector  *patterns.Detector
	assembler *signal.Assembler
	allocator *risk.Allocator
	sizer     *risk.Sizer
	tracker   *heat.Tracker
	equity    EquityProvider
	store     database.CampaignStore
	logger    zerolog.Logger

	// admitMu serializes the full read-check-commit admission sequence
	// across symbols.
	admitMu sync.Mutex

	campaignMu sync.Mutex
	campaigns  map[string]*campaign.Campaign

	sessionMu sync.Mutex
	sessions  map[string]*patterns.Session

	queueMu sync.Mutex
	queue   *ranker.Queue
}

// New creates an engine. store may be nil for memory-only operation; sink
// may be nil for a silent heat tracker.
func New(cfg Config, equity EquityProvider, store database.CampaignStore, sink heat.AlertSink, logger zerolog.Logger) *Engine {
	log := logger.With().Str("component", "engine").Logger()
	return &Engine{
		cfg:       cfg,
		detector:  patterns.NewDetector(cfg.DetectorConfig, logger),
		assembler: signal.NewAssembler(cfg.SignalConfig, logger),
		allocator: risk.NewAllocator(cfg.RiskConfig, logger),
		sizer:     risk.NewSizer(cfg.SizerConfig),
		tracker:   heat.NewTracker(cfg.HeatConfig, sink, logger),
		equity:    equity,
		store:     store,
		logger:    log,
		campaigns: make(map[string]*campaign.Campaign),
		sessions:  make(map[string]*patterns.Session),
		queue:     ranker.NewQueue(),
	}
}

// Tracker exposes the heat tracker for lifecycle wiring and inspection.
func (e *Engine) Tracker() *heat.Tracker { return e.tracker }

// ProcessBar runs detection, assembly, allocation and sizing for bar i of
// the window. A nil candidate with a non-empty reason is a domain
// rejection; nil candidate with an empty reason means no structural event
// fired. Errors are computation failures fatal to this bar's candidate
// only.
func (e *Engine) ProcessBar(w *market.Window, i int) (*signal.Candidate, string, error) {
	tr := market.ComputeRange(w, i, e.cfg.RangeConfig)
	if tr == nil {
		return nil, "", nil
	}

	ph := phase.Classify(w, i, tr)
	volumeRatio, ok := w.VolumeRatio(i)
	if !ok {
		return nil, signal.ReasonInsufficientEvidence, nil
	}

	sess := e.sessionFor(w.Symbol())
	ev := e.detector.Detect(w, i, tr, volumeRatio, ph, sess)
	if ev == nil {
		return nil, "", nil
	}

	cand, reason, err := e.assembler.Assemble(ev)
	if err != nil {
		return nil, "", err
	}
	if cand == nil {
		return nil, reason, nil
	}

	liqSession := market.SessionOf(ev.Bar.Timestamp)
	riskPct, err := e.allocator.Allocate(ev.Type, ev.VolumeRatio, liqSession, nil)
	if err != nil {
		return nil, "", err
	}

	equity := e.equity.Equity()
	shares, committed, err := e.sizer.Size(equity, riskPct, cand.Entry, cand.Stop)
	if err != nil {
		e.logger.Info().Err(err).
			Str("symbol", cand.Symbol).
			Str("pattern", cand.Pattern.String()).
			Msg("candidate rejected at sizing")
		return nil, fmt.Sprintf("sizing: %v", err), nil
	}

	cand.RiskPct = riskPct
	cand.Shares = shares

	e.logger.Info().
		Str("symbol", cand.Symbol).
		Str("pattern", cand.Pattern.String()).
		Str("phase", string(cand.Phase)).
		Int("confidence", cand.Confidence).
		Str("reward_risk", cand.RewardRisk.StringFixed(2)).
		Str("risk_pct", riskPct.StringFixed(2)).
		Int64("shares", shares).
		Str("committed_risk", committed.StringFixed(2)).
		Msg("candidate assembled")
	return cand, "", nil
}

// Enqueue adds a candidate to the priority queue.
func (e *Engine) Enqueue(c *signal.Candidate) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	e.queue.Push(c)
}

// NextCandidate pops the highest-priority queued candidate, or nil.
func (e *Engine) NextCandidate() *signal.Candidate {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return e.queue.Pop()
}

// QueueSnapshot returns the current priority ordering without mutation.
func (e *Engine) QueueSnapshot() []*signal.Candidate {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return e.queue.Snapshot()
}

// EnsureCampaign returns the campaign for the symbol's trading range,
// creating and persisting a new Active one when none exists.
func (e *Engine) EnsureCampaign(ctx context.Context, symbol string, tr market.TradingRange) (*campaign.Campaign, error) {
	id := campaign.CampaignID(symbol, tr.Start)

	e.campaignMu.Lock()
	c, ok := e.campaigns[id]
	if !ok {
		c = campaign.New(symbol, tr, e.logger)
		e.campaigns[id] = c
	}
	e.campaignMu.Unlock()

	if !ok {
		e.persist(ctx, c, 0)
	}
	return c, nil
}

// Campaign returns a tracked campaign by identity, or nil.
func (e *Engine) Campaign(id string) *campaign.Campaign {
	e.campaignMu.Lock()
	defer e.campaignMu.Unlock()
	return e.campaigns[id]
}

// Admit runs the serialized admission sequence: heat gate, campaign
// ceilings, heat commit, persistence. On success the candidate is stamped
// with its campaign and the position is returned.
func (e *Engine) Admit(ctx context.Context, c *campaign.Campaign, cand *signal.Candidate) (*campaign.Position, error) {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()

	equity := e.equity.Equity()
	committed := cand.CommittedRisk()
	if !e.tracker.CanAdmit(equity, committed) {
		e.logger.Warn().
			Str("symbol", cand.Symbol).
			Str("campaign_id", c.ID).
			Str("committed_risk", committed.StringFixed(2)).
			Str("heat_pct", e.tracker.HeatPct(equity).StringFixed(2)).
			Msg("admission blocked by portfolio heat")
		return nil, fmt.Errorf("%w: committed=%s", ErrHeatCeiling, committed.StringFixed(2))
	}

	expected := c.Version()
	pos, err := c.Admit(campaign.AdmitRequest{
		Pattern:   cand.Pattern,
		Entry:     cand.Entry,
		Stop:      cand.Stop,
		Target:    cand.Target,
		Shares:    cand.Shares,
		RiskPct:   cand.RiskPct,
		EntryTime: cand.BarTime,
	}, expected)
	if err != nil {
		return nil, err
	}

	e.tracker.AddRisk(c.ID, committed)
	cand.CampaignID = c.ID
	e.tracker.CheckAlerts(equity, time.Now().UTC())
	e.persist(ctx, c, expected)
	return pos, nil
}

// ReleasePosition closes all remaining shares of a position at price and
// releases its committed risk from the heat tracker.
func (e *Engine) ReleasePosition(ctx context.Context, c *campaign.Campaign, positionID string, price decimal.Decimal) error {
	var released decimal.Decimal
	for _, p := range c.Positions() {
		if p.ID == positionID {
			released = p.StopPrice.Sub(p.EntryPrice).Abs().
				Mul(decimal.NewFromInt(p.RemainingShares))
			break
		}
	}

	expected := c.Version()
	if err := c.ClosePosition(positionID, price, expected); err != nil {
		return err
	}
	e.tracker.ReleaseRisk(c.ID, released)
	e.persist(ctx, c, expected)
	return nil
}

// CompleteCampaign terminates a campaign successfully and removes its heat
// contribution.
func (e *Engine) CompleteCampaign(ctx context.Context, c *campaign.Campaign, at time.Time) error {
	expected := c.Version()
	if err := c.Complete(at, expected); err != nil {
		return err
	}
	e.tracker.RemoveCampaign(c.ID)
	e.persist(ctx, c, expected)
	return nil
}

// InvalidateCampaign terminates a campaign on structural failure and
// removes its heat contribution. Open positions are left to the caller to
// unwind; their risk no longer counts against heat once the thesis is dead.
func (e *Engine) InvalidateCampaign(ctx context.Context, c *campaign.Campaign, reason string, at time.Time) error {
	expected := c.Version()
	if err := c.Invalidate(reason, at, expected); err != nil {
		return err
	}
	e.tracker.RemoveCampaign(c.ID)
	e.persist(ctx, c, expected)
	return nil
}

// HeatSummary returns the current portfolio heat snapshot.
func (e *Engine) HeatSummary() heat.Summary {
	return e.tracker.Summary(e.equity.Equity())
}

// persist saves a campaign snapshot best-effort. Persistence failures are
// logged, never propagated: the in-memory campaign remains authoritative
// for the running process.
func (e *Engine) persist(ctx context.Context, c *campaign.Campaign, expectedVersion int64) {
	if e.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, e.cfg.StoreTimeout)
	defer cancel()
	if err := e.store.Save(sctx, c.Record(), expectedVersion); err != nil {
		e.logger.Error().Err(err).
			Str("campaign_id", c.ID).
			Msg("campaign persistence failed")
	}
}

func (e *Engine) sessionFor(symbol string) *patterns.Session {
	e.sessionMu.Lock()
	defer e.sessionMu.Unlock()
	s, ok := e.sessions[symbol]
	if !ok {
		s = patterns.NewSession(symbol, e.cfg.DetectorConfig.CooldownBars)
		e.sessions[symbol] = s
	}
	return s
}
