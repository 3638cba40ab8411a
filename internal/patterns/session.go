package patterns

// Session holds the per-symbol detection state: the cooldown since the last
// accepted event and the index of the last accepted breakout (consumed by
// the pullback detector). It replaces hidden module-level maps so the state
// is testable and its ownership explicit; one Session serves exactly one
// (symbol, timeframe) stream and must be used in bar-arrival order.
type Session struct {
	symbol            string
	cooldownBars      int
	lastEventIndex    int
	lastBreakoutIndex int
}

// NewSession creates a detection session for one symbol. cooldownBars <= 0
// selects the default of 10 bars.
func NewSession(symbol string, cooldownBars int) *Session {
	if cooldownBars <= 0 {
		cooldownBars = 10
	}
	return &Session{
		symbol:            symbol,
		cooldownBars:      cooldownBars,
		lastEventIndex:    -1,
		lastBreakoutIndex: -1,
	}
}

// Symbol returns the stream symbol this session serves.
func (s *Session) Symbol() string { return s.symbol }

// InCooldown reports whether bar i still falls inside the cooldown window
// after the last accepted event.
func (s *Session) InCooldown(i int) bool {
	return s.lastEventIndex >= 0 && i-s.lastEventIndex < s.cooldownBars
}

// LastBreakoutIndex returns the index of the last accepted breakout, or -1.
func (s *Session) LastBreakoutIndex() int { return s.lastBreakoutIndex }

// recordEvent marks bar i as the last accepted event; breakouts are also
// remembered for the pullback detector.
func (s *Session) recordEvent(t EventType, i int) {
	s.lastEventIndex = i
	if t == Breakout {
		s.lastBreakoutIndex = i
	}
}
