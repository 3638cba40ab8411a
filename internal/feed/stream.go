// Package feed consumes closed bars from a WebSocket market-data stream and
// delivers them, time-ordered and deduplicated, to the pipeline. Prices
// arrive as decimal strings and stay decimal end to end.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/market"
)

// ErrNotRunning is returned by Stop when the stream was never started.
var ErrNotRunning = errors.New("stream is not running")

// barMessage is the wire format of one closed bar.
type barMessage struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Open      string `json:"open"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Close     string `json:"close"`
	Volume    int64  `json:"volume"`
	Closed    bool   `json:"closed"`
}

type subscribeMessage struct {
	Action    string   `json:"action"`
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe"`
}

// BarHandler receives each accepted bar in arrival order.
type BarHandler func(bar market.Bar)

// Config holds stream connection settings.
type Config struct {
	URL       string
	Symbols   []string
	Timeframe string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Stream maintains the WebSocket connection with reconnect backoff. Bars
// with a timestamp at or before the last delivered one for their stream are
// dropped, so replays after a reconnect do not reach the pipeline twice.
type Stream struct {
	cfg     Config
	handler BarHandler
	logger  zerolog.Logger

	lastSeen map[string]int64 // "symbol/timeframe" -> last delivered ms
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewStream creates a stream. The handler is called from the read loop
// goroutine; it must not block for long.
func NewStream(cfg Config, handler BarHandler, logger zerolog.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 60 * time.Second
	}
	return &Stream{
		cfg:      cfg,
		handler:  handler,
		logger:   logger.With().Str("component", "feed").Logger(),
		lastSeen: make(map[string]int64),
	}
}

// Start launches the connect/read loop. It returns immediately; the loop
// runs until the context is cancelled or Stop is called.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the stream and waits for the loop to exit.
func (s *Stream) Stop() error {
	if s.cancel == nil {
		return ErrNotRunning
	}
	s.cancel()
	<-s.done
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	delay := s.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).
			Dur("retry_in", delay).
			Msg("stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// connectAndRead dials, subscribes and reads until the connection drops or
// the context is cancelled. A successful subscribe resets the backoff by
// returning through the caller's loop.
func (s *Stream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	sub := subscribeMessage{
		Action:    "subscribe",
		Symbols:   s.cfg.Symbols,
		Timeframe: s.cfg.Timeframe,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.logger.Info().
		Strs("symbols", s.cfg.Symbols).
		Str("timeframe", s.cfg.Timeframe).
		Msg("stream connected")

	// Close the connection when the context is cancelled so ReadMessage
	// unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}
		s.handleMessage(payload)
	}
}

func (s *Stream) handleMessage(payload []byte) {
	var msg barMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Debug().Err(err).Msg("dropping undecodable message")
		return
	}
	if !msg.Closed || msg.Symbol == "" {
		return
	}

	key := msg.Symbol + "/" + msg.Timeframe
	if msg.Timestamp <= s.lastSeen[key] {
		return
	}

	bar, err := msg.toBar()
	if err != nil {
		s.logger.Warn().Err(err).
			Str("symbol", msg.Symbol).
			Int64("timestamp", msg.Timestamp).
			Msg("dropping malformed bar")
		return
	}

	s.lastSeen[key] = msg.Timestamp
	s.handler(bar)
}

func (m *barMessage) toBar() (market.Bar, error) {
	open, err := decimal.NewFromString(m.Open)
	if err != nil {
		return market.Bar{}, fmt.Errorf("bad open %q: %w", m.Open, err)
	}
	high, err := decimal.NewFromString(m.High)
	if err != nil {
		return market.Bar{}, fmt.Errorf("bad high %q: %w", m.High, err)
	}
	low, err := decimal.NewFromString(m.Low)
	if err != nil {
		return market.Bar{}, fmt.Errorf("bad low %q: %w", m.Low, err)
	}
	closePrice, err := decimal.NewFromString(m.Close)
	if err != nil {
		return market.Bar{}, fmt.Errorf("bad close %q: %w", m.Close, err)
	}

	bar := market.Bar{
		Symbol:    m.Symbol,
		Timeframe: m.Timeframe,
		Timestamp: time.UnixMilli(m.Timestamp).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    m.Volume,
	}
	if err := bar.Validate(); err != nil {
		return market.Bar{}, err
	}
	return bar, nil
}
