// Package notification delivers portfolio heat alerts to external sinks.
// Delivery is fire-and-forget: sink failures are logged and never surface
// into the signal pipeline.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-engine/internal/heat"
)

// Alert is the (state, heat %, timestamp) tuple sent to sinks.
type Alert struct {
	State     heat.AlertState `json:"state"`
	HeatPct   decimal.Decimal `json:"heat_pct"`
	Timestamp time.Time       `json:"timestamp"`
}

// Notifier is a single delivery channel.
type Notifier interface {
	Send(alert *Alert) error
	Name() string
	IsEnabled() bool
}

// Manager fans an alert out to all enabled notifiers. It implements
// heat.AlertSink.
type Manager struct {
	notifiers []Notifier
	enabled   bool
	logger    zerolog.Logger
}

// NewManager creates an empty notification manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		enabled: true,
		logger:  logger.With().Str("component", "notification").Logger(),
	}
}

// AddNotifier registers a delivery channel.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// SetEnabled toggles all delivery.
func (m *Manager) SetEnabled(enabled bool) {
	m.enabled = enabled
}

// SendHeatAlert delivers a heat alert to every enabled sink. The last
// delivery error is returned for logging; partial delivery is acceptable.
func (m *Manager) SendHeatAlert(state heat.AlertState, heatPct decimal.Decimal, at time.Time) error {
	if !m.enabled {
		return nil
	}
	alert := &Alert{State: state, HeatPct: heatPct, Timestamp: at}

	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(alert); err != nil {
			m.logger.Error().Err(err).Str("notifier", n.Name()).Msg("alert delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramConfig holds Telegram delivery settings.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// TelegramNotifier sends heat alerts to a Telegram chat.
type TelegramNotifier struct {
	cfg    TelegramConfig
	client *http.Client
}

// NewTelegramNotifier creates a Telegram sink.
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool {
	return t.cfg.Enabled && t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

func (t *TelegramNotifier) Send(alert *Alert) error {
	message := fmt.Sprintf("*Portfolio heat %s*\nHeat: %s%%\nAt: %s",
		alert.State, alert.HeatPct.StringFixed(2), alert.Timestamp.UTC().Format(time.RFC3339))

	payload := map[string]interface{}{
		"chat_id":    t.cfg.ChatID,
		"text":       message,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.cfg.BotToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordConfig holds Discord webhook settings.
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// DiscordNotifier sends heat alerts to a Discord webhook.
type DiscordNotifier struct {
	cfg    DiscordConfig
	client *http.Client
}

// NewDiscordNotifier creates a Discord sink.
func NewDiscordNotifier(cfg DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool {
	return d.cfg.Enabled && d.cfg.WebhookURL != ""
}

func (d *DiscordNotifier) Send(alert *Alert) error {
	color := 0xFFA500 // warning orange
	switch alert.State {
	case heat.StateCritical:
		color = 0xFF4500
	case heat.StateExceeded:
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       fmt.Sprintf("Portfolio heat %s", alert.State),
		"description": fmt.Sprintf("Heat: %s%% of equity", alert.HeatPct.StringFixed(2)),
		"color":       color,
		"timestamp":   alert.Timestamp.UTC().Format(time.RFC3339),
	}
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.cfg.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
