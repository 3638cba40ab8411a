package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"wyckoff-engine/config"
	"wyckoff-engine/internal/database"
	"wyckoff-engine/internal/engine"
	"wyckoff-engine/internal/feed"
	"wyckoff-engine/internal/heat"
	"wyckoff-engine/internal/logging"
	"wyckoff-engine/internal/market"
	"wyckoff-engine/internal/notification"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	logger.Info().Msg("logger initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Notification manager (heat alert sink)
	var notifyManager *notification.Manager
	if cfg.NotificationConfig.Enabled {
		notifyManager = notification.NewManager(logger)
		if cfg.NotificationConfig.Telegram.Enabled {
			notifyManager.AddNotifier(notification.NewTelegramNotifier(cfg.NotificationConfig.Telegram))
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifyManager.AddNotifier(notification.NewDiscordNotifier(cfg.NotificationConfig.Discord))
		}
		logger.Info().Msg("notification manager initialized")
	}

	// Campaign persistence: Postgres when configured, Redis as hot-state
	// fallback, memory-only otherwise.
	var store database.CampaignStore
	switch {
	case cfg.DatabaseConfig.Enabled && cfg.DatabaseConfig.URL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseConfig.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		pg := database.NewPostgresCampaignStore(pool, logger)
		if err := pg.InitSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize campaign schema")
		}
		store = pg
		logger.Info().Msg("postgres campaign store initialized")
	case cfg.RedisConfig.Enabled:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer client.Close()
		store = database.NewRedisCampaignStore(client, logger)
		logger.Info().Msg("redis campaign store initialized")
	default:
		logger.Info().Msg("no campaign store configured, running memory-only")
	}

	equity := engine.NewStaticEquity(cfg.AccountConfig.Equity)
	var sink heat.AlertSink
	if notifyManager != nil {
		sink = notifyManager
	}

	eng := engine.New(engine.DefaultConfig(), equity, store, sink, logger)
	logger.Info().
		Str("equity", cfg.AccountConfig.Equity.String()).
		Msg("engine initialized")

	// Bar windows per (symbol, timeframe) stream, fed by the WebSocket
	// stream. The handler runs on the feed goroutine, which gives the
	// strict bar-arrival ordering the windows require.
	windows := make(map[string]*market.Window)
	handler := func(bar market.Bar) {
		key := bar.Symbol + "/" + bar.Timeframe
		w, ok := windows[key]
		if !ok {
			w = market.NewWindow(bar.Symbol, bar.Timeframe)
			windows[key] = w
		}
		if err := w.Append(bar); err != nil {
			logger.Warn().Err(err).Str("symbol", bar.Symbol).Msg("bar rejected")
			return
		}

		i := w.Len() - 1
		cand, reason, err := eng.ProcessBar(w, i)
		if err != nil {
			logger.Error().Err(err).Str("symbol", bar.Symbol).Msg("bar processing failed")
			return
		}
		if cand == nil {
			if reason != "" {
				logger.Debug().Str("symbol", bar.Symbol).Str("reason", reason).Msg("candidate rejected")
			}
			return
		}

		c, err := eng.EnsureCampaign(ctx, cand.Symbol, cand.Range)
		if err != nil {
			logger.Error().Err(err).Str("symbol", cand.Symbol).Msg("campaign lookup failed")
			return
		}
		if _, err := eng.Admit(ctx, c, cand); err != nil {
			logger.Warn().Err(err).
				Str("symbol", cand.Symbol).
				Str("campaign_id", c.ID).
				Msg("candidate not admitted")
			eng.Enqueue(cand)
			return
		}
		logger.Info().
			Str("symbol", cand.Symbol).
			Str("campaign_id", c.ID).
			Str("heat_pct", eng.HeatSummary().HeatPct.StringFixed(2)).
			Msg("candidate admitted")
	}

	if cfg.FeedConfig.Enabled {
		stream := feed.NewStream(feed.Config{
			URL:               cfg.FeedConfig.URL,
			Symbols:           cfg.FeedConfig.Symbols,
			Timeframe:         cfg.FeedConfig.Timeframe,
			ReconnectDelay:    cfg.FeedConfig.ReconnectDelay,
			MaxReconnectDelay: cfg.FeedConfig.MaxReconnectDelay,
		}, handler, logger)
		stream.Start(ctx)
		defer stream.Stop()
		logger.Info().Str("url", cfg.FeedConfig.URL).Msg("bar feed started")
	} else {
		logger.Warn().Msg("bar feed disabled, engine is idle")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
}
