// Command streamherald posts live alerts for watched Twitch streamers into
// Discord channels and runs a reminder scheduler.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Receives Twitch EventSub callbacks and maintains announcement messages,
//     live-symbol channel suffixes, and external subscriptions.
//   - Listens on the Discord gateway for chat commands.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/streamherald/alerts"
	"github.com/onnwee/streamherald/chat"
	"github.com/onnwee/streamherald/commands"
	"github.com/onnwee/streamherald/config"
	"github.com/onnwee/streamherald/db"
	"github.com/onnwee/streamherald/discordapi"
	"github.com/onnwee/streamherald/eventsub"
	"github.com/onnwee/streamherald/reminders"
	"github.com/onnwee/streamherald/server"
	"github.com/onnwee/streamherald/telemetry"
	"github.com/onnwee/streamherald/twitchapi"
	"github.com/onnwee/streamherald/webhook"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("streamherald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx, database); err != nil {
		cancelMigrate()
		slog.Error("migrations failed", slog.Any("err", err))
		os.Exit(1)
	}
	cancelMigrate()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv := &db.KVStore{DB: database}
	alertStore := alerts.NewStore(kv)
	reminderStore := reminders.NewStore(kv)

	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
		},
		ClientID: cfg.TwitchClientID,
	}

	discord := &discordapi.Client{Token: cfg.DiscordBotToken, BaseURL: cfg.DiscordAPIURL}
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Error("discord not configured", slog.Any("err", err))
		os.Exit(1)
	}

	var mirror *chat.Mirror
	if cfg.ChatMirrorEnabled() {
		mirror = chat.NewMirror(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchMirrorChannel)
		go mirror.Run(ctx)
	}

	engine := &eventsub.Engine{
		Store:     alertStore,
		API:       helix,
		Messenger: discord,
		Transport: twitchapi.Transport{
			Method:   "webhook",
			Callback: cfg.EventSubCallbackURL,
			Secret:   cfg.EventSubSecret,
		},
		Retry: eventsub.RetryPolicy{
			MaxAttempts: cfg.StreamFetchRetries,
			Delay:       cfg.StreamFetchDelay,
		},
	}
	if mirror != nil {
		engine.Mirror = mirror
	}

	if err := cfg.ValidateEventSubReady(); err != nil {
		slog.Warn("eventsub disabled", slog.Any("err", err))
	} else {
		go engine.StartResubscribeLoop(ctx, cfg.ResubscribeInterval)
	}

	go reminders.StartScheduler(ctx, reminderStore, discord, cfg.ReminderInterval)

	dispatcher := &commands.Dispatcher{
		Alerts:        alertStore,
		Reminders:     reminderStore,
		Subs:          engine,
		Twitch:        helix,
		Chat:          discord,
		SweepInterval: cfg.ReminderInterval,
	}
	gateway := &discordapi.Gateway{Client: discord}
	gateway.OnMessage = func(ctx context.Context, msg discordapi.InboundMessage) {
		dispatcher.HandleMessage(ctx, msg, gateway.BotUserID())
	}
	go gateway.Run(ctx)

	esHandler := &eventsub.Handler{Secret: cfg.EventSubSecret, Sink: engine}
	hook := webhook.NewHandler(cfg.WebhookSecret)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	slog.Info("starting http server", slog.String("addr", addr))
	if err := server.Start(ctx, server.Deps{
		DB:           database,
		EventSubPath: cfg.EventSubPath,
		EventSub:     esHandler,
		Webhook:      hook,
		AlertStatus:  alertStore,
	}, addr); err != nil {
		os.Exit(1)
	}
}
