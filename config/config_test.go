package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET", "EVENTSUB_CALLBACK_URL",
		"EVENTSUB_PATH", "EVENTSUB_SECRET", "DISCORD_API_URL", "DB_DSN",
		"TWITCH_RESUBSCRIBE_INTERVAL", "REMINDERS_CHECK_INTERVAL",
		"STREAM_FETCH_RETRY_COUNT", "STREAM_FETCH_RETRY_INTERVAL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.EventSubPath != "/eventsub/callback" {
		t.Errorf("EventSubPath = %q, want /eventsub/callback", cfg.EventSubPath)
	}
	if cfg.DiscordAPIURL != "https://discord.com/api/v10" {
		t.Errorf("DiscordAPIURL = %q", cfg.DiscordAPIURL)
	}
	if cfg.ResubscribeInterval != 12*time.Hour {
		t.Errorf("ResubscribeInterval = %v, want 12h", cfg.ResubscribeInterval)
	}
	if cfg.ReminderInterval != 30*time.Second {
		t.Errorf("ReminderInterval = %v, want 30s", cfg.ReminderInterval)
	}
	if cfg.StreamFetchRetries != 6 {
		t.Errorf("StreamFetchRetries = %d, want 6", cfg.StreamFetchRetries)
	}
	if cfg.StreamFetchDelay != 10*time.Second {
		t.Errorf("StreamFetchDelay = %v, want 10s", cfg.StreamFetchDelay)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn default missing")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TWITCH_RESUBSCRIBE_INTERVAL", "1h")
	t.Setenv("REMINDERS_CHECK_INTERVAL", "10s")
	t.Setenv("STREAM_FETCH_RETRY_COUNT", "3")
	t.Setenv("STREAM_FETCH_RETRY_INTERVAL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ResubscribeInterval != time.Hour {
		t.Errorf("ResubscribeInterval = %v, want 1h", cfg.ResubscribeInterval)
	}
	if cfg.ReminderInterval != 10*time.Second {
		t.Errorf("ReminderInterval = %v, want 10s", cfg.ReminderInterval)
	}
	if cfg.StreamFetchRetries != 3 {
		t.Errorf("StreamFetchRetries = %d, want 3", cfg.StreamFetchRetries)
	}
	if cfg.StreamFetchDelay != 2*time.Second {
		t.Errorf("StreamFetchDelay = %v, want 2s", cfg.StreamFetchDelay)
	}
}

func TestLoad_InvalidRetryCount(t *testing.T) {
	t.Setenv("STREAM_FETCH_RETRY_COUNT", "lots")
	if _, err := Load(); err == nil {
		t.Error("Load() = nil error, want failure for invalid retry count")
	}
}

func TestValidateEventSubReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateEventSubReady(); err == nil {
		t.Error("ValidateEventSubReady() = nil, want error with empty config")
	}
	cfg = &Config{
		TwitchClientID:      "id",
		TwitchClientSecret:  "secret",
		EventSubCallbackURL: "https://example.com/eventsub/callback",
		EventSubSecret:      "s3cret",
	}
	if err := cfg.ValidateEventSubReady(); err != nil {
		t.Errorf("ValidateEventSubReady() = %v, want nil", err)
	}
}

func TestChatMirrorEnabled(t *testing.T) {
	cfg := &Config{TwitchBotUsername: "bot", TwitchOAuthToken: "oauth:x"}
	if cfg.ChatMirrorEnabled() {
		t.Error("ChatMirrorEnabled() = true without mirror channel")
	}
	cfg.TwitchMirrorChannel = "somechannel"
	if !cfg.ChatMirrorEnabled() {
		t.Error("ChatMirrorEnabled() = false with full mirror config")
	}
}
