// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CallbacksReceived  prometheus.Counter
	CallbacksRejected  prometheus.Counter
	SignatureFailures  prometheus.Counter
	AlertsPosted       prometheus.Counter
	AlertsDeleted      prometheus.Counter
	ResubscribeSweeps  prometheus.Counter
	RemindersFiredCtr  prometheus.Counter
	ProviderAPIErrors  prometheus.Counter

	// Gauges
	WatchedUsersGauge prometheus.Gauge
	LiveChannelsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CallbacksReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_callbacks_received_total", Help: "Inbound EventSub callbacks accepted"})
		CallbacksRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_callbacks_rejected_total", Help: "Inbound EventSub callbacks rejected (bad signature or body)"})
		SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_signature_failures_total", Help: "Inbound requests failing HMAC verification"})
		AlertsPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_alerts_posted_total", Help: "Live announcement messages posted"})
		AlertsDeleted = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_alerts_deleted_total", Help: "Live announcement messages deleted"})
		ResubscribeSweeps = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_resubscribe_sweeps_total", Help: "Full EventSub resubscription sweeps run"})
		RemindersFiredCtr = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_reminders_fired_total", Help: "Reminders announced and consumed"})
		ProviderAPIErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "herald_provider_api_errors_total", Help: "Non-success responses from the Twitch API"})

		WatchedUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_watched_users", Help: "Streamers with at least one subscribing channel"})
		LiveChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "herald_live_channels", Help: "Channels with an outstanding live announcement"})
	})
}

// Counter helpers are nil-safe so library code can record without caring
// whether Init ran (it doesn't in unit tests).

func IncCallbacksReceived() { inc(CallbacksReceived) }
func IncCallbacksRejected() { inc(CallbacksRejected) }
func IncSignatureFailures() { inc(SignatureFailures) }
func IncAlertsPosted()      { inc(AlertsPosted) }
func IncAlertsDeleted()     { inc(AlertsDeleted) }
func IncResubscribeSweeps() { inc(ResubscribeSweeps) }
func IncRemindersFired()    { inc(RemindersFiredCtr) }
func IncProviderAPIErrors() { inc(ProviderAPIErrors) }

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// SetWatchedUsers records the current watched-streamer count.
func SetWatchedUsers(n int) {
	if WatchedUsersGauge != nil {
		WatchedUsersGauge.Set(float64(n))
	}
}

// SetLiveChannels records the current live-channel count.
func SetLiveChannels(n int) {
	if LiveChannelsGauge != nil {
		LiveChannelsGauge.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
