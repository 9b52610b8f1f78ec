package eventsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/streamherald/telemetry"
	"github.com/onnwee/streamherald/twitchapi"
)

// Message types sent in the Twitch-Eventsub-Message-Type header.
const (
	messageTypeVerification = "webhook_callback_verification"
	messageTypeRevocation   = "revocation"
	messageTypeNotification = "notification"
)

// Event is the payload of a stream-change notification. Title and CategoryID
// are only populated on channel.update events; the streams endpoint lags
// behind those, so they override the fetched metadata when present.
type Event struct {
	BroadcasterUserID   string `json:"broadcaster_user_id"`
	BroadcasterUserName string `json:"broadcaster_user_name"`
	Type                string `json:"type"`
	Title               string `json:"title"`
	CategoryID          string `json:"category_id"`
}

// Notification is a verified EventSub callback body.
type Notification struct {
	Subscription *twitchapi.Subscription `json:"subscription"`
	Challenge    string                  `json:"challenge"`
	Event        Event                   `json:"event"`
}

// EventSink consumes verified notifications after the HTTP response is sent.
type EventSink interface {
	HandleEvent(ctx context.Context, n Notification)
}

// Handler verifies and acknowledges EventSub callbacks. Notifications are
// handed to the sink on a detached context so slow downstream work (message
// posting, stream-details retries) never delays the 200 Twitch expects.
type Handler struct {
	Secret string
	Sink   EventSink
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.IncCallbacksReceived()
	log := telemetry.LoggerWithCorr(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		telemetry.IncCallbacksRejected()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	messageID := r.Header.Get("Twitch-Eventsub-Message-Id")
	timestamp := r.Header.Get("Twitch-Eventsub-Message-Timestamp")
	signature := r.Header.Get("Twitch-Eventsub-Message-Signature")
	if !VerifySignature(h.Secret, messageID, timestamp, signature, body) {
		telemetry.IncCallbacksRejected()
		telemetry.IncSignatureFailures()
		log.Warn("eventsub signature mismatch", slog.String("message_id", messageID))
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		telemetry.IncCallbacksRejected()
		log.Warn("eventsub body unparsable", slog.Any("err", err))
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if n.Subscription == nil {
		telemetry.IncCallbacksRejected()
		log.Warn("eventsub body missing subscription")
		http.Error(w, "missing subscription", http.StatusBadRequest)
		return
	}

	switch r.Header.Get("Twitch-Eventsub-Message-Type") {
	case messageTypeVerification:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(n.Challenge)); err != nil {
			log.Warn("failed to write challenge response", slog.Any("err", err))
		}
	case messageTypeRevocation:
		log.Warn("eventsub subscription revoked",
			slog.String("type", n.Subscription.Type),
			slog.String("status", n.Subscription.Status))
		w.WriteHeader(http.StatusOK)
	case messageTypeNotification:
		w.WriteHeader(http.StatusOK)
		if h.Sink != nil {
			ctx := context.WithoutCancel(r.Context())
			go h.Sink.HandleEvent(ctx, n)
		}
	default:
		log.Warn("unknown eventsub message type",
			slog.String("type", r.Header.Get("Twitch-Eventsub-Message-Type")))
		w.WriteHeader(http.StatusOK)
	}
}
