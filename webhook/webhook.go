// Package webhook hosts the legacy hub-style webhook endpoint: pending
// subscribe/unsubscribe requests are confirmed through a GET challenge, and
// event deliveries arrive as signed POSTs.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/onnwee/streamherald/telemetry"
)

// EventHandler consumes one verified event delivery for a (service, event)
// pair.
type EventHandler func(r *http.Request, body []byte)

// Handler tracks pending subscription confirmations and dispatches signed
// event deliveries. Mount under a prefix so the service name is the final
// path segment, e.g. /hooks/{service}.
type Handler struct {
	Secret string

	mu       sync.Mutex
	pending  map[string]string
	handlers map[string]EventHandler
}

func NewHandler(secret string) *Handler {
	return &Handler{
		Secret:   secret,
		pending:  map[string]string{},
		handlers: map[string]EventHandler{},
	}
}

func pendingKey(service, topic string) string {
	return service + "__" + topic
}

// AddPendingSubscription records that a subscribe or unsubscribe request was
// sent for a topic, so the provider's confirmation can be matched. Call only
// after the outbound request succeeded; a failed request gets no confirmation.
func (h *Handler) AddPendingSubscription(service, topic, mode string) {
	h.mu.Lock()
	h.pending[pendingKey(service, topic)] = mode
	h.mu.Unlock()
}

// HandleEvent registers the consumer for a service's event deliveries.
func (h *Handler) HandleEvent(service, event string, fn EventHandler) {
	h.mu.Lock()
	h.handlers[service+"/"+event] = fn
	h.mu.Unlock()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	service := path.Base(r.URL.Path)
	switch r.Method {
	case http.MethodGet:
		h.confirm(w, r, service)
	case http.MethodPost:
		h.deliver(w, r, service)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// confirm answers the provider's subscription-confirmation challenge. Only an
// exact pending (service, topic, mode) match is accepted; anything else is a
// 404 so an attacker cannot confirm subscriptions this process never made.
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, service string) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	topic := q.Get("hub.topic")
	challenge := q.Get("hub.challenge")

	h.mu.Lock()
	key := pendingKey(service, topic)
	wantMode, found := h.pending[key]
	if found && wantMode == mode {
		delete(h.pending, key)
	}
	h.mu.Unlock()

	if !found || wantMode != mode {
		slog.Warn("unexpected webhook confirmation",
			slog.String("service", service),
			slog.String("topic", topic),
			slog.String("mode", mode))
		http.Error(w, "no matching pending subscription", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		slog.Warn("failed to write challenge response", slog.Any("err", err))
	}
}

// deliver verifies x-hub-signature over the raw body and dispatches to the
// registered handler. A bad signature or unknown event is logged and dropped
// with a 200 so the provider does not retry forged or unroutable deliveries.
func (h *Handler) deliver(w http.ResponseWriter, r *http.Request, service string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !h.verify(r.Header.Get("x-hub-signature"), body) {
		telemetry.IncSignatureFailures()
		slog.Warn("webhook signature mismatch", slog.String("service", service))
		w.WriteHeader(http.StatusOK)
		return
	}

	event := r.Header.Get("x-event-type")
	h.mu.Lock()
	fn := h.handlers[service+"/"+event]
	h.mu.Unlock()
	if fn == nil {
		slog.Warn("no handler for webhook event",
			slog.String("service", service), slog.String("event", event))
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	fn(r, body)
}

func (h *Handler) verify(signature string, body []byte) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
