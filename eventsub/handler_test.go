package eventsub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const testSecret = "test-eventsub-secret"

type recordingSink struct {
	mu     sync.Mutex
	events []Notification
	seen   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{seen: make(chan struct{}, 16)}
}

func (s *recordingSink) HandleEvent(_ context.Context, n Notification) {
	s.mu.Lock()
	s.events = append(s.events, n)
	s.mu.Unlock()
	s.seen <- struct{}{}
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func signedRequest(t *testing.T, messageType, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/eventsub/callback", strings.NewReader(body))
	req.Header.Set("Twitch-Eventsub-Message-Id", "msg-1")
	req.Header.Set("Twitch-Eventsub-Message-Timestamp", "2025-03-10T13:00:00Z")
	req.Header.Set("Twitch-Eventsub-Message-Type", messageType)
	req.Header.Set("Twitch-Eventsub-Message-Signature",
		ComputeSignature(testSecret, "msg-1", "2025-03-10T13:00:00Z", []byte(body)))
	return req
}

func TestHandler_ChallengeEcho(t *testing.T) {
	body := `{"subscription":{"id":"s1","type":"stream.online"},"challenge":"pong-token"}`
	h := &Handler{Secret: testSecret}
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, signedRequest(t, "webhook_callback_verification", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got, _ := io.ReadAll(rec.Body)
	if string(got) != "pong-token" {
		t.Errorf("body = %q, want the challenge echoed verbatim", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandler_InvalidSignatureRejected(t *testing.T) {
	body := `{"subscription":{"id":"s1","type":"stream.online"},"event":{"broadcaster_user_id":"777","type":"live"}}`
	sink := newRecordingSink()
	h := &Handler{Secret: testSecret, Sink: sink}

	req := signedRequest(t, "notification", body)
	req.Header.Set("Twitch-Eventsub-Message-Signature", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if sink.count() != 0 {
		t.Error("rejected notification reached the sink")
	}
}

func TestHandler_BadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unparsable json", `{not json`},
		{"missing subscription", `{"event":{"broadcaster_user_id":"777"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handler{Secret: testSecret}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, signedRequest(t, "notification", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHandler_NotificationDispatched(t *testing.T) {
	body := `{"subscription":{"id":"s1","type":"stream.online"},"event":{"broadcaster_user_id":"777","broadcaster_user_name":"Streamer","type":"live"}}`
	sink := newRecordingSink()
	h := &Handler{Secret: testSecret, Sink: sink}
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, signedRequest(t, "notification", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case <-sink.seen:
	case <-time.After(time.Second):
		t.Fatal("notification never reached the sink")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0].Event.BroadcasterUserID != "777" {
		t.Errorf("sink events = %+v", sink.events)
	}
}

func TestHandler_RevocationAcknowledged(t *testing.T) {
	body := `{"subscription":{"id":"s1","type":"stream.online","status":"authorization_revoked"}}`
	h := &Handler{Secret: testSecret}
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, signedRequest(t, "revocation", body))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	sig := ComputeSignature("secret", "id-1", "ts-1", body)
	if !strings.HasPrefix(sig, "sha256=") {
		t.Errorf("signature %q missing prefix", sig)
	}
	if !VerifySignature("secret", "id-1", "ts-1", sig, body) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("secret", "id-1", "ts-1", sig, []byte("tampered")) {
		t.Error("tampered body accepted")
	}
	if VerifySignature("wrong", "id-1", "ts-1", sig, body) {
		t.Error("wrong secret accepted")
	}
}
