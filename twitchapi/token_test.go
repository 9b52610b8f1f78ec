package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenSource_Get(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("client_id") != "id" || r.Form.Get("client_secret") != "secret" {
			t.Errorf("credentials not sent in params: %v", r.Form)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "app-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	ts := &TokenSource{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL}
	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "app-token" {
		t.Errorf("Get() = %q, want app-token", tok)
	}

	// A second call within the token lifetime reuses the cached token.
	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() second call error = %v", err)
	}
	if requests != 1 {
		t.Errorf("token endpoint hit %d times, want 1", requests)
	}
}

func TestTokenSource_MissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Error("Get() with no credentials: error = nil, want error")
	}
}
