package discordapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_SendChannelMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/channels/chan1/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bot test-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["content"] != "hello" {
			t.Errorf("content = %q", payload["content"])
		}
		json.NewEncoder(w).Encode(Message{ID: "msg-42", ChannelID: "chan1", Content: "hello"})
	}))
	defer server.Close()

	c := &Client{Token: "test-token", BaseURL: server.URL}
	id, err := c.SendChannelMessage(context.Background(), "chan1", "hello")
	if err != nil {
		t.Fatalf("SendChannelMessage() error = %v", err)
	}
	if id != "msg-42" {
		t.Errorf("message id = %q, want msg-42", id)
	}
}

func TestClient_SendChannelMessage_ErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Missing Permissions"}`, http.StatusForbidden)
	}))
	defer server.Close()

	c := &Client{Token: "test-token", BaseURL: server.URL}
	if _, err := c.SendChannelMessage(context.Background(), "chan1", "hello"); err == nil {
		t.Error("SendChannelMessage() error = nil, want error on 403")
	}
}

func TestClient_SetChannelName(t *testing.T) {
	var patched string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/channels/chan1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		patched = payload["name"]
		json.NewEncoder(w).Encode(Channel{ID: "chan1", Name: patched})
	}))
	defer server.Close()

	c := &Client{Token: "test-token", BaseURL: server.URL}
	if err := c.SetChannelName(context.Background(), "chan1", "general-live"); err != nil {
		t.Fatalf("SetChannelName() error = %v", err)
	}
	if patched != "general-live" {
		t.Errorf("patched name = %q", patched)
	}
}

func TestClient_MentionFor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/chan1":
			json.NewEncoder(w).Encode(Channel{ID: "chan1", Name: "general", GuildID: "guild1"})
		case "/guilds/guild1/members/u1":
			json.NewEncoder(w).Encode(GuildMember{})
		case "/guilds/guild1/members/gone":
			http.Error(w, `{"message":"Unknown Member"}`, http.StatusNotFound)
		case "/guilds/guild1/roles":
			json.NewEncoder(w).Encode([]Role{{ID: "r1", Name: "streamfans", Mentionable: true}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := &Client{Token: "test-token", BaseURL: server.URL}
	ctx := context.Background()

	tests := []struct {
		name       string
		targetType string
		targetID   string
		want       string
		wantOK     bool
	}{
		{"existing member", "user", "u1", "<@u1>", true},
		{"vanished member", "user", "gone", "", false},
		{"existing role", "role", "r1", "<@&r1>", true},
		{"unknown role", "role", "r9", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.MentionFor(ctx, "chan1", tt.targetType, tt.targetID)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("MentionFor() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
