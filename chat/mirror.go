// Package chat mirrors live announcements into a Twitch chat channel.
package chat

import (
	"context"
	"log/slog"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Mirror relays announcement text into one Twitch channel. Announce is safe
// before the connection is up; messages sent while disconnected are dropped
// by the IRC client, which is acceptable for a best-effort mirror.
type Mirror struct {
	channel string

	mu     sync.Mutex
	client *twitch.Client
}

// NewMirror builds a mirror for one channel using bot credentials.
func NewMirror(username, oauthToken, channel string) *Mirror {
	return &Mirror{
		channel: channel,
		client:  twitch.NewClient(username, oauthToken),
	}
}

// Run connects and stays connected until the context is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		client := m.client
		m.mu.Unlock()
		client.Disconnect()
		close(done)
	}()

	m.client.Join(m.channel)
	if err := m.client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

// Announce relays one line into the mirror channel.
func (m *Mirror) Announce(_ context.Context, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client.Say(m.channel, content)
}
