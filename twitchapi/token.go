package twitchapi

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const tokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials)
// token via the oauth2 client-credentials flow. The token is reused until it
// expires; it is not proactively invalidated on a mid-lifetime 401.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // overridable for tests; defaults to the Twitch endpoint

	mu  sync.Mutex
	src oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.src == nil {
		if ts.ClientID == "" || ts.ClientSecret == "" {
			ts.mu.Unlock()
			return "", errors.New("missing client id/secret for twitch app token")
		}
		u := ts.TokenURL
		if u == "" {
			u = tokenURL
		}
		cfg := &clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     u,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The source caches across calls, so bind it to a long-lived context.
		ts.src = cfg.TokenSource(context.WithoutCancel(ctx))
	}
	src := ts.src
	ts.mu.Unlock()

	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// static seeds the source with a fixed token; used by tests to avoid the
// OAuth round trip.
func (ts *TokenSource) static(token string) {
	ts.mu.Lock()
	ts.src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	ts.mu.Unlock()
}
