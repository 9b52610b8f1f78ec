// Package twitchapi contains helpers to interact with Twitch Helix APIs for
// game, stream, and user lookups and EventSub subscription management, using
// an app access token.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/onnwee/streamherald/telemetry"
)

const helixURL = "https://api.twitch.tv/helix"

const subscriptionsPath = "eventsub/subscriptions"

// HelixClient provides the Helix methods needed for live alerts.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// Game is a Twitch game/category.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// Stream is a live stream as reported by the streams endpoint.
type Stream struct {
	GameID       string `json:"game_id"`
	ThumbnailURL string `json:"thumbnail_url"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	UserName     string `json:"user_name"`
}

// User is a Twitch user profile.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Condition scopes an EventSub subscription to one broadcaster.
type Condition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// Transport tells Twitch where to deliver EventSub callbacks.
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback"`
	Secret   string `json:"secret"`
}

// Subscription is an EventSub subscription as listed by the API.
type Subscription struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Condition Condition `json:"condition"`
}

// streamChangeTypes are the event types that make up one logical
// stream-change subscription per broadcaster.
var streamChangeTypes = []string{"channel.update", "stream.online", "stream.offline"}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetGameInfo returns a game by id, or nil when Twitch knows no such game.
func (hc *HelixClient) GetGameInfo(ctx context.Context, gameID string) (*Game, error) {
	if gameID == "" {
		return nil, nil
	}
	var body struct {
		Data []Game `json:"data"`
	}
	if err := hc.apiGet(ctx, "games", url.Values{"id": {gameID}}, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetStreamInfo returns the live stream for a broadcaster, or nil when the
// streams endpoint has no data yet (offline, or details not published).
func (hc *HelixClient) GetStreamInfo(ctx context.Context, userID string) (*Stream, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.apiGet(ctx, "streams", url.Values{"user_id": {userID}}, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// GetUserInfo resolves a login name to a user profile, or nil when no such
// user exists.
func (hc *HelixClient) GetUserInfo(ctx context.Context, login string) (*User, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.apiGet(ctx, "users", url.Values{"login": {login}}, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}

// ProfileURL returns a user's profile url, optionally without the scheme for
// display contexts.
func ProfileURL(login string, hideScheme bool) string {
	u := "www.twitch.tv/" + strings.ToLower(login)
	if hideScheme {
		return u
	}
	return "https://" + u
}

// Subscriptions lists current EventSub subscriptions.
func (hc *HelixClient) Subscriptions(ctx context.Context) ([]Subscription, error) {
	var body struct {
		Data []Subscription `json:"data"`
	}
	if err := hc.apiGet(ctx, subscriptionsPath, nil, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// CreateSubscription registers one EventSub subscription.
func (hc *HelixClient) CreateSubscription(ctx context.Context, typ string, condition Condition, transport Transport) error {
	payload := struct {
		Type      string    `json:"type"`
		Version   string    `json:"version"`
		Condition Condition `json:"condition"`
		Transport Transport `json:"transport"`
	}{Type: typ, Version: "1", Condition: condition, Transport: transport}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return hc.apiSend(ctx, http.MethodPost, subscriptionsPath, nil, raw)
}

// DeleteSubscription removes one EventSub subscription by id.
func (hc *HelixClient) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	return hc.apiSend(ctx, http.MethodDelete, subscriptionsPath, url.Values{"id": {subscriptionID}}, nil)
}

// ClearSubscriptions deletes every EventSub subscription. Individual delete
// failures are logged and skipped; the resubscription sweep self-heals later.
func (hc *HelixClient) ClearSubscriptions(ctx context.Context) error {
	subs, err := hc.Subscriptions(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := hc.DeleteSubscription(ctx, sub.ID); err != nil {
			slog.Warn("failed to delete eventsub subscription", slog.String("id", sub.ID), slog.Any("err", err))
		}
	}
	return nil
}

// CreateStreamChangeSubscriptions subscribes to a broadcaster's update,
// online, and offline events.
func (hc *HelixClient) CreateStreamChangeSubscriptions(ctx context.Context, userID string, transport Transport) error {
	condition := Condition{BroadcasterUserID: userID}
	for _, typ := range streamChangeTypes {
		if err := hc.CreateSubscription(ctx, typ, condition, transport); err != nil {
			return fmt.Errorf("create %s subscription: %w", typ, err)
		}
	}
	return nil
}

// DeleteStreamChangeSubscriptions removes a broadcaster's stream-change
// subscriptions.
func (hc *HelixClient) DeleteStreamChangeSubscriptions(ctx context.Context, userID string) error {
	subs, err := hc.Subscriptions(ctx)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Condition.BroadcasterUserID != userID {
			continue
		}
		if !slices.Contains(streamChangeTypes, sub.Type) {
			continue
		}
		if err := hc.DeleteSubscription(ctx, sub.ID); err != nil {
			return err
		}
	}
	return nil
}

func (hc *HelixClient) apiGet(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := hc.apiRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	return json.NewDecoder(resp.Body).Decode(out)
}

func (hc *HelixClient) apiSend(ctx context.Context, method, path string, query url.Values, body []byte) error {
	resp, err := hc.apiRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	closeBody(resp)
	return nil
}

// apiRequest performs an authenticated Helix call. A non-2xx status is logged
// with full request context and returned as an error so callers never advance
// local state on a provider failure.
func (hc *HelixClient) apiRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, helixURL+"/"+path, reader)
	if err != nil {
		return nil, err
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respText, _ := io.ReadAll(resp.Body)
		closeBody(resp)
		telemetry.IncProviderAPIErrors()
		slog.Error("twitch api error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respText)))
		return nil, fmt.Errorf("twitch api %s %s: %s", method, path, resp.Status)
	}
	return resp, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
