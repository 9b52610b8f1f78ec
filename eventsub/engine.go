package eventsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/streamherald/alerts"
	"github.com/onnwee/streamherald/telemetry"
	"github.com/onnwee/streamherald/twitchapi"
)

// HelixAPI is the slice of the Helix client the engine needs.
type HelixAPI interface {
	GetGameInfo(ctx context.Context, gameID string) (*twitchapi.Game, error)
	GetStreamInfo(ctx context.Context, userID string) (*twitchapi.Stream, error)
	GetUserInfo(ctx context.Context, login string) (*twitchapi.User, error)
	ClearSubscriptions(ctx context.Context) error
	CreateStreamChangeSubscriptions(ctx context.Context, userID string, transport twitchapi.Transport) error
	DeleteStreamChangeSubscriptions(ctx context.Context, userID string) error
}

// Messenger posts, deletes, and renames on the chat platform carrying alerts.
type Messenger interface {
	SendChannelMessage(ctx context.Context, channelID, content string) (string, error)
	DeleteChannelMessage(ctx context.Context, channelID, messageID string) error
	ChannelName(ctx context.Context, channelID string) (string, error)
	SetChannelName(ctx context.Context, channelID, name string) error
}

// Announcer optionally mirrors live announcements elsewhere (Twitch chat).
type Announcer interface {
	Announce(ctx context.Context, content string)
}

// RetryPolicy bounds the stream-details fetch after a go-live event. Twitch
// often delivers stream.online before the streams endpoint has data.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Engine reacts to verified stream-change events: it maintains announcement
// messages per watching channel, toggles live symbols, and keeps external
// subscriptions in sync with the watched-user set.
type Engine struct {
	Store     *alerts.Store
	API       HelixAPI
	Messenger Messenger
	Transport twitchapi.Transport
	Retry     RetryPolicy
	Mirror    Announcer
}

// HandleEvent dispatches a verified notification by subscription type. An
// unrecognized type is logged and ignored.
func (e *Engine) HandleEvent(ctx context.Context, n Notification) {
	switch n.Subscription.Type {
	case "channel.update":
		e.handleChannelUpdate(ctx, n.Event)
	case "stream.online":
		e.handleStreamOnline(ctx, n.Event)
	case "stream.offline":
		e.handleStreamOffline(ctx, n.Event)
	default:
		slog.Warn("unhandled eventsub subscription type", slog.String("type", n.Subscription.Type))
	}
}

// handleChannelUpdate re-announces with fresh title/category, but only when an
// announcement is already outstanding. Updates while offline are ignored.
func (e *Engine) handleChannelUpdate(ctx context.Context, ev Event) {
	refs, err := e.Store.Messages(ctx, ev.BroadcasterUserID)
	if err != nil {
		slog.Error("failed to read alert messages", slog.Any("err", err))
		return
	}
	if len(refs) == 0 {
		return
	}
	e.clearMessagesAboutUser(ctx, ev.BroadcasterUserID)
	e.createMessagesAboutUser(ctx, ev)
}

func (e *Engine) handleStreamOnline(ctx context.Context, ev Event) {
	if ev.Type != "live" {
		return
	}
	before, err := e.Store.LiveChannels(ctx)
	if err != nil {
		slog.Error("failed to read live channels", slog.Any("err", err))
		return
	}
	// Stale messages from a missed offline event are cleared first.
	e.clearMessagesAboutUser(ctx, ev.BroadcasterUserID)
	e.createMessagesAboutUser(ctx, ev)
	after, err := e.Store.LiveChannels(ctx)
	if err != nil {
		slog.Error("failed to read live channels", slog.Any("err", err))
		return
	}
	telemetry.SetLiveChannels(len(after))
	e.updateLiveSymbols(ctx, before, after)
}

func (e *Engine) handleStreamOffline(ctx context.Context, ev Event) {
	before, err := e.Store.LiveChannels(ctx)
	if err != nil {
		slog.Error("failed to read live channels", slog.Any("err", err))
		return
	}
	e.clearMessagesAboutUser(ctx, ev.BroadcasterUserID)
	after, err := e.Store.LiveChannels(ctx)
	if err != nil {
		slog.Error("failed to read live channels", slog.Any("err", err))
		return
	}
	telemetry.SetLiveChannels(len(after))
	e.updateLiveSymbols(ctx, before, after)
}

// clearMessagesAboutUser deletes every outstanding announcement for a user.
// Individual delete failures (a moderator already removed the message) are
// logged and skipped; the local records are always cleared.
func (e *Engine) clearMessagesAboutUser(ctx context.Context, userID string) {
	refs, err := e.Store.Messages(ctx, userID)
	if err != nil {
		slog.Error("failed to read alert messages", slog.Any("err", err))
		return
	}
	for _, ref := range refs {
		if err := e.Messenger.DeleteChannelMessage(ctx, ref.ChannelID, ref.MessageID); err != nil {
			slog.Warn("failed to delete alert message",
				slog.String("channel_id", ref.ChannelID),
				slog.String("message_id", ref.MessageID),
				slog.Any("err", err))
			continue
		}
		telemetry.IncAlertsDeleted()
	}
	if err := e.Store.RemoveMessages(ctx, userID); err != nil {
		slog.Error("failed to clear alert message records", slog.Any("err", err))
	}
}

// createMessagesAboutUser fetches stream details (with bounded retry for the
// lag between the go-live event and the streams endpoint) and posts one
// announcement per watching channel.
func (e *Engine) createMessagesAboutUser(ctx context.Context, ev Event) {
	stream, err := e.fetchStreamWithRetry(ctx, ev.BroadcasterUserID)
	if err != nil {
		slog.Error("giving up on stream details",
			slog.String("user", ev.BroadcasterUserName),
			slog.Any("err", err))
		return
	}
	if stream == nil || stream.Type != "live" {
		return
	}

	// channel.update payloads carry the new title/category directly; the
	// streams endpoint lags behind them, so the payload wins when present.
	title := stream.Title
	if ev.Title != "" {
		title = ev.Title
	}
	gameID := stream.GameID
	if ev.CategoryID != "" {
		gameID = ev.CategoryID
	}
	gameName := ""
	if game, err := e.API.GetGameInfo(ctx, gameID); err == nil && game != nil {
		gameName = game.Name
	}
	content := announcementContent(stream.UserName, title, gameName)

	channels, err := e.Store.ChannelsForUser(ctx, strings.ToLower(ev.BroadcasterUserName))
	if err != nil {
		slog.Error("failed to read watching channels", slog.Any("err", err))
		return
	}
	var refs []alerts.MessageRef
	for _, channelID := range channels {
		messageID, err := e.Messenger.SendChannelMessage(ctx, channelID, content)
		if err != nil {
			slog.Error("failed to post alert message",
				slog.String("channel_id", channelID), slog.Any("err", err))
			continue
		}
		telemetry.IncAlertsPosted()
		refs = append(refs, alerts.MessageRef{ChannelID: channelID, MessageID: messageID})
	}
	if err := e.Store.AddMessages(ctx, ev.BroadcasterUserID, refs); err != nil {
		slog.Error("failed to record alert messages", slog.Any("err", err))
	}
	if e.Mirror != nil && len(refs) > 0 {
		e.Mirror.Announce(ctx, fmt.Sprintf("%s is live: %s", stream.UserName, title))
	}
}

func announcementContent(userName, title, gameName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** is live!", userName)
	if title != "" {
		fmt.Fprintf(&b, " %s", title)
	}
	if gameName != "" {
		fmt.Fprintf(&b, " [%s]", gameName)
	}
	fmt.Fprintf(&b, "\n%s", twitchapi.ProfileURL(userName, false))
	return b.String()
}

// fetchStreamWithRetry polls the streams endpoint until it has data, up to the
// policy's attempt budget with a fixed delay between attempts.
func (e *Engine) fetchStreamWithRetry(ctx context.Context, userID string) (*twitchapi.Stream, error) {
	attempts := e.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		stream, err := e.API.GetStreamInfo(ctx, userID)
		if err == nil && stream != nil {
			return stream, nil
		}
		if err != nil {
			slog.Warn("stream details fetch failed",
				slog.Int("attempt", attempt), slog.Any("err", err))
		}
		if attempt >= attempts {
			if err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("stream details unavailable after %d attempts", attempts)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.Retry.Delay):
		}
	}
}

// updateLiveSymbols reconciles the live-symbol suffix for every channel whose
// membership in the live set changed. The current name is inspected first so
// a channel already in the desired state is not renamed again.
func (e *Engine) updateLiveSymbols(ctx context.Context, before, after []string) {
	beforeSet := toSet(before)
	afterSet := toSet(after)
	for channelID := range union(beforeSet, afterSet) {
		wantLive := afterSet[channelID]
		if beforeSet[channelID] == wantLive {
			continue
		}
		symbol, found, err := e.Store.LiveSymbol(ctx, channelID)
		if err != nil {
			slog.Error("failed to read live symbol", slog.Any("err", err))
			continue
		}
		if !found || symbol == "" {
			continue
		}
		name, err := e.Messenger.ChannelName(ctx, channelID)
		if err != nil {
			slog.Warn("failed to read channel name",
				slog.String("channel_id", channelID), slog.Any("err", err))
			continue
		}
		hasSuffix := strings.HasSuffix(name, symbol)
		var newName string
		switch {
		case wantLive && !hasSuffix:
			newName = name + symbol
		case !wantLive && hasSuffix:
			newName = strings.TrimSuffix(name, symbol)
		default:
			continue
		}
		if err := e.Messenger.SetChannelName(ctx, channelID, newName); err != nil {
			slog.Warn("failed to update channel name",
				slog.String("channel_id", channelID), slog.Any("err", err))
		}
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func union(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

// SubscribeUser creates the stream-change subscriptions for a broadcaster.
// Called only on the first local channel to watch the user.
func (e *Engine) SubscribeUser(ctx context.Context, userID string) error {
	return e.API.CreateStreamChangeSubscriptions(ctx, userID, e.Transport)
}

// UnsubscribeUser tears down a broadcaster's subscriptions. Called only when
// the last watching channel unsubscribes.
func (e *Engine) UnsubscribeUser(ctx context.Context, userID string) error {
	return e.API.DeleteStreamChangeSubscriptions(ctx, userID)
}

// StartResubscribeLoop clears and recreates all subscriptions at startup and
// on every interval. Full rebuild rather than diffing; redundant calls are the
// cost of self-healing provider-side expiry.
func (e *Engine) StartResubscribeLoop(ctx context.Context, interval time.Duration) {
	e.resubscribeAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.resubscribeAll(ctx)
		}
	}
}

func (e *Engine) resubscribeAll(ctx context.Context) {
	telemetry.IncResubscribeSweeps()
	if err := e.API.ClearSubscriptions(ctx); err != nil {
		slog.Error("failed to clear subscriptions", slog.Any("err", err))
		return
	}
	users, err := e.Store.Users(ctx)
	if err != nil {
		slog.Error("failed to list watched users", slog.Any("err", err))
		return
	}
	telemetry.SetWatchedUsers(len(users))
	for _, login := range users {
		user, err := e.API.GetUserInfo(ctx, login)
		if err != nil {
			slog.Error("failed to resolve watched user",
				slog.String("login", login), slog.Any("err", err))
			continue
		}
		if user == nil {
			slog.Warn("watched user no longer exists", slog.String("login", login))
			continue
		}
		if err := e.API.CreateStreamChangeSubscriptions(ctx, user.ID, e.Transport); err != nil {
			slog.Error("failed to resubscribe user",
				slog.String("login", login), slog.Any("err", err))
		}
	}
	slog.Info("resubscribe sweep complete", slog.Int("users", len(users)))
}
