// Package commands parses bot-mention chat commands and drives the alert and
// reminder stores: subscription management, live-symbol configuration, and
// reminder scheduling.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/streamherald/alerts"
	"github.com/onnwee/streamherald/discordapi"
	"github.com/onnwee/streamherald/reminders"
	"github.com/onnwee/streamherald/timeparse"
	"github.com/onnwee/streamherald/twitchapi"
)

// Subscriber manages the external stream-change subscriptions for a user.
type Subscriber interface {
	SubscribeUser(ctx context.Context, userID string) error
	UnsubscribeUser(ctx context.Context, userID string) error
}

// TwitchLookup resolves Twitch logins.
type TwitchLookup interface {
	GetUserInfo(ctx context.Context, login string) (*twitchapi.User, error)
}

// Chat is the slice of the Discord client the dispatcher needs.
type Chat interface {
	SendChannelMessage(ctx context.Context, channelID, content string) (string, error)
	GetChannel(ctx context.Context, channelID string) (*discordapi.Channel, error)
	SearchGuildMembers(ctx context.Context, guildID, query string) ([]discordapi.GuildMember, error)
	GuildRoles(ctx context.Context, guildID string) ([]discordapi.Role, error)
}

// Dispatcher routes bot-mention messages to command handlers.
type Dispatcher struct {
	Alerts    *alerts.Store
	Reminders *reminders.Store
	Subs      Subscriber
	Twitch    TwitchLookup
	Chat      Chat

	// SweepInterval is the reminder scheduler tick; reminders due sooner than
	// this would be announced late or not at all, so they are refused.
	SweepInterval time.Duration

	// Now is replaceable in tests; defaults to time.Now.
	Now func() time.Time
}

var mentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)
var roleMentionPattern = regexp.MustCompile(`^<@&(\d+)>$`)

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// HandleMessage processes one inbound chat message. Messages that do not
// start by mentioning the bot are ignored.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg discordapi.InboundMessage, botUserID string) {
	fields := strings.Fields(msg.Content)
	if len(fields) < 2 {
		return
	}
	m := mentionPattern.FindStringSubmatch(fields[0])
	if m == nil || m[1] != botUserID {
		return
	}
	command := strings.ToLower(fields[1])
	args := fields[2:]
	rest := strings.TrimSpace(msg.Content[strings.Index(msg.Content, fields[1])+len(fields[1]):])

	switch command {
	case "sub":
		d.handleSub(ctx, msg, args)
	case "unsub":
		d.handleUnsub(ctx, msg, args)
	case "subs":
		d.handleSubs(ctx, msg)
	case "livesymbol":
		d.handleLiveSymbol(ctx, msg, args)
	case "remind":
		d.handleRemind(ctx, msg, rest)
	case "reminders":
		d.handleReminders(ctx, msg)
	case "unremind":
		d.handleUnremind(ctx, msg, args)
	default:
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("Unknown command `%s`.", command))
	}
}

func (d *Dispatcher) reply(ctx context.Context, channelID, content string) {
	if _, err := d.Chat.SendChannelMessage(ctx, channelID, content); err != nil {
		slog.Error("failed to send reply", slog.String("channel_id", channelID), slog.Any("err", err))
	}
}

// handleSub subscribes the channel to one or more Twitch users. The external
// subscription is created before the local edge is persisted, and only on the
// first watching channel, so a provider failure never leaves a phantom edge.
func (d *Dispatcher) handleSub(ctx context.Context, msg discordapi.InboundMessage, args []string) {
	if len(args) == 0 {
		d.reply(ctx, msg.ChannelID, "Usage: sub <twitch username>…")
		return
	}
	for _, arg := range args {
		username := strings.ToLower(arg)
		user, err := d.Twitch.GetUserInfo(ctx, username)
		if err != nil {
			d.reply(ctx, msg.ChannelID, fmt.Sprintf("Could not look up **%s** right now.", username))
			continue
		}
		if user == nil {
			d.reply(ctx, msg.ChannelID, fmt.Sprintf("No Twitch user named **%s**.", username))
			continue
		}
		watching, err := d.Alerts.ChannelsForUser(ctx, username)
		if err != nil {
			d.reply(ctx, msg.ChannelID, "Something went wrong saving that subscription.")
			continue
		}
		if len(watching) == 0 {
			if err := d.Subs.SubscribeUser(ctx, user.ID); err != nil {
				d.reply(ctx, msg.ChannelID, fmt.Sprintf("Could not subscribe to **%s** right now.", user.DisplayName))
				continue
			}
		}
		added, err := d.Alerts.Subscribe(ctx, msg.ChannelID, username)
		if err != nil {
			d.reply(ctx, msg.ChannelID, "Something went wrong saving that subscription.")
			continue
		}
		if !added {
			d.reply(ctx, msg.ChannelID, fmt.Sprintf("Already watching **%s** here.", user.DisplayName))
			continue
		}
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("Now watching **%s**.", user.DisplayName))
	}
}

// handleUnsub removes subscriptions. The external teardown runs before the
// local edge is removed, and only when this channel is the last watcher.
func (d *Dispatcher) handleUnsub(ctx context.Context, msg discordapi.InboundMessage, args []string) {
	if len(args) == 0 {
		d.reply(ctx, msg.ChannelID, "Usage: unsub <twitch username>…")
		return
	}
	for _, arg := range args {
		username := strings.ToLower(arg)
		watching, err := d.Alerts.ChannelsForUser(ctx, username)
		if err != nil {
			d.reply(ctx, msg.ChannelID, "Something went wrong removing that subscription.")
			continue
		}
		lastWatcher := len(watching) == 1 && watching[0] == msg.ChannelID
		if lastWatcher {
			user, err := d.Twitch.GetUserInfo(ctx, username)
			if err != nil {
				d.reply(ctx, msg.ChannelID, fmt.Sprintf("Could not look up **%s** right now.", username))
				continue
			}
			if user != nil {
				if err := d.Subs.UnsubscribeUser(ctx, user.ID); err != nil {
					d.reply(ctx, msg.ChannelID, fmt.Sprintf("Could not unsubscribe from **%s** right now.", username))
					continue
				}
			}
		}
		removed, err := d.Alerts.Unsubscribe(ctx, msg.ChannelID, username)
		if err != nil {
			d.reply(ctx, msg.ChannelID, "Something went wrong removing that subscription.")
			continue
		}
		if !removed {
			d.reply(ctx, msg.ChannelID, fmt.Sprintf("Not watching **%s** here.", username))
			continue
		}
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("Stopped watching **%s**.", username))
	}
}

func (d *Dispatcher) handleSubs(ctx context.Context, msg discordapi.InboundMessage) {
	users, err := d.Alerts.UsersForChannel(ctx, msg.ChannelID)
	if err != nil {
		d.reply(ctx, msg.ChannelID, "Could not read subscriptions.")
		return
	}
	if len(users) == 0 {
		d.reply(ctx, msg.ChannelID, "This channel is not watching anyone.")
		return
	}
	d.reply(ctx, msg.ChannelID, "Watching: **"+strings.Join(users, "**, **")+"**")
}

// handleLiveSymbol views, sets, or clears the channel's live symbol. Changes
// are refused while the channel has an active alert, because the rename that
// removes the old suffix would no longer match.
func (d *Dispatcher) handleLiveSymbol(ctx context.Context, msg discordapi.InboundMessage, args []string) {
	if len(args) == 0 {
		symbol, found, err := d.Alerts.LiveSymbol(ctx, msg.ChannelID)
		if err != nil {
			d.reply(ctx, msg.ChannelID, "Could not read the live symbol.")
			return
		}
		if !found {
			d.reply(ctx, msg.ChannelID, "No live symbol configured.")
			return
		}
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("Live symbol: `%s`", symbol))
		return
	}

	live, err := d.Alerts.LiveChannels(ctx)
	if err != nil {
		d.reply(ctx, msg.ChannelID, "Could not read the live state.")
		return
	}
	for _, channelID := range live {
		if channelID == msg.ChannelID {
			d.reply(ctx, msg.ChannelID, "Cannot change the live symbol while an alert is active.")
			return
		}
	}

	if strings.EqualFold(args[0], "clear") {
		if err := d.Alerts.ClearLiveSymbol(ctx, msg.ChannelID); err != nil {
			d.reply(ctx, msg.ChannelID, "Could not clear the live symbol.")
			return
		}
		d.reply(ctx, msg.ChannelID, "Live symbol cleared.")
		return
	}
	if err := d.Alerts.SetLiveSymbol(ctx, msg.ChannelID, args[0]); err != nil {
		d.reply(ctx, msg.ChannelID, "Could not save the live symbol.")
		return
	}
	d.reply(ctx, msg.ChannelID, fmt.Sprintf("Live symbol set to `%s`.", args[0]))
}

// handleRemind parses "remind <target> to <content> <at|in …>" and stores the
// reminder. Content is everything between the first " to " and the last
// " at " or " in ".
func (d *Dispatcher) handleRemind(ctx context.Context, msg discordapi.InboundMessage, rest string) {
	const usage = "Usage: remind <who> to <what> at <time> (or: in <duration>)"

	toIdx := strings.Index(rest, " to ")
	if toIdx < 0 {
		d.reply(ctx, msg.ChannelID, usage)
		return
	}
	targetText := strings.TrimSpace(rest[:toIdx])
	remainder := rest[toIdx+len(" to "):]

	atIdx := strings.LastIndex(remainder, " at ")
	inIdx := strings.LastIndex(remainder, " in ")
	splitIdx := atIdx
	if inIdx > splitIdx {
		splitIdx = inIdx
	}
	if splitIdx < 0 {
		d.reply(ctx, msg.ChannelID, usage)
		return
	}
	content := strings.TrimSpace(remainder[:splitIdx])
	timeText := strings.TrimSpace(remainder[splitIdx+1:])
	if content == "" || targetText == "" {
		d.reply(ctx, msg.ChannelID, usage)
		return
	}

	now := d.now()
	when, ok := timeparse.Parse(timeText, now)
	if !ok {
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("I don't understand the time `%s`.", timeText))
		return
	}
	if when.Sub(now) < d.SweepInterval {
		d.reply(ctx, msg.ChannelID, "That's too soon; give me a bit more notice.")
		return
	}

	target, ok := d.resolveTarget(ctx, msg, targetText)
	if !ok {
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("I don't know who **%s** is.", targetText))
		return
	}

	r := reminders.Reminder{Content: content, Target: target, Timestamp: when.UnixMilli()}
	if err := d.Reminders.Add(ctx, msg.ChannelID, r); err != nil {
		d.reply(ctx, msg.ChannelID, "Could not save the reminder.")
		return
	}
	d.reply(ctx, msg.ChannelID, fmt.Sprintf("Okay, reminding about **%s** at %s.",
		content, when.Format("15:04 on Jan 2")))
}

// resolveTarget maps the target phrase to a user or role: an explicit
// mention, "me"/"myself", then a member-name search, then a mentionable role
// by name.
func (d *Dispatcher) resolveTarget(ctx context.Context, msg discordapi.InboundMessage, text string) (reminders.Target, bool) {
	if m := mentionPattern.FindStringSubmatch(text); m != nil {
		return reminders.Target{Type: "user", ID: m[1]}, true
	}
	if m := roleMentionPattern.FindStringSubmatch(text); m != nil {
		return reminders.Target{Type: "role", ID: m[1]}, true
	}
	lower := strings.ToLower(text)
	if lower == "me" || lower == "myself" {
		return reminders.Target{Type: "user", ID: msg.Author.ID}, true
	}

	ch, err := d.Chat.GetChannel(ctx, msg.ChannelID)
	if err != nil || ch.GuildID == "" {
		return reminders.Target{}, false
	}
	members, err := d.Chat.SearchGuildMembers(ctx, ch.GuildID, text)
	if err == nil {
		for _, member := range members {
			if strings.EqualFold(member.User.Username, text) || strings.EqualFold(member.Nick, text) {
				return reminders.Target{Type: "user", ID: member.User.ID}, true
			}
		}
	}
	roles, err := d.Chat.GuildRoles(ctx, ch.GuildID)
	if err == nil {
		for _, role := range roles {
			if role.Mentionable && strings.EqualFold(role.Name, text) {
				return reminders.Target{Type: "role", ID: role.ID}, true
			}
		}
	}
	return reminders.Target{}, false
}

func (d *Dispatcher) handleReminders(ctx context.Context, msg discordapi.InboundMessage) {
	list, err := d.Reminders.ForChannel(ctx, msg.ChannelID)
	if err != nil {
		d.reply(ctx, msg.ChannelID, "Could not read reminders.")
		return
	}
	if len(list) == 0 {
		d.reply(ctx, msg.ChannelID, "No reminders set.")
		return
	}
	var b strings.Builder
	for i, r := range list {
		when := time.UnixMilli(r.Timestamp)
		fmt.Fprintf(&b, "%d. **%s** at %s\n", i+1, r.Content, when.Format("15:04 on Jan 2"))
	}
	d.reply(ctx, msg.ChannelID, strings.TrimRight(b.String(), "\n"))
}

func (d *Dispatcher) handleUnremind(ctx context.Context, msg discordapi.InboundMessage, args []string) {
	if len(args) != 1 {
		d.reply(ctx, msg.ChannelID, "Usage: unremind <number>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		d.reply(ctx, msg.ChannelID, "Usage: unremind <number>")
		return
	}
	removed, ok, err := d.Reminders.Remove(ctx, msg.ChannelID, n-1)
	if err != nil {
		d.reply(ctx, msg.ChannelID, "Could not remove the reminder.")
		return
	}
	if !ok {
		d.reply(ctx, msg.ChannelID, fmt.Sprintf("There is no reminder %d.", n))
		return
	}
	d.reply(ctx, msg.ChannelID, fmt.Sprintf("Removed the reminder about **%s**.", removed.Content))
}
