// Package discordapi is a minimal Discord REST client plus a gateway listener,
// covering only what alert posting, channel renames, and command intake need.
package discordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/streamherald/telemetry"
)

// DefaultBaseURL is the current Discord REST API root.
const DefaultBaseURL = "https://discord.com/api/v10"

// Client calls the Discord REST API with a bot token.
type Client struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Channel is a Discord channel, as much of it as renaming needs.
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	GuildID string `json:"guild_id"`
}

// Message is a posted channel message.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// GuildMember is a guild member with the embedded user record.
type GuildMember struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Nick string `json:"nick"`
}

// Role is a guild role.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Mentionable bool   `json:"mentionable"`
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// SendChannelMessage posts plain message content and returns the new message id.
func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) (string, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return "", err
	}
	var msg Message
	if err := c.apiCall(ctx, http.MethodPost, "/channels/"+channelID+"/messages", payload, &msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// DeleteChannelMessage removes a message from a channel.
func (c *Client) DeleteChannelMessage(ctx context.Context, channelID, messageID string) error {
	return c.apiCall(ctx, http.MethodDelete, "/channels/"+channelID+"/messages/"+messageID, nil, nil)
}

// GetChannel fetches a channel record.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.apiCall(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ChannelName returns a channel's current display name.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := c.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	return ch.Name, nil
}

// SetChannelName renames a channel.
func (c *Client) SetChannelName(ctx context.Context, channelID, name string) error {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	return c.apiCall(ctx, http.MethodPatch, "/channels/"+channelID, payload, nil)
}

// GetGuildMember fetches one member of a guild by user id.
func (c *Client) GetGuildMember(ctx context.Context, guildID, userID string) (*GuildMember, error) {
	var m GuildMember
	if err := c.apiCall(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SearchGuildMembers finds members whose username or nickname starts with the
// query.
func (c *Client) SearchGuildMembers(ctx context.Context, guildID, query string) ([]GuildMember, error) {
	q := url.Values{"query": {query}, "limit": {"10"}}
	var members []GuildMember
	path := "/guilds/" + guildID + "/members/search?" + q.Encode()
	if err := c.apiCall(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// GuildRoles lists a guild's roles.
func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	if err := c.apiCall(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// MentionFor resolves a reminder target to a mention string, confirming the
// target still exists in the channel's guild. A target that cannot be
// resolved reports false; the caller drops the reminder silently.
func (c *Client) MentionFor(ctx context.Context, channelID, targetType, targetID string) (string, bool) {
	ch, err := c.GetChannel(ctx, channelID)
	if err != nil || ch.GuildID == "" {
		return "", false
	}
	switch targetType {
	case "role":
		roles, err := c.GuildRoles(ctx, ch.GuildID)
		if err != nil {
			return "", false
		}
		for _, role := range roles {
			if role.ID == targetID {
				return "<@&" + targetID + ">", true
			}
		}
		return "", false
	default:
		if _, err := c.GetGuildMember(ctx, ch.GuildID, targetID); err != nil {
			return "", false
		}
		return "<@" + targetID + ">", true
	}
}

func (c *Client) apiCall(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respText, _ := io.ReadAll(resp.Body)
		telemetry.IncProviderAPIErrors()
		slog.Error("discord api error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respText)))
		return fmt.Errorf("discord api %s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
