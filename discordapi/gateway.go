package discordapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway opcodes used here.
const (
	opDispatch  = 0
	opHeartbeat = 1
	opIdentify  = 2
	opHello     = 10
	opHeartAck  = 11
)

// Intents requested on identify: guilds, guild messages, message content.
const gatewayIntents = 1<<0 | 1<<9 | 1<<15

const reconnectDelay = 5 * time.Second

// InboundMessage is a chat message received over the gateway.
type InboundMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
	Mentions []struct {
		ID string `json:"id"`
	} `json:"mentions"`
}

type gatewayPayload struct {
	Op   int             `json:"op"`
	Type string          `json:"t"`
	Seq  *int64          `json:"s"`
	Data json.RawMessage `json:"d"`
}

// Gateway maintains a Discord gateway connection and hands MESSAGE_CREATE
// events to OnMessage. It reconnects with a fixed delay until the context is
// cancelled.
type Gateway struct {
	Client    *Client
	OnMessage func(ctx context.Context, msg InboundMessage)

	botUserID atomic.Value // string, set from READY
	seq       atomic.Int64

	// The websocket allows one writer at a time; the heartbeat goroutine and
	// the read loop (answering op-1 requests) both send frames.
	writeMu sync.Mutex
}

func (g *Gateway) writeJSON(conn *websocket.Conn, v any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// BotUserID returns the connected bot's own user id, empty until READY.
func (g *Gateway) BotUserID() string {
	id, _ := g.botUserID.Load().(string)
	return id
}

// Run connects and processes events until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	for {
		if err := g.connectOnce(ctx); err != nil {
			slog.Warn("gateway connection ended", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (g *Gateway) gatewayURL(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := g.Client.apiCall(ctx, http.MethodGet, "/gateway/bot", nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("gateway url missing from response")
	}
	return out.URL + "?v=10&encoding=json", nil
}

func (g *Gateway) connectOnce(ctx context.Context) error {
	wsURL, err := g.gatewayURL(ctx)
	if err != nil {
		return fmt.Errorf("resolve gateway url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Warn("failed to close gateway connection", slog.Any("err", err))
		}
	}()

	// The first frame must be hello with the heartbeat interval.
	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.Data, &helloData); err != nil {
		return fmt.Errorf("parse hello: %w", err)
	}

	if err := g.identify(conn); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go g.heartbeatLoop(hbCtx, conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return fmt.Errorf("read gateway frame: %w", err)
		}
		if payload.Seq != nil {
			g.seq.Store(*payload.Seq)
		}
		switch payload.Op {
		case opDispatch:
			g.dispatch(ctx, payload)
		case opHeartbeat:
			if err := g.sendHeartbeat(conn); err != nil {
				return err
			}
		case opHeartAck:
		default:
			slog.Debug("ignoring gateway op", slog.Int("op", payload.Op))
		}
	}
}

func (g *Gateway) identify(conn *websocket.Conn) error {
	return g.writeJSON(conn, map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   g.Client.Token,
			"intents": gatewayIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "streamherald",
				"device":  "streamherald",
			},
		},
	})
}

func (g *Gateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.sendHeartbeat(conn); err != nil {
				slog.Warn("heartbeat failed", slog.Any("err", err))
				return
			}
		}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) error {
	seq := g.seq.Load()
	var d any
	if seq > 0 {
		d = seq
	}
	return g.writeJSON(conn, map[string]any{"op": opHeartbeat, "d": d})
}

func (g *Gateway) dispatch(ctx context.Context, payload gatewayPayload) {
	switch payload.Type {
	case "READY":
		var ready struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(payload.Data, &ready); err != nil {
			slog.Warn("failed to parse ready event", slog.Any("err", err))
			return
		}
		g.botUserID.Store(ready.User.ID)
		slog.Info("gateway connected", slog.String("bot_user_id", ready.User.ID))
	case "MESSAGE_CREATE":
		if g.OnMessage == nil {
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(payload.Data, &msg); err != nil {
			slog.Warn("failed to parse message event", slog.Any("err", err))
			return
		}
		if msg.Author.Bot {
			return
		}
		g.OnMessage(ctx, msg)
	}
}
