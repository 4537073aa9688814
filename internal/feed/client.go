// Package feed connects to the market data WebSocket and turns its messages
// into price observations.
//
// Two wire formats are accepted: JSON-RPC last-price notifications
// (params.data.lastPrice) and bare observation JSON (see message.go). When the
// feed only delivers ticks, CandleBuilder aggregates them into candles.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"trading-signalbot/internal/logger"
	"trading-signalbot/internal/model"
)

// Config holds configuration for the WebSocket feed client.
type Config struct {
	// URL of the price WebSocket, e.g. "wss://api.example.com/v1/ws".
	URL string

	// SubscribeMethod and Channel, when set, send a JSON-RPC subscribe
	// request after each connect.
	SubscribeMethod string
	Channel         string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// HeartbeatInterval is how long the connection may stay silent before a
	// ping is sent. A connection silent for three intervals is dropped.
	// Defaults to 5s.
	HeartbeatInterval time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
}

// Client streams observations from a WebSocket feed, reconnecting with
// exponential backoff on disconnect.
type Client struct {
	cfg Config
	log *slog.Logger

	connected atomic.Bool
	lastMsg   atomic.Int64 // unix nanos of the last message or pong

	// OnReconnect is called each time the connection drops and a retry is scheduled.
	OnReconnect func()
	// OnDrop is called when out is full and a tick is discarded.
	OnDrop func()
}

// New creates a new Client. Returns an error if the URL is unparseable.
func New(cfg Config, log *slog.Logger) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("feed: url scheme must be ws or wss")
	}
	return &Client{cfg: cfg, log: logger.Component(log, "feed")}, nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool { return c.connected.Load() }

// LastMessage returns the time of the last message or pong received.
func (c *Client) LastMessage() time.Time {
	n := c.lastMsg.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run connects and streams observations into out until ctx is cancelled.
// Reconnects automatically on disconnect. Always returns nil on shutdown.
func (c *Client) Run(ctx context.Context, out chan<- model.Observation) error {
	delay := c.cfg.ReconnectDelay

	for {
		// Check context before each attempt
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		received, err := c.runOnce(ctx, out)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}
		if received > 0 {
			// The last connection was healthy; start backoff over.
			delay = c.cfg.ReconnectDelay
		}

		c.log.Warn("disconnected, reconnecting", "error", err, "delay", delay)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx cancel.
// It returns the number of observations delivered.
func (c *Client) runOnce(ctx context.Context, out chan<- model.Observation) (int, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if c.cfg.SubscribeMethod != "" {
		if err := c.subscribe(conn); err != nil {
			return 0, err
		}
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.touch(conn)
	c.log.Info("connected", "url", c.cfg.URL, "channel", c.cfg.Channel)

	conn.SetPongHandler(func(string) error {
		c.touch(conn)
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go c.heartbeat(ctx, conn, done)

	delivered := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return delivered, nil
			default:
			}
			return delivered, err
		}
		c.touch(conn)

		obs, err := decode(raw, time.Now())
		if err != nil {
			if !errors.Is(err, errIgnored) {
				c.log.Debug("parse error", "error", err, "raw", string(raw))
			}
			continue
		}

		if !c.deliver(ctx, out, obs) {
			return delivered, nil
		}
		delivered++
	}
}

// deliver hands obs to out. Completed candles wait for room since the
// indicators depend on every one of them; ticks are only the latest price and
// are dropped when out is full. It returns false if ctx ended first.
func (c *Client) deliver(ctx context.Context, out chan<- model.Observation, obs model.Observation) bool {
	if obs.CandleClose {
		select {
		case out <- obs:
			return true
		case <-ctx.Done():
			return false
		}
	}
	select {
	case out <- obs:
	default:
		if c.OnDrop != nil {
			c.OnDrop()
		}
		c.log.Warn("observation channel full, dropping tick", "ts", obs.TS)
	}
	return true
}

// heartbeat pings after HeartbeatInterval of silence and closes the
// connection on ctx cancel or ping failure, which unblocks the reader.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			if time.Since(c.LastMessage()) < c.cfg.HeartbeatInterval {
				continue
			}
			deadline := time.Now().Add(c.cfg.HeartbeatInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Warn("ping failed, connection lost", "error", err)
				conn.Close()
				return
			}
		}
	}
}

// touch records activity and pushes the read deadline out.
func (c *Client) touch(conn *websocket.Conn) {
	now := time.Now()
	c.lastMsg.Store(now.UnixNano())
	conn.SetReadDeadline(now.Add(3 * c.cfg.HeartbeatInterval))
}

func (c *Client) subscribe(conn *websocket.Conn) error {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  c.cfg.SubscribeMethod,
		"params":  []string{c.cfg.Channel},
		"id":      uuid.NewString(),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
