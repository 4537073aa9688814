// cmd/tickserver is a demo WebSocket price feed. It answers JSON-RPC
// subscribe requests and then streams last-price notifications in the same
// shape the live feed sends, so signalbot can run without an exchange.
//
//	→ {"jsonrpc":"2.0","method":"v1/public/subscribe","params":["futures:btc_usd:last-price"],"id":"..."}
//	← {"jsonrpc":"2.0","id":"...","result":["futures:btc_usd:last-price"]}
//	← {"jsonrpc":"2.0","method":"subscription","params":{"channel":"...","data":{"lastPrice":64210.5,"lastTickDirection":"PlusTick","time":1717000000123}}}
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_START_PRICE  starting price (default "64000")
//	TICK_INTERVAL_MS  broadcast interval in milliseconds (default "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type rpcRequest struct {
	Method string          `json:"method"`
	Params []string        `json:"params"`
	ID     json.RawMessage `json:"id"`
}

type rpcResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  []string        `json:"result"`
}

type lastPrice struct {
	LastPrice     float64 `json:"lastPrice"`
	TickDirection string  `json:"lastTickDirection"`
	Time          int64   `json:"time"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Channel string    `json:"channel"`
		Data    lastPrice `json:"data"`
	} `json:"params"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	send     chan []byte
	channels map[string]bool
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{send: make(chan []byte, 256), channels: make(map[string]bool)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) subscribe(conn *websocket.Conn, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[conn]; ok {
		for _, ch := range channels {
			c.channels[ch] = true
		}
	}
}

// reply queues msg for conn if it is still registered.
func (h *hub) reply(conn *websocket.Conn, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[conn]; ok {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// broadcast sends the price to every client subscribed to any channel.
// The notification names the client's own channel.
func (h *hub) broadcast(data lastPrice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		for ch := range c.channels {
			var n notification
			n.JSONRPC = "2.0"
			n.Method = "subscription"
			n.Params.Channel = ch
			n.Params.Data = data
			b, err := json.Marshal(n)
			if err != nil {
				continue
			}
			select {
			case c.send <- b:
			default: // slow client, drop tick
			}
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		c := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: handles subscribe requests. Pings are answered by the
		// default handler.
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					conn.Close()
					return
				}
				var req rpcRequest
				if err := json.Unmarshal(raw, &req); err != nil || len(req.Params) == 0 {
					continue
				}
				h.subscribe(conn, req.Params)
				b, _ := json.Marshal(rpcResult{JSONRPC: "2.0", ID: req.ID, Result: req.Params})
				h.reply(conn, b)
				log.Printf("[tickserver] %s subscribed to %v", r.RemoteAddr, req.Params)
			}
		}()

		// Write pump.
		for msg := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Price generator ─────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.1%).
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func runGenerator(h *hub, start float64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	price := start

	for now := range ticker.C {
		next := walkPrice(rng, price)
		dir := "ZeroPlusTick"
		switch {
		case next > price:
			dir = "PlusTick"
		case next < price:
			dir = "MinusTick"
		}
		price = next
		h.broadcast(lastPrice{LastPrice: price, TickDirection: dir, Time: now.UnixMilli()})
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo price feed...")

	addr := envOrDefault("TICK_SERVER_ADDR", ":9001")
	start := envFloatOrDefault("TICK_START_PRICE", 64000)
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 250)
	if intervalMs <= 0 {
		log.Fatalf("[tickserver] TICK_INTERVAL_MS must be positive")
	}
	log.Printf("[tickserver] start price %.2f, broadcast interval %dms", start, intervalMs)

	h := newHub()
	go runGenerator(h, start, time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})

	log.Printf("[tickserver] ✅ listening on %s  (WebSocket: ws://localhost%s/ws)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
