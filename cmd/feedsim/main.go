// cmd/feedsim — demo WebSocket price feed.
// Broadcasts simulated ticks so the full pipeline runs without a real
// upstream feed, and serves the matching history endpoint for backfill.
//
// Tick JSON shape is identical to model.PricePoint:
//
//	{"symbol":"BTCUSD","price":64210.5,"ts":"2026-08-24T10:15:04Z"}
//
// Config (env vars):
//
//	FEEDSIM_ADDR         — listen address (default: ":9001")
//	FEEDSIM_SYMBOLS      — comma-separated SYMBOL:STARTPRICE pairs
//	                       (default: "BTCUSD:64000")
//	FEEDSIM_INTERVAL_MS  — broadcast interval milliseconds (default: "1000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"signalwatch/internal/model"

	"github.com/gorilla/websocket"
)

// instrument holds per-symbol simulation state plus the rolling history
// served by /history.
type instrument struct {
	Symbol string
	Price  float64

	mu      sync.RWMutex
	history []model.PricePoint
}

const historyCap = 500

func (ins *instrument) record(p model.PricePoint) {
	ins.mu.Lock()
	ins.history = append(ins.history, p)
	if len(ins.history) > historyCap {
		ins.history = ins.history[len(ins.history)-historyCap:]
	}
	ins.mu.Unlock()
}

func (ins *instrument) snapshot() []model.PricePoint {
	ins.mu.RLock()
	defer ins.mu.RUnlock()
	out := make([]model.PricePoint, len(ins.history))
	copy(out, ins.history)
	return out
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client — drop tick
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[feedsim] upgrade error: %v", err)
			return
		}
		log.Printf("[feedsim] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[feedsim] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: consume subscribe messages and pings so control
		// frames are processed; content is logged and ignored.
		go func() {
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					return
				}
				log.Printf("[feedsim] client message: %s", raw)
			}
		}()

		// Write pump: sends tick JSON to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func historyHandler(instruments []*instrument) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		for _, ins := range instruments {
			if ins.Symbol == symbol {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(ins.snapshot())
				return
			}
		}
		http.Error(w, `{"error":"unknown symbol"}`, http.StatusNotFound)
	}
}

// walkPrice applies a tiny random walk (±0.1%) to simulate price movement.
func walkPrice(price float64) float64 {
	pct := (rand.Float64()*0.2 - 0.1) / 100.0
	newPrice := price * (1 + pct)
	if newPrice < 0.01 {
		newPrice = 0.01
	}
	return newPrice
}

func runGenerator(h *hub, instruments []*instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		for _, ins := range instruments {
			ins.Price = walkPrice(ins.Price)
			p := model.PricePoint{
				Symbol: ins.Symbol,
				TS:     time.Now().UTC(),
				Price:  ins.Price,
			}
			ins.record(p)
			h.broadcast(p.JSON())
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[feedsim] starting demo price feed...")

	addr := envOrDefault("FEEDSIM_ADDR", ":9001")
	symbolsEnv := envOrDefault("FEEDSIM_SYMBOLS", "BTCUSD:64000")
	intervalMs := envIntOrDefault("FEEDSIM_INTERVAL_MS", 1000)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[feedsim] no symbols configured via FEEDSIM_SYMBOLS")
	}
	for _, ins := range instruments {
		log.Printf("[feedsim] symbol %s starting at %.2f", ins.Symbol, ins.Price)
	}
	log.Printf("[feedsim] broadcast interval: %dms", intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/ws", wsHandler(h))
	http.HandleFunc("/history", historyHandler(instruments))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"feedsim"}`)
	})

	log.Printf("[feedsim] listening on %s (WebSocket: ws://localhost%s/ws, history: http://localhost%s/history)", addr, addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[feedsim] server error: %v", err)
	}
}

func parseInstruments(s string) []*instrument {
	var result []*instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Printf("[feedsim] skipping invalid symbol spec: %q", part)
			continue
		}
		symbol := strings.TrimSpace(seg[0])
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Printf("[feedsim] skipping symbol %q with invalid price %q", symbol, seg[1])
			continue
		}
		result = append(result, &instrument{Symbol: symbol, Price: price})
	}
	return result
}

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
