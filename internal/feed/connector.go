// Package feed maintains the persistent WebSocket connection to the
// upstream price feed and turns wire messages into price points.
//
// The expected JSON message format on the wire:
//
//	{"symbol":"BTCUSD","price":64210.5,"ts":"2026-08-24T10:15:04Z"}
//
// A connector owns one symbol. It reconnects with geometric backoff and,
// after the first successful connect, performs a one-time historical
// backfill over HTTP when a history endpoint is configured.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"signalwatch/internal/logger"
	"signalwatch/internal/model"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"
)

// State is the connector lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds connector configuration.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// HistoryURL is an optional HTTP endpoint returning historical bars as
	// a JSON array. Empty disables backfill.
	HistoryURL string

	Symbol string

	// TOTPSecret, when set, generates a fresh session code sent with the
	// subscribe message on every connect.
	TOTPSecret string

	// BackoffBase is the initial reconnect delay. Defaults to 1 second.
	BackoffBase time.Duration

	// BackoffMax caps the geometric backoff. Defaults to 30s.
	BackoffMax time.Duration

	// MaxReconnects bounds consecutive failed attempts before the
	// connector gives up and enters Stopped. Defaults to 10.
	MaxReconnects int

	// HeartbeatPeriod is the ping cadence. Defaults to 30s.
	HeartbeatPeriod time.Duration
}

func (c *Config) defaults() {
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
	if c.HeartbeatPeriod == 0 {
		c.HeartbeatPeriod = 30 * time.Second
	}
}

// Connector streams ticks from the feed into the OnTick callback.
type Connector struct {
	cfg   Config
	log   *slog.Logger
	state atomic.Int32

	backfilled bool

	// OnTick receives every accepted tick in arrival order.
	OnTick func(model.PricePoint)

	// OnHistory receives the one-time backfill batch, oldest first,
	// before any live tick from the same connection is delivered.
	OnHistory func([]model.PricePoint)

	// OnStateChange is called on every lifecycle transition.
	OnStateChange func(State)

	// OnReconnect is called once per reconnection attempt with the delay
	// the connector is about to wait.
	OnReconnect func(delay time.Duration)

	// OnMalformed is called for every dropped wire message.
	OnMalformed func()
}

// New creates a Connector. Returns an error if the URL is unparseable.
func New(cfg Config, log *slog.Logger) (*Connector, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		cfg: cfg,
		log: log.With(slog.String("component", "feed"), slog.String("symbol", cfg.Symbol)),
	}, nil
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

func (c *Connector) setState(s State) {
	c.state.Store(int32(s))
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

// Run connects and streams ticks until ctx is cancelled or the reconnect
// budget is exhausted. Blocks.
func (c *Connector) Run(ctx context.Context) error {
	delay := c.cfg.BackoffBase
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return nil
		default:
		}

		c.setState(StateConnecting)
		err := c.runOnce(ctx, func() {
			// Successful connect resets the backoff schedule.
			delay = c.cfg.BackoffBase
			attempts = 0
		})
		if err == nil {
			// Context cancelled cleanly
			c.setState(StateStopped)
			return nil
		}

		attempts++
		if attempts > c.cfg.MaxReconnects {
			c.setState(StateStopped)
			return fmt.Errorf("feed: giving up after %d attempts: %w", attempts, err)
		}

		c.log.Warn("disconnected, reconnecting",
			slog.Any("error", err),
			slog.Duration("delay", delay),
			slog.Int("attempt", attempts))
		c.setState(StateReconnecting)
		if c.OnReconnect != nil {
			c.OnReconnect(delay)
		}

		select {
		case <-ctx.Done():
			c.setState(StateStopped)
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.cfg.BackoffMax {
			delay = c.cfg.BackoffMax
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. A nil return means clean shutdown. onConnect fires after the
// dial succeeds.
func (c *Connector) runOnce(ctx context.Context, onConnect func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	onConnect()
	sessionID := logger.GenerateTraceID(c.cfg.Symbol, time.Now())
	c.setState(StateConnected)
	c.log.Info("connected", slog.String("url", c.cfg.URL), slog.String("session", sessionID))

	if err := c.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if !c.backfilled && c.cfg.HistoryURL != "" {
		c.backfill(ctx)
	}

	// Pong extends the read deadline; a silent peer times the read out.
	readTimeout := 2*c.cfg.HeartbeatPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Writer goroutine: heartbeat pings + close-on-cancel.
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
				conn.Close()
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		p, ok := c.parseTick(raw)
		if !ok {
			continue
		}
		if c.OnTick != nil {
			c.OnTick(p)
		}
	}
}

// subscribe sends the subscription request for the configured symbol,
// with a fresh TOTP session code when a secret is configured.
func (c *Connector) subscribe(conn *websocket.Conn) error {
	msg := map[string]string{
		"op":     "subscribe",
		"symbol": c.cfg.Symbol,
	}
	if c.cfg.TOTPSecret != "" {
		code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err != nil {
			return fmt.Errorf("totp: %w", err)
		}
		msg["code"] = code
	}
	return conn.WriteJSON(msg)
}

// parseTick validates one wire message. Malformed messages and
// non-positive prices are logged and dropped.
func (c *Connector) parseTick(raw []byte) (model.PricePoint, bool) {
	var p model.PricePoint
	if err := json.Unmarshal(raw, &p); err != nil {
		c.log.Warn("dropping malformed message", slog.Any("error", err), slog.String("raw", string(raw)))
		if c.OnMalformed != nil {
			c.OnMalformed()
		}
		return model.PricePoint{}, false
	}
	if p.Price <= 0 {
		c.log.Warn("dropping tick with non-positive price", slog.Float64("price", p.Price))
		if c.OnMalformed != nil {
			c.OnMalformed()
		}
		return model.PricePoint{}, false
	}
	if p.Symbol == "" {
		p.Symbol = c.cfg.Symbol
	}
	if p.TS.IsZero() {
		p.TS = time.Now().UTC()
	}
	return p, true
}

// backfill fetches historical bars once per process. Failures are logged
// and the pipeline proceeds with live data only.
func (c *Connector) backfill(ctx context.Context) {
	history, err := FetchHistory(ctx, c.cfg.HistoryURL, c.cfg.Symbol)
	if err != nil {
		c.log.Warn("backfill failed, continuing with live data only", slog.Any("error", err))
		return
	}
	c.backfilled = true
	c.log.Info("backfill loaded", slog.Int("bars", len(history)))
	if c.OnHistory != nil {
		c.OnHistory(history)
	}
}

// FetchHistory retrieves historical bars from the history endpoint. The
// endpoint returns a JSON array of price points, oldest first.
func FetchHistory(ctx context.Context, historyURL, symbol string) ([]model.PricePoint, error) {
	u, err := url.Parse(historyURL)
	if err != nil {
		return nil, fmt.Errorf("history url: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch: unexpected status %d", resp.StatusCode)
	}

	var bars []model.PricePoint
	if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
		return nil, fmt.Errorf("history decode: %w", err)
	}

	out := bars[:0]
	for _, b := range bars {
		if b.Price <= 0 || b.TS.IsZero() {
			continue
		}
		if b.Symbol == "" {
			b.Symbol = symbol
		}
		out = append(out, b)
	}
	return out, nil
}
