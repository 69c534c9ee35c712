package feed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signalwatch/internal/model"

	"github.com/gorilla/websocket"
)

func testConnector(t *testing.T, cfg Config) *Connector {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestParseTick_AcceptsValid(t *testing.T) {
	c := testConnector(t, Config{URL: "ws://localhost:9001/ws", Symbol: "BTCUSD"})

	p, ok := c.parseTick([]byte(`{"symbol":"BTCUSD","price":64210.5,"ts":"2026-08-24T10:15:04Z"}`))
	if !ok {
		t.Fatal("valid tick rejected")
	}
	if p.Price != 64210.5 || p.Symbol != "BTCUSD" {
		t.Errorf("parsed tick = %+v", p)
	}
	if p.TS != time.Date(2026, 8, 24, 10, 15, 4, 0, time.UTC) {
		t.Errorf("parsed TS = %v", p.TS)
	}
}

func TestParseTick_DropsMalformed(t *testing.T) {
	c := testConnector(t, Config{URL: "ws://localhost:9001/ws", Symbol: "BTCUSD"})
	dropped := 0
	c.OnMalformed = func() { dropped++ }

	cases := []string{
		`not json at all`,
		`{"symbol":"BTCUSD","price":0}`,
		`{"symbol":"BTCUSD","price":-5}`,
		`{"symbol":"BTCUSD","price":"abc"}`,
	}
	for _, raw := range cases {
		if _, ok := c.parseTick([]byte(raw)); ok {
			t.Errorf("accepted malformed message: %s", raw)
		}
	}
	if dropped != len(cases) {
		t.Errorf("OnMalformed fired %d times, want %d", dropped, len(cases))
	}
}

func TestParseTick_FillsSymbolAndTimestamp(t *testing.T) {
	c := testConnector(t, Config{URL: "ws://localhost:9001/ws", Symbol: "BTCUSD"})

	before := time.Now().UTC()
	p, ok := c.parseTick([]byte(`{"price":100}`))
	if !ok {
		t.Fatal("tick with only a price should be accepted")
	}
	if p.Symbol != "BTCUSD" {
		t.Errorf("symbol not defaulted: %q", p.Symbol)
	}
	if p.TS.Before(before) {
		t.Errorf("TS not defaulted to now: %v", p.TS)
	}
}

func TestFetchHistory(t *testing.T) {
	bars := []model.PricePoint{
		{Symbol: "BTCUSD", TS: time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC), Price: 100},
		{Symbol: "", TS: time.Date(2026, 8, 24, 9, 0, 1, 0, time.UTC), Price: 101},
		{Symbol: "BTCUSD", TS: time.Time{}, Price: 102}, // no timestamp — skipped
		{Symbol: "BTCUSD", TS: time.Date(2026, 8, 24, 9, 0, 3, 0, time.UTC), Price: 0}, // no price — skipped
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSD" {
			t.Errorf("history request symbol = %q", got)
		}
		json.NewEncoder(w).Encode(bars)
	}))
	defer srv.Close()

	got, err := FetchHistory(context.Background(), srv.URL, "BTCUSD")
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("bars = %d, want 2 (invalid bars skipped)", len(got))
	}
	if got[1].Symbol != "BTCUSD" {
		t.Errorf("missing symbol not defaulted: %+v", got[1])
	}
}

func TestFetchHistory_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := FetchHistory(context.Background(), srv.URL, "BTCUSD"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsTestServer upgrades connections, records the first client message and
// sends the given payloads before closing.
func wsTestServer(t *testing.T, payloads []string, gotSubscribe chan<- map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err == nil && gotSubscribe != nil {
			select {
			case gotSubscribe <- sub:
			default:
			}
		}
		for _, p := range payloads {
			conn.WriteMessage(websocket.TextMessage, []byte(p))
		}
	}))
}

func TestRun_DeliversTicksAndSubscribes(t *testing.T) {
	subCh := make(chan map[string]string, 1)
	srv := wsTestServer(t, []string{
		`{"symbol":"BTCUSD","price":100,"ts":"2026-08-24T10:00:00Z"}`,
		`{"symbol":"BTCUSD","price":101,"ts":"2026-08-24T10:00:01Z"}`,
	}, subCh)
	defer srv.Close()

	c := testConnector(t, Config{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http") + "/",
		Symbol:        "BTCUSD",
		BackoffBase:   5 * time.Millisecond,
		BackoffMax:    10 * time.Millisecond,
		MaxReconnects: 1,
	})

	ticks := make(chan model.PricePoint, 8)
	c.OnTick = func(p model.PricePoint) { ticks <- p }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var got []model.PricePoint
	timeout := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case p := <-ticks:
			got = append(got, p)
		case <-timeout:
			t.Fatalf("timed out waiting for ticks, got %d", len(got))
		}
	}
	if got[0].Price != 100 || got[1].Price != 101 {
		t.Errorf("tick prices = %v, %v", got[0].Price, got[1].Price)
	}

	select {
	case sub := <-subCh:
		if sub["op"] != "subscribe" || sub["symbol"] != "BTCUSD" {
			t.Errorf("subscribe message = %v", sub)
		}
	case <-time.After(time.Second):
		t.Error("server never received a subscribe message")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	if c.State() != StateStopped {
		t.Errorf("final state = %v, want stopped", c.State())
	}
}

func TestRun_GivesUpAfterMaxReconnects(t *testing.T) {
	// Nothing listens on this port; every dial fails.
	c := testConnector(t, Config{
		URL:           "ws://127.0.0.1:1/ws",
		Symbol:        "BTCUSD",
		BackoffBase:   time.Millisecond,
		BackoffMax:    2 * time.Millisecond,
		MaxReconnects: 2,
	})

	var reconnects int
	c.OnReconnect = func(time.Duration) { reconnects++ }

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting reconnect budget")
	}
	if reconnects != 2 {
		t.Errorf("reconnect attempts = %d, want 2", reconnects)
	}
	if c.State() != StateStopped {
		t.Errorf("final state = %v, want stopped", c.State())
	}
}

func TestRun_BackoffDoublesAndCaps(t *testing.T) {
	// Nothing listens on this port; every dial fails.
	c := testConnector(t, Config{
		URL:           "ws://127.0.0.1:1/ws",
		Symbol:        "BTCUSD",
		BackoffBase:   time.Millisecond,
		BackoffMax:    3 * time.Millisecond,
		MaxReconnects: 4,
	})

	var delays []time.Duration
	c.OnReconnect = func(d time.Duration) { delays = append(delays, d) }

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected error after exhausting reconnect budget")
	}

	want := []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond, // capped
		3 * time.Millisecond,
	}
	if len(delays) != len(want) {
		t.Fatalf("recorded %d delays (%v), want %d", len(delays), delays, len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRun_BackoffResetsAfterConnect(t *testing.T) {
	// Reserve a port, then close the listener so the first dials fail.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	c := testConnector(t, Config{
		URL:           "ws://" + addr + "/",
		Symbol:        "BTCUSD",
		BackoffBase:   10 * time.Millisecond,
		BackoffMax:    80 * time.Millisecond,
		MaxReconnects: 20,
	})

	// Accept then immediately drop every client, forcing a reconnect after
	// each successful dial.
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	})}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delayCh := make(chan time.Duration, 8)
	attempts := 0
	c.OnReconnect = func(d time.Duration) {
		attempts++
		delayCh <- d
		if attempts == 2 {
			// Two failed dials have grown the backoff; bring the server
			// up so the next attempt connects.
			if ln, lerr := net.Listen("tcp", addr); lerr == nil {
				go srv.Serve(ln)
			}
		}
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	var delays []time.Duration
	for len(delays) < 3 {
		select {
		case d := <-delayCh:
			delays = append(delays, d)
		case <-time.After(4 * time.Second):
			t.Fatalf("timed out, recorded delays %v", delays)
		}
	}
	cancel()
	<-done

	if delays[0] != 10*time.Millisecond || delays[1] != 20*time.Millisecond {
		t.Errorf("failed dials should double the delay: got %v", delays[:2])
	}
	if delays[2] != 10*time.Millisecond {
		t.Errorf("delay after a successful connect = %v, want base 10ms", delays[2])
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateStopped:      "stopped",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
