// Package metrics holds the Prometheus metrics and the /metrics + /healthz
// HTTP server for the alerting pipeline.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	TicksTotal     prometheus.Counter
	TicksRejected  prometheus.Counter // out-of-order / duplicate timestamps
	TicksMalformed prometheus.Counter // unparseable feed messages
	FeedReconnects prometheus.Counter
	BackfillBars   prometheus.Counter

	IndicatorComputeDur prometheus.Histogram
	SeriesBuildDur      prometheus.Histogram

	RulesEvaluated   prometheus.Counter
	SignalsTriggered *prometheus.CounterVec // labels: action

	AlertsSent    prometheus.Counter
	AlertsDeduped prometheus.Counter
	NotifyErrors  prometheus.Counter

	SubscribersDropped prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_ticks_total",
			Help: "Total ticks accepted from the feed",
		}),
		TicksRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_ticks_rejected_total",
			Help: "Ticks rejected by the price buffer (out-of-order or duplicate)",
		}),
		TicksMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_ticks_malformed_total",
			Help: "Feed messages dropped as unparseable",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_feed_reconnects_total",
			Help: "Feed reconnection attempts",
		}),
		BackfillBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_backfill_bars_total",
			Help: "Historical bars loaded during backfill",
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalwatch_indicator_compute_duration_seconds",
			Help:    "Indicator engine compute latency per tick",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		SeriesBuildDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalwatch_series_build_duration_seconds",
			Help:    "Unified series build latency",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		}),
		RulesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_rules_evaluated_total",
			Help: "Rule evaluations performed",
		}),
		SignalsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalwatch_signals_triggered_total",
			Help: "Triggered signals (by action)",
		}, []string{"action"}),
		AlertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_alerts_sent_total",
			Help: "Outbound notifications delivered",
		}),
		AlertsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_alerts_deduped_total",
			Help: "Signals skipped because their (rule, point) pair was already notified",
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_notify_errors_total",
			Help: "Notification send failures (not retried)",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalwatch_subscribers_dropped_total",
			Help: "Fan-out subscribers auto-unsubscribed after a failure",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.TicksRejected,
		m.TicksMalformed,
		m.FeedReconnects,
		m.BackfillBars,
		m.IndicatorComputeDur,
		m.SeriesBuildDur,
		m.RulesEvaluated,
		m.SignalsTriggered,
		m.AlertsSent,
		m.AlertsDeduped,
		m.NotifyErrors,
		m.SubscribersDropped,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool
	LastTickTime   time.Time
	RedisConnected bool
	RuleStoreOK    bool

	RedisLatencyMs     float64
	RuleStoreLatencyMs float64
	LastCheckAt        time.Time
	StartedAt          time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRuleStoreOK(v bool) {
	h.mu.Lock()
	h.RuleStoreOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRuleStore pings the rule database and records latency + health.
func (h *HealthStatus) CheckRuleStore(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.RuleStoreOK = err == nil
	h.RuleStoreLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckRuleStore(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.RuleStoreOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status             string  `json:"status"`
		Uptime             string  `json:"uptime"`
		FeedConnected      bool    `json:"feed_connected"`
		LastTickTime       string  `json:"last_tick_time"`
		TickAge            string  `json:"tick_age"`
		RedisConnected     bool    `json:"redis_connected"`
		RedisLatencyMs     float64 `json:"redis_latency_ms"`
		RuleStoreOK        bool    `json:"rule_store_ok"`
		RuleStoreLatencyMs float64 `json:"rule_store_latency_ms"`
		LastCheckAt        string  `json:"last_check_at"`
	}{
		Status:             overallStatus,
		Uptime:             time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:      h.FeedConnected,
		LastTickTime:       h.LastTickTime.Format(time.RFC3339),
		TickAge:            tickAge,
		RedisConnected:     h.RedisConnected,
		RedisLatencyMs:     h.RedisLatencyMs,
		RuleStoreOK:        h.RuleStoreOK,
		RuleStoreLatencyMs: h.RuleStoreLatencyMs,
		LastCheckAt:        h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
		log:  log.With(slog.String("component", "metrics")),
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", slog.Any("error", err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
