// signalwatch connects to a price feed, maintains technical indicators and
// evaluates user-defined alert rules against the unified series, sending
// notifications when rules trigger.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"signalwatch/config"
	"signalwatch/internal/alert"
	"signalwatch/internal/feed"
	"signalwatch/internal/indicator"
	"signalwatch/internal/logger"
	"signalwatch/internal/metrics"
	"signalwatch/internal/model"
	"signalwatch/internal/pipeline"
	"signalwatch/internal/publish"
	"signalwatch/internal/rulestore"
)

func main() {
	log := logger.Init("signalwatch", slog.LevelInfo)
	log.Info("starting")

	cfg := config.Load()

	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, log)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Rule store ----
	os.MkdirAll(filepath.Dir(cfg.RuleDBPath), 0o755)
	store, err := rulestore.Open(cfg.RuleDBPath, log)
	if err != nil {
		log.Error("rule store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Refresh(ctx); err != nil {
		log.Error("initial rule load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if os.Getenv("SEED_DEMO_RULES") == "true" && len(store.Rules()) == 0 {
		seedDemoRules(ctx, store, log)
		store.Refresh(ctx)
	}
	health.SetRuleStoreOK(true)
	go store.Run(ctx, cfg.RuleRefreshIvl)
	log.Info("rule store ready", slog.Int("rules", len(store.Rules())))

	// ---- Notifier ----
	notifier := buildNotifier(cfg, log)
	dispatcher := alert.NewDispatcher(notifier, log)

	// ---- Pipeline ----
	pipe, err := pipeline.New(pipeline.Config{
		Symbol:         cfg.Symbol,
		BufferCapacity: cfg.BufferCapacity,
		Granularity:    cfg.Granularity,
		Specs:          defaultSpecs(),
	}, store, dispatcher, prom, health, log)
	if err != nil {
		log.Error("pipeline init failed", slog.Any("error", err))
		os.Exit(1)
	}

	// ---- Redis publisher (optional) ----
	var pub *publish.Publisher
	if cfg.RedisAddr != "" {
		pub, err = publish.New(publish.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}, log)
		if err != nil {
			log.Warn("redis init failed, continuing without redis", slog.Any("error", err))
			health.SetRedisConnected(false)
		} else {
			health.SetRedisConnected(true)
			pipe.Bus().Subscribe(pub.Callback(ctx))
			pipe.OnSignals = func(signals []model.TriggeredSignal) {
				for _, sig := range signals {
					pub.PublishSignal(ctx, cfg.Symbol, sig)
				}
			}
			defer pub.Close()
		}
	}

	if pub != nil {
		health.StartLivenessChecker(ctx, pub.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Feed connector ----
	connector, err := feed.New(feed.Config{
		URL:             cfg.FeedURL,
		HistoryURL:      cfg.HistoryURL,
		Symbol:          cfg.Symbol,
		TOTPSecret:      cfg.TOTPSecret,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		MaxReconnects:   cfg.MaxReconnects,
		HeartbeatPeriod: cfg.HeartbeatPeriod,
	}, log)
	if err != nil {
		log.Error("feed init failed", slog.Any("error", err))
		os.Exit(1)
	}
	connector.OnTick = func(p model.PricePoint) { pipe.HandleTick(ctx, p) }
	connector.OnHistory = func(bars []model.PricePoint) { pipe.HandleHistory(ctx, bars) }
	connector.OnStateChange = func(s feed.State) {
		health.SetFeedConnected(s == feed.StateConnected)
	}
	connector.OnReconnect = func(time.Duration) { prom.FeedReconnects.Inc() }
	connector.OnMalformed = prom.TicksMalformed.Inc

	go func() {
		if err := connector.Run(ctx); err != nil {
			log.Error("feed stopped", slog.Any("error", err))
			sigCh <- syscall.SIGTERM
		}
	}()

	log.Info("pipeline ready",
		slog.String("symbol", cfg.Symbol),
		slog.String("feed", cfg.FeedURL),
		slog.String("notifier", cfg.NotifierKind))

	<-sigCh
	log.Info("shutdown signal received, cleaning up")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	log.Info("shutdown complete")
}

// defaultSpecs are the indicator parameterizations maintained out of the
// box. Rules may reference any of the keys these produce.
func defaultSpecs() []indicator.Spec {
	return []indicator.Spec{
		{Type: "RSI", Period: 14},
		{Type: "MACD", Fast: 12, Slow: 26, SignalSpan: 9},
		{Type: "STOCH", KPeriod: 14, DPeriod: 3, Smoothing: 3},
		{Type: "BB", Period: 20, StdDevMult: 2.0},
	}
}

// seedDemoRules inserts a pair of starter rules into an empty store so the
// demo setup (feedsim + log notifier) produces alerts out of the box.
func seedDemoRules(ctx context.Context, store *rulestore.Store, log *slog.Logger) {
	demo := []model.Rule{
		{
			Name: "oversold", Enabled: true,
			Action: model.ActionBuy, Combinator: model.CombAND,
			Conditions: []model.Condition{
				{IndicatorKey: "RSI_14", Operator: model.OpLT, Operand: 30},
				{IndicatorKey: "STOCH_K_14_3_3", Operator: model.OpLT, Operand: 20},
			},
		},
		{
			Name: "momentum flip", Enabled: true,
			Action: model.ActionSell, Combinator: model.CombOR,
			Conditions: []model.Condition{
				{IndicatorKey: "MACD_12_26_9", Operator: model.OpCrossesBelow, CompareKey: "MACD_SIGNAL_12_26_9"},
				{IndicatorKey: "RSI_14", Operator: model.OpGT, Operand: 70},
			},
		},
	}
	for _, r := range demo {
		if _, err := store.SeedRule(ctx, r); err != nil {
			log.Warn("demo rule seed failed", slog.String("rule", r.Name), slog.Any("error", err))
		}
	}
	log.Info("demo rules seeded", slog.Int("count", len(demo)))
}

func buildNotifier(cfg *config.Config, log *slog.Logger) alert.Notifier {
	switch cfg.NotifierKind {
	case "telegram":
		if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
			log.Warn("telegram notifier selected but not configured, falling back to log")
			return alert.NewLogNotifier(log)
		}
		return alert.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	case "webhook":
		if cfg.WebhookURL == "" {
			log.Warn("webhook notifier selected but not configured, falling back to log")
			return alert.NewLogNotifier(log)
		}
		return alert.NewWebhookNotifier(cfg.WebhookURL)
	default:
		return alert.NewLogNotifier(log)
	}
}
