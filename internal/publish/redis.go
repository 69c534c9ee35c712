// Package publish pushes live pipeline events to Redis for downstream
// consumers (dashboards, push channels). Each accepted tick and each
// recomputed indicator set becomes one serializable event.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signalwatch/internal/fanout"
	"signalwatch/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: ~3h of 1s ticks + buffer
	tickStreamMaxLen = 12000
	defaultLatestTTL = 30 * time.Minute

	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes tick events, indicator updates and triggered signals
// to Redis Streams and PubSub.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker
	log     *slog.Logger
}

// New creates a Publisher and pings the server.
func New(cfg Config, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &Publisher{
		client:  client,
		breaker: NewBreaker(breakerMaxFailures, breakerResetTimeout),
		log:     log.With(slog.String("component", "publish")),
	}
	p.breaker.OnStateChange = func(from, to BreakerState) {
		p.log.Warn("publish breaker transition",
			slog.String("from", from.String()), slog.String("to", to.String()))
	}
	p.log.Info("redis connected", slog.String("addr", cfg.Addr))
	return p, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Callback returns a fan-out callback that publishes every tick event.
// Publish failures are logged and never surfaced — the sink retries on the
// next tick by simply receiving it.
func (p *Publisher) Callback(ctx context.Context) fanout.Callback {
	return func(ev fanout.Event) {
		p.PublishTick(ctx, ev.Point)
		if len(ev.Indicators) > 0 {
			p.PublishIndicators(ctx, model.IndicatorUpdate{
				Symbol: ev.Point.Symbol,
				TS:     ev.Point.TS,
				Fields: ev.Indicators,
			})
		}
	}
}

// PublishTick performs pipelined writes for one accepted tick:
// SET latest + XADD to the tick stream + PUBLISH for live subscribers.
func (p *Publisher) PublishTick(ctx context.Context, point model.PricePoint) {
	jsonData := string(point.JSON())
	latestKey := "tick:latest:" + point.Symbol
	streamKey := "tick:" + point.Symbol
	pubsubCh := "pub:tick:" + point.Symbol

	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: tickStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		p.log.Warn("tick publish failed", slog.String("symbol", point.Symbol),
			slog.Int("consecutive_failures", p.breaker.Failures()), slog.Any("error", err))
	}
}

// PublishIndicators publishes one recomputed indicator set.
// Consumers must tolerate sparse fields — an indicator is absent until its
// minimum window is reached.
func (p *Publisher) PublishIndicators(ctx context.Context, upd model.IndicatorUpdate) {
	jsonData := string(upd.JSON())
	latestKey := "ind:latest:" + upd.Symbol
	streamKey := "ind:" + upd.Symbol
	pubsubCh := "pub:ind:" + upd.Symbol

	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: tickStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		p.log.Warn("indicator publish failed", slog.String("symbol", upd.Symbol),
			slog.Int("consecutive_failures", p.breaker.Failures()), slog.Any("error", err))
	}
}

// PublishSignal publishes a triggered signal for live consumers.
func (p *Publisher) PublishSignal(ctx context.Context, symbol string, sig model.TriggeredSignal) {
	jsonData := string(sig.JSON())
	err := p.breaker.Execute(func() error {
		pipe := p.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: "signal:" + symbol,
			MaxLen: 1000,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Publish(ctx, "pub:signal:"+symbol, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrBreakerOpen {
		p.log.Warn("signal publish failed", slog.String("symbol", symbol),
			slog.Int("consecutive_failures", p.breaker.Failures()), slog.Any("error", err))
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
