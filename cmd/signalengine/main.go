// cmd/signalengine streams Binance klines for every configured
// symbol/timeframe, emits Trend_Cross signals, enriches them and serves
// the HTTP/websocket query surface.
//
// Config: optional YAML at -config (or CONFIG_PATH), then env overrides
// such as SYMBOLS, TIMEFRAMES, HTTP_ADDR, AI_MODE, OPENAI_API_KEY,
// REDIS_ADDR, SQLITE_PATH, KAFKA_BROKERS, CLICKHOUSE_HOST, WEBHOOK_URL,
// TELEGRAM_BOT_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"signal-enginev1/config"
	"signal-enginev1/internal/breaker"
	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/enrich"
	"signal-enginev1/internal/gateway"
	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/journal"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/notification"
	"signal-enginev1/internal/store"
	chstore "signal-enginev1/internal/store/clickhouse"
	kafkastore "signal-enginev1/internal/store/kafka"
	redisstore "signal-enginev1/internal/store/redis"
	sqlitestore "signal-enginev1/internal/store/sqlite"
	"signal-enginev1/internal/strategy"
	"signal-enginev1/internal/stream"
	"signal-enginev1/internal/window"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load() // optional .env in the working directory

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.Init("signalengine", cfg.Log.Level, cfg.Log.Format)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("signalengine stopped")
	}
	log.Info().Msg("signalengine stopped")
}

// app collects the long-running pieces so shutdown can stop them in order.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	fan    *bus.FanOut

	sinkCtx context.Context
	sinks   sync.WaitGroup
	closers []func() error
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()

	a := &app{
		cfg:     cfg,
		log:     log,
		prom:    metrics.NewMetrics(),
		health:  metrics.NewHealthStatus(),
		fan:     bus.New(cfg.Sinks.BufferSize),
		sinkCtx: sinkCtx,
	}
	a.fan.OnDrop = func(sub string, ev bus.Event) {
		a.prom.FanoutDropsTotal.WithLabelValues(sub).Inc()
		log.Warn().Str("subscriber", sub).Str("event", string(ev.Type)).Str("signal", ev.Signal.ID).Msg("fan-out drop")
	}

	if err := a.startSinks(); err != nil {
		return err
	}
	a.health.StartLivenessChecker(ctx, cfg.Sinks.HealthInterval, logger.Component(log, "health"))
	go a.sampleChannels(ctx, 5*time.Second)

	hub := gateway.NewHub(500, logger.Component(log, "ws"))
	hubEvents := a.fan.Subscribe("ws")
	a.sinks.Add(1)
	go func() {
		defer a.sinks.Done()
		hub.Run(sinkCtx, hubEvents)
	}()

	// Enrichment
	mode, err := enrich.ParseMode(cfg.Enrichment.Mode)
	if err != nil {
		return err
	}
	settings := enrich.NewSettings(mode, cfg.Enrichment.APIKey)
	remote := enrich.NewRemote(enrich.RemoteConfig{
		BaseURL: cfg.Enrichment.BaseURL,
		Model:   cfg.Enrichment.Model,
		Timeout: cfg.Enrichment.RemoteTimeout,
	}, a.newBreaker("remote"), logger.Component(log, "remote"))
	dispatcher := enrich.NewDispatcher(settings, enrich.Local{}, remote, a.prom, logger.Component(log, "enrich"))

	// Engine
	pipeline := indicator.NewPipeline(indicator.DefaultPeriods, cfg.Window.MinHistory)
	eng := engine.New(engine.Config{
		Store:      window.NewStore(cfg.Window.Capacity),
		Strategy:   strategy.NewTrendCross(pipeline, strategy.DefaultRules, logger.Component(log, "strategy")),
		Journal:    journal.New(cfg.Journal.Capacity),
		Settings:   settings,
		Enricher:   dispatcher,
		Bus:        a.fan,
		Metrics:    a.prom,
		Symbols:    cfg.Symbols,
		Timeframes: cfg.Timeframes,
	}, logger.Component(log, "engine"))
	dispatcher.OnAttach = eng.OnEnriched

	keys := stream.Keys(cfg.Symbols, cfg.Timeframes)
	sup := stream.NewSupervisor(stream.Config{
		BaseURL:        cfg.Stream.BaseURL,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
		StartupPacing:  cfg.Stream.StartupPacing,
		ReadTimeout:    cfg.Stream.ReadTimeout,
	}, keys, eng.OnCandle, a.prom, logger.Component(log, "stream"))
	sup.OnReconnect = func(k model.Key) {
		log.Debug().Str("key", k.String()).Msg("stream reconnect scheduled")
	}
	eng.SetStateSource(sup)

	gw := &gateway.Server{Engine: eng, Hub: hub, Bus: a.fan, Metrics: a.prom, Health: a.health, Log: logger.Component(log, "http")}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	log.Info().
		Int("symbols", len(cfg.Symbols)).
		Strs("timeframes", cfg.Timeframes).
		Int("streams", len(keys)).
		Str("ai_mode", string(mode)).
		Msg("signalengine started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-httpErr:
		runErr = fmt.Errorf("http: %w", err)
		stop()
	}

	// Streams first so no new candles arrive, then in-flight enrichment,
	// then drain the sinks.
	<-supDone
	dispatcher.Close()

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	a.fan.Close()
	drained := make(chan struct{})
	go func() {
		a.sinks.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutCtx.Done():
		log.Warn().Msg("sink drain timed out")
		cancelSinks()
		<-drained
	}

	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}
	return runErr
}

func (a *app) newBreaker(name string) *breaker.Breaker {
	return breaker.New(name, a.cfg.Sinks.BreakerMaxFailures, a.cfg.Sinks.BreakerResetTimeout,
		breaker.WithStateChange(a.prom.BreakerObserver()))
}

// pump subscribes name to the bus and drives s until the bus closes.
func (a *app) pump(name string, s store.Sink) {
	events := a.fan.Subscribe(name)
	a.sinks.Add(1)
	go func() {
		defer a.sinks.Done()
		store.Pump(a.sinkCtx, name, events, s, a.prom, logger.Component(a.log, name))
	}()
}

// buffered puts a breaker and a replay buffer in front of s.
func (a *app) buffered(name string, s store.Sink) store.Sink {
	bs := store.NewBufferedSink(s, a.newBreaker(name), 0, logger.Component(a.log, name))
	bs.OnFlush = func(n int) {
		a.log.Info().Str("sink", name).Int("events", n).Msg("flushed buffered events")
	}
	return bs
}

// startSinks wires every configured sink to the bus. Redis, Kafka and ClickHouse are
// optional and the engine runs without them; a configured SQLite path that
// cannot be opened is fatal.
func (a *app) startSinks() error {
	cfg := a.cfg

	if cfg.Redis.Addr != "" {
		w, err := redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.Component(a.log, "redis"))
		if err != nil {
			a.log.Warn().Err(err).Msg("redis unavailable, continuing without it")
		} else {
			a.closers = append(a.closers, w.Close)
			a.health.Register("redis", w.Ping)
			a.pump("redis", a.buffered("redis", w))
		}
	}

	if cfg.SQLite.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLite.Path}, logger.Component(a.log, "sqlite"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, w.Close)
		a.health.Register("sqlite", w.Ping)
		events := a.fan.Subscribe("sqlite")
		a.sinks.Add(1)
		go func() {
			defer a.sinks.Done()
			w.Run(a.sinkCtx, events, a.prom)
		}()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		p, err := kafkastore.NewProducer(kafkastore.Config{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			Compression: cfg.Kafka.Compression,
		}, logger.Component(a.log, "kafka"))
		if err != nil {
			a.log.Warn().Err(err).Msg("kafka unavailable, continuing without it")
		} else {
			a.closers = append(a.closers, p.Close)
			a.health.Register("kafka", p.Ping)
			a.pump("kafka", a.buffered("kafka", p))
		}
	}

	if cfg.ClickHouse.Host != "" {
		w, err := chstore.New(chstore.Config{
			Host:     cfg.ClickHouse.Host,
			Port:     cfg.ClickHouse.Port,
			Database: cfg.ClickHouse.Database,
			User:     cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		}, logger.Component(a.log, "clickhouse"))
		if err != nil {
			a.log.Warn().Err(err).Msg("clickhouse unavailable, continuing without it")
		} else {
			a.closers = append(a.closers, w.Close)
			a.health.Register("clickhouse", w.Ping)
			a.pump("clickhouse", a.buffered("clickhouse", w))
		}
	}

	var notifiers []notification.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, logger.Component(a.log, "webhook")))
	}
	if cfg.Notify.TelegramBotToken != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Notify.TelegramBotToken, cfg.Notify.TelegramChatID, logger.Component(a.log, "telegram")))
	}
	if len(notifiers) > 0 {
		a.pump("notify", notification.NewSink(notifiers...))
	}
	return nil
}

// sampleChannels exports the fill level of every bus subscriber.
func (a *app) sampleChannels(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range a.fan.ChannelStats() {
				if s.Cap > 0 {
					a.prom.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
				}
			}
		}
	}
}
