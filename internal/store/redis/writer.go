// Package redis publishes signal events to Redis: an append-only stream
// for consumers, "latest" keys for polling clients and pub/sub channels
// for live dashboards.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/model"
)

const (
	// SignalStream is the Redis Stream every emitted signal is appended to.
	SignalStream = "signals"
	// LatestKey holds the JSON of the most recent signal across all keys.
	LatestKey = "signal:latest"

	signalStreamMaxLen = 5000
	defaultSignalTTL   = 24 * time.Hour
)

// SignalKey returns the key holding the JSON of one signal.
func SignalKey(id string) string { return "signal:" + id }

// LatestKeyFor returns the latest-signal key of one stream key.
func LatestKeyFor(k model.Key) string { return "signal:latest:" + k.String() }

// Channel returns the pub/sub channel of an event type on one stream key,
// e.g. "pub:signal:BTCUSDT-1m" or "pub:enrichment:BTCUSDT-1m".
func Channel(t bus.EventType, k model.Key) string {
	return "pub:" + string(t) + ":" + k.String()
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // per-signal key TTL; 0 selects 24h
}

// Writer writes signal events to Redis.
type Writer struct {
	client *goredis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig, log zerolog.Logger) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSignalTTL
	}
	log.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return &Writer{client: client, ttl: ttl, log: log}, nil
}

// Ping checks connectivity (liveness probe).
func (w *Writer) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// Write implements store.Sink with one pipelined round trip per event.
func (w *Writer) Write(ctx context.Context, ev bus.Event) error {
	sig := ev.Signal
	key := sig.Key()
	jsonData := string(sig.JSON())

	pipe := w.client.Pipeline()

	// The per-signal key is rewritten on enrichment so readers see ai.
	pipe.Set(ctx, SignalKey(sig.ID), jsonData, w.ttl)

	if ev.Type == bus.EventSignal {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: SignalStream,
			MaxLen: signalStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":   sig.ID,
				"key":  key.String(),
				"data": jsonData,
			},
		})
		pipe.Set(ctx, LatestKey, jsonData, 0)
		pipe.Set(ctx, LatestKeyFor(key), jsonData, 0)
	}

	pipe.Publish(ctx, Channel(ev.Type, key), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: pipeline %s %s: %w", ev.Type, sig.ID, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
