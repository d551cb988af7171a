// cmd/klineserver serves simulated Binance kline streams for running the
// signal engine offline. Point STREAM_BASE_URL at ws://localhost:9443.
//
// Config (env vars):
//
//	KLINE_SERVER_ADDR    listen address (default ":9443")
//	KLINE_TICK_MS        ms between updates on one stream (default 250)
//	KLINE_TICKS_PER_BAR  updates per bar before it closes (default 4)
//	KLINE_START_PRICE    opening price of every walk (default 100)
//	LOG_LEVEL, LOG_FORMAT
package main

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"signal-enginev1/internal/klinesim"
	"signal-enginev1/internal/logger"
)

func main() {
	log := logger.Init("klineserver", envOrDefault("LOG_LEVEL", "info"), envOrDefault("LOG_FORMAT", "console"))

	addr := envOrDefault("KLINE_SERVER_ADDR", ":9443")
	cfg := klinesim.Config{
		TickInterval: time.Duration(envIntOrDefault("KLINE_TICK_MS", 250)) * time.Millisecond,
		TicksPerBar:  envIntOrDefault("KLINE_TICKS_PER_BAR", 4),
		StartPrice:   envFloatOrDefault("KLINE_START_PRICE", 100),
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           klinesim.Handler(cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().
		Str("addr", addr).
		Dur("tick", cfg.TickInterval).
		Int("ticks_per_bar", cfg.TicksPerBar).
		Msg("klineserver listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
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

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
