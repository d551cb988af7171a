// Package klinesim serves Binance-compatible kline websocket streams built
// from a random walk, for offline runs of the signal engine.
package klinesim

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type frame struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     kline  `json:"k"`
}

type kline struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

var intervals = map[string]time.Duration{
	"1m": time.Minute, "3m": 3 * time.Minute, "5m": 5 * time.Minute,
	"15m": 15 * time.Minute, "30m": 30 * time.Minute,
	"1h": time.Hour, "2h": 2 * time.Hour, "4h": 4 * time.Hour,
	"6h": 6 * time.Hour, "8h": 8 * time.Hour, "12h": 12 * time.Hour,
	"1d": 24 * time.Hour, "3d": 72 * time.Hour, "1w": 168 * time.Hour,
}

// IntervalDuration returns the bar length of a kline interval such as "15m".
func IntervalDuration(tf string) (time.Duration, error) {
	d, ok := intervals[tf]
	if !ok {
		return 0, fmt.Errorf("klinesim: unknown interval %q", tf)
	}
	return d, nil
}

// ParsePath splits "/ws/btcusdt@kline_1m" into ("BTCUSDT", "1m").
func ParsePath(p string) (symbol, tf string, err error) {
	stream, ok := strings.CutPrefix(p, "/ws/")
	if !ok {
		return "", "", fmt.Errorf("klinesim: bad path %q", p)
	}
	sym, tf, ok := strings.Cut(stream, "@kline_")
	if !ok || sym == "" {
		return "", "", fmt.Errorf("klinesim: bad stream %q", stream)
	}
	if _, err := IntervalDuration(tf); err != nil {
		return "", "", err
	}
	return strings.ToUpper(sym), tf, nil
}

// Generator emits successive updates for one symbol/interval. Every
// ticksPerBar updates the forming bar is closed and a new one opened.
type Generator struct {
	symbol      string
	tf          string
	bar         time.Duration
	ticksPerBar int
	rng         *rand.Rand

	openTime               int64
	tick                   int
	open, high, low, close float64
	volume                 float64
}

// NewGenerator starts a walk at price with the first bar opening at start.
func NewGenerator(symbol, tf string, start time.Time, price float64, ticksPerBar int, seed int64) (*Generator, error) {
	bar, err := IntervalDuration(tf)
	if err != nil {
		return nil, err
	}
	if ticksPerBar < 1 {
		ticksPerBar = 1
	}
	g := &Generator{
		symbol:      symbol,
		tf:          tf,
		bar:         bar,
		ticksPerBar: ticksPerBar,
		rng:         rand.New(rand.NewSource(seed)),
		openTime:    start.Truncate(bar).UnixMilli(),
	}
	g.reset(price)
	return g, nil
}

func (g *Generator) reset(price float64) {
	g.open, g.high, g.low, g.close = price, price, price, price
	g.volume = 0
	g.tick = 0
}

// Next advances the walk by one update and returns the encoded frame.
func (g *Generator) Next() []byte {
	pct := (g.rng.Float64()*0.4 - 0.2) / 100.0
	g.close = math.Max(g.close*(1+pct), 1e-8)
	g.high = math.Max(g.high, g.close)
	g.low = math.Min(g.low, g.close)
	g.volume += g.rng.Float64() * 10
	g.tick++

	closed := g.tick >= g.ticksPerBar
	f := frame{
		Event:     "kline",
		EventTime: time.Now().UnixMilli(),
		Symbol:    g.symbol,
		Kline: kline{
			OpenTime:  g.openTime,
			CloseTime: g.openTime + g.bar.Milliseconds() - 1,
			Symbol:    g.symbol,
			Interval:  g.tf,
			Open:      num(g.open),
			High:      num(g.high),
			Low:       num(g.low),
			Close:     num(g.close),
			Volume:    num(g.volume),
			Closed:    closed,
		},
	}
	b, _ := json.Marshal(f)

	if closed {
		g.openTime += g.bar.Milliseconds()
		g.reset(g.close)
	}
	return b
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', 8, 64) }

// Config controls the simulated feed.
type Config struct {
	TickInterval time.Duration // time between updates on one stream
	TicksPerBar  int
	StartPrice   float64
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Handler serves /ws/<symbol>@kline_<tf> and /health.
func Handler(cfg Config, log zerolog.Logger) http.Handler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.TicksPerBar <= 0 {
		cfg.TicksPerBar = 4
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok","service":"klineserver"}`)
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		symbol, tf, err := ParsePath(r.URL.Path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("upgrade failed")
			return
		}
		defer conn.Close()

		clog := log.With().Str("symbol", symbol).Str("tf", tf).Str("remote", r.RemoteAddr).Logger()
		clog.Info().Msg("client connected")

		g, _ := NewGenerator(symbol, tf, time.Now(), cfg.StartPrice, cfg.TicksPerBar, time.Now().UnixNano())
		serve(conn, g, cfg.TickInterval, clog)
		clog.Info().Msg("client disconnected")
	})
	return mux
}

// serve writes frames until the peer goes away.
func serve(conn *websocket.Conn, g *Generator, every time.Duration, log zerolog.Logger) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, g.Next()); err != nil {
				log.Debug().Err(err).Msg("write failed")
				return
			}
		}
	}
}
