// Package stream keeps one kline websocket per (symbol, timeframe) key
// connected for the life of the process and hands each decoded candle to
// the engine.
//
// Every key runs its own loop: CONNECTING -> OPEN -> CLOSED, then a fixed
// reconnect delay and back to CONNECTING. Loops never give up while the
// context is alive. Startup is paced so the exchange is not hit with every
// handshake at once; reconnects are not paced.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

// State is the connection state of one key.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Handler receives every decoded candle of key, in arrival order, on the
// key's own goroutine.
type Handler func(key model.Key, c model.Candle)

// Config holds the supervisor configuration.
type Config struct {
	// BaseURL of the kline stream server, e.g. "wss://stream.binance.com:9443".
	BaseURL string

	// ReconnectDelay is the fixed wait after a disconnect. Defaults to 2s.
	ReconnectDelay time.Duration

	// StartupPacing is the gap between starting consecutive keys. Defaults to 60ms.
	StartupPacing time.Duration

	// ReadTimeout closes a connection that delivered no frame, ping or pong
	// for this long. Zero disables the deadline.
	ReadTimeout time.Duration

	// HandshakeTimeout bounds the websocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "wss://stream.binance.com:9443"
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.StartupPacing == 0 {
		c.StartupPacing = 60 * time.Millisecond
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// URL returns the kline stream URL of key: <base>/ws/<symbol>@kline_<tf>.
func URL(base string, key model.Key) string {
	return fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(base, "/"), strings.ToLower(key.Symbol), key.Timeframe)
}

// Keys returns the symbol x timeframe product in symbol-major order.
func Keys(symbols, timeframes []string) []model.Key {
	keys := make([]model.Key, 0, len(symbols)*len(timeframes))
	for _, s := range symbols {
		for _, tf := range timeframes {
			keys = append(keys, model.NewKey(s, tf))
		}
	}
	return keys
}

// Supervisor owns the per-key connection loops.
type Supervisor struct {
	cfg     Config
	keys    []model.Key
	handler Handler
	metrics *metrics.Metrics // may be nil
	log     zerolog.Logger
	dialer  *websocket.Dialer

	mu     sync.RWMutex
	states map[model.Key]State

	// OnReconnect is called with the key each time a loop schedules a reconnect (optional).
	OnReconnect func(key model.Key)
}

// NewSupervisor creates a supervisor for keys. Nothing connects until Run.
func NewSupervisor(cfg Config, keys []model.Key, h Handler, m *metrics.Metrics, log zerolog.Logger) *Supervisor {
	cfg.defaults()
	states := make(map[model.Key]State, len(keys))
	for _, k := range keys {
		states[k] = StateClosed
	}
	return &Supervisor{
		cfg:     cfg,
		keys:    keys,
		handler: h,
		metrics: m,
		log:     log,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		states:  states,
	}
}

// Run starts one loop per key, StartupPacing apart, and blocks until ctx
// is cancelled and every loop has returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	s.log.Info().Int("streams", len(s.keys)).Str("base_url", s.cfg.BaseURL).Msg("starting streams")

	for i, key := range s.keys {
		if i > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.StartupPacing):
			}
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(key model.Key) {
			defer wg.Done()
			s.loop(ctx, key)
		}(key)
	}

	wg.Wait()
	s.log.Info().Msg("all streams stopped")
}

// States returns a copy of the per-key connection state.
func (s *Supervisor) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.states))
	for k, st := range s.states {
		out[k.String()] = st
	}
	return out
}

// Open returns the keys whose connection is currently open, sorted.
func (s *Supervisor) Open() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k, st := range s.states {
		if st == StateOpen {
			out = append(out, k.String())
		}
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) setState(key model.Key, st State) {
	s.mu.Lock()
	prev := s.states[key]
	s.states[key] = st
	s.mu.Unlock()

	if s.metrics == nil || prev == st {
		return
	}
	if st == StateOpen {
		s.metrics.StreamsOpen.Inc()
	} else if prev == StateOpen {
		s.metrics.StreamsOpen.Dec()
	}
}

func (s *Supervisor) loop(ctx context.Context, key model.Key) {
	url := URL(s.cfg.BaseURL, key)
	log := s.log.With().Str("key", key.String()).Logger()

	for {
		if ctx.Err() != nil {
			s.setState(key, StateClosed)
			return
		}

		s.setState(key, StateConnecting)
		err := s.runOnce(ctx, key, url, log)
		s.setState(key, StateClosed)
		if ctx.Err() != nil {
			return
		}

		log.Warn().Err(err).Dur("delay", s.cfg.ReconnectDelay).Msg("stream closed, reconnecting")
		if s.metrics != nil {
			s.metrics.WSReconnects.Inc()
		}
		if s.OnReconnect != nil {
			s.OnReconnect(key)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
func (s *Supervisor) runOnce(ctx context.Context, key model.Key, url string, log zerolog.Logger) error {
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("stream: dial: %w", err)
	}
	defer conn.Close()

	s.setState(key, StateOpen)
	log.Info().Msg("stream open")

	conn.SetReadLimit(1 << 20)
	if s.cfg.ReadTimeout > 0 {
		s.extendDeadline(conn)
		conn.SetPongHandler(func(string) error {
			s.extendDeadline(conn)
			return nil
		})
		// The server keeps idle streams alive with pings. Answer them and
		// count them as traffic.
		conn.SetPingHandler(func(data string) error {
			s.extendDeadline(conn)
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})
	}

	// Closes the connection when ctx is cancelled so ReadMessage returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream: read: %w", err)
		}
		s.extendDeadline(conn)
		if s.metrics != nil {
			s.metrics.FramesTotal.Inc()
		}

		c, err := DecodeKline(raw)
		if err != nil {
			if s.metrics != nil {
				s.metrics.FramesDropped.WithLabelValues(dropReason(err)).Inc()
			}
			log.Debug().Err(err).Bytes("raw", truncate(raw, 256)).Msg("frame dropped")
			continue
		}

		s.handler(key, c)
	}
}

func (s *Supervisor) extendDeadline(conn *websocket.Conn) {
	if s.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
