package gateway

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/model"
)

// Hub pushes signal lifecycle events to websocket clients.
// Every envelope carries a global seq so a reconnecting client can ask
// for what it missed with ?since=<seq>.
type Hub struct {
	log     zerolog.Logger
	latency *LatencyTracker
	backlog *Backlog

	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64
}

// NewHub creates a hub that keeps the last backlogSize envelopes for replay.
func NewHub(backlogSize int, log zerolog.Logger) *Hub {
	return &Hub{
		log:     log,
		latency: NewLatencyTracker(4096),
		backlog: NewBacklog(backlogSize),
		clients: make(map[*Client]struct{}),
	}
}

// Run broadcasts events until ctx is cancelled or events is closed, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context, events <-chan bus.Event) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// Channel names the push channel of an event, e.g. "signal:BTCUSDT-1m".
func Channel(ev bus.Event) string {
	return string(ev.Type) + ":" + ev.Signal.Key().String()
}

// Broadcast sends ev to every client whose filter matches the signal.
func (h *Hub) Broadcast(ev bus.Event) {
	if ev.Signal == nil {
		return
	}
	now := time.Now().UTC()
	if !ev.Signal.TS.IsZero() {
		h.latency.Record(float64(now.Sub(ev.Signal.TS).Microseconds()) / 1000.0)
	}

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	buf := envelope(ev, seq, now)
	h.backlog.Push(seq, ev.Signal.Key(), buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(ev.Signal.Key()) {
			continue
		}
		select {
		case c.send <- buf:
		default:
			h.log.Warn().Str("channel", Channel(ev)).Msg("ws client send buffer full, dropping")
		}
	}
}

// envelope hand-builds {"type":..,"channel":..,"seq":N,"ts":..,"data":{signal}}.
func envelope(ev bus.Event, seq int64, now time.Time) []byte {
	data := ev.Signal.JSON()
	channel := Channel(ev)
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, ev.Type...)
	buf = append(buf, `","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

// Serve registers conn as a client and replays backlog entries newer than
// since. It returns immediately; the client's pumps own the connection.
func (h *Hub) Serve(conn *websocket.Conn, since int64) {
	c := newClient(conn, h)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info().Str("client", c.id).Int("clients", count).Str("remote", conn.RemoteAddr().String()).Msg("ws client connected")

	if since > 0 {
		for _, e := range h.backlog.Since(since) {
			h.deliver(c, e.Data)
		}
	}

	go c.writePump()
	go c.readPump()
}

// deliver queues b for c unless c has already been removed.
func (h *Hub) deliver(c *Client, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the seq of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Latency returns the candle-close to broadcast latency tracker.
func (h *Hub) Latency() *LatencyTracker { return h.latency }

// Backlog returns envelopes newer than since, optionally restricted to key.
func (h *Hub) Backlog(since int64, key *model.Key) [][]byte {
	entries := h.backlog.Since(since)
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if key != nil && e.Key != *key {
			continue
		}
		out = append(out, e.Data)
	}
	return out
}
