package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"signal-enginev1/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one websocket peer.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu      sync.RWMutex
	filters Filters
}

// Filters restricts which keys a client receives. Empty lists match all.
type Filters struct {
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
}

func newClient(conn *websocket.Conn, h *Hub) *Client {
	return &Client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 256), hub: h}
}

func (c *Client) matches(k model.Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return contains(c.filters.Symbols, k.Symbol) && contains(c.filters.Timeframes, k.Timeframe)
}

func contains(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (c *Client) setFilters(f Filters) {
	for i, s := range f.Symbols {
		f.Symbols[i] = strings.ToUpper(s)
	}
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles SUBSCRIBE/UNSUBSCRIBE and ping messages until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.hub.log.Info().Str("client", c.id).Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in struct {
			Op   string `json:"op"`
			Type string `json:"type"` // accepted as an alias of op
			Ping int64  `json:"ping"`
			Filters
		}
		if json.Unmarshal(msg, &in) != nil {
			continue
		}
		op := in.Op
		if op == "" {
			op = in.Type
		}

		switch strings.ToUpper(op) {
		case "SUBSCRIBE":
			c.setFilters(in.Filters)
			c.hub.log.Debug().Str("client", c.id).Strs("symbols", in.Symbols).Strs("timeframes", in.Timeframes).Msg("ws subscribe")
			c.reply(map[string]interface{}{"type": "subscribed", "client": c.id, "filters": in.Filters})
		case "UNSUBSCRIBE":
			c.setFilters(Filters{})
			c.reply(map[string]interface{}{"type": "unsubscribed"})
		case "PING":
			c.reply(map[string]interface{}{"type": "pong", "ping": in.Ping, "server_ts": time.Now().UnixMilli()})
		}
	}
}

func (c *Client) reply(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.deliver(c, b)
}
