// Package gateway is the HTTP query and control surface of the signal
// engine plus websocket push of signal events.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/enrich"
	"signal-enginev1/internal/journal"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

// Engine is the query/control boundary the gateway serves.
type Engine interface {
	Health() engine.Health
	Latest() (*model.Signal, bool)
	Recent(f journal.Filter) []*model.Signal
	SetMode(mode string) (model.Mode, error)
	SetCredential(v string)
}

// Server holds the handler dependencies. Hub, Bus, Metrics and Health are optional.
type Server struct {
	Engine  Engine
	Hub     *Hub
	Bus     *bus.FanOut
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Log     zerolog.Logger

	start time.Time
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// maxBody bounds POST request bodies.
const maxBody = 1 << 16

// SetCORS sets permissive CORS headers.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Routes returns the gateway handler.
func (s *Server) Routes() http.Handler {
	s.start = time.Now()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.get(s.handleHealth))
	mux.HandleFunc("/latest", s.get(s.handleLatest))
	mux.HandleFunc("/signals", s.get(s.handleSignals))
	mux.HandleFunc("/stats", s.get(s.handleStats))
	mux.HandleFunc("/set-key", s.post(s.handleSetKey))
	mux.HandleFunc("/set-mode", s.post(s.handleSetMode))
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}
	if s.Hub != nil {
		mux.HandleFunc("/ws", s.handleWS)
		mux.HandleFunc("/missed", s.get(s.handleMissed))
	}
	return mux
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return s.method(http.MethodGet, h)
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return s.method(http.MethodPost, h)
}

func (s *Server) method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case m:
			h(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": msg})
}

type healthResponse struct {
	engine.Health
	UptimeSec    int64                      `json:"uptime_sec"`
	Dependencies []metrics.DependencyStatus `json:"dependencies,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Health: s.Engine.Health(), UptimeSec: int64(time.Since(s.start).Seconds())}
	if s.Health != nil {
		resp.Dependencies = s.Health.Dependencies()
		resp.UptimeSec = int64(s.Health.Uptime().Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	sig, ok := s.Engine.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := journal.Filter{
		Symbol:    q.Get("symbol"),
		Timeframe: q.Get("timeframe"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		f.Limit = n
	}
	writeJSON(w, http.StatusOK, s.Engine.Recent(f))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CollectStats(s.start, s.Hub, s.Bus))
}

// decodeBody decodes a JSON body into v. An empty body leaves v zero.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.Engine.SetCredential(req.Key)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "hasKey": strings.TrimSpace(req.Key) != ""})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := s.Engine.SetMode(req.Mode)
	if err != nil {
		if errors.Is(err, enrich.ErrUnknownMode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "mode": mode})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	s.Hub.Serve(conn, since)
}

// handleMissed returns backlog envelopes newer than ?since, optionally for
// one ?symbol and ?timeframe.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := strconv.ParseInt(q.Get("since"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be an integer")
		return
	}
	var key *model.Key
	if sym, tf := q.Get("symbol"), q.Get("timeframe"); sym != "" && tf != "" {
		k := model.NewKey(sym, tf)
		key = &k
	}
	raw := s.Hub.Backlog(since, key)
	out := make([]json.RawMessage, len(raw))
	for i, b := range raw {
		out[i] = b
	}
	writeJSON(w, http.StatusOK, out)
}
