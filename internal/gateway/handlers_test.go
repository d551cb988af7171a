package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/engine"
	"signal-enginev1/internal/enrich"
	"signal-enginev1/internal/journal"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

type fakeEngine struct {
	settings *enrich.Settings
	journal  *journal.Journal
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{settings: enrich.NewSettings(model.ModeLocal, ""), journal: journal.New(10)}
}

func (f *fakeEngine) Health() engine.Health {
	return engine.Health{OK: true, AIMode: f.settings.Mode(), HasKey: f.settings.HasCredential(), Symbols: []string{"BTCUSDT"}, Timeframes: []string{"1m"}, JournalSize: f.journal.Len()}
}
func (f *fakeEngine) Latest() (*model.Signal, bool) { return f.journal.Latest() }
func (f *fakeEngine) Recent(fl journal.Filter) []*model.Signal { return f.journal.Recent(fl) }
func (f *fakeEngine) SetCredential(v string) { f.settings.SetCredential(v) }
func (f *fakeEngine) SetMode(mode string) (model.Mode, error) {
	m, err := enrich.ParseMode(mode)
	if err != nil {
		return "", err
	}
	f.settings.SetMode(m)
	return m, nil
}

func sig(id, symbol, tf string) *model.Signal {
	return &model.Signal{ID: id, TS: time.Now().UTC(), Symbol: symbol, Timeframe: tf, Side: model.SideLong, Entry: 100, StopLoss: 98, TakeProfit1: 103, TakeProfit2: 106, Quality: 4}
}

func newServer(eng *fakeEngine) http.Handler {
	s := &Server{Engine: eng, Metrics: metrics.NewMetrics(), Health: metrics.NewHealthStatus(), Hub: NewHub(10, zerolog.Nop()), Log: zerolog.Nop()}
	return s.Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newServer(newFakeEngine())
	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != true || body["aiMode"] != "local" {
		t.Errorf("body: %v", body)
	}
	if _, ok := body["uptime_sec"]; !ok {
		t.Error("missing uptime_sec")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestLatest_EmptyThenSignal(t *testing.T) {
	eng := newFakeEngine()
	h := newServer(eng)

	rec := do(t, h, http.MethodGet, "/latest", "")
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("empty latest should be {}, got %s", rec.Body.String())
	}

	eng.journal.Append(sig("a", "BTCUSDT", "1m"))
	rec = do(t, h, http.MethodGet, "/latest", "")
	var got map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got["id"] != "a" {
		t.Errorf("latest: %v", got)
	}
	if _, ok := got["ai"]; ok {
		t.Error("ai should be absent before enrichment")
	}
}

func TestSignals_FilterAndLimit(t *testing.T) {
	eng := newFakeEngine()
	eng.journal.Append(sig("1", "BTCUSDT", "1m"))
	eng.journal.Append(sig("2", "ETHUSDT", "1m"))
	eng.journal.Append(sig("3", "BTCUSDT", "5m"))
	eng.journal.Append(sig("4", "BTCUSDT", "1m"))
	h := newServer(eng)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"1", "2", "3", "4"}},
		{"?symbol=btcusdt", []string{"1", "3", "4"}},
		{"?symbol=BTCUSDT&timeframe=1m", []string{"1", "4"}},
		{"?limit=2", []string{"3", "4"}},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, "/signals"+tt.query, "")
		var got []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%s: %v", tt.query, err)
		}
		ids := make([]string, len(got))
		for i, g := range got {
			ids[i] = g.ID
		}
		if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
			t.Errorf("%q: got %v, want %v", tt.query, ids, tt.want)
		}
	}

	if rec := do(t, h, http.MethodGet, "/signals?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status %d", rec.Code)
	}
}

func TestSetMode(t *testing.T) {
	eng := newFakeEngine()
	h := newServer(eng)

	rec := do(t, h, http.MethodPost, "/set-mode", `{"mode":"remote"}`)
	if rec.Code != http.StatusOK || eng.settings.Mode() != model.ModeRemote {
		t.Fatalf("status %d mode %s", rec.Code, eng.settings.Mode())
	}

	rec = do(t, h, http.MethodPost, "/set-mode", `{"mode":"gpt"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown mode: status %d", rec.Code)
	}
	if eng.settings.Mode() != model.ModeRemote {
		t.Error("unknown mode must not change the current mode")
	}

	if rec := do(t, h, http.MethodPost, "/set-mode", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", rec.Code)
	}
}

func TestSetKey(t *testing.T) {
	eng := newFakeEngine()
	h := newServer(eng)

	rec := do(t, h, http.MethodPost, "/set-key", `{"key":" sk-123 "}`)
	if rec.Code != http.StatusOK || eng.settings.Credential() != "sk-123" {
		t.Fatalf("status %d credential %q", rec.Code, eng.settings.Credential())
	}

	do(t, h, http.MethodPost, "/set-key", ``)
	if eng.settings.HasCredential() {
		t.Error("empty body should clear the key")
	}
}

func TestMethodsAndPreflight(t *testing.T) {
	h := newServer(newFakeEngine())

	if rec := do(t, h, http.MethodOptions, "/set-mode", ""); rec.Code != http.StatusNoContent {
		t.Errorf("preflight: status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/set-mode", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /set-mode: status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/latest", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /latest: status %d", rec.Code)
	}
}

func TestMetricsAndStats(t *testing.T) {
	h := newServer(newFakeEngine())

	if rec := do(t, h, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics: status %d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/stats", "")
	var st Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Goroutines == 0 || st.CPUCores == 0 {
		t.Errorf("stats: %+v", st)
	}
}
