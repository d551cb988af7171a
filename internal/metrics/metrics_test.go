package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"signal-enginev1/internal/breaker"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.SignalsTotal.WithLabelValues("LONG", "1m").Inc()

	if got := testutil.ToFloat64(a.SignalsTotal.WithLabelValues("LONG", "1m")); got != 1 {
		t.Errorf("a: got %v", got)
	}
	if got := testutil.ToFloat64(b.SignalsTotal.WithLabelValues("LONG", "1m")); got != 0 {
		t.Errorf("b should be unaffected, got %v", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.FramesTotal.Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "signalengine_ws_frames_total 3") {
		t.Fatalf("frames counter missing from exposition:\n%s", body)
	}
}

func TestBreakerObserver(t *testing.T) {
	m := NewMetrics()
	obs := m.BreakerObserver()

	obs("redis", breaker.StateClosed, breaker.StateOpen)
	obs("redis", breaker.StateOpen, breaker.StateHalfOpen)

	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("redis")); got != 2 {
		t.Errorf("state: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BreakerTrips.WithLabelValues("redis")); got != 1 {
		t.Errorf("trips: got %v, want 1", got)
	}
}

func TestHealthStatus_CheckAll(t *testing.T) {
	h := NewHealthStatus()
	h.Register("sqlite", func(ctx context.Context) error { return nil })
	h.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	deps := h.Dependencies()
	if len(deps) != 2 || deps[0].OK || deps[1].OK {
		t.Fatalf("unchecked dependencies should be unhealthy: %+v", deps)
	}

	h.CheckAll(context.Background())
	deps = h.Dependencies()
	if deps[0].Name != "redis" || deps[0].OK || deps[0].Error != "connection refused" {
		t.Errorf("redis: %+v", deps[0])
	}
	if deps[1].Name != "sqlite" || !deps[1].OK {
		t.Errorf("sqlite: %+v", deps[1])
	}
	if deps[1].CheckedAt.IsZero() {
		t.Error("checked_at should be set")
	}
}
