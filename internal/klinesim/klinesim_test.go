package klinesim

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/stream"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		symbol  string
		tf      string
		wantErr bool
	}{
		{"/ws/btcusdt@kline_1m", "BTCUSDT", "1m", false},
		{"/ws/ethusdt@kline_15m", "ETHUSDT", "15m", false},
		{"/ws/btcusdt@trade", "", "", true},
		{"/ws/btcusdt@kline_7m", "", "", true},
		{"/stream/btcusdt@kline_1m", "", "", true},
		{"/ws/@kline_1m", "", "", true},
	}
	for _, tt := range tests {
		sym, tf, err := ParsePath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", tt.path, err, tt.wantErr)
			continue
		}
		if sym != tt.symbol || tf != tt.tf {
			t.Errorf("%s: got (%s, %s)", tt.path, sym, tf)
		}
	}
}

func TestGenerator_FramesDecodeAndClose(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	g, err := NewGenerator("BTCUSDT", "1m", start, 100, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	var prevOpen int64 = -1
	for i := 0; i < 9; i++ {
		c, err := stream.DecodeKline(g.Next())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		wantClosed := i%3 == 2
		if c.Closed != wantClosed {
			t.Errorf("frame %d: closed=%v, want %v", i, c.Closed, wantClosed)
		}
		if c.High < c.Low || c.Close > c.High || c.Close < c.Low {
			t.Errorf("frame %d: inconsistent OHLC %+v", i, c)
		}
		if i%3 == 0 {
			if prevOpen >= 0 && c.OpenTime != prevOpen+60_000 {
				t.Errorf("frame %d: open_time %d, want %d", i, c.OpenTime, prevOpen+60_000)
			}
			prevOpen = c.OpenTime
		}
		if c.CloseTime != c.OpenTime+59_999 {
			t.Errorf("frame %d: close_time %d", i, c.CloseTime)
		}
	}
	if first := start.Truncate(time.Minute).UnixMilli(); prevOpen != first+120_000 {
		t.Errorf("third bar open_time %d, want %d", prevOpen, first+120_000)
	}
}

func TestGenerator_UnknownInterval(t *testing.T) {
	if _, err := NewGenerator("BTCUSDT", "2m", time.Now(), 1, 1, 1); err == nil {
		t.Fatal("expected error")
	}
}

func TestHandler_FeedsSupervisor(t *testing.T) {
	srv := httptest.NewServer(Handler(Config{TickInterval: 5 * time.Millisecond, TicksPerBar: 2}, zerolog.Nop()))
	defer srv.Close()

	var mu sync.Mutex
	closed := map[string]int{}
	keys := []model.Key{model.NewKey("BTCUSDT", "1m"), model.NewKey("ETHUSDT", "5m")}
	sup := stream.NewSupervisor(stream.Config{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), StartupPacing: time.Millisecond}, keys,
		func(k model.Key, c model.Candle) {
			if c.Closed {
				mu.Lock()
				closed[k.String()]++
				mu.Unlock()
			}
		}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { sup.Run(ctx); close(done) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		ok := closed["BTCUSDT-1m"] >= 2 && closed["ETHUSDT-5m"] >= 2
		mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("not enough closed candles: %v", closed)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}
