package window

import (
	"math/rand"
	"sync"
	"testing"

	"signal-enginev1/internal/model"
)

var btc1m = model.NewKey("BTCUSDT", "1m")

func bar(openTime int64, close float64, closed bool) model.Candle {
	return model.Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 59_999,
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
		Closed:    closed,
	}
}

func TestStore_AppendAndSnapshot(t *testing.T) {
	s := NewStore(10)

	if got := s.Snapshot(btc1m); got != nil {
		t.Fatalf("unseen key should snapshot to nil, got %v", got)
	}

	for i := int64(0); i < 5; i++ {
		if out := s.Upsert(btc1m, bar(i*60_000, 100+float64(i), true)); out != Appended {
			t.Fatalf("bar %d: expected Appended, got %v", i, out)
		}
	}

	snap := s.Snapshot(btc1m)
	if len(snap) != 5 {
		t.Fatalf("expected 5 candles, got %d", len(snap))
	}
	for i, c := range snap {
		if c.OpenTime != int64(i)*60_000 {
			t.Errorf("index %d: open_time=%d", i, c.OpenTime)
		}
	}
}

func TestStore_ReplaceSameOpenTime(t *testing.T) {
	s := NewStore(10)
	s.Upsert(btc1m, bar(0, 100, true))
	s.Upsert(btc1m, bar(60_000, 101, false))

	updated := bar(60_000, 105, true)
	if out := s.Upsert(btc1m, updated); out != Replaced {
		t.Fatalf("expected Replaced, got %v", out)
	}

	snap := s.Snapshot(btc1m)
	if len(snap) != 2 {
		t.Fatalf("length should be unchanged at 2, got %d", len(snap))
	}
	if snap[1] != updated {
		t.Fatalf("tail should equal the new candle: got %+v want %+v", snap[1], updated)
	}
}

func TestStore_StaleDropped(t *testing.T) {
	s := NewStore(10)
	s.Upsert(btc1m, bar(120_000, 100, true))

	if out := s.Upsert(btc1m, bar(60_000, 99, true)); out != Stale {
		t.Fatalf("expected Stale, got %v", out)
	}
	if s.Len(btc1m) != 1 {
		t.Fatalf("stale candle should not be stored, len=%d", s.Len(btc1m))
	}
}

func TestStore_CapacityAndMonotonic(t *testing.T) {
	s := NewStore(DefaultCapacity)
	rng := rand.New(rand.NewSource(7))

	var openTime int64
	for i := 0; i < 2600; i++ {
		// Mix of new bars and in-place updates of the forming bar.
		if rng.Intn(3) != 0 {
			openTime += 60_000
		}
		s.Upsert(btc1m, bar(openTime, 100+rng.Float64(), rng.Intn(2) == 0))
		if n := s.Len(btc1m); n > DefaultCapacity {
			t.Fatalf("step %d: window length %d exceeds capacity", i, n)
		}
	}

	snap := s.Snapshot(btc1m)
	for i := 1; i < len(snap); i++ {
		if snap[i].OpenTime <= snap[i-1].OpenTime {
			t.Fatalf("index %d: open_time %d not after %d", i, snap[i].OpenTime, snap[i-1].OpenTime)
		}
	}
}

func TestStore_EvictsFromFront(t *testing.T) {
	s := NewStore(DefaultCapacity)
	for i := int64(0); i < DefaultCapacity+1; i++ {
		s.Upsert(btc1m, bar(i, 1, true))
	}

	snap := s.Snapshot(btc1m)
	if len(snap) != DefaultCapacity {
		t.Fatalf("expected %d, got %d", DefaultCapacity, len(snap))
	}
	if snap[0].OpenTime != 1 {
		t.Fatalf("oldest candle should have been evicted, first open_time=%d", snap[0].OpenTime)
	}
	if s.Window(btc1m).Evicted() != 1 {
		t.Fatalf("expected evicted=1, got %d", s.Window(btc1m).Evicted())
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewStore(10)
	s.Upsert(btc1m, bar(0, 100, false))

	snap := s.Snapshot(btc1m)
	snap[0].Close = -1

	again := s.Snapshot(btc1m)
	if again[0].Close != 100 {
		t.Fatalf("mutating a snapshot leaked into the window: close=%v", again[0].Close)
	}
}

func TestStore_DefaultCapacity(t *testing.T) {
	if NewStore(0).Capacity() != DefaultCapacity {
		t.Fatal("non-positive capacity should select the default")
	}
}

func TestStore_ConcurrentKeys(t *testing.T) {
	s := NewStore(100)
	keys := []model.Key{
		model.NewKey("BTCUSDT", "1m"),
		model.NewKey("ETHUSDT", "1m"),
		model.NewKey("BTCUSDT", "5m"),
		model.NewKey("SOLUSDT", "15m"),
	}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k model.Key) {
			defer wg.Done()
			for i := int64(0); i < 500; i++ {
				s.Upsert(k, bar(i, 1, true))
				_ = s.Snapshot(k)
			}
		}(k)
	}
	wg.Wait()

	got := s.Keys()
	if len(got) != len(keys) {
		t.Fatalf("expected %d keys, got %d", len(keys), len(got))
	}
	for _, k := range keys {
		if s.Len(k) != 100 {
			t.Errorf("%s: expected len=100, got %d", k, s.Len(k))
		}
	}
	if got[0].String() != "BTCUSDT-1m" {
		t.Errorf("keys should be sorted, first=%s", got[0])
	}
}
