// Package window keeps the bounded rolling candle history for every stream key.
//
// Each key owns its own Window with its own lock, so updates on unrelated
// keys never contend. The key→window map is guarded separately and is only
// written when a key is seen for the first time.
package window

import (
	"sort"
	"sync"

	"signal-enginev1/internal/model"
	"signal-enginev1/internal/ringbuf"
)

// DefaultCapacity is the number of candles retained per key.
const DefaultCapacity = 2000

// Outcome describes what Upsert did with a candle.
type Outcome int

const (
	Appended Outcome = iota // new bar added at the tail
	Replaced                // tail bar with the same open time overwritten
	Stale                   // open time older than the tail; dropped
)

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Window is the history of one key, oldest first.
type Window struct {
	mu   sync.Mutex
	ring *ringbuf.Ring
}

func newWindow(capacity int) *Window {
	return &Window{ring: ringbuf.New(capacity)}
}

// Upsert replaces the tail when it carries the same open time, otherwise
// appends and evicts from the front past capacity.
func (w *Window) Upsert(c model.Candle) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.ring.Last(); ok {
		switch {
		case last.OpenTime == c.OpenTime:
			w.ring.SetLast(c)
			return Replaced
		case c.OpenTime < last.OpenTime:
			return Stale
		}
	}
	w.ring.Push(c)
	return Appended
}

// Snapshot returns a copy of the window, oldest first.
func (w *Window) Snapshot() []model.Candle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ring.AppendTo(make([]model.Candle, 0, w.ring.Len()))
}

// Len returns the number of candles held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ring.Len()
}

// Evicted returns how many candles have been pushed out of the front.
func (w *Window) Evicted() uint64 {
	return w.ring.Evicted()
}

// Store maps stream keys to their windows. Windows are created lazily and
// live for the life of the process.
type Store struct {
	capacity int

	mu      sync.RWMutex
	windows map[model.Key]*Window
}

// NewStore creates a Store whose windows hold capacity candles each.
// A non-positive capacity selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		windows:  make(map[model.Key]*Window, 256),
	}
}

// Capacity returns the per-key capacity.
func (s *Store) Capacity() int { return s.capacity }

// Window returns the window for key, creating it on first use.
func (s *Store) Window(key model.Key) *Window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = newWindow(s.capacity)
	s.windows[key] = w
	return w
}

// Upsert applies c to the window for key.
func (s *Store) Upsert(key model.Key, c model.Candle) Outcome {
	return s.Window(key).Upsert(c)
}

// Snapshot returns a copy of the window for key, or nil if the key was never seen.
func (s *Store) Snapshot(key model.Key) []model.Candle {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.Snapshot()
}

// Len returns the window length for key (0 if unseen).
func (s *Store) Len(key model.Key) int {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return w.Len()
}

// Keys returns all known keys sorted by their string form.
func (s *Store) Keys() []model.Key {
	s.mu.RLock()
	keys := make([]model.Key, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
