// Package bus fans signal lifecycle events out to the optional sinks
// (Redis, SQLite, Kafka, notifications, websocket clients).
package bus

import (
	"sync"

	"signal-enginev1/internal/model"
)

// EventType names a signal lifecycle event.
type EventType string

const (
	EventSignal     EventType = "signal"     // signal emitted and journaled
	EventEnrichment EventType = "enrichment" // ai result attached
)

// Event is delivered to every subscriber. Signal is the shared journal
// object; subscribers must treat it as read-only.
type Event struct {
	Type   EventType
	Signal *model.Signal
}

type subscriber struct {
	name string
	ch   chan Event
}

// FanOut broadcasts events to N subscriber channels. If a subscriber's
// channel is full the event is dropped for that subscriber so a slow sink
// never blocks a stream's receive loop.
type FanOut struct {
	mu      sync.RWMutex
	subs    []subscriber
	bufSize int
	closed  bool

	// OnDrop is called when an event is dropped for a subscriber.
	OnDrop func(subscriber string, ev Event)
}

// New creates a FanOut with the given buffer size for subscriber channels.
func New(bufferSize int) *FanOut {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &FanOut{bufSize: bufferSize}
}

// Subscribe creates and returns a new named subscriber channel.
// The channel is closed by Close.
func (f *FanOut) Subscribe(name string) <-chan Event {
	ch := make(chan Event, f.bufSize)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs = append(f.subs, subscriber{name: name, ch: ch})
	return ch
}

// Publish delivers ev to every subscriber without blocking.
// It reports how many subscribers accepted the event.
func (f *FanOut) Publish(ev Event) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0
	}

	delivered := 0
	for _, s := range f.subs {
		select {
		case s.ch <- ev:
			delivered++
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name, ev)
			}
		}
	}
	return delivered
}

// Close closes every subscriber channel. Publish after Close is a no-op.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, s := range f.subs {
		close(s.ch)
	}
}

// ChannelStat reports the saturation of one subscriber channel.
type ChannelStat struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
	Cap  int    `json:"cap"`
}

// ChannelStats returns (length, capacity) for each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
