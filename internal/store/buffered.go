package store

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/breaker"
	"signal-enginev1/internal/bus"
)

// BufferedSink wraps a Sink with a circuit breaker. While the circuit is
// open, writes are buffered locally and replayed after the next write that
// goes through.
type BufferedSink struct {
	sink Sink
	cb   *breaker.Breaker
	log  zerolog.Logger

	mu     sync.Mutex
	buffer []bus.Event
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedSink creates a BufferedSink wrapping s.
func NewBufferedSink(s Sink, cb *breaker.Breaker, maxBufferSize int, log zerolog.Logger) *BufferedSink {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedSink{
		sink:   s,
		cb:     cb,
		log:    log,
		buffer: make([]bus.Event, 0, 64),
		maxBuf: maxBufferSize,
	}
}

// Write sends ev through the breaker. If the circuit is open the event is
// buffered and Write returns nil.
func (b *BufferedSink) Write(ctx context.Context, ev bus.Event) error {
	err := b.cb.Execute(func() error { return b.sink.Write(ctx, ev) })
	switch {
	case errors.Is(err, breaker.ErrCircuitOpen):
		b.bufferWrite(ev)
		return nil
	case err != nil:
		return err
	}
	b.flush(ctx)
	return nil
}

func (b *BufferedSink) bufferWrite(ev bus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) >= b.maxBuf {
		// Buffer full, drop oldest
		b.buffer = b.buffer[1:]
	}
	b.buffer = append(b.buffer, ev)

	if b.OnBuffer != nil {
		b.OnBuffer()
	}
}

// flush replays buffered writes. A write that fails puts itself and the
// rest back at the front of the buffer.
func (b *BufferedSink) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	toFlush := b.buffer
	b.buffer = make([]bus.Event, 0, 64)
	b.mu.Unlock()

	flushed := 0
	for i, ev := range toFlush {
		if err := b.cb.Execute(func() error { return b.sink.Write(ctx, ev) }); err != nil {
			b.mu.Lock()
			b.buffer = append(append([]bus.Event(nil), toFlush[i:]...), b.buffer...)
			if len(b.buffer) > b.maxBuf {
				b.buffer = b.buffer[len(b.buffer)-b.maxBuf:]
			}
			b.mu.Unlock()
			break
		}
		flushed++
	}

	if flushed > 0 {
		b.log.Info().Int("count", flushed).Str("breaker", b.cb.Name()).Msg("flushed buffered writes")
	}
	if b.OnFlush != nil {
		b.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (b *BufferedSink) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}
