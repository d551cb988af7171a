// Package store holds the optional signal sinks (Redis, SQLite, Kafka) and
// the plumbing shared between them. Sinks are write-only: nothing is read
// back at startup.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/metrics"
)

// Sink persists or forwards one signal lifecycle event.
type Sink interface {
	Write(ctx context.Context, ev bus.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev bus.Event) error

func (f SinkFunc) Write(ctx context.Context, ev bus.Event) error { return f(ctx, ev) }

// Pump writes every event from events to s until ctx is cancelled or events
// is closed. Errors are counted and logged; the loop never stops on them.
func Pump(ctx context.Context, name string, events <-chan bus.Event, s Sink, m *metrics.Metrics, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			start := time.Now()
			err := s.Write(ctx, ev)
			if m != nil {
				m.SinkWriteDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
			if err != nil {
				if m != nil {
					m.SinkErrors.WithLabelValues(name).Inc()
				}
				log.Warn().Err(err).Str("sink", name).Str("event", string(ev.Type)).Str("signal", ev.Signal.ID).Msg("sink write failed")
			}
		}
	}
}
