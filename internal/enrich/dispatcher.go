package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
)

// Dispatcher runs analyzers off the stream receive loop and attaches their
// result to the signal exactly once.
type Dispatcher struct {
	settings  *Settings
	analyzers map[model.Mode]Analyzer
	metrics   *metrics.Metrics // may be nil
	log       zerolog.Logger

	// OnAttach is called after a result has been attached (optional).
	OnAttach func(sig *model.Signal)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with one analyzer per mode.
func NewDispatcher(settings *Settings, local, remote Analyzer, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		settings: settings,
		analyzers: map[model.Mode]Analyzer{
			model.ModeLocal:  local,
			model.ModeRemote: remote,
		},
		metrics: m,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch starts enrichment of sig and returns immediately. The mode and
// credential are read now; later SetMode calls do not affect this job.
func (d *Dispatcher) Dispatch(sig *model.Signal, ex model.Extras) {
	mode, credential := d.settings.snapshot()
	a, ok := d.analyzers[mode]
	if !ok || a == nil {
		a, mode = d.analyzers[model.ModeLocal], model.ModeLocal
	}

	d.wg.Add(1)
	if d.metrics != nil {
		d.metrics.EnrichmentInflight.Inc()
	}
	go func() {
		defer d.wg.Done()
		if d.metrics != nil {
			defer d.metrics.EnrichmentInflight.Dec()
		}

		ctx := logger.WithTraceID(d.ctx, sig.ID)
		start := time.Now()
		res := a.Analyze(ctx, sig, ex, credential)
		if res.Mode == "" {
			res.Mode = mode
		}

		if !sig.AttachAI(res) {
			return
		}

		if d.metrics != nil {
			outcome := "ok"
			if res.Confidence == 0 {
				outcome = "degraded"
			}
			d.metrics.EnrichmentDur.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
			d.metrics.EnrichmentTotal.WithLabelValues(string(mode), outcome).Inc()
		}
		lg := logger.Ctx(ctx, d.log)
		lg.Debug().
			Str("mode", string(res.Mode)).
			Int("confidence", res.Confidence).
			Msg("enrichment attached")

		if d.OnAttach != nil {
			d.OnAttach(sig)
		}
	}()
}

// Wait blocks until every dispatched job has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels in-flight remote calls and waits for all jobs. Jobs
// cancelled this way still attach their degraded result.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}
