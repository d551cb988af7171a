// Package notification delivers signal alerts to external channels
// (Telegram, webhooks).
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/model"
)

// Alert is one signal rendered for humans, plus the signal itself for
// machine consumers.
type Alert struct {
	Title   string
	Message string
	Side    model.Side
	Key     string
	Signal  *model.Signal
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// SignalAlert formats sig as an alert.
func SignalAlert(sig *model.Signal) Alert {
	msg := fmt.Sprintf("Entry %s  SL %s  TP1 %s  TP2 %s\nQuality %d: %v",
		price(sig.Entry), price(sig.StopLoss), price(sig.TakeProfit1), price(sig.TakeProfit2), sig.Quality, sig.Reasons)
	if ai, ok := sig.AI(); ok {
		msg += "\n" + ai.Summary
	}
	return Alert{
		Title:   fmt.Sprintf("%s %s %s", sig.Side, sig.Symbol, sig.Timeframe),
		Message: msg,
		Side:    sig.Side,
		Key:     sig.Key().String(),
		Signal:  sig,
	}
}

func price(v float64) string {
	return fmt.Sprintf("%.6g", v)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON sends v to url and fails on any non-2xx answer. name prefixes
// every error.
func postJSON(ctx context.Context, c *http.Client, name, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode)
	}
	return nil
}

// Sink sends one alert per emitted signal to every notifier. Enrichment
// events are ignored.
type Sink struct {
	notifiers []Notifier
}

// NewSink creates a sink over the given notifiers.
func NewSink(notifiers ...Notifier) *Sink {
	return &Sink{notifiers: notifiers}
}

// Len returns the number of notifiers.
func (s *Sink) Len() int { return len(s.notifiers) }

// Write implements store.Sink. It tries every notifier and joins the errors.
func (s *Sink) Write(ctx context.Context, ev bus.Event) error {
	if ev.Type != bus.EventSignal {
		return nil
	}
	alert := SignalAlert(ev.Signal)
	var errs []error
	for _, n := range s.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
