package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"signal-enginev1/internal/model"
)

var (
	// ErrNoKline is returned for frames without a "k" object.
	ErrNoKline = errors.New("stream: frame has no kline")
	// ErrBadNumber is returned when a price or volume does not parse to a finite float.
	ErrBadNumber = errors.New("stream: bad number")
)

type klineEnvelope struct {
	Event  string     `json:"e"`
	Symbol string     `json:"s"`
	Kline  *klineBody `json:"k"`
}

type klineBody struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// DecodeKline parses one Binance kline frame.
func DecodeKline(raw []byte) (model.Candle, error) {
	var env klineEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Candle{}, fmt.Errorf("stream: decode: %w", err)
	}
	if env.Kline == nil {
		return model.Candle{}, ErrNoKline
	}
	k := env.Kline

	c := model.Candle{OpenTime: k.OpenTime, CloseTime: k.CloseTime, Closed: k.Closed}
	fields := []struct {
		name string
		in   string
		out  *float64
	}{
		{"open", k.Open, &c.Open},
		{"high", k.High, &c.High},
		{"low", k.Low, &c.Low},
		{"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.in, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Candle{}, fmt.Errorf("%w: %s=%q", ErrBadNumber, f.name, f.in)
		}
		*f.out = v
	}
	return c, nil
}

// dropReason maps a decode error to a metrics label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrNoKline):
		return "no_kline"
	case errors.Is(err, ErrBadNumber):
		return "bad_number"
	default:
		return "decode"
	}
}
