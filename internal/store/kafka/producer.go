// Package kafka forwards signal events to a Kafka topic, keyed by stream
// key so every key's events stay ordered within one partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/model"
)

// Config configures the producer.
type Config struct {
	Brokers      []string
	Topic        string
	Compression  string        // gzip, snappy, lz4, zstd or "" for none
	WriteTimeout time.Duration // 0 selects 10s
	BatchTimeout time.Duration // 0 selects 50ms
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer.
type Producer struct {
	writer  messageWriter
	brokers []string
	topic   string
	log     zerolog.Logger
}

// Envelope is the message value.
type Envelope struct {
	Type   bus.EventType `json:"type"`
	Signal *model.Signal `json:"signal"`
}

// NewProducer creates a producer. No connection is made until the first write.
func NewProducer(cfg Config, log zerolog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            parseCompression(cfg.Compression),
		MaxAttempts:            3,
		WriteTimeout:           cfg.WriteTimeout,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("kafka producer ready")
	return newProducer(w, cfg.Brokers, cfg.Topic, log), nil
}

func newProducer(w messageWriter, brokers []string, topic string, log zerolog.Logger) *Producer {
	return &Producer{writer: w, brokers: brokers, topic: topic, log: log}
}

// Message builds the Kafka message for ev.
func Message(ev bus.Event) (kafka.Message, error) {
	v, err := json.Marshal(Envelope{Type: ev.Type, Signal: ev.Signal})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Signal.Key().String()),
		Value: v,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Type)},
			{Key: "signal_id", Value: []byte(ev.Signal.ID)},
		},
		Time: time.Now(),
	}, nil
}

// Write implements store.Sink.
func (p *Producer) Write(ctx context.Context, ev bus.Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", p.topic, err)
	}
	return nil
}

// Ping dials the first reachable broker (liveness probe).
func (p *Producer) Ping(ctx context.Context) error {
	var lastErr error
	for _, b := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("kafka: no broker reachable: %w", lastErr)
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
