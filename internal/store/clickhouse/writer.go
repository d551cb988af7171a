// Package clickhouse appends every signal lifecycle event to a ClickHouse
// MergeTree table for analytics. Rows are never updated: an enriched
// signal produces a second row with the ai columns filled.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
)

// Config configures the ClickHouse writer.
type Config struct {
	Host        string
	Port        int // native protocol port; 0 selects 9000
	Database    string
	User        string
	Password    string
	DialTimeout time.Duration // 0 selects 5s
	ReadTimeout time.Duration // 0 selects 10s
}

// Writer inserts events through database/sql.
type Writer struct {
	db    *sql.DB
	table string
	log   zerolog.Logger
}

// DSN builds the clickhouse:// connection string.
func DSN(cfg Config) string {
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s?dial_timeout=%s&read_timeout=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.DialTimeout, cfg.ReadTimeout)
}

// Schema returns the idempotent DDL for database db.
func Schema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.signal_events (
			event         LowCardinality(String),
			id            String,
			ts            DateTime64(3, 'UTC'),
			symbol        LowCardinality(String),
			timeframe     LowCardinality(String),
			side          LowCardinality(String),
			entry         Float64,
			sl            Float64,
			tp1           Float64,
			tp2           Float64,
			quality       UInt8,
			reasons       String,
			ai_summary    String,
			ai_confidence UInt8,
			ai_mode       LowCardinality(String),
			inserted_at   DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = MergeTree
		ORDER BY (symbol, timeframe, ts, id)`, db),
	}
}

// New connects, pings and creates the schema.
func New(cfg Config, log zerolog.Logger) (*Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("clickhouse: host is required")
	}
	if cfg.Database == "" {
		cfg.Database = "signals"
	}
	db, err := sql.Open("clickhouse", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	for _, stmt := range Schema(cfg.Database) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("clickhouse: schema: %w", err)
		}
	}

	log.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("clickhouse connected")
	return &Writer{db: db, table: cfg.Database + ".signal_events", log: log}, nil
}

// Row maps an event to the signal_events column order.
func Row(ev bus.Event) []any {
	s := ev.Signal
	var summary, mode string
	var confidence uint8
	if ai, ok := s.AI(); ok {
		summary, mode, confidence = ai.Summary, string(ai.Mode), uint8(ai.Confidence)
	}
	return []any{
		string(ev.Type), s.ID, s.TS, s.Symbol, s.Timeframe, string(s.Side),
		s.Entry, s.StopLoss, s.TakeProfit1, s.TakeProfit2, uint8(s.Quality),
		strings.Join(s.Reasons, "; "), summary, confidence, mode,
	}
}

// Write inserts one row for ev.
func (w *Writer) Write(ctx context.Context, ev bus.Event) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clickhouse: begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+w.table+` (event, id, ts, symbol, timeframe, side, entry, sl, tp1, tp2, quality, reasons, ai_summary, ai_confidence, ai_mode)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("clickhouse: prepare: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, Row(ev)...); err != nil {
		tx.Rollback()
		return fmt.Errorf("clickhouse: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clickhouse: commit: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (w *Writer) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the connection pool.
func (w *Writer) Close() error {
	return w.db.Close()
}
