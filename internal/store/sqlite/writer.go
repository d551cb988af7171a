// Package sqlite archives every emitted signal, and its enrichment once it
// lands, to a local SQLite database for offline review. The archive is
// write-only: the engine never reads it back.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/metrics"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/signals.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens the database with WAL mode and creates the schema.
func New(cfg WriterConfig, log zerolog.Logger) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	log.Info().Str("path", cfg.DBPath).Msg("sqlite archive opened")
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS signals (
			id            TEXT    PRIMARY KEY,
			ts            INTEGER NOT NULL,
			symbol        TEXT    NOT NULL,
			timeframe     TEXT    NOT NULL,
			side          TEXT    NOT NULL,
			entry         REAL    NOT NULL,
			sl            REAL    NOT NULL,
			tp1           REAL    NOT NULL,
			tp2           REAL    NOT NULL,
			quality       INTEGER NOT NULL,
			reasons       TEXT    NOT NULL,
			ai_summary    TEXT,
			ai_confidence INTEGER,
			ai_mode       TEXT,
			created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE INDEX IF NOT EXISTS idx_signals_key_ts ON signals (symbol, timeframe, ts);
	`)
	return err
}

// Ping checks the database (liveness probe).
func (w *Writer) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Run reads events and applies them in batched transactions.
// Flushes every batchSize events OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or events is closed.
func (w *Writer) Run(ctx context.Context, events <-chan bus.Event, m *metrics.Metrics) {
	batch := make([]bus.Event, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := w.applyBatch(batch)
		if m != nil {
			m.SinkWriteDur.WithLabelValues("sqlite").Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if m != nil {
				m.SinkErrors.WithLabelValues("sqlite").Inc()
			}
			w.log.Error().Err(err).Int("events", len(batch)).Msg("batch commit failed")
		} else {
			w.log.Debug().Int("events", len(batch)).Dur("took", time.Since(start)).Msg("batch committed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case ev, ok := <-events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// applyBatch inserts signals and updates enrichment columns in one transaction.
func (w *Writer) applyBatch(events []bus.Event) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	insert, err := tx.Prepare(`
		INSERT OR IGNORE INTO signals (id, ts, symbol, timeframe, side, entry, sl, tp1, tp2, quality, reasons)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer insert.Close()

	update, err := tx.Prepare(`
		UPDATE signals SET ai_summary = ?, ai_confidence = ?, ai_mode = ? WHERE id = ?
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer update.Close()

	for _, ev := range events {
		s := ev.Signal
		// An enrichment can land before its signal event is flushed; the
		// insert comes first in either case.
		if _, err := insert.Exec(s.ID, s.TS.UnixMilli(), s.Symbol, s.Timeframe, string(s.Side),
			s.Entry, s.StopLoss, s.TakeProfit1, s.TakeProfit2, s.Quality, strings.Join(s.Reasons, "; ")); err != nil {
			tx.Rollback()
			return err
		}
		if ai, ok := s.AI(); ok {
			if _, err := update.Exec(ai.Summary, ai.Confidence, string(ai.Mode), s.ID); err != nil {
				tx.Rollback()
				return err
			}
		}
	}

	return tx.Commit()
}

// Count returns the number of archived signals.
func (w *Writer) Count() (int, error) {
	var n int
	err := w.db.QueryRow(`SELECT COUNT(*) FROM signals`).Scan(&n)
	return n, err
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
