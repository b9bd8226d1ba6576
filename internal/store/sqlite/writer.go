package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"marketpulse/internal/model"
	"marketpulse/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath    string               // path to SQLite database file, e.g. "data/samples.db"
	CommitDur prometheus.Histogram // optional batch commit latency observer
}

// Writer is a single-goroutine SQLite sample writer with transaction
// batching. It sits off the hot path: the in-memory store is authoritative
// for serving, this is the durable tier.
type Writer struct {
	db        *sql.DB
	commitDur prometheus.Histogram
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection: SQLite serializes writes anyway, and one
	// connection avoids SQLITE_BUSY churn under batch commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, commitDur: cfg.CommitDur}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			price  INTEGER NOT NULL,
			volume INTEGER NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS instruments (
			symbol     TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			deprecated INTEGER NOT NULL DEFAULT 0
		);
	`)
	return err
}

// Run reads samples from sampleCh and inserts them in batched transactions.
// Flushes every batchSize samples OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or sampleCh is closed.
func (w *Writer) Run(ctx context.Context, sampleCh <-chan model.Sample) {
	batch := make([]model.Sample, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			if w.commitDur != nil {
				w.commitDur.Observe(time.Since(start).Seconds())
			}
			log.Printf("[sqlite] committed %d samples in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case s, ok := <-sampleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
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

// insertBatch upserts a batch of samples in a single transaction.
// INSERT OR REPLACE keyed on (symbol, ts) gives last-write-wins semantics
// matching the in-memory store.
func (w *Writer) insertBatch(samples []model.Sample) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO samples (symbol, ts, price, volume)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.Exec(s.Symbol, s.TS.Unix(), s.Price, s.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// EnsureInstrument records instrument metadata on first reference.
// Instruments are never deleted, only soft-deprecated.
func (w *Writer) EnsureInstrument(inst model.Instrument) error {
	_, err := w.db.Exec(`
		INSERT INTO instruments (symbol, name) VALUES (?, ?)
		ON CONFLICT(symbol) DO UPDATE SET name = excluded.name, deprecated = 0
	`, inst.Symbol, inst.Name)
	if err != nil {
		return fmt.Errorf("sqlite ensure instrument: %w", err)
	}
	return nil
}

// DeprecateInstrument soft-deprecates an instrument. Samples are retained.
func (w *Writer) DeprecateInstrument(symbol string) error {
	_, err := w.db.Exec(`UPDATE instruments SET deprecated = 1 WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("sqlite deprecate instrument: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
