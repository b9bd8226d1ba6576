package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"marketpulse/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for hot-store backfill at
// startup.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadSamples reads the most recent maxPoints samples for a symbol, returned
// ascending by timestamp for correct replay order into the hot store.
func (r *Reader) ReadSamples(symbol string, maxPoints int) ([]model.Sample, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, price, volume FROM (
			SELECT symbol, ts, price, volume
			FROM samples
			WHERE symbol = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, symbol, maxPoints)
	if err != nil {
		return nil, fmt.Errorf("sqlite query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		var s model.Sample
		var tsUnix int64
		if err := rows.Scan(&s.Symbol, &tsUnix, &s.Price, &s.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan sample: %w", err)
		}
		s.TS = time.Unix(tsUnix, 0).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// ReadInstruments returns all known instruments, deprecated included.
func (r *Reader) ReadInstruments() ([]model.Instrument, error) {
	rows, err := r.db.Query(`SELECT symbol, name, deprecated FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		var inst model.Instrument
		var dep int
		if err := rows.Scan(&inst.Symbol, &inst.Name, &dep); err != nil {
			return nil, fmt.Errorf("sqlite scan instrument: %w", err)
		}
		inst.Deprecated = dep != 0
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
