// Package store implements the in-memory time-series sample store: the
// authoritative hot tier for (instrument, timestamp) → price/volume samples.
// Durable persistence (SQLite) and caching (Redis) live in subpackages and
// hang off the write path via channels.
package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"marketpulse/internal/model"
)

var (
	// ErrUnavailable indicates a storage-layer I/O failure. Callers retry
	// with bounded backoff; writes are never silently dropped.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrInvalidArgument indicates a malformed key or range. Fatal to the
	// single call only.
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// series holds the append-only sample log for one instrument. Each series
// has its own lock: writers to the same instrument serialize here, writers
// to different instruments never contend.
type series struct {
	mu      sync.RWMutex
	samples []model.Sample // ascending by TS, unique per TS
}

// TimeSeries is a sharded per-instrument sample store. Upsert is idempotent
// last-write-wins by ingestion order; RangeQuery re-materializes a fresh
// slice on every call.
type TimeSeries struct {
	mu     sync.RWMutex // guards the shard map, not the samples
	shards map[string]*series
}

// New creates an empty TimeSeries store.
func New() *TimeSeries {
	return &TimeSeries{shards: make(map[string]*series, 64)}
}

func (t *TimeSeries) shard(symbol string) *series {
	t.mu.RLock()
	s, ok := t.shards[symbol]
	t.mu.RUnlock()
	if ok {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.shards[symbol]; ok {
		return s
	}
	s = &series{}
	t.shards[symbol] = s
	return s
}

// Upsert writes a sample. Writing the same (symbol, ts) twice replaces the
// prior value deterministically (last write wins by ingestion order).
// The returned unchanged flag is true when an identical sample already
// existed at that timestamp, so callers can tag liveness re-publishes.
func (t *TimeSeries) Upsert(s model.Sample) (unchanged bool, err error) {
	if s.Symbol == "" || s.TS.IsZero() {
		return false, ErrInvalidArgument
	}
	if s.Price < 0 || s.Volume < 0 {
		return false, ErrInvalidArgument
	}
	s.TS = s.TS.UTC()

	sh := t.shard(s.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	i := sort.Search(len(sh.samples), func(i int) bool {
		return !sh.samples[i].TS.Before(s.TS)
	})
	if i < len(sh.samples) && sh.samples[i].TS.Equal(s.TS) {
		prev := sh.samples[i]
		sh.samples[i] = s
		return prev.Price == s.Price && prev.Volume == s.Volume, nil
	}
	// Common case: monotonically increasing timestamps append at the end.
	sh.samples = append(sh.samples, model.Sample{})
	copy(sh.samples[i+1:], sh.samples[i:])
	sh.samples[i] = s
	return false, nil
}

// RangeQuery returns at most maxPoints samples for symbol with from <= TS <= to,
// ascending by timestamp. When the range holds more than maxPoints, the most
// recent maxPoints are returned (bootstrap backfill wants the newest window).
// An empty result is not an error. The returned slice is a fresh copy.
func (t *TimeSeries) RangeQuery(symbol string, from, to time.Time, maxPoints int) ([]model.Sample, error) {
	if symbol == "" {
		return nil, ErrInvalidArgument
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return nil, ErrInvalidArgument
	}
	if maxPoints <= 0 {
		return []model.Sample{}, nil
	}

	t.mu.RLock()
	sh, ok := t.shards[symbol]
	t.mu.RUnlock()
	if !ok {
		return []model.Sample{}, nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	lo := 0
	if !from.IsZero() {
		lo = sort.Search(len(sh.samples), func(i int) bool {
			return !sh.samples[i].TS.Before(from)
		})
	}
	hi := len(sh.samples)
	if !to.IsZero() {
		hi = sort.Search(len(sh.samples), func(i int) bool {
			return sh.samples[i].TS.After(to)
		})
	}
	if lo >= hi {
		return []model.Sample{}, nil
	}
	if hi-lo > maxPoints {
		lo = hi - maxPoints
	}
	out := make([]model.Sample, hi-lo)
	copy(out, sh.samples[lo:hi])
	return out, nil
}

// Latest returns the newest stored sample for symbol.
func (t *TimeSeries) Latest(symbol string) (model.Sample, bool) {
	t.mu.RLock()
	sh, ok := t.shards[symbol]
	t.mu.RUnlock()
	if !ok {
		return model.Sample{}, false
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if len(sh.samples) == 0 {
		return model.Sample{}, false
	}
	return sh.samples[len(sh.samples)-1], true
}

// Window returns a fresh copy of the trailing n samples for symbol,
// ascending. Used as the indicator computation window.
func (t *TimeSeries) Window(symbol string, n int) []model.Sample {
	t.mu.RLock()
	sh, ok := t.shards[symbol]
	t.mu.RUnlock()
	if !ok || n <= 0 {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	lo := len(sh.samples) - n
	if lo < 0 {
		lo = 0
	}
	out := make([]model.Sample, len(sh.samples)-lo)
	copy(out, sh.samples[lo:])
	return out
}

// Count returns the number of stored samples for symbol.
func (t *TimeSeries) Count(symbol string) int {
	t.mu.RLock()
	sh, ok := t.shards[symbol]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.samples)
}

// Seed bulk-loads samples at startup (durable-tier backfill). Uses the
// normal upsert path so ordering and uniqueness invariants hold.
func (t *TimeSeries) Seed(samples []model.Sample) error {
	for _, s := range samples {
		if _, err := t.Upsert(s); err != nil {
			return err
		}
	}
	return nil
}
