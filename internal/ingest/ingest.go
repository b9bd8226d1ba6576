// Package ingest drives the fixed-cadence fetch pipeline: every interval,
// each tracked instrument is fetched from the provider, upserted into the
// time-series store, enriched with an indicator snapshot, persisted, and
// published as an update event.
package ingest

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"marketpulse/internal/alert"
	"marketpulse/internal/broadcast"
	"marketpulse/internal/feed"
	"marketpulse/internal/indicator"
	"marketpulse/internal/metrics"
	"marketpulse/internal/model"
	"marketpulse/internal/sentiment"
	"marketpulse/internal/store"
)

// State is the per-instrument fetch state. Succeeded and Failed are
// transient: the instrument returns to Idle before the next tick considers it.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Config holds the scheduler cadence and concurrency bounds.
type Config struct {
	Interval     time.Duration // tick cadence
	FetchTimeout time.Duration // per-fetch hard timeout
	PoolSize     int           // max concurrent fetches
}

// Deps are the pipeline collaborators. Headlines, Mirror, Alerts, Notify and
// Metrics are optional.
type Deps struct {
	Feed      feed.Source
	Headlines sentiment.Source
	Store     *store.TimeSeries
	Indicator *indicator.Engine
	Scorer    *sentiment.Scorer
	Bus       *broadcast.Broadcaster
	Mirror    model.UpdatePublisher
	Alerts    *alert.Engine
	Notify    func(alert.Triggered)
	Metrics   *metrics.Metrics

	// SampleSinks receive every upserted sample (SQLite writer, redis
	// cache). Sends are non-blocking: a saturated sink loses samples and
	// logs rather than stalling ingestion.
	SampleSinks []chan<- model.Sample
}

// Scheduler runs the ingestion loop over a fixed instrument set.
type Scheduler struct {
	cfg  Config
	deps Deps

	cron *gocron.Scheduler
	jobs chan model.Instrument

	mu          sync.Mutex
	states      map[string]State
	failures    map[string]int // consecutive failures per instrument
	instruments []model.Instrument
}

// New creates a Scheduler for the given instruments.
func New(cfg Config, deps Deps, instruments []model.Instrument) *Scheduler {
	states := make(map[string]State, len(instruments))
	for _, inst := range instruments {
		states[inst.Symbol] = StateIdle
	}
	return &Scheduler{
		cfg:         cfg,
		deps:        deps,
		cron:        gocron.NewScheduler(time.UTC),
		jobs:        make(chan model.Instrument, len(instruments)*2+1),
		states:      states,
		failures:    make(map[string]int, len(instruments)),
		instruments: instruments,
	}
}

// Run starts the worker pool and the tick schedule, then blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.PoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	if _, err := s.cron.Every(s.cfg.Interval).Do(s.tick); err != nil {
		log.Printf("[ingest] schedule error: %v", err)
		return
	}
	s.cron.StartAsync()
	log.Printf("[ingest] scheduler started: %d instruments every %v, pool %d",
		len(s.instruments), s.cfg.Interval, s.cfg.PoolSize)

	<-ctx.Done()
	s.cron.Stop()
	close(s.jobs)
	wg.Wait()
}

// tick enqueues every instrument whose previous cycle has finished. An
// instrument still fetching is skipped this tick, never fetched twice
// concurrently.
func (s *Scheduler) tick() {
	for _, inst := range s.instruments {
		if !s.beginFetch(inst.Symbol) {
			log.Printf("[ingest] %s still fetching, skipping tick", inst.Symbol)
			continue
		}
		select {
		case s.jobs <- inst:
		default:
			// Queue full means workers are far behind; put the
			// instrument back to idle and let the next tick retry.
			s.setState(inst.Symbol, StateIdle)
			log.Printf("[ingest] job queue full, skipping %s", inst.Symbol)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for inst := range s.jobs {
		if ctx.Err() != nil {
			s.setState(inst.Symbol, StateIdle)
			continue
		}
		s.process(ctx, inst)
	}
}

// beginFetch transitions Idle -> Fetching. Returns false if a fetch for the
// instrument is already in flight.
func (s *Scheduler) beginFetch(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[symbol] == StateFetching {
		return false
	}
	s.states[symbol] = StateFetching
	return true
}

func (s *Scheduler) setState(symbol string, st State) {
	s.mu.Lock()
	s.states[symbol] = st
	s.mu.Unlock()
}

// finish records the cycle outcome. Succeeded and Failed are both eligible
// for the next tick, so they behave as Idle with a remembered result.
func (s *Scheduler) finish(symbol string, ok bool) {
	s.mu.Lock()
	if ok {
		s.states[symbol] = StateSucceeded
		s.failures[symbol] = 0
	} else {
		s.states[symbol] = StateFailed
		s.failures[symbol]++
	}
	s.mu.Unlock()
}

// State returns the current fetch state for an instrument.
func (s *Scheduler) State(symbol string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[symbol]
}

// Failures returns the consecutive failure count for an instrument.
func (s *Scheduler) Failures(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[symbol]
}

// process runs one full pipeline cycle for one instrument. Exported to the
// package tests via the scheduler only; a failed fetch marks the cycle
// failed and the instrument is retried on the next tick.
func (s *Scheduler) process(ctx context.Context, inst model.Instrument) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	quote, err := s.deps.Feed.FetchLatest(fetchCtx, inst.Symbol)
	if s.deps.Metrics != nil {
		s.deps.Metrics.FetchDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.finish(inst.Symbol, false)
		s.countFetch(err)
		log.Printf("[ingest] fetch %s failed (attempt %d): %v",
			inst.Symbol, s.Failures(inst.Symbol), err)
		return
	}
	s.countFetch(nil)

	sample := model.Sample{
		Symbol: inst.Symbol,
		TS:     quote.TS,
		Price:  quote.Price,
		Volume: quote.Volume,
	}
	unchanged, err := s.deps.Store.Upsert(sample)
	if err != nil {
		s.finish(inst.Symbol, false)
		log.Printf("[ingest] upsert %s failed: %v", inst.Symbol, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SamplesTotal.Inc()
		if unchanged {
			s.deps.Metrics.UnchangedTotal.Inc()
		}
	}

	snap := s.computeSnapshot(ctx, inst.Symbol)

	for _, sink := range s.deps.SampleSinks {
		select {
		case sink <- sample:
		default:
			log.Printf("[ingest] sample sink full, dropping %s", sample.Key())
		}
	}

	u := model.Update{
		Symbol:    sample.Symbol,
		TS:        sample.TS,
		Price:     sample.Price,
		Volume:    sample.Volume,
		Unchanged: unchanged,
		Snapshot:  snap,
	}
	s.deps.Bus.Publish(u)
	if s.deps.Metrics != nil {
		s.deps.Metrics.PublishesTotal.Inc()
	}
	if s.deps.Mirror != nil {
		s.deps.Mirror.PublishUpdate(ctx, u)
	}
	s.evaluateAlerts(u)

	s.finish(inst.Symbol, true)
}

// computeSnapshot derives the indicator snapshot for the instrument's
// trailing window and merges in the sentiment result. Sentiment failures
// degrade to Unknown and never block the price path.
func (s *Scheduler) computeSnapshot(ctx context.Context, symbol string) model.IndicatorSnapshot {
	window := s.deps.Store.Window(symbol, s.deps.Indicator.MinWindow())

	start := time.Now()
	snap := s.deps.Indicator.Compute(window)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ComputeDur.Observe(time.Since(start).Seconds())
		s.deps.Metrics.SnapshotsTotal.Inc()
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}

	if s.deps.Scorer != nil {
		// Same hard timeout as the price fetch: a hung headline source
		// degrades to unknown instead of parking the worker.
		sentCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		snap.SentimentScore, snap.SentimentLabel = s.deps.Scorer.Analyze(sentCtx, s.deps.Headlines, symbol)
		cancel()
	}
	return snap
}

func (s *Scheduler) evaluateAlerts(u model.Update) {
	if s.deps.Alerts == nil {
		return
	}
	for _, trig := range s.deps.Alerts.Evaluate(u) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.AlertsTriggered.Inc()
		}
		if s.deps.Notify != nil {
			s.deps.Notify(trig)
		}
	}
}

func (s *Scheduler) countFetch(err error) {
	if s.deps.Metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.deps.Metrics.FetchesTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, context.DeadlineExceeded):
		s.deps.Metrics.FetchesTotal.WithLabelValues("timeout").Inc()
	default:
		s.deps.Metrics.FetchesTotal.WithLabelValues("error").Inc()
	}
}
