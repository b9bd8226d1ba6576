// Command engine runs the full marketpulse pipeline: scheduled ingestion,
// indicator computation, storage tiers, and the tenant-scoped WebSocket
// broadcast gateway.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketpulse/config"
	"marketpulse/internal/alert"
	"marketpulse/internal/api"
	"marketpulse/internal/broadcast"
	"marketpulse/internal/feed"
	"marketpulse/internal/feed/httpfeed"
	"marketpulse/internal/feed/simfeed"
	"marketpulse/internal/gateway"
	"marketpulse/internal/indicator"
	"marketpulse/internal/ingest"
	"marketpulse/internal/logger"
	"marketpulse/internal/metrics"
	"marketpulse/internal/model"
	"marketpulse/internal/sentiment"
	"marketpulse/internal/store"
	redisstore "marketpulse/internal/store/redis"
	sqlitestore "marketpulse/internal/store/sqlite"
	"marketpulse/internal/watchlist"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[engine] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[engine] config: %v", err)
	}
	instruments := cfg.ParseInstruments()
	if len(instruments) == 0 {
		log.Fatalf("[engine] no instruments configured via MP_TRACKED_SYMBOLS")
	}
	log.Printf("[engine] tracking %d instruments every %v", len(instruments), cfg.IngestInterval)

	slogger := logger.Init("marketpulse", slog.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Metrics + health ----
	m := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		metricsSrv.Stop(stopCtx)
	}()

	// ---- Hot store + durable tier ----
	ts := store.New()

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[engine] data dir: %v", err)
	}
	writer, err := sqlitestore.New(sqlitestore.WriterConfig{
		DBPath:    cfg.SQLitePath,
		CommitDur: m.SQLiteCommitDur,
	})
	if err != nil {
		log.Fatalf("[engine] sqlite: %v", err)
	}
	defer writer.Close()
	for _, inst := range instruments {
		if err := writer.EnsureInstrument(inst); err != nil {
			log.Printf("[engine] ensure instrument %s: %v", inst.Symbol, err)
		}
	}
	seedFromSQLite(ts, cfg, instruments)

	// ---- Optional redis cache tier ----
	var cache *redisstore.Cache
	if cfg.RedisAddr != "" {
		cache, err = redisstore.New(redisstore.CacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			WriteDur: m.RedisWriteDur,
		})
		if err != nil {
			log.Printf("[engine] redis unavailable, running without cache tier: %v", err)
			cache = nil
		}
	}

	// ---- Persistence channels ----
	sqliteCh := make(chan model.Sample, 1024)
	go writer.Run(ctx, sqliteCh)
	sinks := []chan<- model.Sample{sqliteCh}

	if cache != nil {
		cacheCh := make(chan model.Sample, 1024)
		go cache.Run(ctx, cacheCh)
		sinks = append(sinks, cacheCh)
	}

	healthCh := make(chan model.Sample, 64)
	sinks = append(sinks, healthCh)
	go func() {
		for s := range healthCh {
			health.SetFeedOK(true)
			health.SetLastSampleTime(s.TS)
		}
	}()

	// ---- Analytics ----
	indEngine, err := indicator.NewEngine(indicator.Config{
		Period:     cfg.OscPeriod,
		Oversold:   cfg.OscOversold,
		Overbought: cfg.OscOverbought,
	})
	if err != nil {
		log.Fatalf("[engine] indicator: %v", err)
	}
	scorer := sentiment.NewScorer(sentiment.Config{
		Positive: cfg.SentPositive,
		Negative: cfg.SentNegative,
	})

	// ---- Feed ----
	source, headlines := buildFeed(cfg)

	// ---- Broadcast + gateway ----
	bus := broadcast.New(func(symbol, sessionID string) {
		m.FanoutDropsTotal.WithLabelValues(sessionID).Inc()
	})
	registry := gateway.NewRegistry(bus, slogger, m)

	wlStore, err := watchlist.NewStore(writer.DB())
	if err != nil {
		log.Fatalf("[engine] watchlist: %v", err)
	}
	var wlSource model.WatchlistSource = wlStore
	var wlCache *watchlist.CachedSource
	if cache != nil {
		wlCache = watchlist.NewCachedSource(wlStore, cache.Client(), cfg.AuthRefreshInterval/2)
		wlSource = wlCache
	}
	gate := gateway.NewTenantGate(wlSource, bus, cfg.AuthRefreshInterval, slogger, m)

	alerts := alert.NewEngine()
	adminMux := api.NewRouter(api.Deps{Watchlists: wlStore, Cache: wlCache, Alerts: alerts, Samples: ts})

	gw := gateway.New(gateway.Config{
		ListenAddr:      cfg.ListenAddr,
		QueueDepth:      cfg.SessionQueueDepth,
		BackfillSamples: cfg.BackfillSamples,
	}, ts, gate, registry, adminMux, slogger, m)
	go gw.Run(ctx)

	// ---- Ingestion scheduler ----
	var mirror model.UpdatePublisher
	if cache != nil {
		mirror = cache
	}
	scheduler := ingest.New(
		ingest.Config{
			Interval:     cfg.IngestInterval,
			FetchTimeout: cfg.FetchTimeout,
			PoolSize:     cfg.WorkerPoolSize,
		},
		ingest.Deps{
			Feed:        source,
			Headlines:   headlines,
			Store:       ts,
			Indicator:   indEngine,
			Scorer:      scorer,
			Bus:         bus,
			Mirror:      mirror,
			Alerts:      alerts,
			Notify:      registry.NotifyTenant,
			Metrics:     m,
			SampleSinks: sinks,
		},
		instruments,
	)
	go scheduler.Run(ctx)

	// ---- Liveness probes ----
	var livenessRedis *goredis.Client
	if cache != nil {
		livenessRedis = cache.Client()
	}
	health.StartLivenessChecker(ctx, livenessRedis, writer.DB(), 10*time.Second)

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[engine] shutting down...")
	cancel()
	time.Sleep(500 * time.Millisecond) // let pumps flush
	log.Println("[engine] bye")
}

// seedFromSQLite warms the hot store with recent durable samples so
// indicator windows and backfill are meaningful immediately after restart.
func seedFromSQLite(ts *store.TimeSeries, cfg *config.Config, instruments []model.Instrument) {
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Printf("[engine] seed reader: %v", err)
		return
	}
	defer reader.Close()

	total := 0
	for _, inst := range instruments {
		samples, err := reader.ReadSamples(inst.Symbol, cfg.BackfillSamples)
		if err != nil {
			log.Printf("[engine] seed %s: %v", inst.Symbol, err)
			continue
		}
		if err := ts.Seed(samples); err != nil {
			log.Printf("[engine] seed %s: %v", inst.Symbol, err)
			continue
		}
		total += len(samples)
	}
	log.Printf("[engine] seeded %d samples from sqlite", total)
}

// buildFeed selects the configured quote source. The sim feed also serves
// headlines; the HTTP client exposes both behind one session.
func buildFeed(cfg *config.Config) (feed.Source, sentiment.Source) {
	if cfg.FeedMode == "http" {
		client, err := httpfeed.New(httpfeed.Config{
			BaseURL:    cfg.FeedURL,
			APIKey:     cfg.FeedAPIKey,
			TOTPSecret: cfg.FeedTOTPSecret,
		})
		if err != nil {
			log.Fatalf("[engine] feed: %v", err)
		}
		log.Printf("[engine] using http feed at %s", cfg.FeedURL)
		return client, client
	}
	sim := simfeed.New(time.Now().UnixNano())
	log.Println("[engine] using simulated feed")
	return sim, sim
}
