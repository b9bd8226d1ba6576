package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ingestion and broadcast engine.
type Metrics struct {
	// Ingestion
	FetchesTotal   *prometheus.CounterVec // labels: result=ok|error|timeout
	SamplesTotal   prometheus.Counter
	UnchangedTotal prometheus.Counter
	FetchDur       prometheus.Histogram

	// Indicator engine
	ComputeDur     prometheus.Histogram
	SnapshotsTotal prometheus.Counter

	// Storage tiers
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram

	// Broadcast / sessions
	PublishesTotal      prometheus.Counter
	FanoutDropsTotal    *prometheus.CounterVec // labels: session
	SessionsActive      prometheus.Gauge
	SessionQueueDepth   *prometheus.GaugeVec // labels: session
	ForcedDisconnects   prometheus.Counter
	AuthRefreshesTotal  prometheus.Counter
	IsolationViolations prometheus.Counter

	// Alerts
	AlertsTriggered prometheus.Counter
}

// New registers and returns all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_fetches_total",
			Help: "Provider fetch attempts by result",
		}, []string{"result"}),
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_samples_total",
			Help: "Samples upserted into the time-series store",
		}),
		UnchangedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_unchanged_samples_total",
			Help: "Upserts that matched the already-stored value",
		}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_fetch_duration_seconds",
			Help:    "Provider fetch latency",
			Buckets: prometheus.DefBuckets,
		}),

		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_indicator_compute_duration_seconds",
			Help:    "Indicator compute latency per sample",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_indicator_snapshots_total",
			Help: "Indicator snapshots computed",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketpulse_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),

		PublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_publishes_total",
			Help: "Updates handed to the broadcaster",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_fanout_drops_total",
			Help: "Updates evicted from session outbound rings",
		}, []string{"session"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketpulse_sessions_active",
			Help: "Currently registered sessions",
		}),
		SessionQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketpulse_session_queue_depth",
			Help: "Outbound ring occupancy per session",
		}, []string{"session"}),
		ForcedDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_forced_disconnects_total",
			Help: "Sessions force-closed after sustained overflow",
		}),
		AuthRefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_auth_refreshes_total",
			Help: "Authorized-set refresh cycles completed",
		}),
		IsolationViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_isolation_violations_total",
			Help: "Updates blocked at delivery for lacking authorization",
		}),

		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketpulse_alerts_triggered_total",
			Help: "Alert rules fired",
		}),
	}

	prometheus.MustRegister(
		m.FetchesTotal,
		m.SamplesTotal,
		m.UnchangedTotal,
		m.FetchDur,
		m.ComputeDur,
		m.SnapshotsTotal,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.PublishesTotal,
		m.FanoutDropsTotal,
		m.SessionsActive,
		m.SessionQueueDepth,
		m.ForcedDisconnects,
		m.AuthRefreshesTotal,
		m.IsolationViolations,
		m.AlertsTriggered,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedOK         bool      `json:"feed_ok"`
	LastSampleTime time.Time `json:"last_sample_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetFeedOK(v bool) {
	h.mu.Lock()
	h.FeedOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. A nil client or DB
// skips that probe (redis is optional).
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedOK || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedOK          bool    `json:"feed_ok"`
		LastSampleTime  string  `json:"last_sample_time"`
		SampleAge       string  `json:"sample_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedOK:          h.FeedOK,
		LastSampleTime:  h.LastSampleTime.Format(time.RFC3339),
		SampleAge:       sampleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
