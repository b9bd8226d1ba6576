package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/logger"
	"marketpulse/internal/metrics"
	"marketpulse/internal/store"
)

// Config holds the gateway listener settings.
type Config struct {
	ListenAddr      string
	QueueDepth      int // per-session outbound ring capacity
	BackfillSamples int // recent samples streamed on connect
}

// Gateway is the WebSocket front door: upgrades connections, authorizes
// them through the TenantGate, bootstraps recent history, and streams
// updates until disconnect.
type Gateway struct {
	cfg      Config
	store    *store.TimeSeries
	gate     *TenantGate
	registry *Registry
	log      *slog.Logger
	met      *metrics.Metrics

	upgrader websocket.Upgrader
	srv      *http.Server
}

// New creates a Gateway. admin, when non-nil, is mounted under /api/ so the
// control plane shares the listener.
func New(cfg Config, ts *store.TimeSeries, gate *TenantGate, registry *Registry, admin http.Handler, log *slog.Logger, met *metrics.Metrics) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		store:    ts,
		gate:     gate,
		registry: registry,
		log:      logger.Component(log, "gateway"),
		met:      met,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)
	if admin != nil {
		mux.Handle("/api/", admin)
	}
	g.srv = &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return g
}

// Run serves WebSocket connections until ctx is cancelled, then tears down
// every live session.
func (g *Gateway) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.srv.Shutdown(shutdownCtx)
		g.registry.CloseAll()
	}()

	g.log.Info("gateway listening", slog.String("addr", g.cfg.ListenAddr))
	if err := g.srv.ListenAndServe(); err != http.ErrServerClosed {
		g.log.Error("gateway server error", slog.String("error", err.Error()))
	}
}

// serveWS upgrades the connection and walks the session through its
// lifecycle. The tenant ID arrives externally resolved (auth proxy);
// the gateway trusts it and scopes, it does not authenticate.
func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant")
	}
	if tenantID == "" {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	sessionID := logger.NewSessionID(tenantID, time.Now())
	s := NewSession(sessionID, tenantID, conn, g.cfg.QueueDepth, g.log, g.met)
	g.registry.Add(s)

	ctx := logger.WithSessionID(r.Context(), sessionID)
	g.log.Info("session connected",
		append(logger.WithSession(ctx), slog.String("tenant_id", tenantID))...)
	if err := g.gate.Authorize(ctx, s); err != nil {
		g.log.Warn("authorization failed", slog.String("error", err.Error()),
			slog.String("tenant_id", tenantID))
		s.Close()
		return
	}

	// Bootstrap: recent history per authorized instrument, written before
	// the pumps start so backfill frames precede any live update.
	g.backfill(s)
	s.setState(StateActive)

	go s.writePump()
	go s.readPump()
	go g.gate.RunRefresh(context.Background(), s)
}

func (g *Gateway) backfill(s *Session) {
	if g.cfg.BackfillSamples <= 0 {
		return
	}
	for symbol := range s.AuthorizedSet() {
		window := g.store.Window(symbol, g.cfg.BackfillSamples)
		if len(window) == 0 {
			continue
		}
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, backfillFrame(symbol, window)); err != nil {
			g.log.Warn("backfill write failed",
				slog.String("session_id", s.id), slog.String("symbol", symbol))
			return
		}
	}
}
