package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketpulse/internal/broadcast"
	"marketpulse/internal/logger"
	"marketpulse/internal/metrics"
	"marketpulse/internal/model"
)

// TenantGate resolves and maintains each session's authorized-instrument
// set from the tenant's watchlists. Additions grant and removals revoke
// within one refresh interval of the watchlist change (plus the watchlist
// cache TTL, when caching is enabled).
type TenantGate struct {
	source   model.WatchlistSource
	bus      *broadcast.Broadcaster
	interval time.Duration
	log      *slog.Logger
	met      *metrics.Metrics
}

// NewTenantGate creates a gate refreshing on the given interval.
func NewTenantGate(source model.WatchlistSource, bus *broadcast.Broadcaster, interval time.Duration, log *slog.Logger, met *metrics.Metrics) *TenantGate {
	return &TenantGate{
		source:   source,
		bus:      bus,
		interval: interval,
		log:      logger.Component(log, "tenant_gate"),
		met:      met,
	}
}

// Authorize resolves the session's initial authorized set and subscribes
// each instrument. Moves the session from Connecting to Authorized.
func (g *TenantGate) Authorize(ctx context.Context, s *Session) error {
	set, err := g.source.ListAuthorizedInstruments(ctx, s.tenantID)
	if err != nil {
		return fmt.Errorf("gateway: resolve authorized set: %w", err)
	}
	s.SetAuthorized(set)
	for symbol := range set {
		g.bus.Subscribe(symbol, s)
	}
	s.setState(StateAuthorized)
	g.log.Info("session authorized",
		slog.String("session_id", s.id),
		slog.String("tenant_id", s.tenantID),
		slog.Int("instruments", len(set)))
	return nil
}

// RunRefresh re-resolves the session's authorized set on the configured
// cadence until the session closes. A failed resolve keeps the previous set;
// authorization only changes on a successful read.
func (g *TenantGate) RunRefresh(ctx context.Context, s *Session) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.Done():
			return
		case <-ticker.C:
			g.refresh(ctx, s)
		}
	}
}

func (g *TenantGate) refresh(ctx context.Context, s *Session) {
	refreshCtx, cancel := context.WithTimeout(ctx, g.interval)
	defer cancel()

	next, err := g.source.ListAuthorizedInstruments(refreshCtx, s.tenantID)
	if err != nil {
		g.log.Warn("authorized-set refresh failed, keeping previous set",
			slog.String("session_id", s.id), slog.String("error", err.Error()))
		return
	}
	if g.met != nil {
		g.met.AuthRefreshesTotal.Inc()
	}

	prev := s.AuthorizedSet()

	// Revoke before swapping the set so a removed instrument cannot slip
	// through between unsubscribe and the delivery-time check.
	for symbol := range prev {
		if !next[symbol] {
			g.bus.Unsubscribe(symbol, s)
			g.log.Info("instrument revoked",
				slog.String("session_id", s.id), slog.String("symbol", symbol))
		}
	}
	s.SetAuthorized(next)
	for symbol := range next {
		if !prev[symbol] {
			g.bus.Subscribe(symbol, s)
			g.log.Info("instrument granted",
				slog.String("session_id", s.id), slog.String("symbol", symbol))
		}
	}
}
