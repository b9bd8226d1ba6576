package gateway

import (
	"log/slog"
	"sync"

	"marketpulse/internal/alert"
	"marketpulse/internal/broadcast"
	"marketpulse/internal/logger"
	"marketpulse/internal/metrics"
)

// Registry tracks live sessions. Registration and removal are idempotent;
// removal also tears the session out of the broadcaster.
type Registry struct {
	bus *broadcast.Broadcaster
	log *slog.Logger
	met *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(bus *broadcast.Broadcaster, log *slog.Logger, met *metrics.Metrics) *Registry {
	return &Registry{
		bus:      bus,
		log:      logger.Component(log, "registry"),
		met:      met,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session and hooks its teardown. Adding a session twice is
// a no-op.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; ok {
		r.mu.Unlock()
		return
	}
	r.sessions[s.id] = s
	count := len(r.sessions)
	r.mu.Unlock()

	s.onClose = r.remove
	if r.met != nil {
		r.met.SessionsActive.Set(float64(count))
	}
	r.log.Info("session registered",
		slog.String("session_id", s.id),
		slog.String("tenant_id", s.tenantID),
		slog.Int("total", count))
}

// remove runs from Session.Close exactly once per session; a second Close
// finds the session already gone and does nothing.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.id)
	count := len(r.sessions)
	r.mu.Unlock()

	r.bus.UnsubscribeAll(s)
	if r.met != nil {
		r.met.SessionsActive.Set(float64(count))
	}
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// NotifyTenant delivers a triggered alert to every session of the owning
// tenant. Best-effort.
func (r *Registry) NotifyTenant(t alert.Triggered) {
	frame := alertFrame(t)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.tenantID == t.Rule.TenantID {
			s.SendFrame(frame)
		}
	}
}

// CloseAll tears down every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	for _, s := range all {
		s.Close()
	}
}
