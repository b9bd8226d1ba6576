// Package gateway exposes the engine over WebSocket: one Session per
// connection, a Registry of live sessions, and a TenantGate that scopes each
// session's stream to its tenant's watchlist instruments.
package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketpulse/internal/metrics"
	"marketpulse/internal/model"
	"marketpulse/internal/ringbuf"
)

// SessionState is the connection lifecycle state.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthorized
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// overflowGrace is how long a session may sit at full queue depth
	// before it is force-disconnected.
	overflowGrace = 10 * time.Second
)

// wsConn is the subset of *websocket.Conn the session uses, extracted so
// tests can drive a session without a network connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (int, []byte, error)
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is one authenticated WebSocket peer. Updates are enqueued into a
// bounded drop-oldest ring and drained by writePump, so a stalled peer can
// neither block the broadcaster nor grow memory unbounded.
type Session struct {
	id       string
	tenantID string
	conn     wsConn
	ring     *ringbuf.Ring
	wake     chan struct{}
	ctrl     chan []byte // out-of-band frames: alerts
	done     chan struct{}

	onClose func(*Session) // teardown hook set by the registry

	log *slog.Logger
	met *metrics.Metrics

	mu            sync.RWMutex
	state         SessionState
	authorized    map[string]bool
	overflowSince time.Time

	closeOnce sync.Once
}

// NewSession creates a session in Connecting state.
func NewSession(id, tenantID string, conn wsConn, queueDepth int, log *slog.Logger, met *metrics.Metrics) *Session {
	return &Session{
		id:         id,
		tenantID:   tenantID,
		conn:       conn,
		ring:       ringbuf.New(queueDepth),
		wake:       make(chan struct{}, 1),
		ctrl:       make(chan []byte, 16),
		done:       make(chan struct{}),
		log:        log.With(slog.String("session_id", id), slog.String("tenant_id", tenantID)),
		met:        met,
		state:      StateConnecting,
		authorized: make(map[string]bool),
	}
}

// ID implements broadcast.Subscriber.
func (s *Session) ID() string { return s.id }

// TenantID returns the externally-resolved tenant this session belongs to.
func (s *Session) TenantID() string { return s.tenantID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// SetAuthorized replaces the session's authorized-instrument set.
func (s *Session) SetAuthorized(set map[string]bool) {
	s.mu.Lock()
	s.authorized = set
	s.mu.Unlock()
}

// Authorized reports whether the session may receive the instrument.
func (s *Session) Authorized(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized[symbol]
}

// AuthorizedSet returns a copy of the current authorized set.
func (s *Session) AuthorizedSet() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]bool, len(s.authorized))
	for k, v := range s.authorized {
		cp[k] = v
	}
	return cp
}

// Enqueue implements broadcast.Subscriber. The authorization check runs at
// delivery time: a subscription that outlived a watchlist removal is caught
// here, dropped, and surfaced as a security anomaly.
func (s *Session) Enqueue(u model.Update) bool {
	s.mu.RLock()
	st := s.state
	ok := s.authorized[u.Symbol]
	s.mu.RUnlock()

	if st != StateActive {
		return false
	}
	if !ok {
		s.log.Warn("unauthorized update blocked at delivery",
			slog.String("symbol", u.Symbol))
		if s.met != nil {
			s.met.IsolationViolations.Inc()
		}
		return false
	}

	evicted := s.ring.Push(u)
	s.trackOverflow(evicted)
	if s.met != nil {
		s.met.SessionQueueDepth.WithLabelValues(s.id).Set(float64(s.ring.Len()))
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return evicted
}

// trackOverflow force-closes the session after sustained full-queue pressure.
func (s *Session) trackOverflow(evicted bool) {
	s.mu.Lock()
	if !evicted {
		s.overflowSince = time.Time{}
		s.mu.Unlock()
		return
	}
	if s.overflowSince.IsZero() {
		s.overflowSince = time.Now()
		s.mu.Unlock()
		return
	}
	over := time.Since(s.overflowSince)
	s.mu.Unlock()

	if over > overflowGrace {
		s.log.Warn("sustained queue overflow, force-disconnecting",
			slog.Duration("overflow_for", over))
		if s.met != nil {
			s.met.ForcedDisconnects.Inc()
		}
		go s.Close()
	}
}

// QueueLen returns the current outbound queue occupancy.
func (s *Session) QueueLen() int { return s.ring.Len() }

// Dropped returns the total updates evicted from the outbound queue.
func (s *Session) Dropped() uint64 { return s.ring.Dropped() }

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close tears the session down. Safe to call from any goroutine, any number
// of times; only the first call does work.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if s.onClose != nil {
			s.onClose(s)
		}
		s.conn.Close()
		s.setState(StateClosed)
		close(s.done)
		if s.met != nil {
			s.met.SessionQueueDepth.DeleteLabelValues(s.id)
		}
		s.log.Info("session closed")
	})
}

// writePump drains the outbound ring to the peer and keeps the connection
// alive with pings. Runs as one goroutine per session.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for {
				u, ok := s.ring.Pop()
				if !ok {
					break
				}
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, updateFrame(&u)); err != nil {
					return
				}
			}
		case frame := <-s.ctrl:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendFrame queues an out-of-band frame (alerts). Best-effort, non-blocking.
func (s *Session) SendFrame(frame []byte) {
	if s.State() != StateActive {
		return
	}
	select {
	case s.ctrl <- frame:
	default:
	}
}

// readPump consumes (and discards) client frames to service pong handling
// and detect disconnects.
func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(1024)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
