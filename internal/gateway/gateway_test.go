package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"marketpulse/internal/alert"
	"marketpulse/internal/broadcast"
	"marketpulse/internal/model"

	"github.com/shopspring/decimal"
)

// fakeConn satisfies wsConn without a network peer. ReadMessage blocks
// until the conn is closed, like an idle WebSocket.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetReadLimit(int64)               {}
func (f *fakeConn) SetPongHandler(func(string) error) {}
func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fakeWatchlists is a mutable in-memory WatchlistSource.
type fakeWatchlists struct {
	mu   sync.Mutex
	sets map[string]map[string]bool
	err  error
}

func (f *fakeWatchlists) ListAuthorizedInstruments(_ context.Context, tenantID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cp := make(map[string]bool)
	for k, v := range f.sets[tenantID] {
		cp[k] = v
	}
	return cp, nil
}

func (f *fakeWatchlists) set(tenantID string, symbols ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets == nil {
		f.sets = make(map[string]map[string]bool)
	}
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	f.sets[tenantID] = set
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func upd(symbol string) model.Update {
	return model.Update{Symbol: symbol, TS: time.Now().UTC(), Price: 100_00}
}

func newActiveSession(t *testing.T, id, tenant string, gate *TenantGate, reg *Registry) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(id, tenant, conn, 8, testLogger(), nil)
	reg.Add(s)
	if err := gate.Authorize(context.Background(), s); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	s.setState(StateActive)
	return s, conn
}

func TestSessionLifecycle(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	conn := newFakeConn()
	s := NewSession("s1", "tenant-x", conn, 8, testLogger(), nil)
	if s.State() != StateConnecting {
		t.Fatalf("initial state: %v", s.State())
	}
	reg.Add(s)
	reg.Add(s) // duplicate: no-op
	if reg.Count() != 1 {
		t.Fatalf("registry count: %d", reg.Count())
	}

	if err := gate.Authorize(context.Background(), s); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if s.State() != StateAuthorized {
		t.Errorf("state after authorize: %v", s.State())
	}
	if bus.Subscribers("AAPL") != 1 {
		t.Errorf("AAPL subscribers: %d", bus.Subscribers("AAPL"))
	}
	s.setState(StateActive)

	// Teardown is idempotent and unsubscribes everywhere.
	s.Close()
	s.Close()
	if s.State() != StateClosed {
		t.Errorf("state after close: %v", s.State())
	}
	if reg.Count() != 0 {
		t.Errorf("registry count after close: %d", reg.Count())
	}
	if bus.Subscribers("AAPL") != 0 {
		t.Errorf("AAPL subscribers after close: %d", bus.Subscribers("AAPL"))
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after teardown")
	}
}

func TestTenantIsolation(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL")
	wl.set("tenant-y", "MSFT")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	sx, _ := newActiveSession(t, "sx", "tenant-x", gate, reg)
	sy, _ := newActiveSession(t, "sy", "tenant-y", gate, reg)

	bus.Publish(upd("AAPL"))
	bus.Publish(upd("MSFT"))

	if got := sx.QueueLen(); got != 1 {
		t.Errorf("tenant-x queue: %d, want 1", got)
	}
	if got := sy.QueueLen(); got != 1 {
		t.Errorf("tenant-y queue: %d, want 1", got)
	}

	// Even a direct enqueue of an unauthorized instrument is blocked at
	// delivery time.
	if sx.Enqueue(upd("MSFT")) {
		t.Error("unauthorized enqueue reported eviction")
	}
	if got := sx.QueueLen(); got != 1 {
		t.Errorf("tenant-x queue after unauthorized enqueue: %d, want 1", got)
	}
}

func TestRevocationOnRefresh(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL", "MSFT")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	s, _ := newActiveSession(t, "s1", "tenant-x", gate, reg)
	if !s.Authorized("MSFT") {
		t.Fatal("MSFT not granted initially")
	}

	// Watchlist loses MSFT and gains TSLA; one refresh applies both.
	wl.set("tenant-x", "AAPL", "TSLA")
	gate.refresh(context.Background(), s)

	if s.Authorized("MSFT") {
		t.Error("MSFT still authorized after revocation")
	}
	if !s.Authorized("TSLA") {
		t.Error("TSLA not granted after refresh")
	}
	if bus.Subscribers("MSFT") != 0 {
		t.Errorf("MSFT subscribers after revocation: %d", bus.Subscribers("MSFT"))
	}
	if bus.Subscribers("TSLA") != 1 {
		t.Errorf("TSLA subscribers after grant: %d", bus.Subscribers("TSLA"))
	}

	bus.Publish(upd("MSFT"))
	if got := s.QueueLen(); got != 0 {
		t.Errorf("revoked instrument delivered: queue %d", got)
	}
}

func TestRefreshLoopRevokesWithinBound(t *testing.T) {
	const interval = 100 * time.Millisecond

	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL", "MSFT")
	gate := NewTenantGate(wl, bus, interval, testLogger(), nil)

	s, _ := newActiveSession(t, "s1", "tenant-x", gate, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gate.RunRefresh(ctx, s)

	// Revocation lands within two refresh periods of the watchlist change.
	wl.set("tenant-x", "AAPL")
	start := time.Now()
	for s.Authorized("MSFT") || bus.Subscribers("MSFT") != 0 {
		if time.Since(start) > 2*interval {
			t.Fatalf("MSFT still authorized %v after watchlist change", time.Since(start))
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(upd("MSFT"))
	if got := s.QueueLen(); got != 0 {
		t.Errorf("revoked instrument delivered: queue %d", got)
	}

	// A grant lands within the same bound.
	wl.set("tenant-x", "AAPL", "TSLA")
	start = time.Now()
	for !s.Authorized("TSLA") {
		if time.Since(start) > 2*interval {
			t.Fatalf("TSLA not granted %v after watchlist change", time.Since(start))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRefreshFailureKeepsPreviousSet(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	s, _ := newActiveSession(t, "s1", "tenant-x", gate, reg)

	wl.mu.Lock()
	wl.err = errors.New("store down")
	wl.mu.Unlock()
	gate.refresh(context.Background(), s)

	if !s.Authorized("AAPL") {
		t.Error("failed refresh must keep the previous authorized set")
	}
}

func TestBackpressureBounded(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	s, _ := newActiveSession(t, "s1", "tenant-x", gate, reg)
	// Session depth is 8; no writePump drains the ring.
	for i := 0; i < 1000; i++ {
		bus.Publish(upd("AAPL"))
	}
	if got := s.QueueLen(); got > 8 {
		t.Errorf("queue grew past depth: %d", got)
	}
	if s.Dropped() == 0 {
		t.Error("sustained overflow recorded no drops")
	}
}

func TestEnqueueRequiresActiveState(t *testing.T) {
	s := NewSession("s1", "tenant-x", newFakeConn(), 8, testLogger(), nil)
	s.SetAuthorized(map[string]bool{"AAPL": true})

	s.Enqueue(upd("AAPL")) // still Connecting
	if got := s.QueueLen(); got != 0 {
		t.Errorf("non-active session buffered %d updates", got)
	}

	s.setState(StateActive)
	s.Enqueue(upd("AAPL"))
	if got := s.QueueLen(); got != 1 {
		t.Errorf("active session queue: %d", got)
	}
}

func TestNotifyTenantRoutesAlerts(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL")
	wl.set("tenant-y", "AAPL")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	sx, _ := newActiveSession(t, "sx", "tenant-x", gate, reg)
	sy, _ := newActiveSession(t, "sy", "tenant-y", gate, reg)

	reg.NotifyTenant(alert.Triggered{
		Rule:   alert.Rule{ID: 1, TenantID: "tenant-x", Symbol: "AAPL", Field: alert.FieldPrice, Op: alert.OperatorGreaterThan, Value: decimal.NewFromInt(100)},
		Update: upd("AAPL"),
	})

	if len(sx.ctrl) != 1 {
		t.Errorf("owning tenant session got %d alert frames, want 1", len(sx.ctrl))
	}
	if len(sy.ctrl) != 0 {
		t.Errorf("other tenant session got %d alert frames, want 0", len(sy.ctrl))
	}
}

func TestWritePumpDrainsInOrder(t *testing.T) {
	bus := broadcast.New(nil)
	reg := NewRegistry(bus, testLogger(), nil)
	wl := &fakeWatchlists{}
	wl.set("tenant-x", "AAPL")
	gate := NewTenantGate(wl, bus, time.Second, testLogger(), nil)

	s, conn := newActiveSession(t, "s1", "tenant-x", gate, reg)
	go s.writePump()

	for i := 0; i < 5; i++ {
		bus.Publish(model.Update{Symbol: "AAPL", TS: time.Unix(int64(i), 0).UTC(), Price: 100_00})
	}

	deadline := time.After(2 * time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.frames)
		conn.mu.Unlock()
		if n >= 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("writePump drained %d of 5 frames", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
	s.Close()
}
