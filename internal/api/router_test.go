package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"marketpulse/internal/alert"
	"marketpulse/internal/model"
	"marketpulse/internal/store"
	"marketpulse/internal/watchlist"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	wl, err := watchlist.NewStore(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	ts := store.New()
	for i := 1; i <= 5; i++ {
		ts.Upsert(model.Sample{Symbol: "AAPL", TS: time.Unix(int64(i*100), 0), Price: int64(150_00 + i), Volume: 10})
	}
	return NewRouter(Deps{Watchlists: wl, Alerts: alert.NewEngine(), Samples: ts})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWatchlistCRUD(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/watchlists",
		map[string]string{"tenant_id": "tenant-x", "name": "tech"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var wl model.Watchlist
	if err := json.Unmarshal(rec.Body.Bytes(), &wl); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/watchlists/1/symbols",
		map[string]string{"symbol": "AAPL", "tenant_id": "tenant-x"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("add symbol: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/watchlists?tenant=tenant-x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	var lists []model.Watchlist
	json.Unmarshal(rec.Body.Bytes(), &lists)
	if len(lists) != 1 || len(lists[0].Symbols) != 1 {
		t.Errorf("list: %+v", lists)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/watchlists/1/symbols/AAPL?tenant=tenant-x", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove symbol: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/v1/watchlists/1?tenant=tenant-x", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
}

func TestWatchlistValidation(t *testing.T) {
	h := newTestRouter(t)

	if rec := doJSON(t, h, http.MethodGet, "/api/v1/watchlists", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("list without tenant: %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/watchlists", map[string]string{"name": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without tenant: %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/v1/watchlists/99/symbols",
		map[string]string{"symbol": "AAPL"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("add to unknown watchlist: %d", rec.Code)
	}
}

func TestAlertRuleEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/alerts", map[string]interface{}{
		"tenant_id": "tenant-x", "symbol": "AAPL",
		"field": "price", "op": "gt", "value": "150.00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", rec.Code, rec.Body.String())
	}
	var rule alert.Rule
	json.Unmarshal(rec.Body.Bytes(), &rule)
	if rule.ID == 0 {
		t.Error("rule without assigned ID")
	}

	// Expression-style rules are rejected by the closed operator set.
	rec = doJSON(t, h, http.MethodPost, "/api/v1/alerts", map[string]interface{}{
		"tenant_id": "tenant-x", "symbol": "AAPL",
		"field": "price", "op": "price > 100 || true", "value": "0",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expression rule: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/alerts?tenant=tenant-x", nil)
	var rules []alert.Rule
	json.Unmarshal(rec.Body.Bytes(), &rules)
	if len(rules) != 1 {
		t.Errorf("rules: %+v", rules)
	}

	if rec := doJSON(t, h, http.MethodDelete, "/api/v1/alerts/1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete rule: %d", rec.Code)
	}
}

func TestSampleHistoryEndpoint(t *testing.T) {
	h := newTestRouter(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/samples/AAPL?limit=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %s", rec.Code, rec.Body.String())
	}
	var samples []model.Sample
	json.Unmarshal(rec.Body.Bytes(), &samples)
	if len(samples) != 3 {
		t.Fatalf("expected 3 newest samples, got %d", len(samples))
	}
	if samples[0].TS.Unix() != 300 || samples[2].TS.Unix() != 500 {
		t.Errorf("wrong window: %v .. %v", samples[0].TS.Unix(), samples[2].TS.Unix())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/samples/AAPL?from=not-a-time", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad from: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/samples/NOPE", nil)
	if rec.Code != http.StatusOK || rec.Body.String() == "" {
		t.Errorf("unknown symbol should return empty list: %d", rec.Code)
	}
}
