// Package api provides the HTTP admin surface: watchlist and alert-rule
// management. Data streaming stays on the WebSocket gateway; this mux only
// mutates control-plane state.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"marketpulse/internal/alert"
	"marketpulse/internal/model"
	"marketpulse/internal/store"
	"marketpulse/internal/watchlist"
)

// Deps are the control-plane collaborators.
type Deps struct {
	Watchlists *watchlist.Store
	Cache      *watchlist.CachedSource // invalidated on mutations; may be nil
	Alerts     *alert.Engine
	Samples    *store.TimeSeries // read-only history queries; may be nil
}

// NewRouter sets up the admin HTTP routes.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /api/v1/watchlists", d.listWatchlists)
	mux.HandleFunc("POST /api/v1/watchlists", d.createWatchlist)
	mux.HandleFunc("DELETE /api/v1/watchlists/{id}", d.deleteWatchlist)
	mux.HandleFunc("POST /api/v1/watchlists/{id}/symbols", d.addSymbol)
	mux.HandleFunc("DELETE /api/v1/watchlists/{id}/symbols/{symbol}", d.removeSymbol)

	mux.HandleFunc("GET /api/v1/alerts", d.listAlerts)
	mux.HandleFunc("POST /api/v1/alerts", d.createAlert)
	mux.HandleFunc("DELETE /api/v1/alerts/{id}", d.deleteAlert)

	if d.Samples != nil {
		mux.HandleFunc("GET /api/v1/samples/{symbol}", d.listSamples)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (d Deps) invalidate(r *http.Request, tenantID string) {
	if d.Cache != nil && tenantID != "" {
		d.Cache.Invalidate(r.Context(), tenantID)
	}
}

func (d Deps) listWatchlists(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("tenant query parameter is required"))
		return
	}
	lists, err := d.Watchlists.ListByTenant(r.Context(), tenantID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (d Deps) createWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	wl, err := d.Watchlists.Create(r.Context(), req.TenantID, req.Name)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	log.Printf("[api] watchlist %d created for tenant %s", wl.ID, wl.TenantID)
	writeJSON(w, http.StatusCreated, wl)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (d Deps) deleteWatchlist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	tenantID := r.URL.Query().Get("tenant")
	if err := d.Watchlists.Delete(r.Context(), id); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	d.invalidate(r, tenantID)
	writeJSON(w, http.StatusNoContent, nil)
}

func (d Deps) addSymbol(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Symbol   string `json:"symbol"`
		TenantID string `json:"tenant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := d.Watchlists.AddSymbol(r.Context(), id, req.Symbol); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, watchlist.ErrNotFound) {
			code = http.StatusNotFound
		}
		writeErr(w, code, err)
		return
	}
	d.invalidate(r, req.TenantID)
	writeJSON(w, http.StatusNoContent, nil)
}

func (d Deps) removeSymbol(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := d.Watchlists.RemoveSymbol(r.Context(), id, r.PathValue("symbol")); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	d.invalidate(r, r.URL.Query().Get("tenant"))
	writeJSON(w, http.StatusNoContent, nil)
}

func (d Deps) listAlerts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		writeErr(w, http.StatusBadRequest, errors.New("tenant query parameter is required"))
		return
	}
	rules := d.Alerts.ListByTenant(tenantID)
	if rules == nil {
		rules = []alert.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (d Deps) createAlert(w http.ResponseWriter, r *http.Request) {
	var rule alert.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	created, err := d.Alerts.Add(rule)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// listSamples serves bounded history reads from the hot store. from/to are
// RFC 3339 and optional; limit defaults to 100 newest points in range.
func (d Deps) listSamples(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	var from, to time.Time
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}

	samples, err := d.Samples.RangeQuery(symbol, from, to, limit)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, store.ErrInvalidArgument) {
			code = http.StatusBadRequest
		}
		writeErr(w, code, err)
		return
	}
	if samples == nil {
		samples = []model.Sample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (d Deps) deleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	d.Alerts.Remove(id)
	writeJSON(w, http.StatusNoContent, nil)
}
