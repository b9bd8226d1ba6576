// Package watchlist persists tenant-owned named instrument sets. The union
// of a tenant's watchlist symbols is its authorized-instrument set, which
// the gateway refreshes on a fixed cadence.
package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketpulse/internal/model"
)

// ErrNotFound indicates the watchlist does not exist.
var ErrNotFound = errors.New("watchlist: not found")

// Store is the SQLite-backed watchlist tier. It shares the engine's
// database handle; watchlist traffic is low-volume control plane.
type Store struct {
	db *sql.DB
}

// NewStore creates the store and its schema.
func NewStore(db *sql.DB) (*Store, error) {
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("watchlist schema: %w", err)
	}
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS watchlists (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			name      TEXT NOT NULL,
			UNIQUE (tenant_id, name)
		);

		CREATE TABLE IF NOT EXISTS watchlist_symbols (
			watchlist_id INTEGER NOT NULL REFERENCES watchlists(id) ON DELETE CASCADE,
			symbol       TEXT    NOT NULL,
			PRIMARY KEY (watchlist_id, symbol)
		);

		CREATE INDEX IF NOT EXISTS idx_watchlists_tenant ON watchlists(tenant_id);
	`)
	return err
}

// Create makes a new named watchlist for a tenant. Creating a name the
// tenant already uses returns the existing watchlist unchanged.
func (s *Store) Create(ctx context.Context, tenantID, name string) (model.Watchlist, error) {
	if tenantID == "" || name == "" {
		return model.Watchlist{}, fmt.Errorf("watchlist: tenant and name are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watchlists (tenant_id, name) VALUES (?, ?)
		ON CONFLICT (tenant_id, name) DO NOTHING
	`, tenantID, name)
	if err != nil {
		return model.Watchlist{}, fmt.Errorf("watchlist create: %w", err)
	}
	return s.byName(ctx, tenantID, name)
}

func (s *Store) byName(ctx context.Context, tenantID, name string) (model.Watchlist, error) {
	var w model.Watchlist
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name FROM watchlists WHERE tenant_id = ? AND name = ?`,
		tenantID, name).Scan(&w.ID, &w.TenantID, &w.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Watchlist{}, ErrNotFound
	}
	if err != nil {
		return model.Watchlist{}, fmt.Errorf("watchlist lookup: %w", err)
	}
	w.Symbols, err = s.symbols(ctx, w.ID)
	return w, err
}

func (s *Store) symbols(ctx context.Context, watchlistID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol FROM watchlist_symbols WHERE watchlist_id = ? ORDER BY symbol`,
		watchlistID)
	if err != nil {
		return nil, fmt.Errorf("watchlist symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Delete removes a watchlist and its symbol rows. Instruments and samples
// are untouched. Deleting a missing watchlist is a no-op.
func (s *Store) Delete(ctx context.Context, watchlistID int64) error {
	// ON DELETE CASCADE needs foreign_keys on, which the driver does not
	// guarantee; delete the symbol rows explicitly.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("watchlist delete: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM watchlist_symbols WHERE watchlist_id = ?`, watchlistID); err != nil {
		tx.Rollback()
		return fmt.Errorf("watchlist delete: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM watchlists WHERE id = ?`, watchlistID); err != nil {
		tx.Rollback()
		return fmt.Errorf("watchlist delete: %w", err)
	}
	return tx.Commit()
}

// AddSymbol adds a symbol to a watchlist. Adding a present symbol is a no-op.
func (s *Store) AddSymbol(ctx context.Context, watchlistID int64, symbol string) error {
	if symbol == "" {
		return fmt.Errorf("watchlist: symbol is required")
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM watchlists WHERE id = ?`, watchlistID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("watchlist add symbol: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO watchlist_symbols (watchlist_id, symbol) VALUES (?, ?)
		ON CONFLICT (watchlist_id, symbol) DO NOTHING
	`, watchlistID, symbol)
	if err != nil {
		return fmt.Errorf("watchlist add symbol: %w", err)
	}
	return nil
}

// RemoveSymbol removes a symbol from a watchlist. Removing an absent
// symbol is a no-op.
func (s *Store) RemoveSymbol(ctx context.Context, watchlistID int64, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist_symbols WHERE watchlist_id = ? AND symbol = ?`,
		watchlistID, symbol)
	if err != nil {
		return fmt.Errorf("watchlist remove symbol: %w", err)
	}
	return nil
}

// ListByTenant returns a tenant's watchlists with their symbols.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]model.Watchlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, name FROM watchlists WHERE tenant_id = ? ORDER BY name`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("watchlist list: %w", err)
	}
	defer rows.Close()

	var out []model.Watchlist
	for rows.Next() {
		var w model.Watchlist
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Symbols, err = s.symbols(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListAuthorizedInstruments returns the union of symbols across a tenant's
// watchlists. An unknown tenant gets an empty set, not an error.
func (s *Store) ListAuthorizedInstruments(ctx context.Context, tenantID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ws.symbol
		FROM watchlist_symbols ws
		JOIN watchlists w ON w.id = ws.watchlist_id
		WHERE w.tenant_id = ?
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("watchlist authorized set: %w", err)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		set[sym] = true
	}
	return set, rows.Err()
}
