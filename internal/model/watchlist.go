package model

// Watchlist is a tenant-owned named set of instruments. Deleting a watchlist
// never deletes the underlying instruments or their samples.
type Watchlist struct {
	ID       int64    `json:"id"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Symbols  []string `json:"symbols"`
}
