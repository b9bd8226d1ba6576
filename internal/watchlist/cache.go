package watchlist

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"marketpulse/internal/model"
)

const authzKeyPrefix = "watchlist:authz:"

// CachedSource fronts a WatchlistSource with a short-TTL redis cache so the
// per-session authorization refresh cycle stays cheap. Cache misses and
// redis failures fall through to the underlying source; a hit may be stale
// by at most the TTL, which is bounded by the refresh cadence.
type CachedSource struct {
	next model.WatchlistSource
	rdb  *goredis.Client
	ttl  time.Duration
}

// NewCachedSource wraps next. A nil client disables caching.
func NewCachedSource(next model.WatchlistSource, rdb *goredis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{next: next, rdb: rdb, ttl: ttl}
}

// ListAuthorizedInstruments implements model.WatchlistSource.
func (c *CachedSource) ListAuthorizedInstruments(ctx context.Context, tenantID string) (map[string]bool, error) {
	if c.rdb == nil {
		return c.next.ListAuthorizedInstruments(ctx, tenantID)
	}

	key := authzKeyPrefix + tenantID
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var symbols []string
		if err := json.Unmarshal(raw, &symbols); err == nil {
			set := make(map[string]bool, len(symbols))
			for _, s := range symbols {
				set[s] = true
			}
			return set, nil
		}
	}

	set, err := c.next.ListAuthorizedInstruments(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	if raw, err := json.Marshal(symbols); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Printf("[watchlist] cache write failed for tenant %s: %v", tenantID, err)
		}
	}
	return set, nil
}

// Invalidate drops a tenant's cached authorized set, used after watchlist
// mutations so revocation is not delayed by the TTL on top of the refresh
// interval.
func (c *CachedSource) Invalidate(ctx context.Context, tenantID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, authzKeyPrefix+tenantID).Err(); err != nil {
		log.Printf("[watchlist] cache invalidate failed for tenant %s: %v", tenantID, err)
	}
}
