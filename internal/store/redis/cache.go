// Package redis implements the optional cache tier: latest-sample values
// with TTL and a pub/sub mirror of update events for consumers outside this
// process. The engine never reads redis on its serving path; every failure
// here degrades to a log line.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"marketpulse/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute

	latestKeyPrefix  = "sample:latest:"
	updateChanPrefix = "pub:update:"
)

// CacheConfig configures the Redis cache tier.
type CacheConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	WriteDur prometheus.Histogram // optional write latency observer
}

// Cache writes latest samples and mirrors update events to Redis.
type Cache struct {
	client   *goredis.Client
	writeDur prometheus.Histogram
}

// Client returns the underlying Redis client for health checks and shared use.
func (c *Cache) Client() *goredis.Client { return c.client }

// New creates a new Cache and pings the server.
func New(cfg CacheConfig) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Cache{client: client, writeDur: cfg.WriteDur}, nil
}

// Run reads samples from sampleCh and caches the latest value per symbol.
// Blocks until ctx is cancelled or sampleCh is closed.
func (c *Cache) Run(ctx context.Context, sampleCh <-chan model.Sample) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sampleCh:
			if !ok {
				return
			}
			key := latestKeyPrefix + s.Symbol
			start := time.Now()
			if err := c.client.Set(ctx, key, string(s.JSON()), defaultLatestTTL).Err(); err != nil {
				log.Printf("[redis] latest sample write error for %s: %v", s.Symbol, err)
			} else if c.writeDur != nil {
				c.writeDur.Observe(time.Since(start).Seconds())
			}
		}
	}
}

// PublishUpdate mirrors an update event to Redis pub/sub, pipelined with a
// latest-update SET. Best-effort.
func (c *Cache) PublishUpdate(ctx context.Context, u model.Update) {
	jsonData := string(u.JSON())

	pipe := c.client.Pipeline()
	pipe.Set(ctx, "update:latest:"+u.Symbol, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, updateChanPrefix+u.Symbol, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] update mirror error for %s: %v", u.Symbol, err)
	}
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
