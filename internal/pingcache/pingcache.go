// Package pingcache is a Redis-backed hot cache of recent successful probe
// outcomes, per SPEC_FULL.md §4.14. It exists purely to damp prune-cycle
// flapping: the Registry's periodic prune consults RecentlyOK before
// evicting a server that just failed a probe, giving it one grace retry if
// it was reachable very recently. When unconfigured, NoOp reports false for
// every lookup and behavior matches spec.md exactly (no grace period).
package pingcache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sauerworld/qmaster/internal/logging"
	"github.com/sauerworld/qmaster/internal/registry"
)

// ttl bounds how long a successful probe counts as "recent" — one prune
// interval, matching registry.Interval's cadence.
const ttl = 60 * time.Second

// Cache records successful probes in Redis, keyed "ping:<ip>:<port>".
type Cache struct {
	client *redis.Client
}

// New connects to a Redis instance at redisURL and verifies connectivity.
func New(redisURL string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         redisURL,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pingcache: connecting to redis: %w", err)
	}

	logging.Info("pingcache: connected to %s", redisURL)
	return &Cache{client: client}, nil
}

func key(id registry.Identity) string {
	return fmt.Sprintf("ping:%s:%d", id.IP, id.Port)
}

// MarkOK records a successful probe for id, valid for one prune interval.
func (c *Cache) MarkOK(ctx context.Context, id registry.Identity) {
	if err := c.client.Set(ctx, key(id), 1, ttl).Err(); err != nil {
		logging.Warn("pingcache: recording %s: %v", key(id), err)
	}
}

// RecentlyOK implements registry.PingCache.
func (c *Cache) RecentlyOK(id registry.Identity) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := c.client.Exists(ctx, key(id)).Result()
	if err != nil {
		logging.Warn("pingcache: checking %s: %v", key(id), err)
		return false
	}
	return n > 0
}

// Close closes the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// WrapPinger returns a registry.Pinger that marks every successful probe
// in cache before returning it, so prune's grace-retry check has fresh data.
func WrapPinger(pinger registry.Pinger, cache *Cache) registry.Pinger {
	return func(ctx context.Context, host string, infoPort uint16) ([]byte, error) {
		reply, err := pinger(ctx, host, infoPort)
		if err == nil && cache != nil {
			cache.MarkOK(ctx, registry.Identity{IP: host, Port: infoPort - 1})
		}
		return reply, err
	}
}

// NoOp is a PingCache that never grants a grace retry, used when no Redis
// URL is configured.
type NoOp struct{}

// RecentlyOK implements registry.PingCache.
func (NoOp) RecentlyOK(registry.Identity) bool { return false }
