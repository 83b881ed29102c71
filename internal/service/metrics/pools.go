package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Datify-sh/Datify/internal/domain"
)

const (
	poolMaxConns       = 2
	poolConnectTimeout = 10 * time.Second
	poolTTL            = 5 * time.Minute
)

// poolCache keeps one small pgx pool per relational instance so the
// collector does not pay a fresh handshake every interval. Pools idle past
// the TTL are closed on sweep; a password rotation changes the DSN and
// replaces the entry.
type poolCache struct {
	mu    sync.Mutex
	pools map[string]*pooledConn
}

type pooledConn struct {
	pool     *pgxpool.Pool
	dsn      string
	lastUsed time.Time
}

func newPoolCache() *poolCache {
	return &poolCache{pools: make(map[string]*pooledConn)}
}

func (c *poolCache) get(ctx context.Context, key, dsn string, now time.Time) (*pgxpool.Pool, error) {
	c.mu.Lock()
	if entry, ok := c.pools[key]; ok {
		if entry.dsn == dsn {
			entry.lastUsed = now
			pool := entry.pool
			c.mu.Unlock()
			return pool, nil
		}
		entry.pool.Close()
		delete(c.pools, key)
	}
	c.mu.Unlock()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, domain.WrapError(domain.CodeIOError, err, "parse metrics dsn")
	}
	cfg.MaxConns = poolMaxConns
	cfg.ConnConfig.ConnectTimeout = poolConnectTimeout
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, domain.WrapError(domain.CodeIOError, err, "open metrics pool")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.pools[key]; ok {
		// Another scrape raced us here; keep the first pool.
		pool.Close()
		entry.lastUsed = now
		return entry.pool, nil
	}
	c.pools[key] = &pooledConn{pool: pool, dsn: dsn, lastUsed: now}
	return pool, nil
}

// invalidate drops an instance's pool, forcing a fresh connection on the
// next scrape. Called after scrape failures and lifecycle transitions.
func (c *poolCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.pools[key]; ok {
		entry.pool.Close()
		delete(c.pools, key)
	}
}

func (c *poolCache) evictIdle(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.pools {
		if now.Sub(entry.lastUsed) > poolTTL {
			entry.pool.Close()
			delete(c.pools, key)
		}
	}
}

func (c *poolCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.pools {
		entry.pool.Close()
		delete(c.pools, key)
	}
}
