package engine

import "github.com/Datify-sh/Datify/internal/domain"

// NewRedis returns the adapter for Redis instances.
func NewRedis() Adapter {
	return keyValue{
		kind:     domain.EngineRedis,
		repo:     "redis",
		server:   "redis-server",
		cli:      "redis-cli",
		versions: []string{"6.2", "7.0", "7.2", "7.4"},
		defaultV: "7.4",
	}
}
