package engine

import "github.com/Datify-sh/Datify/internal/domain"

// NewValkey returns the adapter for Valkey instances.
func NewValkey() Adapter {
	return keyValue{
		kind:     domain.EngineValkey,
		repo:     "valkey/valkey",
		server:   "valkey-server",
		cli:      "valkey-cli",
		versions: []string{"7.2", "8.0", "8.1"},
		defaultV: "8.0",
	}
}
