// Package docker wraps the Docker SDK with the narrow capability set the
// control plane needs. The wrapper stays dumb: no lifecycle state machine
// knowledge, idempotency lives in the callers.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

const (
	imagePullTimeout = 10 * time.Minute
	// DefaultStopGrace is how long an engine gets to shut down cleanly
	// before the daemon kills it.
	DefaultStopGrace = 30 * time.Second
)

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New creates a new Docker client using environment defaults.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return classify("docker ping", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// ServerVersion reports the daemon's engine and API versions.
func (c *Client) ServerVersion(ctx context.Context) (engine string, api string, err error) {
	version, err := c.inner.ServerVersion(ctx)
	if err != nil {
		return "", "", classify("docker server version", err)
	}
	return version.Version, version.APIVersion, nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
