package docker

import (
	"context"
	"errors"

	"github.com/docker/docker/api/types/volume"
)

// EnsureVolume creates the instance's named data volume if absent.
func (c *Client) EnsureVolume(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.inner.VolumeInspect(ctx, name)
	if err == nil {
		return nil
	}
	if err = classify("inspect volume", err); !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = c.inner.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
		Labels: labels,
	})
	if err != nil {
		return classify("create volume", err)
	}
	return nil
}

// RemoveVolume deletes a named volume. Removing an absent volume is not an
// error.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	err := c.inner.VolumeRemove(ctx, name, true)
	if err != nil {
		err = classify("remove volume", err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}
