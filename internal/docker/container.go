package docker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
)

// Labels stamped on every resource the control plane owns.
const (
	LabelManaged    = "datify.managed"
	LabelInstanceID = "datify.instance_id"
	LabelEngine     = "datify.engine"
)

// ContainerState is the lifecycle slice of a container inspect.
type ContainerState struct {
	Status     string
	Running    bool
	ExitCode   int
	OOMKilled  bool
	StartedAt  string
	FinishedAt string
}

// EnsureNetwork creates the shared bridge network if it does not exist yet.
func (c *Client) EnsureNetwork(ctx context.Context, name string) error {
	networks, err := c.inner.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return classify("list networks", err)
	}
	for _, net := range networks {
		if net.Name == name {
			return nil
		}
	}

	_, err = c.inner.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: map[string]string{LabelManaged: "true"},
	})
	if err != nil {
		return classify("create network", err)
	}
	return nil
}

type pullProgress struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	Progress string `json:"progress"`
}

// PullImage pulls an image, invoking onStatus for each distinct status line.
// Pulling an already present image is a cheap no-op on the daemon side.
func (c *Client) PullImage(ctx context.Context, ref string, onStatus func(string)) error {
	ctx, cancel := context.WithTimeout(ctx, imagePullTimeout)
	defer cancel()

	reader, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return classify("pull image", err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	var lastStatus string
	for scanner.Scan() {
		var progress pullProgress
		if err := json.Unmarshal(scanner.Bytes(), &progress); err != nil {
			continue
		}
		if progress.Status != lastStatus && progress.ID == "" && onStatus != nil {
			onStatus(progress.Status)
			lastStatus = progress.Status
		}
	}
	if err := scanner.Err(); err != nil {
		return classify("read pull output", err)
	}
	return nil
}

// CreateContainer creates (without starting) a container from the spec.
func (c *Client) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config, hostConfig, networkConfig := spec.containerConfigs()
	resp, err := c.inner.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return "", classify("create container", err)
	}
	return resp.ID, nil
}

// StartContainer starts a created or stopped container.
func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return classify("start container", err)
	}
	return nil
}

// StopContainer stops a container, giving the engine grace to shut down
// cleanly before the daemon kills it.
func (c *Client) StopContainer(ctx context.Context, id string, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	timeout := int(grace.Seconds())
	err := c.inner.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil {
		return classify("stop container", err)
	}
	return nil
}

// RemoveContainer removes a container together with its anonymous volumes.
// Removing an absent container is not an error.
func (c *Client) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := c.inner.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		err = classify("remove container", err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// InspectContainer returns the container's lifecycle state.
func (c *Client) InspectContainer(ctx context.Context, id string) (ContainerState, error) {
	inspect, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, classify("inspect container", err)
	}
	state := ContainerState{}
	if inspect.State != nil {
		state = ContainerState{
			Status:     inspect.State.Status,
			Running:    inspect.State.Running,
			ExitCode:   inspect.State.ExitCode,
			OOMKilled:  inspect.State.OOMKilled,
			StartedAt:  inspect.State.StartedAt,
			FinishedAt: inspect.State.FinishedAt,
		}
	}
	return state, nil
}

// ContainerExists reports whether the container is known to the daemon.
func (c *Client) ContainerExists(ctx context.Context, id string) (bool, error) {
	_, err := c.inner.ContainerInspect(ctx, id)
	if err != nil {
		err = classify("inspect container", err)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
