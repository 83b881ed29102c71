package docker

import (
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec is everything needed to create one engine container.
type ContainerSpec struct {
	Name         string
	Image        string
	Env          []string
	Cmd          []string
	InternalPort int
	HostIP       string
	HostPort     int
	VolumeName   string
	MountPath    string
	MemoryBytes  int64
	NanoCPUs     int64
	Network      string
	Labels       map[string]string
}

// containerConfigs translates the spec into the SDK's three config objects.
func (s ContainerSpec) containerConfigs() (*container.Config, *container.HostConfig, *network.NetworkingConfig) {
	internal := nat.Port(fmt.Sprintf("%d/tcp", s.InternalPort))

	config := &container.Config{
		Image:        s.Image,
		Cmd:          s.Cmd,
		Env:          s.Env,
		Hostname:     s.Name,
		Labels:       s.Labels,
		ExposedPorts: nat.PortSet{internal: struct{}{}},
	}

	hostIP := s.HostIP
	if hostIP == "" {
		hostIP = "0.0.0.0"
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{
				HostIP:   hostIP,
				HostPort: fmt.Sprintf("%d", s.HostPort),
			}},
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyOnFailure,
		},
		Resources: container.Resources{
			Memory:   s.MemoryBytes,
			NanoCPUs: s.NanoCPUs,
		},
	}
	if s.VolumeName != "" && s.MountPath != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: s.VolumeName,
			Target: s.MountPath,
		}}
	}

	var networkConfig *network.NetworkingConfig
	if s.Network != "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				s.Network: {},
			},
		}
	}
	return config, hostConfig, networkConfig
}
