package docker

import (
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
)

func TestParseLogLine(t *testing.T) {
	raw := "2026-01-02T15:04:05.123456789Z listening on port 5432  "
	line := parseLogLine("stdout", raw, true)
	if line.Timestamp == nil {
		t.Fatal("expected timestamp to be parsed")
	}
	want := time.Date(2026, 1, 2, 15, 4, 5, 123456789, time.UTC)
	if !line.Timestamp.Equal(want) {
		t.Fatalf("timestamp mismatch: %v", line.Timestamp)
	}
	if line.Message != "listening on port 5432" {
		t.Fatalf("unexpected message: %q", line.Message)
	}
	if line.Stream != "stdout" {
		t.Fatalf("unexpected stream: %q", line.Stream)
	}

	plain := parseLogLine("stderr", "plain message without prefix", false)
	if plain.Timestamp != nil {
		t.Fatal("expected no timestamp without the option")
	}
	if plain.Message != "plain message without prefix" {
		t.Fatalf("unexpected message: %q", plain.Message)
	}

	// Lines that merely look long keep their content when the prefix does
	// not parse as a timestamp.
	odd := parseLogLine("stdout", "notatimestamp but long enough to qualify", true)
	if odd.Timestamp != nil {
		t.Fatal("expected no timestamp for unparsable prefix")
	}
	if odd.Message != "notatimestamp but long enough to qualify" {
		t.Fatalf("unexpected message: %q", odd.Message)
	}
}

func TestLineWriterSplitsChunks(t *testing.T) {
	var got []LogLine
	w := newLineWriter("stdout", false, func(l LogLine) { got = append(got, l) })

	chunks := []string{"first li", "ne\nsecond line\nthi", "rd"}
	for _, chunk := range chunks {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w.flush()

	want := []string{"first line", "second line", "third"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(got))
	}
	for i, msg := range want {
		if got[i].Message != msg {
			t.Fatalf("line %d: got %q want %q", i, got[i].Message, msg)
		}
	}
}

func TestComputeStats(t *testing.T) {
	raw := types.StatsJSON{}
	raw.CPUStats.CPUUsage.TotalUsage = 400
	raw.CPUStats.SystemUsage = 1000
	raw.CPUStats.OnlineCPUs = 2
	raw.PreCPUStats.CPUUsage.TotalUsage = 200
	raw.PreCPUStats.SystemUsage = 600
	raw.MemoryStats.Usage = 512 * 1024 * 1024
	raw.MemoryStats.Limit = 1024 * 1024 * 1024

	stats := computeStats(raw)
	if stats.CPUPercent != 100.0 {
		t.Fatalf("cpu percent: got %v want 100", stats.CPUPercent)
	}
	if stats.MemoryPercent != 50.0 {
		t.Fatalf("memory percent: got %v want 50", stats.MemoryPercent)
	}
	if stats.MemoryUsedBytes != 512*1024*1024 {
		t.Fatalf("memory used: got %d", stats.MemoryUsedBytes)
	}
	if stats.OnlineCPUs != 2 {
		t.Fatalf("online cpus: got %d", stats.OnlineCPUs)
	}

	// A fresh or idle sample yields zero, never a negative or NaN value.
	idle := types.StatsJSON{}
	idle.CPUStats.CPUUsage.TotalUsage = 200
	idle.PreCPUStats.CPUUsage.TotalUsage = 200
	if got := computeStats(idle).CPUPercent; got != 0 {
		t.Fatalf("idle cpu percent: got %v want 0", got)
	}
}

func TestContainerSpecConfigs(t *testing.T) {
	spec := ContainerSpec{
		Name:         "datify-pg-orders",
		Image:        "postgres:16",
		Env:          []string{"POSTGRES_DB=postgres"},
		Cmd:          []string{"postgres"},
		InternalPort: 5432,
		HostPort:     30001,
		VolumeName:   "datify-pg-orders-data",
		MountPath:    "/var/lib/postgresql/data",
		MemoryBytes:  512 * 1024 * 1024,
		NanoCPUs:     1_500_000_000,
		Network:      "datify",
		Labels:       map[string]string{LabelManaged: "true"},
	}

	config, hostConfig, networkConfig := spec.containerConfigs()

	if config.Hostname != "datify-pg-orders" {
		t.Fatalf("hostname: %q", config.Hostname)
	}
	if _, ok := config.ExposedPorts[nat.Port("5432/tcp")]; !ok {
		t.Fatalf("internal port not exposed: %v", config.ExposedPorts)
	}

	bindings := hostConfig.PortBindings[nat.Port("5432/tcp")]
	if len(bindings) != 1 || bindings[0].HostPort != "30001" {
		t.Fatalf("unexpected port bindings: %v", bindings)
	}
	if bindings[0].HostIP != "0.0.0.0" {
		t.Fatalf("expected default host ip, got %q", bindings[0].HostIP)
	}
	if hostConfig.RestartPolicy.Name != container.RestartPolicyOnFailure {
		t.Fatalf("restart policy: %v", hostConfig.RestartPolicy.Name)
	}
	if hostConfig.Resources.Memory != 512*1024*1024 || hostConfig.Resources.NanoCPUs != 1_500_000_000 {
		t.Fatalf("resources: %+v", hostConfig.Resources)
	}
	if len(hostConfig.Mounts) != 1 || hostConfig.Mounts[0].Source != "datify-pg-orders-data" {
		t.Fatalf("mounts: %+v", hostConfig.Mounts)
	}

	if networkConfig == nil {
		t.Fatal("expected network config")
	}
	if _, ok := networkConfig.EndpointsConfig["datify"]; !ok {
		t.Fatalf("network endpoint missing: %v", networkConfig.EndpointsConfig)
	}
}
