package docker

import (
	"context"
	"encoding/json"

	"github.com/docker/docker/api/types"
)

// ResourceStats is one point-in-time resource sample for a container.
type ResourceStats struct {
	CPUPercent       float64
	MemoryUsedBytes  int64
	MemoryLimitBytes int64
	MemoryPercent    float64
	OnlineCPUs       int
}

// ContainerStats takes a one-shot resource sample. The daemon primes the
// previous-CPU window itself when streaming is off.
func (c *Client) ContainerStats(ctx context.Context, id string) (ResourceStats, error) {
	resp, err := c.inner.ContainerStats(ctx, id, false)
	if err != nil {
		return ResourceStats{}, classify("container stats", err)
	}
	defer resp.Body.Close()

	var raw types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ResourceStats{}, classify("decode container stats", err)
	}
	return computeStats(raw), nil
}

func computeStats(raw types.StatsJSON) ResourceStats {
	stats := ResourceStats{
		MemoryUsedBytes:  int64(raw.MemoryStats.Usage),
		MemoryLimitBytes: int64(raw.MemoryStats.Limit),
	}

	online := int(raw.CPUStats.OnlineCPUs)
	if online == 0 {
		online = len(raw.CPUStats.CPUUsage.PercpuUsage)
	}
	stats.OnlineCPUs = online

	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if cpuDelta > 0 && systemDelta > 0 {
		stats.CPUPercent = cpuDelta / systemDelta * float64(online) * 100.0
	}
	if raw.MemoryStats.Limit > 0 {
		stats.MemoryPercent = float64(raw.MemoryStats.Usage) / float64(raw.MemoryStats.Limit) * 100.0
	}
	return stats
}
