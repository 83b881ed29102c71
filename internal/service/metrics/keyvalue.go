package metrics

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Datify-sh/Datify/internal/domain"
)

const kvMaxClientsDefault = 10000

// collectKeyValue scrapes one valkey or redis instance over RESP. A failed
// INFO is a scrape failure; absent fields fall back to defaults.
func (s *Service) collectKeyValue(ctx context.Context, inst *domain.Database, password string, res domain.ResourceMetrics, at time.Time) (*domain.KeyValueMetrics, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(*inst.Host, strconv.Itoa(*inst.Port)),
		Password:    password,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
	})
	defer client.Close()

	raw, err := client.Info(ctx).Result()
	if err != nil {
		return nil, domain.WrapError(domain.CodeScrapeTimeout, err, "read engine info")
	}

	fields := parseInfo(raw)
	m := buildKeyValueMetrics(fields, at, res)
	m.Commands.OpsPerSec = s.deriveRate(inst.ID, at, m.Commands.TotalCommands)
	return m, nil
}

// infoFields is a flat view of an INFO response.
type infoFields map[string]string

func parseInfo(raw string) infoFields {
	fields := make(infoFields)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}

func (f infoFields) int64(key string, def int64) int64 {
	raw, ok := f[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func (f infoFields) float(key string, def float64) float64 {
	raw, ok := f[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func (f infoFields) str(key, def string) string {
	if v, ok := f[key]; ok && v != "" {
		return v
	}
	return def
}

// sumKeyspace totals keys and expiring keys across the dbN keyspace lines,
// which look like "db0:keys=2,expires=1,avg_ttl=0".
func sumKeyspace(f infoFields) (keys, expires int64) {
	for name, value := range f {
		if !strings.HasPrefix(name, "db") {
			continue
		}
		if _, err := strconv.Atoi(name[2:]); err != nil {
			continue
		}
		for _, part := range strings.Split(value, ",") {
			k, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			switch k {
			case "keys":
				keys += n
			case "expires":
				expires += n
			}
		}
	}
	return keys, expires
}

// buildKeyValueMetrics assembles the scrape shape from parsed INFO fields.
// OpsPerSec is derived by the caller from successive scrapes.
func buildKeyValueMetrics(f infoFields, at time.Time, res domain.ResourceMetrics) *domain.KeyValueMetrics {
	keys, expires := sumKeyspace(f)

	hits := f.int64("keyspace_hits", 0)
	misses := f.int64("keyspace_misses", 0)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return &domain.KeyValueMetrics{
		Timestamp: at,
		Keys: domain.KeyMetrics{
			TotalKeys:      keys,
			KeysWithExpiry: expires,
			ExpiredKeys:    f.int64("expired_keys", 0),
			EvictedKeys:    f.int64("evicted_keys", 0),
		},
		Commands: domain.CommandMetrics{
			TotalCommands:  f.int64("total_commands_processed", 0),
			KeyspaceHits:   hits,
			KeyspaceMisses: misses,
			HitRate:        hitRate,
		},
		Memory: domain.MemoryMetrics{
			UsedMemory:         f.int64("used_memory", 0),
			UsedMemoryRSS:      f.int64("used_memory_rss", 0),
			UsedMemoryPeak:     f.int64("used_memory_peak", 0),
			MaxMemory:          f.int64("maxmemory", 0),
			FragmentationRatio: f.float("mem_fragmentation_ratio", 1.0),
		},
		Clients: domain.ClientMetrics{
			ConnectedClients: int(f.int64("connected_clients", 0)),
			BlockedClients:   int(f.int64("blocked_clients", 0)),
			MaxClients:       int(f.int64("maxclients", kvMaxClientsDefault)),
		},
		Replication: domain.ReplicationMetrics{
			Role:              f.str("role", "master"),
			ConnectedReplicas: int(f.int64("connected_slaves", 0)),
		},
		Resources: res,
	}
}
