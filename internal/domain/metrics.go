package domain

import "time"

// TimeRange selects a metrics history window.
type TimeRange string

const (
	RangeRealtime TimeRange = "realtime"
	Range5Min     TimeRange = "last_5_min"
	Range15Min    TimeRange = "last_15_min"
	Range30Min    TimeRange = "last_30_min"
	Range1Hour    TimeRange = "last_1_hour"
	Range24Hours  TimeRange = "last_24_hours"
)

// ParseTimeRange accepts both the short and long spellings; empty input
// selects the 15 minute default.
func ParseTimeRange(raw string) (TimeRange, error) {
	switch raw {
	case "":
		return Range15Min, nil
	case "realtime":
		return RangeRealtime, nil
	case "5m", "last_5_min":
		return Range5Min, nil
	case "15m", "last_15_min":
		return Range15Min, nil
	case "30m", "last_30_min":
		return Range30Min, nil
	case "1h", "last_1_hour":
		return Range1Hour, nil
	case "24h", "last_24_hours":
		return Range24Hours, nil
	default:
		return "", NewError(CodeBadName, "invalid time range %q", raw).WithDetail("range", "must be one of realtime, 5m, 15m, 30m, 1h, 24h")
	}
}

// Window is the span of history the range covers.
func (r TimeRange) Window() time.Duration {
	switch r {
	case RangeRealtime:
		return time.Minute
	case Range5Min:
		return 5 * time.Minute
	case Range30Min:
		return 30 * time.Minute
	case Range1Hour:
		return time.Hour
	case Range24Hours:
		return 24 * time.Hour
	default:
		return 15 * time.Minute
	}
}

// Interval is the native point spacing served for the range; history reads
// down-sample to it when snapshots are denser.
func (r TimeRange) Interval() time.Duration {
	switch r {
	case RangeRealtime:
		return time.Second
	case Range5Min:
		return 5 * time.Second
	case Range30Min:
		return 30 * time.Second
	case Range1Hour:
		return time.Minute
	case Range24Hours:
		return 5 * time.Minute
	default:
		return 15 * time.Second
	}
}

// QueryMetrics aggregates statement counters for relational engines.
type QueryMetrics struct {
	TotalQueries  int64
	QueriesPerSec float64
	AvgLatencyMS  float64
	MaxLatencyMS  float64
}

// RowMetrics aggregates tuple counters.
type RowMetrics struct {
	RowsRead    int64
	RowsWritten int64
	TotalRows   int64
}

// TableMetrics summarizes relation counts and sizes.
type TableMetrics struct {
	TotalTables       int64
	LargestTableBytes int64
	TotalIndexes      int64
}

// StorageMetrics captures on-disk usage against the instance limit.
type StorageMetrics struct {
	DatabaseSizeBytes     int64
	ContainerStorageBytes int64
	StorageLimitBytes     int64
	StoragePercent        float64
}

// ConnectionMetrics captures backend connection pressure.
type ConnectionMetrics struct {
	ActiveConnections int
	IdleConnections   int
	MaxConnections    int
	ConnectionPercent float64
}

// ResourceMetrics captures container-level cpu and memory from the runtime.
type ResourceMetrics struct {
	CPUPercent       float64
	MemoryUsedBytes  int64
	MemoryLimitBytes int64
	MemoryPercent    float64
}

// PostgresMetrics is the live scrape shape for relational instances.
type PostgresMetrics struct {
	Timestamp   time.Time
	Queries     QueryMetrics
	Rows        RowMetrics
	Tables      TableMetrics
	Storage     StorageMetrics
	Connections ConnectionMetrics
	Resources   ResourceMetrics
}

// KeyMetrics aggregates keyspace counters for key-value engines.
type KeyMetrics struct {
	TotalKeys      int64
	KeysWithExpiry int64
	ExpiredKeys    int64
	EvictedKeys    int64
}

// CommandMetrics aggregates command throughput counters.
type CommandMetrics struct {
	TotalCommands  int64
	OpsPerSec      float64
	KeyspaceHits   int64
	KeyspaceMisses int64
	HitRate        float64
}

// MemoryMetrics captures the engine's own memory accounting.
type MemoryMetrics struct {
	UsedMemory         int64
	UsedMemoryRSS      int64
	UsedMemoryPeak     int64
	MaxMemory          int64
	FragmentationRatio float64
}

// ClientMetrics captures client connection counters.
type ClientMetrics struct {
	ConnectedClients int
	BlockedClients   int
	MaxClients       int
}

// ReplicationMetrics captures the replication topology view.
type ReplicationMetrics struct {
	Role              string
	ConnectedReplicas int
}

// KeyValueMetrics is the live scrape shape for valkey and redis instances.
type KeyValueMetrics struct {
	Timestamp   time.Time
	Keys        KeyMetrics
	Commands    CommandMetrics
	Memory      MemoryMetrics
	Clients     ClientMetrics
	Replication ReplicationMetrics
	Resources   ResourceMetrics
}

// EngineMetrics is the unified live shape: exactly one group is set,
// selected by DatabaseType.
type EngineMetrics struct {
	DatabaseType Engine
	Postgres     *PostgresMetrics
	KeyValue     *KeyValueMetrics
}

// Timestamp returns the scrape instant regardless of engine.
func (m EngineMetrics) Timestamp() time.Time {
	if m.Postgres != nil {
		return m.Postgres.Timestamp
	}
	if m.KeyValue != nil {
		return m.KeyValue.Timestamp
	}
	return time.Time{}
}

// Snapshot flattens the live shape into the persisted row.
func (m EngineMetrics) Snapshot(databaseID string) MetricsSnapshot {
	snap := MetricsSnapshot{
		DatabaseID:   databaseID,
		DatabaseType: m.DatabaseType,
		Timestamp:    m.Timestamp(),
	}
	if pg := m.Postgres; pg != nil {
		snap.TotalQueries = pg.Queries.TotalQueries
		snap.QueriesPerSec = pg.Queries.QueriesPerSec
		snap.AvgLatencyMS = pg.Queries.AvgLatencyMS
		snap.RowsRead = pg.Rows.RowsRead
		snap.RowsWritten = pg.Rows.RowsWritten
		snap.CPUPercent = pg.Resources.CPUPercent
		snap.MemoryPercent = pg.Resources.MemoryPercent
		snap.MemoryUsedBytes = pg.Resources.MemoryUsedBytes
		snap.ActiveConnections = pg.Connections.ActiveConnections
		snap.StorageUsedBytes = pg.Storage.DatabaseSizeBytes
	}
	if kv := m.KeyValue; kv != nil {
		snap.TotalKeys = kv.Keys.TotalKeys
		snap.KeyspaceHits = kv.Commands.KeyspaceHits
		snap.KeyspaceMisses = kv.Commands.KeyspaceMisses
		snap.TotalCommands = kv.Commands.TotalCommands
		snap.OpsPerSec = kv.Commands.OpsPerSec
		snap.UsedMemory = kv.Memory.UsedMemory
		snap.ConnectedClients = kv.Clients.ConnectedClients
		snap.CPUPercent = kv.Resources.CPUPercent
		snap.MemoryPercent = kv.Resources.MemoryPercent
		snap.MemoryUsedBytes = kv.Resources.MemoryUsedBytes
	}
	return snap
}

// MetricsSnapshot is one persisted scrape. The relational and key-value
// groups are disjoint; DatabaseType selects which one is meaningful.
type MetricsSnapshot struct {
	ID           int64
	DatabaseID   string
	Timestamp    time.Time
	DatabaseType Engine

	TotalQueries      int64
	QueriesPerSec     float64
	AvgLatencyMS      float64
	RowsRead          int64
	RowsWritten       int64
	CPUPercent        float64
	MemoryPercent     float64
	MemoryUsedBytes   int64
	ActiveConnections int
	StorageUsedBytes  int64

	TotalKeys        int64
	KeyspaceHits     int64
	KeyspaceMisses   int64
	TotalCommands    int64
	OpsPerSec        float64
	UsedMemory       int64
	ConnectedClients int
}

// MetricsHistory is a time-ranged slice of snapshots for one instance.
type MetricsHistory struct {
	DatabaseID string
	TimeRange  TimeRange
	StartTime  time.Time
	EndTime    time.Time
	Points     []MetricsSnapshot
}

// QuerySort orders query-log reads.
type QuerySort string

const (
	QuerySortTotalTime QuerySort = "total_time"
	QuerySortAvgTime   QuerySort = "avg_time"
	QuerySortCalls     QuerySort = "calls"
)

// ParseQuerySort validates the sort_by parameter, defaulting to total_time.
func ParseQuerySort(raw string) (QuerySort, error) {
	switch raw {
	case "", "total_time":
		return QuerySortTotalTime, nil
	case "avg_time":
		return QuerySortAvgTime, nil
	case "calls":
		return QuerySortCalls, nil
	default:
		return "", NewError(CodeBadName, "invalid sort_by %q", raw).WithDetail("sort_by", "must be one of total_time, avg_time, calls")
	}
}

// QueryStat is one aggregated statement from the engine's statement stats.
type QueryStat struct {
	Query       string
	Calls       int64
	TotalTimeMS float64
	AvgTimeMS   float64
	MinTimeMS   float64
	MaxTimeMS   float64
	Rows        int64
	RowsPerCall float64
}
