package metrics

import (
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
)

// View is the wire shape for one live sample. Exactly one engine group is
// present, selected by DatabaseType.
type View struct {
	DatabaseID   string        `json:"database_id"`
	DatabaseType string        `json:"database_type"`
	Timestamp    time.Time     `json:"timestamp"`
	Postgres     *PostgresView `json:"postgres,omitempty"`
	KeyValue     *KeyValueView `json:"key_value,omitempty"`
}

// PostgresView mirrors domain.PostgresMetrics for JSON output.
type PostgresView struct {
	Queries     QueriesView     `json:"queries"`
	Rows        RowsView        `json:"rows"`
	Tables      TablesView      `json:"tables"`
	Storage     StorageView     `json:"storage"`
	Connections ConnectionsView `json:"connections"`
	Resources   ResourcesView   `json:"resources"`
}

type QueriesView struct {
	TotalQueries  int64   `json:"total_queries"`
	QueriesPerSec float64 `json:"queries_per_sec"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	MaxLatencyMS  float64 `json:"max_latency_ms"`
}

type RowsView struct {
	RowsRead    int64 `json:"rows_read"`
	RowsWritten int64 `json:"rows_written"`
	TotalRows   int64 `json:"total_rows"`
}

type TablesView struct {
	TotalTables       int64 `json:"total_tables"`
	LargestTableBytes int64 `json:"largest_table_bytes"`
	TotalIndexes      int64 `json:"total_indexes"`
}

type StorageView struct {
	DatabaseSizeBytes     int64   `json:"database_size_bytes"`
	ContainerStorageBytes int64   `json:"container_storage_bytes"`
	StorageLimitBytes     int64   `json:"storage_limit_bytes"`
	StoragePercent        float64 `json:"storage_percent"`
}

type ConnectionsView struct {
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
	MaxConnections    int     `json:"max_connections"`
	ConnectionPercent float64 `json:"connection_percent"`
}

type ResourcesView struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryUsedBytes  int64   `json:"memory_used_bytes"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
}

// KeyValueView mirrors domain.KeyValueMetrics for JSON output.
type KeyValueView struct {
	Keys        KeysView        `json:"keys"`
	Commands    CommandsView    `json:"commands"`
	Memory      MemoryView      `json:"memory"`
	Clients     ClientsView     `json:"clients"`
	Replication ReplicationView `json:"replication"`
	Resources   ResourcesView   `json:"resources"`
}

type KeysView struct {
	TotalKeys      int64 `json:"total_keys"`
	KeysWithExpiry int64 `json:"keys_with_expiry"`
	ExpiredKeys    int64 `json:"expired_keys"`
	EvictedKeys    int64 `json:"evicted_keys"`
}

type CommandsView struct {
	TotalCommands  int64   `json:"total_commands"`
	OpsPerSec      float64 `json:"ops_per_sec"`
	KeyspaceHits   int64   `json:"keyspace_hits"`
	KeyspaceMisses int64   `json:"keyspace_misses"`
	HitRate        float64 `json:"hit_rate"`
}

type MemoryView struct {
	UsedMemory         int64   `json:"used_memory"`
	UsedMemoryRSS      int64   `json:"used_memory_rss"`
	UsedMemoryPeak     int64   `json:"used_memory_peak"`
	MaxMemory          int64   `json:"max_memory"`
	FragmentationRatio float64 `json:"fragmentation_ratio"`
}

type ClientsView struct {
	ConnectedClients int `json:"connected_clients"`
	BlockedClients   int `json:"blocked_clients"`
	MaxClients       int `json:"max_clients"`
}

type ReplicationView struct {
	Role              string `json:"role"`
	ConnectedReplicas int    `json:"connected_replicas"`
}

// NewView converts a live sample into its wire shape.
func NewView(databaseID string, m domain.EngineMetrics) View {
	v := View{
		DatabaseID:   databaseID,
		DatabaseType: m.DatabaseType.String(),
		Timestamp:    m.Timestamp(),
	}
	if pg := m.Postgres; pg != nil {
		v.Postgres = &PostgresView{
			Queries: QueriesView{
				TotalQueries:  pg.Queries.TotalQueries,
				QueriesPerSec: pg.Queries.QueriesPerSec,
				AvgLatencyMS:  pg.Queries.AvgLatencyMS,
				MaxLatencyMS:  pg.Queries.MaxLatencyMS,
			},
			Rows: RowsView{
				RowsRead:    pg.Rows.RowsRead,
				RowsWritten: pg.Rows.RowsWritten,
				TotalRows:   pg.Rows.TotalRows,
			},
			Tables: TablesView{
				TotalTables:       pg.Tables.TotalTables,
				LargestTableBytes: pg.Tables.LargestTableBytes,
				TotalIndexes:      pg.Tables.TotalIndexes,
			},
			Storage: StorageView{
				DatabaseSizeBytes:     pg.Storage.DatabaseSizeBytes,
				ContainerStorageBytes: pg.Storage.ContainerStorageBytes,
				StorageLimitBytes:     pg.Storage.StorageLimitBytes,
				StoragePercent:        pg.Storage.StoragePercent,
			},
			Connections: ConnectionsView{
				ActiveConnections: pg.Connections.ActiveConnections,
				IdleConnections:   pg.Connections.IdleConnections,
				MaxConnections:    pg.Connections.MaxConnections,
				ConnectionPercent: pg.Connections.ConnectionPercent,
			},
			Resources: newResourcesView(pg.Resources),
		}
	}
	if kv := m.KeyValue; kv != nil {
		v.KeyValue = &KeyValueView{
			Keys: KeysView{
				TotalKeys:      kv.Keys.TotalKeys,
				KeysWithExpiry: kv.Keys.KeysWithExpiry,
				ExpiredKeys:    kv.Keys.ExpiredKeys,
				EvictedKeys:    kv.Keys.EvictedKeys,
			},
			Commands: CommandsView{
				TotalCommands:  kv.Commands.TotalCommands,
				OpsPerSec:      kv.Commands.OpsPerSec,
				KeyspaceHits:   kv.Commands.KeyspaceHits,
				KeyspaceMisses: kv.Commands.KeyspaceMisses,
				HitRate:        kv.Commands.HitRate,
			},
			Memory: MemoryView{
				UsedMemory:         kv.Memory.UsedMemory,
				UsedMemoryRSS:      kv.Memory.UsedMemoryRSS,
				UsedMemoryPeak:     kv.Memory.UsedMemoryPeak,
				MaxMemory:          kv.Memory.MaxMemory,
				FragmentationRatio: kv.Memory.FragmentationRatio,
			},
			Clients: ClientsView{
				ConnectedClients: kv.Clients.ConnectedClients,
				BlockedClients:   kv.Clients.BlockedClients,
				MaxClients:       kv.Clients.MaxClients,
			},
			Replication: ReplicationView{
				Role:              kv.Replication.Role,
				ConnectedReplicas: kv.Replication.ConnectedReplicas,
			},
			Resources: newResourcesView(kv.Resources),
		}
	}
	return v
}

func newResourcesView(r domain.ResourceMetrics) ResourcesView {
	return ResourcesView{
		CPUPercent:       r.CPUPercent,
		MemoryUsedBytes:  r.MemoryUsedBytes,
		MemoryLimitBytes: r.MemoryLimitBytes,
		MemoryPercent:    r.MemoryPercent,
	}
}

// SnapshotView is the wire shape for one persisted sample.
type SnapshotView struct {
	DatabaseID   string    `json:"database_id"`
	DatabaseType string    `json:"database_type"`
	Timestamp    time.Time `json:"timestamp"`

	TotalQueries      *int64   `json:"total_queries,omitempty"`
	QueriesPerSec     *float64 `json:"queries_per_sec,omitempty"`
	AvgLatencyMS      *float64 `json:"avg_latency_ms,omitempty"`
	RowsRead          *int64   `json:"rows_read,omitempty"`
	RowsWritten       *int64   `json:"rows_written,omitempty"`
	ActiveConnections *int     `json:"active_connections,omitempty"`
	StorageUsedBytes  *int64   `json:"storage_used_bytes,omitempty"`

	TotalKeys        *int64   `json:"total_keys,omitempty"`
	KeyspaceHits     *int64   `json:"keyspace_hits,omitempty"`
	KeyspaceMisses   *int64   `json:"keyspace_misses,omitempty"`
	TotalCommands    *int64   `json:"total_commands,omitempty"`
	OpsPerSec        *float64 `json:"ops_per_sec,omitempty"`
	UsedMemory       *int64   `json:"used_memory,omitempty"`
	ConnectedClients *int     `json:"connected_clients,omitempty"`

	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryUsedBytes int64   `json:"memory_used_bytes"`
}

// NewSnapshotView converts a persisted sample, emitting only the counter
// group that matches the engine.
func NewSnapshotView(snap domain.MetricsSnapshot) SnapshotView {
	v := SnapshotView{
		DatabaseID:      snap.DatabaseID,
		DatabaseType:    snap.DatabaseType.String(),
		Timestamp:       snap.Timestamp,
		CPUPercent:      snap.CPUPercent,
		MemoryPercent:   snap.MemoryPercent,
		MemoryUsedBytes: snap.MemoryUsedBytes,
	}
	if snap.DatabaseType.IsKeyValue() {
		v.TotalKeys = &snap.TotalKeys
		v.KeyspaceHits = &snap.KeyspaceHits
		v.KeyspaceMisses = &snap.KeyspaceMisses
		v.TotalCommands = &snap.TotalCommands
		v.OpsPerSec = &snap.OpsPerSec
		v.UsedMemory = &snap.UsedMemory
		v.ConnectedClients = &snap.ConnectedClients
		return v
	}
	v.TotalQueries = &snap.TotalQueries
	v.QueriesPerSec = &snap.QueriesPerSec
	v.AvgLatencyMS = &snap.AvgLatencyMS
	v.RowsRead = &snap.RowsRead
	v.RowsWritten = &snap.RowsWritten
	v.ActiveConnections = &snap.ActiveConnections
	v.StorageUsedBytes = &snap.StorageUsedBytes
	return v
}

// HistoryView is the wire shape for a ranged history read.
type HistoryView struct {
	DatabaseID string         `json:"database_id"`
	TimeRange  string         `json:"time_range"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    time.Time      `json:"end_time"`
	Points     []SnapshotView `json:"points"`
}

// NewHistoryView converts a history read for JSON output.
func NewHistoryView(h domain.MetricsHistory) HistoryView {
	points := make([]SnapshotView, 0, len(h.Points))
	for _, snap := range h.Points {
		points = append(points, NewSnapshotView(snap))
	}
	return HistoryView{
		DatabaseID: h.DatabaseID,
		TimeRange:  string(h.TimeRange),
		StartTime:  h.StartTime,
		EndTime:    h.EndTime,
		Points:     points,
	}
}

// QueryStatView is the wire shape for one aggregated statement.
type QueryStatView struct {
	Query       string  `json:"query"`
	Calls       int64   `json:"calls"`
	TotalTimeMS float64 `json:"total_time_ms"`
	AvgTimeMS   float64 `json:"avg_time_ms"`
	MinTimeMS   float64 `json:"min_time_ms"`
	MaxTimeMS   float64 `json:"max_time_ms"`
	Rows        int64   `json:"rows"`
	RowsPerCall float64 `json:"rows_per_call"`
}

// NewQueryStatViews converts a query-log read for JSON output.
func NewQueryStatViews(stats []domain.QueryStat) []QueryStatView {
	views := make([]QueryStatView, 0, len(stats))
	for _, st := range stats {
		views = append(views, QueryStatView{
			Query:       st.Query,
			Calls:       st.Calls,
			TotalTimeMS: st.TotalTimeMS,
			AvgTimeMS:   st.AvgTimeMS,
			MinTimeMS:   st.MinTimeMS,
			MaxTimeMS:   st.MaxTimeMS,
			Rows:        st.Rows,
			RowsPerCall: st.RowsPerCall,
		})
	}
	return views
}
