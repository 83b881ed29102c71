package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
)

const snapshotColumns = `
	id, database_id, timestamp, database_type,
	total_queries, queries_per_sec, avg_latency_ms, rows_read, rows_written,
	cpu_percent, memory_percent, memory_used_bytes, active_connections, storage_used_bytes,
	total_keys, keyspace_hits, keyspace_misses, total_commands, ops_per_sec,
	used_memory, connected_clients`

// InsertSnapshot appends one scrape row. The schema's retention trigger
// prunes rows older than the retention window on every insert.
func (r *Repository) InsertSnapshot(ctx context.Context, snap *domain.MetricsSnapshot) error {
	const query = `
		INSERT INTO metrics_snapshots (
			database_id, timestamp, database_type,
			total_queries, queries_per_sec, avg_latency_ms, rows_read, rows_written,
			cpu_percent, memory_percent, memory_used_bytes, active_connections, storage_used_bytes,
			total_keys, keyspace_hits, keyspace_misses, total_commands, ops_per_sec,
			used_memory, connected_clients
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		snap.DatabaseID,
		formatTime(snap.Timestamp),
		string(snap.DatabaseType),
		snap.TotalQueries,
		snap.QueriesPerSec,
		snap.AvgLatencyMS,
		snap.RowsRead,
		snap.RowsWritten,
		snap.CPUPercent,
		snap.MemoryPercent,
		snap.MemoryUsedBytes,
		snap.ActiveConnections,
		snap.StorageUsedBytes,
		snap.TotalKeys,
		snap.KeyspaceHits,
		snap.KeyspaceMisses,
		snap.TotalCommands,
		snap.OpsPerSec,
		snap.UsedMemory,
		snap.ConnectedClients,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns every snapshot at or after the cutoff, oldest first.
func (r *Repository) ListSnapshots(ctx context.Context, databaseID string, since time.Time) ([]domain.MetricsSnapshot, error) {
	const query = `
		SELECT` + snapshotColumns + `
		FROM metrics_snapshots
		WHERE database_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`

	rows, err := r.db.QueryContext(ctx, query, databaseID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// ListSnapshotsSampled downsamples the window to one row per interval
// bucket, keeping the newest row in each bucket.
func (r *Repository) ListSnapshotsSampled(ctx context.Context, databaseID string, since time.Time, interval time.Duration) ([]domain.MetricsSnapshot, error) {
	const query = `
		WITH numbered AS (
			SELECT *,
			       (CAST(strftime('%s', timestamp) AS INTEGER) / ?) * ? AS time_bucket
			FROM metrics_snapshots
			WHERE database_id = ? AND timestamp >= ?
		),
		grouped AS (
			SELECT *,
			       ROW_NUMBER() OVER (PARTITION BY time_bucket ORDER BY timestamp DESC) AS rn
			FROM numbered
		)
		SELECT` + snapshotColumns + `
		FROM grouped
		WHERE rn = 1
		ORDER BY timestamp ASC`

	secs := int64(interval / time.Second)
	if secs < 1 {
		secs = 1
	}
	rows, err := r.db.QueryContext(ctx, query, secs, secs, databaseID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("list sampled snapshots: %w", err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// LatestSnapshot returns the most recent snapshot for an instance.
func (r *Repository) LatestSnapshot(ctx context.Context, databaseID string) (*domain.MetricsSnapshot, error) {
	const query = `
		SELECT` + snapshotColumns + `
		FROM metrics_snapshots
		WHERE database_id = ?
		ORDER BY timestamp DESC
		LIMIT 1`

	snap, err := scanSnapshot(r.db.QueryRowContext(ctx, query, databaseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return snap, err
}

func collectSnapshots(rows *sql.Rows) ([]domain.MetricsSnapshot, error) {
	var snaps []domain.MetricsSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(row rowScanner) (*domain.MetricsSnapshot, error) {
	var (
		snap   domain.MetricsSnapshot
		ts     string
		dbType string
	)
	err := row.Scan(
		&snap.ID,
		&snap.DatabaseID,
		&ts,
		&dbType,
		&snap.TotalQueries,
		&snap.QueriesPerSec,
		&snap.AvgLatencyMS,
		&snap.RowsRead,
		&snap.RowsWritten,
		&snap.CPUPercent,
		&snap.MemoryPercent,
		&snap.MemoryUsedBytes,
		&snap.ActiveConnections,
		&snap.StorageUsedBytes,
		&snap.TotalKeys,
		&snap.KeyspaceHits,
		&snap.KeyspaceMisses,
		&snap.TotalCommands,
		&snap.OpsPerSec,
		&snap.UsedMemory,
		&snap.ConnectedClients,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	snap.DatabaseType = domain.Engine(dbType)
	if snap.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("parse snapshot timestamp: %w", err)
	}
	return &snap, nil
}
