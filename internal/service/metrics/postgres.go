package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
)

// Statements issued by the daemon itself are filtered out of the
// aggregates, keyed by the tables they touch.
const pgStatementFilters = `
  AND query NOT LIKE '%pg_stat_statements%'
  AND query NOT LIKE '%pg_stat_user_tables%'
  AND query NOT LIKE '%pg_stat_user_indexes%'
  AND query NOT LIKE '%pg_stat_activity%'
  AND query NOT LIKE '%pg_database_size%'
  AND query NOT LIKE '%pg_settings%'`

const pgCurrentUserFilter = `userid = (SELECT usesysid FROM pg_user WHERE usename = current_user)`

// statementColumns names the timing columns of pg_stat_statements, which
// were renamed in extension version 1.8.
type statementColumns struct {
	mean  string
	max   string
	min   string
	total string
}

var (
	modernStatementColumns = statementColumns{mean: "mean_exec_time", max: "max_exec_time", min: "min_exec_time", total: "total_exec_time"}
	legacyStatementColumns = statementColumns{mean: "mean_time", max: "max_time", min: "min_time", total: "total_time"}
)

// columnsForVersion maps an extension version like "1.8" to its column
// names. Unparseable versions assume the modern layout.
func columnsForVersion(version string) statementColumns {
	majorRaw, minorRaw, ok := strings.Cut(strings.TrimSpace(version), ".")
	if !ok {
		return modernStatementColumns
	}
	major, err := strconv.Atoi(majorRaw)
	if err != nil {
		return modernStatementColumns
	}
	minor, err := strconv.Atoi(minorRaw)
	if err != nil {
		return modernStatementColumns
	}
	if major > 1 || (major == 1 && minor >= 8) {
		return modernStatementColumns
	}
	return legacyStatementColumns
}

// detectColumns probes the installed pg_stat_statements version, creating
// the extension when it is preloaded but not yet installed.
func (s *Service) detectColumns(ctx context.Context, pool *pgxpool.Pool, databaseID string) statementColumns {
	var version string
	err := pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'pg_stat_statements'`).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS pg_stat_statements`); err != nil {
			s.logger.Debug("pg_stat_statements install failed", "database_id", databaseID, "error", err)
		}
		return modernStatementColumns
	}
	if err != nil {
		s.logger.Debug("pg_stat_statements version probe failed", "database_id", databaseID, "error", err)
		return modernStatementColumns
	}
	return columnsForVersion(version)
}

// collectPostgres scrapes one relational instance. Only the connection
// itself is a scrape failure; individual counter groups degrade to zeros
// so a missing extension never takes liveness down with it.
func (s *Service) collectPostgres(ctx context.Context, inst *domain.Database, password string, res domain.ResourceMetrics, at time.Time) (*domain.PostgresMetrics, error) {
	dsn := engine.PostgresDSN(*inst.Host, *inst.Port, inst.Username, password)
	pool, err := s.pools.get(ctx, inst.ID, dsn, at)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, domain.WrapError(domain.CodeScrapeTimeout, err, "ping engine")
	}
	cols := s.detectColumns(ctx, pool, inst.ID)

	m := &domain.PostgresMetrics{Timestamp: at, Resources: res}

	var totalQueries int64
	var avgMS, maxMS float64
	stmtQuery := fmt.Sprintf(
		`SELECT COALESCE(SUM(calls)::bigint, 0), COALESCE(AVG(%s), 0)::float8, COALESCE(MAX(%s), 0)::float8
FROM pg_stat_statements
WHERE %s%s`, cols.mean, cols.max, pgCurrentUserFilter, pgStatementFilters)
	if err := pool.QueryRow(ctx, stmtQuery).Scan(&totalQueries, &avgMS, &maxMS); err != nil {
		s.logger.Debug("statement counters unavailable", "database_id", inst.ID, "error", err)
	}
	m.Queries = domain.QueryMetrics{
		TotalQueries:  totalQueries,
		QueriesPerSec: s.deriveRate(inst.ID, at, totalQueries),
		AvgLatencyMS:  avgMS,
		MaxLatencyMS:  maxMS,
	}

	var rowsRead, rowsWritten, liveRows int64
	if err := pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(seq_tup_read + idx_tup_fetch), 0)::bigint,
       COALESCE(SUM(n_tup_ins + n_tup_upd + n_tup_del), 0)::bigint,
       COALESCE(SUM(n_live_tup), 0)::bigint
FROM pg_stat_user_tables`).Scan(&rowsRead, &rowsWritten, &liveRows); err != nil {
		s.logger.Debug("tuple counters unavailable", "database_id", inst.ID, "error", err)
	}
	m.Rows = domain.RowMetrics{RowsRead: rowsRead, RowsWritten: rowsWritten, TotalRows: liveRows}

	var tables, largest int64
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MAX(pg_total_relation_size(relid)), 0)::bigint FROM pg_stat_user_tables`).Scan(&tables, &largest); err != nil {
		s.logger.Debug("relation counters unavailable", "database_id", inst.ID, "error", err)
	}
	var indexes int64
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM pg_stat_user_indexes`).Scan(&indexes); err != nil {
		s.logger.Debug("index counters unavailable", "database_id", inst.ID, "error", err)
	}
	m.Tables = domain.TableMetrics{TotalTables: tables, LargestTableBytes: largest, TotalIndexes: indexes}

	var active, idle, maxConns int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE state = 'active'),
       COUNT(*) FILTER (WHERE state = 'idle'),
       (SELECT setting::int FROM pg_settings WHERE name = 'max_connections')
FROM pg_stat_activity
WHERE datname = current_database()`).Scan(&active, &idle, &maxConns); err != nil {
		s.logger.Debug("connection counters unavailable", "database_id", inst.ID, "error", err)
	}
	m.Connections = domain.ConnectionMetrics{
		ActiveConnections: active,
		IdleConnections:   idle,
		MaxConnections:    maxConns,
		ConnectionPercent: connectionPercent(active, idle, maxConns),
	}

	var sizeBytes int64
	if err := pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&sizeBytes); err != nil {
		s.logger.Debug("database size unavailable", "database_id", inst.ID, "error", err)
	}
	limitBytes := int64(inst.StorageMB) * 1024 * 1024
	m.Storage = domain.StorageMetrics{
		DatabaseSizeBytes: sizeBytes,
		// The runtime does not expose per-volume usage, so the container
		// sample stands in here.
		ContainerStorageBytes: res.MemoryUsedBytes,
		StorageLimitBytes:     limitBytes,
		StoragePercent:        storagePercent(sizeBytes, limitBytes),
	}
	return m, nil
}

// queryStats reads the statement log from pg_stat_statements.
func (s *Service) queryStats(ctx context.Context, inst *domain.Database, password string, sortBy domain.QuerySort, limit int) ([]domain.QueryStat, error) {
	dsn := engine.PostgresDSN(*inst.Host, *inst.Port, inst.Username, password)
	pool, err := s.pools.get(ctx, inst.ID, dsn, s.now().UTC())
	if err != nil {
		return nil, err
	}
	cols := s.detectColumns(ctx, pool, inst.ID)

	var orderCol string
	switch sortBy {
	case domain.QuerySortAvgTime:
		orderCol = cols.mean
	case domain.QuerySortCalls:
		orderCol = "calls"
	default:
		orderCol = cols.total
	}

	query := fmt.Sprintf(
		`SELECT query, calls, %s::float8, %s::float8, %s::float8, %s::float8, rows,
       CASE WHEN calls > 0 THEN rows::float8 / calls ELSE 0 END
FROM pg_stat_statements
WHERE %s%s
ORDER BY %s DESC
LIMIT $1`, cols.total, cols.mean, cols.min, cols.max, pgCurrentUserFilter, pgStatementFilters, orderCol)

	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, domain.WrapError(domain.CodeIOError, err, "read query stats")
	}
	defer rows.Close()

	var stats []domain.QueryStat
	for rows.Next() {
		var stat domain.QueryStat
		if err := rows.Scan(&stat.Query, &stat.Calls, &stat.TotalTimeMS, &stat.AvgTimeMS, &stat.MinTimeMS, &stat.MaxTimeMS, &stat.Rows, &stat.RowsPerCall); err != nil {
			return nil, domain.WrapError(domain.CodeIOError, err, "scan query stats")
		}
		stat.Query = truncateQueryText(stat.Query)
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.CodeIOError, err, "read query stats")
	}
	return stats, nil
}

const queryTextLimit = 200

func truncateQueryText(query string) string {
	query = strings.TrimSpace(query)
	if len(query) > queryTextLimit {
		return query[:queryTextLimit-3] + "..."
	}
	return query
}

func connectionPercent(active, idle, max int) float64 {
	if max <= 0 {
		return 0
	}
	return float64(active+idle) / float64(max) * 100
}

func storagePercent(size, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(size) / float64(limit) * 100
}
