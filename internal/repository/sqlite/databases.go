package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
)

// databaseColumns is the select list shared by every read. The self join
// materializes the parent's name so branch views never need a second query.
const databaseColumns = `
	d.id, d.project_id, d.name, d.engine, d.engine_version,
	d.status, d.status_reason, d.container_id, d.host, d.port,
	d.username, d.password_encrypted, d.cpu_cores, d.memory_mb,
	d.storage_mb, d.public_exposed, d.branch_name, d.is_default,
	d.parent_id, p.name, d.forked_at, d.storage_used_mb,
	d.created_at, d.updated_at`

// CreateDatabase inserts an instance row.
func (r *Repository) CreateDatabase(ctx context.Context, db *domain.Database) error {
	const query = `
		INSERT INTO databases (
			id, project_id, name, engine, engine_version, status, status_reason,
			container_id, host, port, username, password_encrypted,
			cpu_cores, memory_mb, storage_mb, public_exposed,
			branch_name, is_default, parent_id, forked_at, storage_used_mb
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var forkedAt any
	if db.ForkedAt != nil {
		forkedAt = formatTime(*db.ForkedAt)
	}
	_, err := r.db.ExecContext(ctx, query,
		db.ID,
		db.ProjectID,
		db.Name,
		string(db.Engine),
		db.EngineVersion,
		string(db.Status),
		db.StatusReason,
		db.ContainerID,
		db.Host,
		db.Port,
		db.Username,
		db.PasswordEncrypted,
		db.CPUCores,
		db.MemoryMB,
		db.StorageMB,
		db.PublicExposed,
		db.BranchName,
		db.IsDefault,
		db.ParentID,
		forkedAt,
		db.StorageUsedMB,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

// GetDatabaseByID fetches an instance by id.
func (r *Repository) GetDatabaseByID(ctx context.Context, id string) (*domain.Database, error) {
	const query = `
		SELECT` + databaseColumns + `
		FROM databases d
		LEFT JOIN databases p ON p.id = d.parent_id
		WHERE d.id = ?`

	return scanDatabase(r.db.QueryRowContext(ctx, query, id))
}

// GetDatabaseByName fetches an instance by its name within a project.
func (r *Repository) GetDatabaseByName(ctx context.Context, projectID, name string) (*domain.Database, error) {
	const query = `
		SELECT` + databaseColumns + `
		FROM databases d
		LEFT JOIN databases p ON p.id = d.parent_id
		WHERE d.project_id = ? AND d.name = ?`

	return scanDatabase(r.db.QueryRowContext(ctx, query, projectID, name))
}

// ListDatabasesByProject returns a project's instances, oldest first so the
// default branch sorts ahead of its forks.
func (r *Repository) ListDatabasesByProject(ctx context.Context, projectID string) ([]domain.Database, error) {
	const query = `
		SELECT` + databaseColumns + `
		FROM databases d
		LEFT JOIN databases p ON p.id = d.parent_id
		WHERE d.project_id = ?
		ORDER BY d.created_at ASC`

	return r.listDatabases(ctx, query, projectID)
}

// ListDatabasesByStatus returns every instance in the given status.
func (r *Repository) ListDatabasesByStatus(ctx context.Context, status domain.Status) ([]domain.Database, error) {
	const query = `
		SELECT` + databaseColumns + `
		FROM databases d
		LEFT JOIN databases p ON p.id = d.parent_id
		WHERE d.status = ?
		ORDER BY d.created_at ASC`

	return r.listDatabases(ctx, query, string(status))
}

// ListBranches returns the direct children of an instance.
func (r *Repository) ListBranches(ctx context.Context, parentID string) ([]domain.Database, error) {
	const query = `
		SELECT` + databaseColumns + `
		FROM databases d
		LEFT JOIN databases p ON p.id = d.parent_id
		WHERE d.parent_id = ?
		ORDER BY d.created_at ASC`

	return r.listDatabases(ctx, query, parentID)
}

// UpdateDatabase persists the mutable instance fields.
func (r *Repository) UpdateDatabase(ctx context.Context, db *domain.Database) error {
	const query = `
		UPDATE databases
		SET name = ?, engine_version = ?, cpu_cores = ?, memory_mb = ?,
		    storage_mb = ?, public_exposed = ?, storage_used_mb = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		db.Name,
		db.EngineVersion,
		db.CPUCores,
		db.MemoryMB,
		db.StorageMB,
		db.PublicExposed,
		db.StorageUsedMB,
		db.ID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("update database: %w", err)
	}
	return requireRow(res, "update database")
}

// UpdateDatabaseStatus records a lifecycle transition.
func (r *Repository) UpdateDatabaseStatus(ctx context.Context, id string, status domain.Status, reason *string) error {
	const query = `
		UPDATE databases
		SET status = ?, status_reason = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, string(status), reason, id)
	if err != nil {
		return fmt.Errorf("update database status: %w", err)
	}
	return requireRow(res, "update database status")
}

// TransitionStatus moves an instance between lifecycle states only when it
// currently sits in one of the expected states. The conditional update is
// the admission point for concurrent transitions: exactly one caller sees
// true.
func (r *Repository) TransitionStatus(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition status: no admissible states")
	}

	placeholders := strings.Repeat("?, ", len(from)-1) + "?"
	query := `
		UPDATE databases
		SET status = ?, status_reason = NULL
		WHERE id = ? AND status IN (` + placeholders + `)`

	args := make([]any, 0, len(from)+2)
	args = append(args, string(to), id)
	for _, status := range from {
		args = append(args, string(status))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	return affected > 0, nil
}

// BindContainer records the runtime identity of a provisioned instance.
func (r *Repository) BindContainer(ctx context.Context, id, containerID, host string, port int, status domain.Status) error {
	const query = `
		UPDATE databases
		SET container_id = ?, host = ?, port = ?, status = ?, status_reason = NULL
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, containerID, host, port, string(status), id)
	if err != nil {
		if isConstraintViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("bind container: %w", err)
	}
	return requireRow(res, "bind container")
}

// ReleaseContainer clears the runtime identity, freeing the port row.
func (r *Repository) ReleaseContainer(ctx context.Context, id string) error {
	const query = `
		UPDATE databases
		SET container_id = NULL, host = NULL, port = NULL
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("release container: %w", err)
	}
	return requireRow(res, "release container")
}

// UpdateDatabasePassword stores a freshly rotated credential blob.
func (r *Repository) UpdateDatabasePassword(ctx context.Context, id, passwordEncrypted string) error {
	const query = `UPDATE databases SET password_encrypted = ? WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, passwordEncrypted, id)
	if err != nil {
		return fmt.Errorf("update database password: %w", err)
	}
	return requireRow(res, "update database password")
}

// UpdateForkedAt stamps a branch after a successful sync from its parent.
func (r *Repository) UpdateForkedAt(ctx context.Context, id string, forkedAt time.Time) error {
	const query = `UPDATE databases SET forked_at = ? WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, formatTime(forkedAt), id)
	if err != nil {
		return fmt.Errorf("update forked_at: %w", err)
	}
	return requireRow(res, "update forked_at")
}

// DeleteDatabase removes an instance row. Children keep their rows with
// parent_id cleared by the schema.
func (r *Repository) DeleteDatabase(ctx context.Context, id string) error {
	const query = `DELETE FROM databases WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete database: %w", err)
	}
	return requireRow(res, "delete database")
}

// CountDatabasesByProject returns how many instances a project holds.
func (r *Repository) CountDatabasesByProject(ctx context.Context, projectID string) (int, error) {
	const query = `SELECT COUNT(*) FROM databases WHERE project_id = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, projectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count databases: %w", err)
	}
	return count, nil
}

// CountDatabases returns the host-wide instance count.
func (r *Repository) CountDatabases(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM databases`

	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count databases: %w", err)
	}
	return count, nil
}

// CountDatabasesByStatus returns the host-wide count in the given status.
func (r *Repository) CountDatabasesByStatus(ctx context.Context, status domain.Status) (int, error) {
	const query = `SELECT COUNT(*) FROM databases WHERE status = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count databases by status: %w", err)
	}
	return count, nil
}

// ListUsedPorts returns every host port currently held by a row.
func (r *Repository) ListUsedPorts(ctx context.Context) ([]int, error) {
	const query = `SELECT port FROM databases WHERE port IS NOT NULL ORDER BY port ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list used ports: %w", err)
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var port int
		if err := rows.Scan(&port); err != nil {
			return nil, fmt.Errorf("scan port: %w", err)
		}
		ports = append(ports, port)
	}
	return ports, rows.Err()
}

func (r *Repository) listDatabases(ctx context.Context, query string, args ...any) ([]domain.Database, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var dbs []domain.Database
	for rows.Next() {
		db, err := scanDatabaseRow(rows)
		if err != nil {
			return nil, err
		}
		dbs = append(dbs, *db)
	}
	return dbs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDatabase(row *sql.Row) (*domain.Database, error) {
	db, err := scanDatabaseRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return db, err
}

func scanDatabaseRow(row rowScanner) (*domain.Database, error) {
	var (
		db           domain.Database
		engine       string
		status       string
		statusReason sql.NullString
		containerID  sql.NullString
		host         sql.NullString
		port         sql.NullInt64
		parentID     sql.NullString
		parentName   sql.NullString
		forkedAt     sql.NullString
		createdAt    string
		updatedAt    string
	)
	err := row.Scan(
		&db.ID,
		&db.ProjectID,
		&db.Name,
		&engine,
		&db.EngineVersion,
		&status,
		&statusReason,
		&containerID,
		&host,
		&port,
		&db.Username,
		&db.PasswordEncrypted,
		&db.CPUCores,
		&db.MemoryMB,
		&db.StorageMB,
		&db.PublicExposed,
		&db.BranchName,
		&db.IsDefault,
		&parentID,
		&parentName,
		&forkedAt,
		&db.StorageUsedMB,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan database: %w", err)
	}

	db.Engine = domain.Engine(engine)
	db.Status = domain.Status(status)
	db.StatusReason = nullableString(statusReason)
	db.ContainerID = nullableString(containerID)
	db.Host = nullableString(host)
	db.Port = nullableInt(port)
	db.ParentID = nullableString(parentID)
	db.ParentName = nullableString(parentName)
	if db.ForkedAt, err = nullableTime(forkedAt); err != nil {
		return nil, fmt.Errorf("parse database forked_at: %w", err)
	}
	if db.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse database created_at: %w", err)
	}
	if db.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse database updated_at: %w", err)
	}
	return &db, nil
}

func requireRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}
