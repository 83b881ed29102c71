package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
)

// CreateProject inserts a project row.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `
		INSERT INTO projects (id, user_id, name, slug, description, settings)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		project.ID,
		project.UserID,
		project.Name,
		project.Slug,
		project.Description,
		project.Settings,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProjectByID fetches a project by id.
func (r *Repository) GetProjectByID(ctx context.Context, id string) (*domain.Project, error) {
	const query = `
		SELECT id, user_id, name, slug, description, settings, created_at, updated_at
		FROM projects
		WHERE id = ?`

	return scanProject(r.db.QueryRowContext(ctx, query, id))
}

// ListProjectsByUser returns the user's projects together with how many
// database instances each one holds, newest first.
func (r *Repository) ListProjectsByUser(ctx context.Context, userID string) ([]domain.ProjectWithStats, error) {
	const query = `
		SELECT p.id, p.user_id, p.name, p.slug, p.description, p.settings,
		       p.created_at, p.updated_at, COUNT(d.id)
		FROM projects p
		LEFT JOIN databases d ON d.project_id = p.id
		WHERE p.user_id = ?
		GROUP BY p.id
		ORDER BY p.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []domain.ProjectWithStats
	for rows.Next() {
		var (
			p         domain.ProjectWithStats
			createdAt string
			updatedAt string
		)
		err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Name,
			&p.Slug,
			&p.Description,
			&p.Settings,
			&createdAt,
			&updatedAt,
			&p.DatabaseCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse project created_at: %w", err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse project updated_at: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject persists name, description and settings changes.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	const query = `
		UPDATE projects
		SET name = ?, description = ?, settings = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		project.Name,
		project.Description,
		project.Settings,
		project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project row. Database rows cascade.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	const query = `DELETE FROM projects WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanProject(row *sql.Row) (*domain.Project, error) {
	var (
		p         domain.Project
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&p.Slug,
		&p.Description,
		&p.Settings,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse project created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse project updated_at: %w", err)
	}
	return &p, nil
}
