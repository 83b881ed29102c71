package repository

import (
	"context"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]domain.ProjectWithStats, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// DatabaseRepository persists database instances and their branch lineage.
type DatabaseRepository interface {
	CreateDatabase(ctx context.Context, db *domain.Database) error
	GetDatabaseByID(ctx context.Context, id string) (*domain.Database, error)
	GetDatabaseByName(ctx context.Context, projectID, name string) (*domain.Database, error)
	ListDatabasesByProject(ctx context.Context, projectID string) ([]domain.Database, error)
	ListDatabasesByStatus(ctx context.Context, status domain.Status) ([]domain.Database, error)
	ListBranches(ctx context.Context, parentID string) ([]domain.Database, error)
	UpdateDatabase(ctx context.Context, db *domain.Database) error
	UpdateDatabaseStatus(ctx context.Context, id string, status domain.Status, reason *string) error
	TransitionStatus(ctx context.Context, id string, from []domain.Status, to domain.Status) (bool, error)
	BindContainer(ctx context.Context, id, containerID, host string, port int, status domain.Status) error
	ReleaseContainer(ctx context.Context, id string) error
	UpdateDatabasePassword(ctx context.Context, id, passwordEncrypted string) error
	UpdateForkedAt(ctx context.Context, id string, forkedAt time.Time) error
	DeleteDatabase(ctx context.Context, id string) error
	CountDatabasesByProject(ctx context.Context, projectID string) (int, error)
	CountDatabases(ctx context.Context) (int, error)
	CountDatabasesByStatus(ctx context.Context, status domain.Status) (int, error)
	ListUsedPorts(ctx context.Context) ([]int, error)
}

// MetricsRepository persists scrape snapshots; retention is enforced by an
// insert trigger in the schema.
type MetricsRepository interface {
	InsertSnapshot(ctx context.Context, snap *domain.MetricsSnapshot) error
	ListSnapshots(ctx context.Context, databaseID string, since time.Time) ([]domain.MetricsSnapshot, error)
	ListSnapshotsSampled(ctx context.Context, databaseID string, since time.Time, interval time.Duration) ([]domain.MetricsSnapshot, error)
	LatestSnapshot(ctx context.Context, databaseID string) (*domain.MetricsSnapshot, error)
}

// TokenRepository stores the revocation list consulted on every
// authenticated request.
type TokenRepository interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	PurgeExpiredTokens(ctx context.Context, now time.Time) error
}
