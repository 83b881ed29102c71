package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Datify-sh/Datify/internal/app/migrate"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	runner, err := migrate.New(db, newLogger())
	if err != nil {
		t.Fatalf("construct migration runner: %v", err)
	}
	if err := runner.Ensure(context.Background()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return New(db)
}

func seedUser(t *testing.T, repo *Repository, id, email string) {
	t.Helper()
	err := repo.CreateUser(context.Background(), &domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: []byte("$2a$10$hash"),
		Name:         "Test User",
		Role:         domain.RoleUser,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedProject(t *testing.T, repo *Repository, id, userID, slug string) {
	t.Helper()
	err := repo.CreateProject(context.Background(), &domain.Project{
		ID:     id,
		UserID: userID,
		Name:   "Project " + slug,
		Slug:   slug,
	})
	if err != nil {
		t.Fatalf("seed project %s: %v", id, err)
	}
}

func testDatabase(id, projectID, name string) *domain.Database {
	return &domain.Database{
		ID:                id,
		ProjectID:         projectID,
		Name:              name,
		Engine:            domain.EnginePostgres,
		EngineVersion:     "16",
		Status:            domain.StatusPending,
		Username:          domain.DefaultUsername,
		PasswordEncrypted: "deadbeef",
		CPUCores:          1.0,
		MemoryMB:          512,
		StorageMB:         1024,
		BranchName:        domain.DefaultBranchName,
		IsDefault:         true,
	}
}

func TestUserRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "ada@example.com")

	got, err := repo.GetUserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if got.ID != "u1" || got.Role != domain.RoleUser {
		t.Fatalf("unexpected user: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be populated")
	}

	if _, err := repo.GetUserByID(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	err = repo.CreateUser(ctx, &domain.User{
		ID:           "u2",
		Email:        "ada@example.com",
		PasswordHash: []byte("x"),
		Role:         domain.RoleUser,
	})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused email, got %v", err)
	}

	count, err := repo.CountUsers(ctx)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user, got %d", count)
	}
}

func TestProjectLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")
	seedProject(t, repo, "p2", "u1", "beta")

	err := repo.CreateProject(ctx, &domain.Project{ID: "p3", UserID: "u1", Name: "Dup", Slug: "alpha"})
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused slug, got %v", err)
	}

	if err := repo.CreateDatabase(ctx, testDatabase("d1", "p1", "orders")); err != nil {
		t.Fatalf("create database: %v", err)
	}

	projects, err := repo.ListProjectsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	counts := map[string]int{}
	for _, p := range projects {
		counts[p.ID] = p.DatabaseCount
	}
	if counts["p1"] != 1 || counts["p2"] != 0 {
		t.Fatalf("unexpected database counts: %v", counts)
	}

	got, err := repo.GetProjectByID(ctx, "p1")
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	got.Description = "updated"
	if err := repo.UpdateProject(ctx, got); err != nil {
		t.Fatalf("update project: %v", err)
	}
	got, err = repo.GetProjectByID(ctx, "p1")
	if err != nil {
		t.Fatalf("get project after update: %v", err)
	}
	if got.Description != "updated" {
		t.Fatalf("description not persisted: %q", got.Description)
	}

	if err := repo.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := repo.GetProjectByID(ctx, "p1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Databases cascade with their project.
	if _, err := repo.GetDatabaseByID(ctx, "d1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected cascaded delete of databases, got %v", err)
	}

	if err := repo.DeleteProject(ctx, "p1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestDatabaseLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")

	if err := repo.CreateDatabase(ctx, testDatabase("d1", "p1", "orders")); err != nil {
		t.Fatalf("create database: %v", err)
	}

	err := repo.CreateDatabase(ctx, testDatabase("d2", "p1", "orders"))
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused name, got %v", err)
	}

	got, err := repo.GetDatabaseByName(ctx, "p1", "orders")
	if err != nil {
		t.Fatalf("get database by name: %v", err)
	}
	if got.Status != domain.StatusPending || got.Port != nil || got.ContainerID != nil {
		t.Fatalf("unexpected fresh database: %+v", got)
	}

	if err := repo.BindContainer(ctx, "d1", "cid-1", "127.0.0.1", 30000, domain.StatusRunning); err != nil {
		t.Fatalf("bind container: %v", err)
	}
	got, err = repo.GetDatabaseByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if got.ContainerID == nil || *got.ContainerID != "cid-1" {
		t.Fatalf("container id not bound: %+v", got.ContainerID)
	}
	if got.Port == nil || *got.Port != 30000 {
		t.Fatalf("port not bound: %+v", got.Port)
	}
	if got.Status != domain.StatusRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}

	// A second instance cannot hold the same host port.
	if err := repo.CreateDatabase(ctx, testDatabase("d3", "p1", "cache")); err != nil {
		t.Fatalf("create second database: %v", err)
	}
	err = repo.BindContainer(ctx, "d3", "cid-2", "127.0.0.1", 30000, domain.StatusRunning)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused port, got %v", err)
	}

	if err := repo.ReleaseContainer(ctx, "d1"); err != nil {
		t.Fatalf("release container: %v", err)
	}
	if err := repo.BindContainer(ctx, "d3", "cid-2", "127.0.0.1", 30000, domain.StatusRunning); err != nil {
		t.Fatalf("bind after release: %v", err)
	}

	reason := "image pull failed"
	if err := repo.UpdateDatabaseStatus(ctx, "d1", domain.StatusError, &reason); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err = repo.GetDatabaseByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if got.Status != domain.StatusError || got.StatusReason == nil || *got.StatusReason != reason {
		t.Fatalf("status transition not persisted: %+v", got)
	}

	if err := repo.UpdateDatabasePassword(ctx, "d1", "cafef00d"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	got, err = repo.GetDatabaseByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if got.PasswordEncrypted != "cafef00d" {
		t.Fatalf("password blob not rotated: %q", got.PasswordEncrypted)
	}

	got.CPUCores = 2.0
	got.MemoryMB = 1024
	got.StorageUsedMB = 42
	if err := repo.UpdateDatabase(ctx, got); err != nil {
		t.Fatalf("update database: %v", err)
	}
	got, err = repo.GetDatabaseByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if got.CPUCores != 2.0 || got.MemoryMB != 1024 || got.StorageUsedMB != 42 {
		t.Fatalf("limits not persisted: %+v", got)
	}

	if err := repo.DeleteDatabase(ctx, "d1"); err != nil {
		t.Fatalf("delete database: %v", err)
	}
	if err := repo.DeleteDatabase(ctx, "d1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestTransitionStatus(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")
	if err := repo.CreateDatabase(ctx, testDatabase("d1", "p1", "orders")); err != nil {
		t.Fatalf("create database: %v", err)
	}

	ok, err := repo.TransitionStatus(ctx, "d1", []domain.Status{domain.StatusPending}, domain.StatusStarting)
	if err != nil {
		t.Fatalf("transition pending->starting: %v", err)
	}
	if !ok {
		t.Fatal("expected transition from pending to win")
	}

	// The row is now starting, so a stopped|error guard must lose.
	ok, err = repo.TransitionStatus(ctx, "d1", []domain.Status{domain.StatusStopped, domain.StatusError}, domain.StatusStarting)
	if err != nil {
		t.Fatalf("transition with stale guard: %v", err)
	}
	if ok {
		t.Fatal("expected transition with stale guard to lose")
	}
	got, err := repo.GetDatabaseByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if got.Status != domain.StatusStarting {
		t.Fatalf("losing transition changed status to %s", got.Status)
	}

	// A winning transition clears any stale failure reason.
	reason := "readiness probe timed out"
	if err := repo.UpdateDatabaseStatus(ctx, "d1", domain.StatusError, &reason); err != nil {
		t.Fatalf("update status: %v", err)
	}
	ok, err = repo.TransitionStatus(ctx, "d1", []domain.Status{domain.StatusStopped, domain.StatusError}, domain.StatusStarting)
	if err != nil {
		t.Fatalf("transition error->starting: %v", err)
	}
	if !ok {
		t.Fatal("expected transition from error to win")
	}
	got, err = repo.GetDatabaseByID(ctx, "d1")
	if err != nil {
		t.Fatalf("get database: %v", err)
	}
	if got.Status != domain.StatusStarting || got.StatusReason != nil {
		t.Fatalf("winning transition left stale state: %+v", got)
	}

	ok, err = repo.TransitionStatus(ctx, "missing", []domain.Status{domain.StatusStopped}, domain.StatusStarting)
	if err != nil {
		t.Fatalf("transition on missing row: %v", err)
	}
	if ok {
		t.Fatal("expected transition on missing row to lose")
	}
}

func TestBranchLineage(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")

	if err := repo.CreateDatabase(ctx, testDatabase("parent", "p1", "orders")); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	parentID := "parent"
	child := testDatabase("child", "p1", "orders-feature-x")
	child.BranchName = "feature-x"
	child.IsDefault = false
	child.ParentID = &parentID
	if err := repo.CreateDatabase(ctx, child); err != nil {
		t.Fatalf("create branch: %v", err)
	}

	got, err := repo.GetDatabaseByID(ctx, "child")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != "parent" {
		t.Fatalf("parent id not persisted: %+v", got.ParentID)
	}
	if got.ParentName == nil || *got.ParentName != "orders" {
		t.Fatalf("parent name not materialized: %+v", got.ParentName)
	}
	if got.ForkedAt != nil {
		t.Fatalf("expected no fork stamp before first sync, got %v", got.ForkedAt)
	}

	branches, err := repo.ListBranches(ctx, "parent")
	if err != nil {
		t.Fatalf("list branches: %v", err)
	}
	if len(branches) != 1 || branches[0].ID != "child" {
		t.Fatalf("unexpected branches: %+v", branches)
	}

	forked := time.Date(2026, 2, 3, 4, 5, 6, 789000000, time.UTC)
	if err := repo.UpdateForkedAt(ctx, "child", forked); err != nil {
		t.Fatalf("update forked_at: %v", err)
	}
	got, err = repo.GetDatabaseByID(ctx, "child")
	if err != nil {
		t.Fatalf("get branch: %v", err)
	}
	if got.ForkedAt == nil || !got.ForkedAt.Equal(forked) {
		t.Fatalf("fork stamp mismatch: %v", got.ForkedAt)
	}

	// Deleting the parent orphans the branch instead of cascading.
	if err := repo.DeleteDatabase(ctx, "parent"); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	got, err = repo.GetDatabaseByID(ctx, "child")
	if err != nil {
		t.Fatalf("get orphaned branch: %v", err)
	}
	if got.ParentID != nil || got.ParentName != nil {
		t.Fatalf("expected orphaned branch, got parent %+v", got.ParentID)
	}
}

func TestListUsedPortsAndStatusCounts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")

	for i, name := range []string{"one", "two", "three"} {
		if err := repo.CreateDatabase(ctx, testDatabase(name, "p1", name)); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if i < 2 {
			err := repo.BindContainer(ctx, name, "cid-"+name, "127.0.0.1", 30000+i, domain.StatusRunning)
			if err != nil {
				t.Fatalf("bind %s: %v", name, err)
			}
		}
	}

	ports, err := repo.ListUsedPorts(ctx)
	if err != nil {
		t.Fatalf("list used ports: %v", err)
	}
	if len(ports) != 2 || ports[0] != 30000 || ports[1] != 30001 {
		t.Fatalf("unexpected ports: %v", ports)
	}

	total, err := repo.CountDatabases(ctx)
	if err != nil {
		t.Fatalf("count databases: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 databases, got %d", total)
	}
	running, err := repo.CountDatabasesByStatus(ctx, domain.StatusRunning)
	if err != nil {
		t.Fatalf("count running: %v", err)
	}
	if running != 2 {
		t.Fatalf("expected 2 running, got %d", running)
	}

	byStatus, err := repo.ListDatabasesByStatus(ctx, domain.StatusPending)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "three" {
		t.Fatalf("unexpected pending set: %+v", byStatus)
	}
}

func TestMetricsSnapshots(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")
	if err := repo.CreateDatabase(ctx, testDatabase("d1", "p1", "orders")); err != nil {
		t.Fatalf("create database: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		snap := &domain.MetricsSnapshot{
			DatabaseID:    "d1",
			Timestamp:     base.Add(time.Duration(i) * 10 * time.Second),
			DatabaseType:  domain.EnginePostgres,
			TotalQueries:  int64(100 + i),
			QueriesPerSec: float64(i),
			CPUPercent:    float64(10 * i),
		}
		if err := repo.InsertSnapshot(ctx, snap); err != nil {
			t.Fatalf("insert snapshot %d: %v", i, err)
		}
	}

	all, err := repo.ListSnapshots(ctx, "d1", base)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 snapshots, got %d", len(all))
	}
	if !all[0].Timestamp.Equal(base) {
		t.Fatalf("expected ascending order, first at %v", all[0].Timestamp)
	}

	tail, err := repo.ListSnapshots(ctx, "d1", base.Add(25*time.Second))
	if err != nil {
		t.Fatalf("list snapshots with cutoff: %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("expected 2 snapshots after cutoff, got %d", len(tail))
	}

	// 30s buckets over 5 rows at 10s spacing collapse to one row per bucket,
	// keeping the newest in each.
	sampled, err := repo.ListSnapshotsSampled(ctx, "d1", base, 30*time.Second)
	if err != nil {
		t.Fatalf("list sampled: %v", err)
	}
	if len(sampled) != 2 {
		t.Fatalf("expected 2 sampled rows, got %d", len(sampled))
	}
	if sampled[0].TotalQueries != 102 || sampled[1].TotalQueries != 104 {
		t.Fatalf("expected newest row per bucket, got %d and %d",
			sampled[0].TotalQueries, sampled[1].TotalQueries)
	}

	latest, err := repo.LatestSnapshot(ctx, "d1")
	if err != nil {
		t.Fatalf("latest snapshot: %v", err)
	}
	if latest.TotalQueries != 104 {
		t.Fatalf("expected newest snapshot, got %+v", latest)
	}

	if _, err := repo.LatestSnapshot(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMetricsRetention(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")
	seedProject(t, repo, "p1", "u1", "alpha")
	if err := repo.CreateDatabase(ctx, testDatabase("d1", "p1", "orders")); err != nil {
		t.Fatalf("create database: %v", err)
	}

	stale := &domain.MetricsSnapshot{
		DatabaseID:   "d1",
		Timestamp:    time.Now().UTC().Add(-25 * time.Hour),
		DatabaseType: domain.EnginePostgres,
	}
	if err := repo.InsertSnapshot(ctx, stale); err != nil {
		t.Fatalf("insert stale snapshot: %v", err)
	}
	fresh := &domain.MetricsSnapshot{
		DatabaseID:   "d1",
		Timestamp:    time.Now().UTC(),
		DatabaseType: domain.EnginePostgres,
	}
	if err := repo.InsertSnapshot(ctx, fresh); err != nil {
		t.Fatalf("insert fresh snapshot: %v", err)
	}

	all, err := repo.ListSnapshots(ctx, "d1", time.Now().UTC().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected retention to drop the stale row, got %d rows", len(all))
	}
}

func TestTokenRevocation(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	seedUser(t, repo, "u1", "owner@example.com")

	expires := time.Now().UTC().Add(time.Hour)
	if err := repo.RevokeToken(ctx, "jti-1", "u1", expires); err != nil {
		t.Fatalf("revoke token: %v", err)
	}
	if err := repo.RevokeToken(ctx, "jti-1", "u1", expires); err != nil {
		t.Fatalf("double revoke should be a no-op: %v", err)
	}

	revoked, err := repo.IsTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("check revocation: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be revoked")
	}
	revoked, err = repo.IsTokenRevoked(ctx, "jti-2")
	if err != nil {
		t.Fatalf("check revocation: %v", err)
	}
	if revoked {
		t.Fatal("expected unknown token to pass")
	}

	if err := repo.RevokeToken(ctx, "jti-old", "u1", time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("revoke expired token: %v", err)
	}
	if err := repo.PurgeExpiredTokens(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("purge expired tokens: %v", err)
	}
	revoked, err = repo.IsTokenRevoked(ctx, "jti-old")
	if err != nil {
		t.Fatalf("check revocation after purge: %v", err)
	}
	if revoked {
		t.Fatal("expected expired revocation row to be purged")
	}
	revoked, err = repo.IsTokenRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("check revocation after purge: %v", err)
	}
	if !revoked {
		t.Fatal("expected live revocation row to survive purge")
	}
}
