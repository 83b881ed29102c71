package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
	"github.com/Datify-sh/Datify/internal/repository"
	"github.com/Datify-sh/Datify/pkg/crypto"
)

// BranchInput carries a create_branch request. IncludeData selects a full
// copy; without it postgres branches replicate schema only.
type BranchInput struct {
	Name        string
	IncludeData bool
}

// CreateBranch forks a running instance into a new one and replicates the
// parent's data into it. Unlike Create this is synchronous: a successful
// return means the branch is running and holds its copy. On failure the
// branch row is parked in status error with its container and volume
// reclaimed.
func (s *Service) CreateBranch(ctx context.Context, actor domain.Actor, parentID string, input BranchInput) (*domain.Database, error) {
	parent, err := s.ownedInstance(ctx, actor, parentID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateBranchName(input.Name); err != nil {
		return nil, err
	}
	if parent.Status != domain.StatusRunning {
		return nil, domain.NewError(domain.CodeConflictingState, "parent must be running to branch; status is %s", parent.Status)
	}
	mode := engine.ReplicationFull
	if !input.IncludeData {
		if parent.Engine.IsKeyValue() {
			return nil, domain.NewError(domain.CodeUnsupportedBranchMode, "%s branches always copy data", parent.Engine).
				WithDetail("include_data", "schema-only branches are available for postgres")
		}
		mode = engine.ReplicationSchemaOnly
	}
	adapter, err := s.adapters.ForKind(parent.Engine)
	if err != nil {
		return nil, err
	}

	password, err := crypto.GeneratePassword(generatedPasswordLength)
	if err != nil {
		return nil, domain.WrapError(domain.CodeOther, err, "generate password")
	}
	encrypted, err := s.vault.EncryptString(password)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCryptoKeyMissing, err, "encrypt password")
	}

	used, err := s.databases.ListUsedPorts(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "list used ports")
	}
	port, releasePort, err := s.ports.reserve(used)
	if err != nil {
		return nil, err
	}
	defer releasePort()

	forkedAt := s.now().UTC()
	child := &domain.Database{
		ID:                uuid.NewString(),
		ProjectID:         parent.ProjectID,
		Name:              parent.Name + "-" + input.Name,
		Engine:            parent.Engine,
		EngineVersion:     parent.EngineVersion,
		Status:            domain.StatusPending,
		Port:              &port,
		Username:          domain.DefaultUsername,
		PasswordEncrypted: encrypted,
		CPUCores:          parent.CPUCores,
		MemoryMB:          parent.MemoryMB,
		StorageMB:         parent.StorageMB,
		PublicExposed:     parent.PublicExposed,
		BranchName:        input.Name,
		IsDefault:         false,
		ParentID:          &parent.ID,
		ForkedAt:          &forkedAt,
	}
	if err := s.databases.CreateDatabase(ctx, child); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.NewError(domain.CodeDuplicateName, "branch %q already exists for %s", input.Name, parent.Name)
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "create branch")
	}
	s.logger.Info("branch created", "database_id", child.ID, "parent_id", parent.ID, "branch", input.Name, "mode", mode)

	if err := s.provisionTail(ctx, child.ID, password); err != nil {
		s.reclaimBranch(context.WithoutCancel(ctx), child, err)
		return nil, err
	}

	// Give the engine's DNS entry a moment to propagate on the network
	// before the replication pipeline dials it by container name.
	timer := time.NewTimer(s.settle)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	parentPassword, err := s.vault.DecryptToString(parent.PasswordEncrypted)
	if err != nil {
		err = domain.WrapError(domain.CodeCryptoTampered, err, "decrypt parent password")
		s.reclaimBranch(context.WithoutCancel(ctx), child, err)
		return nil, err
	}
	src, err := s.target(parent, parentPassword)
	if err != nil {
		s.reclaimBranch(context.WithoutCancel(ctx), child, err)
		return nil, err
	}
	child, err = s.databases.GetDatabaseByID(ctx, child.ID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	dst, err := s.target(child, password)
	if err != nil {
		s.reclaimBranch(context.WithoutCancel(ctx), child, err)
		return nil, err
	}
	if err := adapter.Replicate(ctx, src, dst, mode); err != nil {
		s.reclaimBranch(context.WithoutCancel(ctx), child, err)
		return nil, err
	}

	s.logger.Info("branch replicated", "database_id", child.ID, "parent_id", parent.ID, "mode", mode)
	return child, nil
}

// SyncFromParent re-replicates the parent's current data into a branch and
// advances its fork point. Both instances must be running; concurrent
// syncs of the same branch are rejected.
func (s *Service) SyncFromParent(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	child, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !child.IsBranch() {
		return nil, domain.NewError(domain.CodeConflictingState, "database %s is not a branch", child.Name)
	}
	parent, err := s.databases.GetDatabaseByID(ctx, *child.ParentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "parent database no longer exists")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "load parent")
	}
	if parent.Status != domain.StatusRunning || child.Status != domain.StatusRunning {
		return nil, domain.NewError(domain.CodeConflictingState, "parent and branch must both be running to sync")
	}
	adapter, err := s.adapters.ForKind(child.Engine)
	if err != nil {
		return nil, err
	}

	release, ok := s.locks.tryAcquire(child.ID)
	if !ok {
		return nil, domain.NewError(domain.CodeConflictingState, "another operation is in progress for this branch")
	}
	defer release()

	parentPassword, err := s.vault.DecryptToString(parent.PasswordEncrypted)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt parent password")
	}
	childPassword, err := s.vault.DecryptToString(child.PasswordEncrypted)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}
	src, err := s.target(parent, parentPassword)
	if err != nil {
		return nil, err
	}
	dst, err := s.target(child, childPassword)
	if err != nil {
		return nil, err
	}
	if err := adapter.Replicate(ctx, src, dst, engine.ReplicationFull); err != nil {
		return nil, err
	}

	forkedAt := s.now().UTC()
	if err := s.databases.UpdateForkedAt(ctx, child.ID, forkedAt); err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "update fork point")
	}
	child.ForkedAt = &forkedAt
	s.logger.Info("branch synced", "database_id", child.ID, "parent_id", parent.ID)
	return child, nil
}

// ListBranches returns the direct branches of an owned instance.
func (s *Service) ListBranches(ctx context.Context, actor domain.Actor, id string) ([]domain.Database, error) {
	if _, err := s.ownedInstance(ctx, actor, id); err != nil {
		return nil, err
	}
	branches, err := s.databases.ListBranches(ctx, id)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "list branches")
	}
	return branches, nil
}

// reclaimBranch tears down a failed branch's container and volume. The row
// stays behind in status error, still holding its port, so the failure is
// visible until the branch is deleted.
func (s *Service) reclaimBranch(ctx context.Context, child *domain.Database, cause error) {
	release := s.locks.acquire(child.ID)
	defer release()

	if err := s.driver.RemoveContainer(ctx, child.ContainerName(), true); err != nil && !errors.Is(err, docker.ErrNotFound) {
		s.logger.Warn("branch container reclaim failed", "database_id", child.ID, "error", err)
	}
	if err := s.driver.RemoveVolume(ctx, child.VolumeName()); err != nil && !errors.Is(err, docker.ErrNotFound) {
		s.logger.Warn("branch volume reclaim failed", "database_id", child.ID, "error", err)
	}
	s.markError(ctx, child.ID, cause)
}
