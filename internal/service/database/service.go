// Package database orchestrates the instance lifecycle: provisioning,
// start/stop, branching, password rotation and teardown. Lifecycle
// transitions are admitted through a conditional status update in the
// store, then executed by workers holding a per-instance lock, so API
// calls return immediately while container work proceeds in the
// background.
package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
	"github.com/Datify-sh/Datify/internal/repository"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/crypto"
)

const generatedPasswordLength = 24

// Driver is the container runtime surface the service needs. Satisfied by
// *docker.Client.
type Driver interface {
	EnsureNetwork(ctx context.Context, name string) error
	EnsureVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string) error
	PullImage(ctx context.Context, ref string, onStatus func(string)) error
	CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, grace time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	ContainerExists(ctx context.Context, id string) (bool, error)
}

// AdapterRegistry resolves the engine-specific adapter for an instance.
type AdapterRegistry interface {
	ForKind(kind domain.Engine) (engine.Adapter, error)
}

// Service manages database instances.
type Service struct {
	databases repository.DatabaseRepository
	projects  repository.ProjectRepository
	driver    Driver
	adapters  AdapterRegistry
	vault     *crypto.Vault
	logger    *slog.Logger
	cfg       config.DaemonConfig
	ports     *portAllocator
	locks     *lockTable
	now       func() time.Time
	settle    time.Duration
}

// New returns a database lifecycle service.
func New(databases repository.DatabaseRepository, projects repository.ProjectRepository, driver Driver, adapters AdapterRegistry, vault *crypto.Vault, logger *slog.Logger, cfg config.DaemonConfig) *Service {
	return &Service{
		databases: databases,
		projects:  projects,
		driver:    driver,
		adapters:  adapters,
		vault:     vault,
		logger:    logger,
		cfg:       cfg,
		ports:     newPortAllocator(cfg.PortRangeStart, cfg.PortRangeEnd),
		locks:     newLockTable(),
		now:       time.Now,
		settle:    2 * time.Second,
	}
}

// CreateInput carries a create request. Zero-value limits fall back to the
// defaults; an empty password triggers generation.
type CreateInput struct {
	ProjectID     string
	Name          string
	Engine        string
	EngineVersion string
	Password      string
	CPUCores      float64
	MemoryMB      int
	StorageMB     int
	PublicExposed bool
}

// UpdateInput patches mutable instance fields. Nil members stay unchanged.
type UpdateInput struct {
	Name          *string
	CPUCores      *float64
	MemoryMB      *int
	StorageMB     *int
	PublicExposed *bool
}

// Create validates the request, persists a pending row with an allocated
// host port, and provisions the container in the background. The returned
// row is still pending; poll or stream for the outcome.
func (s *Service) Create(ctx context.Context, actor domain.Actor, input CreateInput) (*domain.Database, error) {
	if _, err := s.authorizeProject(ctx, actor, input.ProjectID); err != nil {
		return nil, err
	}
	if err := domain.ValidateInstanceName(input.Name); err != nil {
		return nil, err
	}
	kind, err := domain.ParseEngine(input.Engine)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.ForKind(kind)
	if err != nil {
		return nil, err
	}
	version, err := engine.ResolveVersion(adapter, input.EngineVersion)
	if err != nil {
		return nil, err
	}

	cpu, memory, storage := input.CPUCores, input.MemoryMB, input.StorageMB
	if cpu == 0 {
		cpu = domain.DefaultCPUCores
	}
	if memory == 0 {
		memory = domain.DefaultMemoryMB
	}
	if storage == 0 {
		storage = domain.DefaultStorageMB
	}
	if err := domain.ValidateLimits(cpu, memory, storage); err != nil {
		return nil, err
	}

	password := input.Password
	if password == "" {
		password, err = crypto.GeneratePassword(generatedPasswordLength)
		if err != nil {
			return nil, domain.WrapError(domain.CodeOther, err, "generate password")
		}
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

	inst := &domain.Database{
		ID:                uuid.NewString(),
		ProjectID:         input.ProjectID,
		Name:              input.Name,
		Engine:            kind,
		EngineVersion:     version,
		Status:            domain.StatusPending,
		Port:              &port,
		Username:          domain.DefaultUsername,
		PasswordEncrypted: encrypted,
		CPUCores:          cpu,
		MemoryMB:          memory,
		StorageMB:         storage,
		PublicExposed:     input.PublicExposed,
		BranchName:        domain.DefaultBranchName,
		IsDefault:         true,
	}
	if err := s.databases.CreateDatabase(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.NewError(domain.CodeDuplicateName, "database %q already exists in project", input.Name)
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "create database")
	}

	s.logger.Info("database created", "database_id", inst.ID, "name", inst.Name, "engine", kind, "version", version, "port", port)
	go s.provisionTail(context.WithoutCancel(ctx), inst.ID, password)
	return inst, nil
}

// Get returns one owned instance.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	return s.ownedInstance(ctx, actor, id)
}

// List returns all instances in an owned project.
func (s *Service) List(ctx context.Context, actor domain.Actor, projectID string) ([]domain.Database, error) {
	if _, err := s.authorizeProject(ctx, actor, projectID); err != nil {
		return nil, err
	}
	instances, err := s.databases.ListDatabasesByProject(ctx, projectID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "list databases")
	}
	return instances, nil
}

// Start transitions a stopped or errored instance to running. The call
// admits the transition and returns immediately with status starting; the
// container work happens in the background. Calls against an instance that
// is already running or starting return the current row unchanged.
func (s *Service) Start(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == domain.StatusRunning || inst.Status == domain.StatusStarting {
		return inst, nil
	}
	if !inst.Status.CanStart() {
		return nil, domain.NewError(domain.CodeConflictingState, "cannot start database in status %s", inst.Status)
	}
	ok, err := s.databases.TransitionStatus(ctx, id, []domain.Status{domain.StatusStopped, domain.StatusError}, domain.StatusStarting)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "admit start")
	}
	if !ok {
		// Another caller won the transition; report its in-flight state.
		return s.ownedInstance(ctx, actor, id)
	}

	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		reason := "stored password cannot be decrypted"
		_ = s.databases.UpdateDatabaseStatus(ctx, id, domain.StatusError, &reason)
		return nil, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}

	go s.runStart(context.WithoutCancel(ctx), id, password)
	inst.Status = domain.StatusStarting
	inst.StatusReason = nil
	return inst, nil
}

// Stop shuts the container down with the configured grace period. Stopping
// a stopped instance is a no-op; the worker runs in the background.
func (s *Service) Stop(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == domain.StatusStopped || inst.Status == domain.StatusStopping {
		return inst, nil
	}
	if !inst.Status.CanStop() {
		return nil, domain.NewError(domain.CodeConflictingState, "cannot stop database in status %s", inst.Status)
	}
	ok, err := s.databases.TransitionStatus(ctx, id, []domain.Status{domain.StatusRunning}, domain.StatusStopping)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "admit stop")
	}
	if !ok {
		return s.ownedInstance(ctx, actor, id)
	}

	go s.runStop(context.WithoutCancel(ctx), id, false)
	inst.Status = domain.StatusStopping
	inst.StatusReason = nil
	return inst, nil
}

// Restart stops a running instance and starts it again without releasing
// its port or volume.
func (s *Service) Restart(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.StatusRunning {
		return nil, domain.NewError(domain.CodeConflictingState, "cannot restart database in status %s", inst.Status)
	}
	ok, err := s.databases.TransitionStatus(ctx, id, []domain.Status{domain.StatusRunning}, domain.StatusStopping)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "admit restart")
	}
	if !ok {
		return nil, domain.NewError(domain.CodeConflictingState, "database is already transitioning")
	}

	go s.runStop(context.WithoutCancel(ctx), id, true)
	inst.Status = domain.StatusStopping
	inst.StatusReason = nil
	return inst, nil
}

// Delete tears an instance down: container, volume, port and row. Running
// and transitioning instances require force, which stops the container
// first. Delete is synchronous.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id string, force bool) error {
	if _, err := s.ownedInstance(ctx, actor, id); err != nil {
		return err
	}

	release := s.locks.acquire(id)
	defer release()

	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return domain.WrapError(domain.CodeStoreError, err, "load database")
	}
	if !inst.Status.DeletableWithoutForce() && !force {
		return domain.NewError(domain.CodeConflictingState, "database is %s; stop it first or use force", inst.Status).
			WithDetail("force", "set force=true to stop and delete")
	}

	if inst.ContainerID != nil {
		if err := s.driver.StopContainer(ctx, *inst.ContainerID, s.cfg.StopGrace); err != nil && !errors.Is(err, docker.ErrNotFound) {
			s.logger.Warn("stop before delete failed", "database_id", id, "error", err)
		}
		if err := s.driver.RemoveContainer(ctx, *inst.ContainerID, true); err != nil {
			return domain.WrapError(domain.CodeIOError, err, "remove container")
		}
	}
	if err := s.driver.RemoveVolume(ctx, inst.VolumeName()); err != nil && !errors.Is(err, docker.ErrNotFound) {
		return domain.WrapError(domain.CodeIOError, err, "remove volume")
	}
	if err := s.databases.DeleteDatabase(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.WrapError(domain.CodeStoreError, err, "delete database")
	}

	s.logger.Info("database deleted", "database_id", id, "name", inst.Name, "force", force)
	return nil
}

// DeleteProjectDatabases force-deletes every instance in a project. Used
// by the project cascade; ownership is the caller's responsibility.
func (s *Service) DeleteProjectDatabases(ctx context.Context, actor domain.Actor, projectID string) error {
	instances, err := s.databases.ListDatabasesByProject(ctx, projectID)
	if err != nil {
		return domain.WrapError(domain.CodeStoreError, err, "list databases")
	}
	for _, inst := range instances {
		if err := s.Delete(ctx, actor, inst.ID, true); err != nil && !domain.IsCode(err, domain.CodeNotFound) {
			return err
		}
	}
	return nil
}

// Update patches name, resource limits and exposure. Only stopped
// instances are editable. Changed limits take effect on the next start;
// the stale container is removed so start rebuilds it from the row.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id string, input UpdateInput) (*domain.Database, error) {
	if _, err := s.ownedInstance(ctx, actor, id); err != nil {
		return nil, err
	}

	release := s.locks.acquire(id)
	defer release()

	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if inst.Status != domain.StatusStopped {
		return nil, domain.NewError(domain.CodeConflictingState, "database must be stopped to update; status is %s", inst.Status)
	}

	needsRecreate := false
	if input.Name != nil && *input.Name != inst.Name {
		if err := domain.ValidateInstanceName(*input.Name); err != nil {
			return nil, err
		}
		inst.Name = *input.Name
		// Container and volume names derive from the instance name, so a
		// rename orphans both; rebuild on next start.
		needsRecreate = true
	}
	if input.CPUCores != nil && *input.CPUCores != inst.CPUCores {
		inst.CPUCores = *input.CPUCores
		needsRecreate = true
	}
	if input.MemoryMB != nil && *input.MemoryMB != inst.MemoryMB {
		inst.MemoryMB = *input.MemoryMB
		needsRecreate = true
	}
	if input.StorageMB != nil && *input.StorageMB != inst.StorageMB {
		inst.StorageMB = *input.StorageMB
	}
	if input.PublicExposed != nil {
		inst.PublicExposed = *input.PublicExposed
	}
	if err := domain.ValidateLimits(inst.CPUCores, inst.MemoryMB, inst.StorageMB); err != nil {
		return nil, err
	}

	if err := s.databases.UpdateDatabase(ctx, inst); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.NewError(domain.CodeDuplicateName, "database %q already exists in project", inst.Name)
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "update database")
	}

	if needsRecreate && inst.ContainerID != nil {
		if err := s.driver.RemoveContainer(ctx, *inst.ContainerID, true); err != nil && !errors.Is(err, docker.ErrNotFound) {
			s.logger.Warn("remove stale container after update failed", "database_id", id, "error", err)
		}
	}

	s.logger.Info("database updated", "database_id", id, "recreate_on_start", needsRecreate)
	return inst, nil
}

// ChangePassword rotates the engine credential of a running instance. The
// current password must match the stored one; the engine is rotated first
// and the encrypted row only rewritten on success.
func (s *Service) ChangePassword(ctx context.Context, actor domain.Actor, id, current, next string) error {
	if _, err := s.ownedInstance(ctx, actor, id); err != nil {
		return err
	}
	if len(next) < 8 {
		return domain.NewError(domain.CodeBadName, "new password must be at least 8 characters").WithDetail("new_password", "minimum length 8")
	}

	release := s.locks.acquire(id)
	defer release()

	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		return s.storeErr(err)
	}
	if inst.Status != domain.StatusRunning {
		return domain.NewError(domain.CodeConflictingState, "database must be running to change its password; status is %s", inst.Status)
	}
	adapter, err := s.adapters.ForKind(inst.Engine)
	if err != nil {
		return err
	}

	stored, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		return domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}
	if stored != current {
		return domain.NewError(domain.CodeAuthFailed, "current password is incorrect")
	}

	encrypted, err := s.vault.EncryptString(next)
	if err != nil {
		return domain.WrapError(domain.CodeCryptoKeyMissing, err, "encrypt password")
	}

	target, err := s.target(inst, stored)
	if err != nil {
		return err
	}
	rotateCtx := context.WithoutCancel(ctx)
	if err := adapter.RotatePassword(rotateCtx, target, stored, next); err != nil {
		return err
	}
	if err := s.databases.UpdateDatabasePassword(rotateCtx, id, encrypted); err != nil {
		// The engine already accepted the new credential; roll it back so
		// the stored blob stays authoritative.
		if rbErr := adapter.RotatePassword(rotateCtx, target, next, stored); rbErr != nil {
			s.logger.Error("password rollback failed; stored credential is stale", "database_id", id, "error", rbErr)
		}
		return domain.WrapError(domain.CodeStoreError, err, "persist password")
	}

	s.logger.Info("database password rotated", "database_id", id)
	return nil
}

// Connection returns the decrypted connection view of a running instance.
// Public instances advertise the host address and mapped port; private
// ones advertise the container name on the instance network.
func (s *Service) Connection(ctx context.Context, actor domain.Actor, id string) (*domain.ConnectionInfo, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != domain.StatusRunning {
		return nil, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status)
	}
	adapter, err := s.adapters.ForKind(inst.Engine)
	if err != nil {
		return nil, err
	}

	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}

	host := inst.ContainerName()
	port := adapter.InternalPort()
	if inst.PublicExposed {
		host = s.cfg.DockerHostIP
		if inst.Port == nil {
			return nil, domain.NewError(domain.CodeConflictingState, "database has no allocated port")
		}
		port = *inst.Port
	}
	dbName := "postgres"
	if inst.Engine.IsKeyValue() {
		dbName = "0"
	}
	return &domain.ConnectionInfo{
		Host:             host,
		Port:             port,
		Username:         inst.Username,
		Password:         password,
		Database:         dbName,
		ConnectionString: domain.BuildConnectionString(inst.Engine, inst.Username, password, host, port),
	}, nil
}

// authorizeProject loads a project and verifies the actor may operate on it.
func (s *Service) authorizeProject(ctx context.Context, actor domain.Actor, projectID string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "project not found")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "load project")
	}
	if !actor.Owns(project.UserID) {
		return nil, domain.NewError(domain.CodeForbidden, "project belongs to another user")
	}
	return project, nil
}

// ownedInstance loads an instance and verifies the actor owns its project.
func (s *Service) ownedInstance(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if _, err := s.authorizeProject(ctx, actor, inst.ProjectID); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Service) storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NewError(domain.CodeNotFound, "database not found")
	}
	return domain.WrapError(domain.CodeStoreError, err, "database store")
}

// target builds the adapter target for a bound instance.
func (s *Service) target(inst *domain.Database, password string) (engine.Target, error) {
	if inst.ContainerID == nil || inst.Host == nil || inst.Port == nil {
		return engine.Target{}, domain.NewError(domain.CodeConflictingState, "database has no bound container")
	}
	return engine.Target{
		ContainerID:   *inst.ContainerID,
		ContainerName: inst.ContainerName(),
		Host:          *inst.Host,
		Port:          *inst.Port,
		Username:      inst.Username,
		Password:      password,
	}, nil
}

func truncateReason(err error) string {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
