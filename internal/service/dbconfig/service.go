// Package dbconfig edits live engine configuration. The service owns
// access control and syntax checks; how a document reaches the engine
// (file rewrite and reload, CONFIG SET) is adapter business.
package dbconfig

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
	"github.com/Datify-sh/Datify/internal/repository"
	"github.com/Datify-sh/Datify/pkg/crypto"
)

// AdapterRegistry resolves engine adapters. Satisfied by *engine.Registry.
type AdapterRegistry interface {
	ForKind(kind domain.Engine) (engine.Adapter, error)
}

// Service serves config reads and writes for running instances.
type Service struct {
	databases repository.DatabaseRepository
	projects  repository.ProjectRepository
	adapters  AdapterRegistry
	vault     *crypto.Vault
	logger    *slog.Logger
}

// New returns a config service.
func New(databases repository.DatabaseRepository, projects repository.ProjectRepository, adapters AdapterRegistry, vault *crypto.Vault, logger *slog.Logger) *Service {
	return &Service{databases: databases, projects: projects, adapters: adapters, vault: vault, logger: logger}
}

// Get returns the instance's current configuration document.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (domain.ConfigDocument, error) {
	inst, adapter, target, err := s.liveTarget(ctx, actor, id)
	if err != nil {
		return domain.ConfigDocument{}, err
	}

	doc, err := adapter.ReadConfig(ctx, target)
	if err != nil {
		return domain.ConfigDocument{}, err
	}
	doc.DatabaseID = inst.ID
	return doc, nil
}

// Put replaces the instance's configuration with content. Applied=false in
// the result means the document persisted but a restart must follow.
func (s *Service) Put(ctx context.Context, actor domain.Actor, id, content string) (domain.ConfigApplyResult, error) {
	inst, adapter, target, err := s.liveTarget(ctx, actor, id)
	if err != nil {
		return domain.ConfigApplyResult{}, err
	}
	if err := validateContent(inst.Engine, content); err != nil {
		return domain.ConfigApplyResult{}, err
	}

	result, err := adapter.WriteConfig(ctx, target, content)
	if err != nil {
		return domain.ConfigApplyResult{}, err
	}
	result.DatabaseID = inst.ID
	s.logger.Info("config written",
		"database_id", inst.ID,
		"engine", inst.Engine,
		"applied", result.Applied,
		"requires_restart", result.RequiresRestart,
		"warnings", len(result.Warnings))
	return result, nil
}

// validateContent is a cheap syntactic gate so obviously malformed
// documents never reach a live engine. Engines still do the real parse.
func validateContent(eng domain.Engine, content string) error {
	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if eng.IsKeyValue() {
			if !strings.Contains(line, " ") {
				return domain.NewError(domain.CodeInvalidConfig, "line %d: expected \"directive value\"", i+1).
					WithDetail("line", line)
			}
			continue
		}
		if strings.Contains(line, "=") || strings.HasPrefix(line, "include") {
			continue
		}
		return domain.NewError(domain.CodeInvalidConfig, "line %d: expected \"name = value\"", i+1).
			WithDetail("line", line)
	}
	return nil
}

// liveTarget loads an owned instance, requires it running, and builds the
// adapter target with the decrypted credential.
func (s *Service) liveTarget(ctx context.Context, actor domain.Actor, id string) (*domain.Database, engine.Adapter, engine.Target, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, nil, engine.Target{}, err
	}
	if inst.Status != domain.StatusRunning {
		return nil, nil, engine.Target{}, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status)
	}
	adapter, err := s.adapters.ForKind(inst.Engine)
	if err != nil {
		return nil, nil, engine.Target{}, err
	}
	if inst.ContainerID == nil || inst.Host == nil || inst.Port == nil {
		return nil, nil, engine.Target{}, domain.NewError(domain.CodeConflictingState, "database has no bound container")
	}
	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		return nil, nil, engine.Target{}, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}
	target := engine.Target{
		ContainerID:   *inst.ContainerID,
		ContainerName: inst.ContainerName(),
		Host:          *inst.Host,
		Port:          *inst.Port,
		Username:      inst.Username,
		Password:      password,
	}
	return inst, adapter, target, nil
}

func (s *Service) ownedInstance(ctx context.Context, actor domain.Actor, id string) (*domain.Database, error) {
	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "database not found")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "load database")
	}
	project, err := s.projects.GetProjectByID(ctx, inst.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "project not found")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "load project")
	}
	if !actor.Owns(project.UserID) {
		return nil, domain.NewError(domain.CodeForbidden, "project belongs to another user")
	}
	return inst, nil
}
