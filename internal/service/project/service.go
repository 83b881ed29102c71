// Package project implements project CRUD. Projects are the ownership
// boundary: every instance belongs to one project and every project to one
// user, so all instance-level access checks resolve through here.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
)

const maxNameLength = 100

// maxSlugAttempts bounds the suffix probing when a popular name keeps
// colliding on the unique slug index.
const maxSlugAttempts = 100

// InstanceDeleter force-deletes every instance in a project before the
// project row goes away. Satisfied by the database service.
type InstanceDeleter interface {
	DeleteProjectDatabases(ctx context.Context, actor domain.Actor, projectID string) error
}

// InstanceCounter supplies the database_count carried by project views.
// Satisfied by any DatabaseRepository.
type InstanceCounter interface {
	CountDatabasesByProject(ctx context.Context, projectID string) (int, error)
}

// Service owns project CRUD and the delete cascade into instances.
type Service struct {
	projects  repository.ProjectRepository
	counter   InstanceCounter
	instances InstanceDeleter
	logger    *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, counter InstanceCounter, instances InstanceDeleter, logger *slog.Logger) *Service {
	return &Service{projects: projects, counter: counter, instances: instances, logger: logger}
}

// CreateInput carries a new project request.
type CreateInput struct {
	Name        string
	Description string
	Settings    string
}

// UpdateInput patches a project. Nil fields stay untouched.
type UpdateInput struct {
	Name        *string
	Description *string
	Settings    *string
}

// Create inserts a project owned by the actor. The slug derives from the
// name; collisions on the unique index probe numbered suffixes until one
// fits.
func (s *Service) Create(ctx context.Context, actor domain.Actor, input CreateInput) (*domain.Project, error) {
	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateSettings(input.Settings); err != nil {
		return nil, err
	}

	base := slugify(name)
	project := &domain.Project{
		ID:          uuid.NewString(),
		UserID:      actor.UserID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Settings:    input.Settings,
	}
	for attempt := 0; ; attempt++ {
		if attempt >= maxSlugAttempts {
			return nil, domain.NewError(domain.CodeDuplicateName, "could not find a free slug for %q", name)
		}
		project.Slug = base
		if attempt > 0 {
			project.Slug = base + "-" + strconv.Itoa(attempt)
		}
		err := s.projects.CreateProject(ctx, project)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicate) {
			continue
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "create project")
	}

	created, err := s.projects.GetProjectByID(ctx, project.ID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "load created project")
	}
	s.logger.Info("project created", "project_id", created.ID, "slug", created.Slug, "user_id", actor.UserID)
	return created, nil
}

// Get returns one owned project with its instance count.
func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (*domain.ProjectWithStats, error) {
	project, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	count, err := s.counter.CountDatabasesByProject(ctx, id)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "count databases")
	}
	return &domain.ProjectWithStats{Project: *project, DatabaseCount: count}, nil
}

// List returns the actor's projects, newest first, with instance counts.
func (s *Service) List(ctx context.Context, actor domain.Actor) ([]domain.ProjectWithStats, error) {
	projects, err := s.projects.ListProjectsByUser(ctx, actor.UserID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "list projects")
	}
	return projects, nil
}

// Update patches name, description or settings on an owned project.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id string, input UpdateInput) (*domain.Project, error) {
	project, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := validateName(name); err != nil {
			return nil, err
		}
		project.Name = name
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Settings != nil {
		if err := validateSettings(*input.Settings); err != nil {
			return nil, err
		}
		project.Settings = *input.Settings
	}

	if err := s.projects.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewError(domain.CodeNotFound, "project not found")
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "update project")
	}
	updated, err := s.projects.GetProjectByID(ctx, id)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "load updated project")
	}
	return updated, nil
}

// Delete force-deletes every instance in the project, then the project
// row itself. Containers and volumes must go through the instance service
// so nothing orphans on the docker side before the rows disappear.
func (s *Service) Delete(ctx context.Context, actor domain.Actor, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.instances.DeleteProjectDatabases(ctx, actor, id); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NewError(domain.CodeNotFound, "project not found")
		}
		return domain.WrapError(domain.CodeStoreError, err, "delete project")
	}
	s.logger.Info("project deleted", "project_id", id, "user_id", actor.UserID)
	return nil
}

func (s *Service) owned(ctx context.Context, actor domain.Actor, id string) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, id)
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

func validateName(name string) error {
	if name == "" {
		return domain.NewError(domain.CodeBadName, "project name must not be empty")
	}
	if len(name) > maxNameLength {
		return domain.NewError(domain.CodeBadName, "project name must be at most %d characters", maxNameLength)
	}
	return nil
}

// validateSettings gates the opaque settings blob: the store keeps it as
// text, but only JSON goes in so readers never choke on it.
func validateSettings(settings string) error {
	if settings == "" {
		return nil
	}
	if !json.Valid([]byte(settings)) {
		return domain.NewError(domain.CodeBadName, "settings must be a valid JSON document")
	}
	return nil
}

// slugify lowercases the name and collapses every non-alphanumeric run
// into a single dash.
func slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !isAlnum {
			if b.Len() > 0 {
				pendingDash = true
			}
			continue
		}
		if pendingDash {
			b.WriteByte('-')
			pendingDash = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "project"
	}
	return b.String()
}
