// Package system serves daemon introspection: build version, uptime,
// docker runtime health, instance totals and the engine version catalogs.
package system

import (
	"context"
	"log/slog"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
	"github.com/Datify-sh/Datify/internal/repository"
)

// DockerInfo is the runtime probe the info endpoint needs. Satisfied by
// *docker.Client.
type DockerInfo interface {
	ServerVersion(ctx context.Context) (engine string, api string, err error)
}

// AdapterRegistry resolves engine adapters. Satisfied by *engine.Registry.
type AdapterRegistry interface {
	ForKind(kind domain.Engine) (engine.Adapter, error)
}

// Service answers the system endpoints.
type Service struct {
	databases repository.DatabaseRepository
	docker    DockerInfo
	adapters  AdapterRegistry
	logger    *slog.Logger
	version   string
	started   time.Time
	now       func() time.Time
}

// New returns a system service. version is the build stamp and started
// anchors the uptime counter.
func New(databases repository.DatabaseRepository, docker DockerInfo, adapters AdapterRegistry, logger *slog.Logger, version string, started time.Time) *Service {
	return &Service{
		databases: databases,
		docker:    docker,
		adapters:  adapters,
		logger:    logger,
		version:   version,
		started:   started,
		now:       time.Now,
	}
}

// Info reports daemon and runtime state. A dead docker daemon degrades
// the answer instead of failing it: the endpoint is what operators reach
// for when the runtime is down.
func (s *Service) Info(ctx context.Context) (*domain.SystemInfo, error) {
	info := &domain.SystemInfo{
		Version:       s.version,
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
	}

	engineVersion, apiVersion, err := s.docker.ServerVersion(ctx)
	if err != nil {
		s.logger.Warn("docker version probe failed", "error", err)
		info.DockerStatus = "unreachable"
	} else {
		info.DockerStatus = "connected"
		info.DockerVersion = engineVersion
		info.DockerAPIVersion = apiVersion
	}

	total, err := s.databases.CountDatabases(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "count databases")
	}
	running, err := s.databases.CountDatabasesByStatus(ctx, domain.StatusRunning)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "count running databases")
	}
	info.TotalDatabases = total
	info.RunningDatabases = running
	return info, nil
}

// Versions returns the catalog for one engine. The newest supported
// version carries the latest flag; the default can trail it.
func (s *Service) Versions(kind domain.Engine) (*domain.VersionCatalog, error) {
	adapter, err := s.adapters.ForKind(kind)
	if err != nil {
		return nil, err
	}
	supported := adapter.SupportedVersions()
	latest := ""
	if len(supported) > 0 {
		latest = supported[len(supported)-1]
	}
	catalog := &domain.VersionCatalog{DefaultVersion: adapter.DefaultVersion()}
	for _, v := range supported {
		catalog.Versions = append(catalog.Versions, domain.VersionInfo{
			Version:  v,
			Tag:      adapter.ImageRef(v),
			IsLatest: v == latest,
		})
	}
	return catalog, nil
}
