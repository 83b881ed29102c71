// Package engine holds the per-engine adapters that translate generic
// instance operations into postgres or RESP specifics. Everything
// container-shaped stays in the docker driver; adapters only know how to
// build a container spec for their engine and how to talk to a live one.
package engine

import (
	"context"
	"strings"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
)

// Target addresses one live instance for adapter operations. Host and Port
// are the host-mapped side; ContainerName resolves on the instance network.
type Target struct {
	ContainerID   string
	ContainerName string
	Host          string
	Port          int
	Username      string
	Password      string
}

// CLIKind selects which interactive command an adapter spawns in a
// terminal session.
type CLIKind string

const (
	// CLIShell is a login shell inside the instance container.
	CLIShell CLIKind = "shell"
	// CLIClient is the engine's native interactive client.
	CLIClient CLIKind = "client"
)

// ShellFallback is retried when the primary shell is missing from the
// image. The alpine-based images ship without bash.
var ShellFallback = []string{"/bin/sh"}

// ReplicationMode selects how much of a parent lands in a branch.
type ReplicationMode string

const (
	ReplicationFull       ReplicationMode = "full"
	ReplicationSchemaOnly ReplicationMode = "schema_only"
)

// ExecRunner runs one-shot commands inside instance containers. Satisfied
// by *docker.Client.
type ExecRunner interface {
	RunExec(ctx context.Context, id string, cmd []string, env []string, stdin []byte) (docker.ExecResult, error)
}

// Adapter is the engine-specific half of instance management. One
// implementation exists per engine; lifecycle ordering, locking and
// persistence live above it.
type Adapter interface {
	Kind() domain.Engine
	DefaultVersion() string
	SupportedVersions() []string
	ImageRef(version string) string
	InternalPort() int

	// BuildSpec renders the container spec for an instance. The instance
	// must carry its allocated host port; password travels separately so
	// the encrypted row never needs decrypting twice.
	BuildSpec(inst domain.Database, password, network string) docker.ContainerSpec

	// ReadinessProbe reports nil once the engine answers a trivial
	// command on the host-mapped port.
	ReadinessProbe(ctx context.Context, host string, port int, password string) error

	// CLICommand returns the argv for an interactive terminal session.
	CLICommand(kind CLIKind, username string) []string

	// RotatePassword switches the engine-side credential from current to
	// next. The caller persists the new encrypted blob only on success.
	RotatePassword(ctx context.Context, target Target, current, next string) error

	ReadConfig(ctx context.Context, target Target) (domain.ConfigDocument, error)
	WriteConfig(ctx context.Context, target Target, content string) (domain.ConfigApplyResult, error)

	// Replicate copies src into dst according to mode. Both instances
	// must be serving.
	Replicate(ctx context.Context, src, dst Target, mode ReplicationMode) error
}

// Registry resolves adapters by engine kind.
type Registry struct {
	adapters map[domain.Engine]Adapter
}

// NewRegistry wires one adapter per supported engine. The runner is only
// needed by postgres, which shells into containers for config and forks.
func NewRegistry(runner ExecRunner) *Registry {
	return &Registry{adapters: map[domain.Engine]Adapter{
		domain.EnginePostgres: NewPostgres(runner),
		domain.EngineValkey:   NewValkey(),
		domain.EngineRedis:    NewRedis(),
	}}
}

// ForKind returns the adapter for the given engine.
func (r *Registry) ForKind(kind domain.Engine) (Adapter, error) {
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, domain.NewError(domain.CodeBadName, "no adapter for engine %q", kind)
	}
	return adapter, nil
}

// Kinds lists the registered engines in catalog order.
func (r *Registry) Kinds() []domain.Engine {
	return []domain.Engine{domain.EnginePostgres, domain.EngineValkey, domain.EngineRedis}
}

// InstanceLabels returns the docker labels stamped on every container and
// volume owned by an instance. Lookups and reconciliation key off these.
func InstanceLabels(inst domain.Database) map[string]string {
	return map[string]string{
		docker.LabelManaged:    "true",
		docker.LabelInstanceID: inst.ID,
		docker.LabelEngine:     inst.Engine.String(),
	}
}

// ResolveVersion validates a requested engine version against the
// adapter's catalog, applying the default when the request omits it.
func ResolveVersion(a Adapter, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return a.DefaultVersion(), nil
	}
	for _, v := range a.SupportedVersions() {
		if v == requested {
			return v, nil
		}
	}
	return "", domain.NewError(domain.CodeUnsupportedVersion, "engine %s does not support version %q", a.Kind(), requested).
		WithDetail("engine_version", "supported: "+strings.Join(a.SupportedVersions(), ", "))
}
