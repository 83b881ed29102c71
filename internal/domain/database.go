package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Engine identifies the contained database engine.
type Engine string

const (
	EnginePostgres Engine = "postgres"
	EngineValkey   Engine = "valkey"
	EngineRedis    Engine = "redis"
)

// ParseEngine validates a request-supplied engine name.
func ParseEngine(raw string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(raw))) {
	case EnginePostgres:
		return EnginePostgres, nil
	case EngineValkey:
		return EngineValkey, nil
	case EngineRedis:
		return EngineRedis, nil
	default:
		return "", NewError(CodeBadName, "unknown database type %q", raw).WithDetail("database_type", "must be one of postgres, valkey, redis")
	}
}

// IsKeyValue reports whether the engine speaks the RESP key-value protocol.
func (e Engine) IsKeyValue() bool {
	return e == EngineValkey || e == EngineRedis
}

func (e Engine) String() string {
	return string(e)
}

// Status enumerates instance lifecycle states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// CanStart reports whether a start transition is admissible.
func (s Status) CanStart() bool {
	return s == StatusStopped || s == StatusError
}

// CanStop reports whether a stop transition is admissible.
func (s Status) CanStop() bool {
	return s == StatusRunning
}

// DeletableWithoutForce reports whether delete is allowed without force.
func (s Status) DeletableWithoutForce() bool {
	return s == StatusStopped || s == StatusError || s == StatusPending
}

// Resource limit floors enforced on create and update.
const (
	MinCPUCores  = 0.5
	MinMemoryMB  = 256
	MinStorageMB = 512
)

// Default resource limits applied when a create request omits them.
const (
	DefaultCPUCores  = 1.0
	DefaultMemoryMB  = 512
	DefaultStorageMB = 1024
)

// DefaultUsername is the engine login every instance is provisioned with.
const DefaultUsername = "postgres"

// DefaultBranchName marks the trunk instance of a lineage.
const DefaultBranchName = "main"

var (
	instanceNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	branchNameRe   = regexp.MustCompile(`^[a-z0-9-]+$`)
)

// ValidateInstanceName checks user-facing database names.
func ValidateInstanceName(name string) error {
	if name == "" {
		return NewError(CodeBadName, "database name is required").WithDetail("name", "must not be empty")
	}
	if len(name) > 63 {
		return NewError(CodeBadName, "database name %q exceeds 63 characters", name).WithDetail("name", "must be at most 63 characters")
	}
	if !instanceNameRe.MatchString(name) {
		return NewError(CodeBadName, "database name %q contains invalid characters", name).WithDetail("name", "must match [a-z0-9][a-z0-9_-]*")
	}
	return nil
}

// ValidateBranchName checks branch names supplied to create_branch.
func ValidateBranchName(name string) error {
	if name == "" {
		return NewError(CodeBadName, "branch name is required").WithDetail("name", "must not be empty")
	}
	if len(name) > 63 {
		return NewError(CodeBadName, "branch name %q exceeds 63 characters", name).WithDetail("name", "must be at most 63 characters")
	}
	if !branchNameRe.MatchString(name) {
		return NewError(CodeBadName, "branch name %q contains invalid characters", name).WithDetail("name", "must match [a-z0-9-]+")
	}
	return nil
}

// ValidateLimits enforces the resource floors.
func ValidateLimits(cpuCores float64, memoryMB, storageMB int) error {
	if cpuCores < MinCPUCores {
		return NewError(CodeBadName, "cpu limit %.2f below minimum %.1f cores", cpuCores, MinCPUCores).WithDetail("cpu_limit", fmt.Sprintf("must be at least %.1f", MinCPUCores))
	}
	if memoryMB < MinMemoryMB {
		return NewError(CodeBadName, "memory limit %dMB below minimum %dMB", memoryMB, MinMemoryMB).WithDetail("memory_limit_mb", fmt.Sprintf("must be at least %d", MinMemoryMB))
	}
	if storageMB < MinStorageMB {
		return NewError(CodeBadName, "storage limit %dMB below minimum %dMB", storageMB, MinStorageMB).WithDetail("storage_limit_mb", fmt.Sprintf("must be at least %d", MinStorageMB))
	}
	return nil
}

// Database is a single managed instance: one container, one volume, one port.
type Database struct {
	ID                string
	ProjectID         string
	Name              string
	Engine            Engine
	EngineVersion     string
	Status            Status
	StatusReason      *string
	ContainerID       *string
	Host              *string
	Port              *int
	Username          string
	PasswordEncrypted string
	CPUCores          float64
	MemoryMB          int
	StorageMB         int
	PublicExposed     bool
	BranchName        string
	IsDefault         bool
	ParentID          *string
	ParentName        *string
	ForkedAt          *time.Time
	StorageUsedMB     int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsBranch reports whether the instance was forked from a parent.
func (d *Database) IsBranch() bool {
	return d.ParentID != nil && *d.ParentID != ""
}

// ContainerName derives the deterministic container name for the instance.
func (d *Database) ContainerName() string {
	sanitized := sanitizeName(d.Name)
	switch d.Engine {
	case EngineValkey:
		return "datify-valkey-" + sanitized
	case EngineRedis:
		return "datify-redis-" + sanitized
	default:
		return "datify-pg-" + sanitized
	}
}

// VolumeName derives the named volume holding the instance's data. The
// volume lives and dies with the instance, not the container.
func (d *Database) VolumeName() string {
	return d.ContainerName() + "-data"
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, name)
}

// ConnectionInfo is the decrypted connection view returned to owners of a
// running instance.
type ConnectionInfo struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Database         string
	ConnectionString string
}

// BuildConnectionString renders the engine-native connection URI.
func BuildConnectionString(engine Engine, username, password, host string, port int) string {
	if engine.IsKeyValue() {
		return fmt.Sprintf("redis://:%s@%s:%d/0", password, host, port)
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/postgres", username, password, host, port)
}

// BranchInfo is the branch slice of an instance view, carrying parent
// context when the instance was forked.
type BranchInfo struct {
	Name       string
	IsDefault  bool
	ParentID   *string
	ParentName *string
	ForkedAt   *time.Time
}
