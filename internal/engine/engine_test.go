package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
)

type stubRunner struct {
	runFunc func(ctx context.Context, id string, cmd []string, env []string, stdin []byte) (docker.ExecResult, error)
}

func (s *stubRunner) RunExec(ctx context.Context, id string, cmd []string, env []string, stdin []byte) (docker.ExecResult, error) {
	return s.runFunc(ctx, id, cmd, env, stdin)
}

func testInstance(engine domain.Engine, version string) domain.Database {
	port := 30100
	return domain.Database{
		ID:            "db-1",
		ProjectID:     "proj-1",
		Name:          "orders",
		Engine:        engine,
		EngineVersion: version,
		Username:      domain.DefaultUsername,
		Port:          &port,
		CPUCores:      1.5,
		MemoryMB:      512,
		StorageMB:     1024,
	}
}

func TestRegistryCoversAllEngines(t *testing.T) {
	registry := NewRegistry(&stubRunner{})

	for _, kind := range []domain.Engine{domain.EnginePostgres, domain.EngineValkey, domain.EngineRedis} {
		adapter, err := registry.ForKind(kind)
		if err != nil {
			t.Fatalf("ForKind(%s): %v", kind, err)
		}
		if adapter.Kind() != kind {
			t.Fatalf("adapter for %s reports kind %s", kind, adapter.Kind())
		}
	}

	if _, err := registry.ForKind(domain.Engine("mysql")); err == nil {
		t.Fatalf("expected error for unregistered engine")
	}
}

func TestResolveVersion(t *testing.T) {
	adapter := NewValkey()

	version, err := ResolveVersion(adapter, "")
	if err != nil {
		t.Fatalf("resolve default: %v", err)
	}
	if version != "8.0" {
		t.Fatalf("default version = %s, want 8.0", version)
	}

	version, err = ResolveVersion(adapter, "7.2")
	if err != nil {
		t.Fatalf("resolve 7.2: %v", err)
	}
	if version != "7.2" {
		t.Fatalf("version = %s, want 7.2", version)
	}

	if _, err := ResolveVersion(adapter, "5.0"); !domain.IsCode(err, domain.CodeUnsupportedVersion) {
		t.Fatalf("expected UNSUPPORTED_VERSION, got %v", err)
	}
}

func TestPostgresBuildSpec(t *testing.T) {
	adapter := NewPostgres(&stubRunner{})
	inst := testInstance(domain.EnginePostgres, "16")

	spec := adapter.BuildSpec(inst, "secret-pw", "datify-net")

	if spec.Image != "postgres:16" {
		t.Fatalf("image = %s", spec.Image)
	}
	if spec.Name != "datify-pg-orders" {
		t.Fatalf("name = %s", spec.Name)
	}
	if spec.MountPath != "/var/lib/postgresql/data" {
		t.Fatalf("mount path = %s", spec.MountPath)
	}
	if spec.VolumeName != "datify-pg-orders-data" {
		t.Fatalf("volume = %s", spec.VolumeName)
	}
	if spec.InternalPort != 5432 || spec.HostPort != 30100 {
		t.Fatalf("ports = %d/%d", spec.InternalPort, spec.HostPort)
	}
	if spec.MemoryBytes != 512*1024*1024 {
		t.Fatalf("memory = %d", spec.MemoryBytes)
	}
	if spec.NanoCPUs != 1_500_000_000 {
		t.Fatalf("nano cpus = %d", spec.NanoCPUs)
	}
	if spec.Network != "datify-net" {
		t.Fatalf("network = %s", spec.Network)
	}
	if spec.Labels[docker.LabelInstanceID] != "db-1" || spec.Labels[docker.LabelEngine] != "postgres" {
		t.Fatalf("labels = %v", spec.Labels)
	}

	env := strings.Join(spec.Env, "\n")
	for _, want := range []string{
		"POSTGRES_USER=postgres",
		"POSTGRES_PASSWORD=secret-pw",
		"POSTGRES_DB=postgres",
		"POSTGRES_HOST_AUTH_METHOD=scram-sha-256",
	} {
		if !strings.Contains(env, want) {
			t.Fatalf("env missing %q: %v", want, spec.Env)
		}
	}

	cmd := strings.Join(spec.Cmd, " ")
	if !strings.Contains(cmd, "shared_preload_libraries=pg_stat_statements") {
		t.Fatalf("cmd missing pg_stat_statements: %v", spec.Cmd)
	}
}

func TestPostgresMountPathMovesOn18(t *testing.T) {
	adapter := NewPostgres(&stubRunner{})

	inst := testInstance(domain.EnginePostgres, "18")
	if spec := adapter.BuildSpec(inst, "pw", ""); spec.MountPath != "/var/lib/postgresql" {
		t.Fatalf("v18 mount path = %s", spec.MountPath)
	}

	inst = testInstance(domain.EnginePostgres, "17")
	if spec := adapter.BuildSpec(inst, "pw", ""); spec.MountPath != "/var/lib/postgresql/data" {
		t.Fatalf("v17 mount path = %s", spec.MountPath)
	}
}

func TestKeyValueBuildSpec(t *testing.T) {
	adapter := NewValkey()
	inst := testInstance(domain.EngineValkey, "8.0")
	inst.Name = "cache"

	spec := adapter.BuildSpec(inst, "kv-pw", "datify-net")

	if spec.Image != "valkey/valkey:8.0-alpine" {
		t.Fatalf("image = %s", spec.Image)
	}
	if spec.Name != "datify-valkey-cache" {
		t.Fatalf("name = %s", spec.Name)
	}
	if spec.MountPath != "/data" {
		t.Fatalf("mount path = %s", spec.MountPath)
	}
	if spec.InternalPort != 6379 {
		t.Fatalf("internal port = %d", spec.InternalPort)
	}

	cmd := strings.Join(spec.Cmd, " ")
	if cmd != "valkey-server --requirepass kv-pw --appendonly yes" {
		t.Fatalf("cmd = %q", cmd)
	}

	redisSpec := NewRedis().BuildSpec(testInstance(domain.EngineRedis, "7.4"), "pw", "")
	if redisSpec.Image != "redis:7.4-alpine" {
		t.Fatalf("redis image = %s", redisSpec.Image)
	}
	if redisSpec.Cmd[0] != "redis-server" {
		t.Fatalf("redis cmd = %v", redisSpec.Cmd)
	}
}

func TestCLICommands(t *testing.T) {
	registry := NewRegistry(&stubRunner{})

	pg, _ := registry.ForKind(domain.EnginePostgres)
	if got := strings.Join(pg.CLICommand(CLIClient, "postgres"), " "); got != "psql -U postgres -d postgres" {
		t.Fatalf("psql command = %q", got)
	}
	if got := strings.Join(pg.CLICommand(CLIShell, "postgres"), " "); got != "/bin/bash -l" {
		t.Fatalf("shell command = %q", got)
	}

	valkey, _ := registry.ForKind(domain.EngineValkey)
	if got := valkey.CLICommand(CLIClient, "postgres"); len(got) != 1 || got[0] != "valkey-cli" {
		t.Fatalf("valkey cli = %v", got)
	}

	redis, _ := registry.ForKind(domain.EngineRedis)
	if got := redis.CLICommand(CLIClient, "postgres"); len(got) != 1 || got[0] != "redis-cli" {
		t.Fatalf("redis cli = %v", got)
	}
}

func TestPostgresReplicatePipeline(t *testing.T) {
	var captured []string
	var execTarget string
	adapter := NewPostgres(&stubRunner{
		runFunc: func(_ context.Context, id string, cmd []string, _ []string, _ []byte) (docker.ExecResult, error) {
			execTarget = id
			captured = cmd
			return docker.ExecResult{ExitCode: 0}, nil
		},
	})

	src := Target{ContainerID: "c-parent", ContainerName: "datify-pg-orders", Username: "postgres", Password: "parent-pw"}
	dst := Target{ContainerID: "c-child", ContainerName: "datify-pg-orders-feature", Username: "postgres", Password: "child-pw"}

	if err := adapter.Replicate(context.Background(), src, dst, ReplicationFull); err != nil {
		t.Fatalf("replicate: %v", err)
	}
	if execTarget != "c-child" {
		t.Fatalf("exec ran in %s, want the child container", execTarget)
	}
	if len(captured) != 3 || captured[0] != "sh" || captured[1] != "-c" {
		t.Fatalf("cmd = %v", captured)
	}

	pipeline := captured[2]
	for _, want := range []string{
		"pg_dump -h datify-pg-orders -U postgres",
		"-Fc",
		"pg_restore -h localhost -U postgres",
		"--clean --if-exists --no-owner --no-privileges",
		"PGPASSWORD='parent-pw'",
		"PGPASSWORD='child-pw'",
	} {
		if !strings.Contains(pipeline, want) {
			t.Fatalf("pipeline missing %q: %s", want, pipeline)
		}
	}

	if err := adapter.Replicate(context.Background(), src, dst, ReplicationSchemaOnly); err != nil {
		t.Fatalf("schema replicate: %v", err)
	}
	pipeline = captured[2]
	if !strings.Contains(pipeline, "--schema-only") || !strings.Contains(pipeline, "| PGPASSWORD='child-pw' PGCONNECT_TIMEOUT=10 psql") {
		t.Fatalf("schema pipeline = %s", pipeline)
	}
}

func TestPostgresReplicateReportsExitCode(t *testing.T) {
	adapter := NewPostgres(&stubRunner{
		runFunc: func(context.Context, string, []string, []string, []byte) (docker.ExecResult, error) {
			return docker.ExecResult{ExitCode: 1, Stderr: "pg_dump: error: connection refused\n"}, nil
		},
	})

	err := adapter.Replicate(context.Background(), Target{}, Target{}, ReplicationFull)
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("error does not carry stderr: %v", err)
	}
}

func TestKeyValueReplicateRejectsSchemaOnly(t *testing.T) {
	err := NewValkey().Replicate(context.Background(), Target{}, Target{}, ReplicationSchemaOnly)
	if !domain.IsCode(err, domain.CodeUnsupportedBranchMode) {
		t.Fatalf("expected UNSUPPORTED_BRANCH_MODE, got %v", err)
	}
}

func TestKeyValueWriteConfigRejectsMalformedLine(t *testing.T) {
	adapter := NewValkey()
	target := Target{Host: "127.0.0.1", Port: 1, Password: "pw"}

	_, err := adapter.WriteConfig(context.Background(), target, "maxmemory-policy\n")
	if !domain.IsCode(err, domain.CodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG, got %v", err)
	}
}

func TestPostgresReadConfigReturnsFileContent(t *testing.T) {
	adapter := NewPostgres(&stubRunner{
		runFunc: func(_ context.Context, _ string, cmd []string, _ []string, _ []byte) (docker.ExecResult, error) {
			if !strings.Contains(strings.Join(cmd, " "), "postgresql.conf") {
				t.Fatalf("unexpected exec cmd %v", cmd)
			}
			return docker.ExecResult{ExitCode: 0, Stdout: "max_connections = 100\n"}, nil
		},
	})

	// Port 1 refuses immediately, so the pending-restart probe degrades
	// to a warning instead of hanging the test.
	target := Target{ContainerID: "c-1", Host: "127.0.0.1", Port: 1, Username: "postgres", Password: "pw"}

	doc, err := adapter.ReadConfig(context.Background(), target)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if doc.Content != "max_connections = 100\n" {
		t.Fatalf("content = %q", doc.Content)
	}
	if doc.Format != domain.ConfigFormatFile || doc.Source != domain.ConfigSourceFile {
		t.Fatalf("format/source = %s/%s", doc.Format, doc.Source)
	}
	if len(doc.Warnings) == 0 {
		t.Fatalf("expected pending-restart warning when the engine is unreachable")
	}
}

func TestPostgresReadConfigMissingFile(t *testing.T) {
	adapter := NewPostgres(&stubRunner{
		runFunc: func(context.Context, string, []string, []string, []byte) (docker.ExecResult, error) {
			return docker.ExecResult{ExitCode: 1, Stderr: "cat: can't open\n"}, nil
		},
	})

	doc, err := adapter.ReadConfig(context.Background(), Target{ContainerID: "c-1"})
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if doc.Source != domain.ConfigSourceEmpty || doc.Content != "" {
		t.Fatalf("source/content = %s/%q", doc.Source, doc.Content)
	}
}

func TestQuoteHelpers(t *testing.T) {
	if got := quoteLiteral("pa'ss"); got != "'pa''ss'" {
		t.Fatalf("quoteLiteral = %s", got)
	}
	if got := shellQuote("pa'ss"); got != `'pa'\''ss'` {
		t.Fatalf("shellQuote = %s", got)
	}
	if got := postgresMajor("18.1"); got != 18 {
		t.Fatalf("postgresMajor(18.1) = %d", got)
	}
	if got := postgresMajor("latest"); got != 0 {
		t.Fatalf("postgresMajor(latest) = %d", got)
	}
}
