package system

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
	"github.com/Datify-sh/Datify/internal/repository"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type stubDocker struct {
	engineVersion string
	apiVersion    string
	err           error
}

func (s stubDocker) ServerVersion(context.Context) (string, string, error) {
	return s.engineVersion, s.apiVersion, s.err
}

type stubCounts struct {
	repository.DatabaseRepository
	total   int
	running int
}

func (s stubCounts) CountDatabases(context.Context) (int, error) { return s.total, nil }

func (s stubCounts) CountDatabasesByStatus(_ context.Context, status domain.Status) (int, error) {
	if status != domain.StatusRunning {
		return 0, nil
	}
	return s.running, nil
}

func newService(docker DockerInfo) *Service {
	svc := New(
		stubCounts{total: 5, running: 2},
		docker,
		engine.NewRegistry(nil),
		newTestLogger(),
		"1.2.3",
		time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
	)
	svc.now = func() time.Time { return time.Date(2025, 7, 1, 12, 10, 30, 0, time.UTC) }
	return svc
}

func TestInfoReportsRuntimeAndCounts(t *testing.T) {
	svc := newService(stubDocker{engineVersion: "26.1.1", apiVersion: "1.45"})

	info, err := svc.Info(context.Background())
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Version != "1.2.3" {
		t.Fatalf("version = %q", info.Version)
	}
	if info.UptimeSeconds != 630 {
		t.Fatalf("uptime = %d, want 630", info.UptimeSeconds)
	}
	if info.DockerStatus != "connected" || info.DockerVersion != "26.1.1" || info.DockerAPIVersion != "1.45" {
		t.Fatalf("docker fields = %+v", info)
	}
	if info.TotalDatabases != 5 || info.RunningDatabases != 2 {
		t.Fatalf("counts = %d/%d, want 5/2", info.TotalDatabases, info.RunningDatabases)
	}
}

func TestInfoDegradesWhenDockerIsDown(t *testing.T) {
	svc := newService(stubDocker{err: errors.New("cannot connect to the docker daemon")})

	info, err := svc.Info(context.Background())
	if err != nil {
		t.Fatalf("info should not fail on a dead runtime: %v", err)
	}
	if info.DockerStatus != "unreachable" {
		t.Fatalf("DockerStatus = %q, want unreachable", info.DockerStatus)
	}
	if info.DockerVersion != "" {
		t.Fatalf("DockerVersion = %q, want empty", info.DockerVersion)
	}
	if info.TotalDatabases != 5 {
		t.Fatalf("counts should still be served, got %+v", info)
	}
}

func TestVersionsCatalog(t *testing.T) {
	svc := newService(stubDocker{})

	catalog, err := svc.Versions(domain.EnginePostgres)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if catalog.DefaultVersion != "16" {
		t.Fatalf("default = %q, want 16", catalog.DefaultVersion)
	}
	if len(catalog.Versions) == 0 {
		t.Fatal("empty catalog")
	}
	last := catalog.Versions[len(catalog.Versions)-1]
	if !last.IsLatest {
		t.Fatalf("last entry %+v should carry the latest flag", last)
	}
	for _, v := range catalog.Versions[:len(catalog.Versions)-1] {
		if v.IsLatest {
			t.Fatalf("entry %+v should not be latest", v)
		}
	}
	if last.Tag != "postgres:"+last.Version {
		t.Fatalf("tag = %q", last.Tag)
	}

	valkey, err := svc.Versions(domain.EngineValkey)
	if err != nil {
		t.Fatalf("valkey versions: %v", err)
	}
	if valkey.DefaultVersion != "8.0" {
		t.Fatalf("valkey default = %q, want 8.0", valkey.DefaultVersion)
	}

	if _, err := svc.Versions(domain.Engine("mysql")); !domain.IsCode(err, domain.CodeBadName) {
		t.Fatalf("unknown engine: expected BAD_NAME, got %v", err)
	}
}
