package engine

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
)

// Postgres adapts managed PostgreSQL instances. Config reads, config
// writes and branch replication shell into the container; everything else
// speaks SQL over the host-mapped port.
type Postgres struct {
	runner ExecRunner
}

var _ Adapter = (*Postgres)(nil)

// NewPostgres returns the postgres adapter.
func NewPostgres(runner ExecRunner) *Postgres {
	return &Postgres{runner: runner}
}

func (p *Postgres) Kind() domain.Engine { return domain.EnginePostgres }

func (p *Postgres) DefaultVersion() string { return "16" }

func (p *Postgres) SupportedVersions() []string {
	return []string{"14", "15", "16", "17", "18"}
}

func (p *Postgres) ImageRef(version string) string { return "postgres:" + version }

func (p *Postgres) InternalPort() int { return 5432 }

// BuildSpec renders the postgres container. The 18+ images moved the
// mount point one level up, so the data path follows the image major.
func (p *Postgres) BuildSpec(inst domain.Database, password, network string) docker.ContainerSpec {
	mountPath := "/var/lib/postgresql/data"
	if postgresMajor(inst.EngineVersion) >= 18 {
		mountPath = "/var/lib/postgresql"
	}

	spec := docker.ContainerSpec{
		Name:  inst.ContainerName(),
		Image: p.ImageRef(inst.EngineVersion),
		Env: []string{
			"POSTGRES_USER=" + inst.Username,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=postgres",
			"POSTGRES_HOST_AUTH_METHOD=scram-sha-256",
		},
		Cmd: []string{
			"postgres",
			"-c", "shared_preload_libraries=pg_stat_statements",
			"-c", "pg_stat_statements.track=all",
		},
		InternalPort: p.InternalPort(),
		VolumeName:   inst.VolumeName(),
		MountPath:    mountPath,
		MemoryBytes:  int64(inst.MemoryMB) * 1024 * 1024,
		NanoCPUs:     int64(inst.CPUCores * 1e9),
		Network:      network,
		Labels:       InstanceLabels(inst),
	}
	if inst.Port != nil {
		spec.HostPort = *inst.Port
	}
	return spec
}

func (p *Postgres) ReadinessProbe(ctx context.Context, host string, port int, password string) error {
	conn, err := pgx.Connect(ctx, PostgresDSN(host, port, domain.DefaultUsername, password))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(ctx)

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("probe postgres: %w", err)
	}
	return nil
}

func (p *Postgres) CLICommand(kind CLIKind, username string) []string {
	if kind == CLIShell {
		return []string{"/bin/bash", "-l"}
	}
	return []string{"psql", "-U", username, "-d", "postgres"}
}

// RotatePassword issues ALTER USER while authenticated with the current
// credential. Postgres persists the new one in its own catalog, so no
// verification round-trip is needed.
func (p *Postgres) RotatePassword(ctx context.Context, target Target, current, next string) error {
	conn, err := pgx.Connect(ctx, PostgresDSN(target.Host, target.Port, target.Username, current))
	if err != nil {
		return domain.WrapError(domain.CodeIOError, err, "connect postgres for rotation")
	}
	defer conn.Close(ctx)

	stmt := fmt.Sprintf("ALTER USER %s WITH PASSWORD %s",
		pgx.Identifier{target.Username}.Sanitize(), quoteLiteral(next))
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return domain.WrapError(domain.CodeIOError, err, "rotate postgres password")
	}
	return nil
}

// ReadConfig returns the live postgresql.conf. The official images export
// PGDATA, which tracks the version-dependent data directory for us.
func (p *Postgres) ReadConfig(ctx context.Context, target Target) (domain.ConfigDocument, error) {
	doc := domain.ConfigDocument{
		DatabaseType: domain.EnginePostgres,
		Format:       domain.ConfigFormatFile,
		Source:       domain.ConfigSourceFile,
	}

	res, err := p.runner.RunExec(ctx, target.ContainerID, []string{"sh", "-c", `cat "$PGDATA/postgresql.conf"`}, nil, nil)
	if err != nil {
		return domain.ConfigDocument{}, domain.WrapError(domain.CodeIOError, err, "read postgresql.conf")
	}
	if res.ExitCode != 0 {
		doc.Source = domain.ConfigSourceEmpty
		doc.Warnings = append(doc.Warnings, "postgresql.conf not readable: "+strings.TrimSpace(res.Stderr))
		return doc, nil
	}
	doc.Content = res.Stdout

	pending, err := p.pendingRestartSettings(ctx, target)
	if err != nil {
		doc.Warnings = append(doc.Warnings, "could not check pending restarts: "+err.Error())
		return doc, nil
	}
	if len(pending) > 0 {
		doc.RequiresRestart = true
		doc.Warnings = append(doc.Warnings, "restart required to apply: "+strings.Join(pending, ", "))
	}
	return doc, nil
}

// WriteConfig replaces postgresql.conf wholesale and reloads. Settings the
// reload cannot pick up leave the write persisted but unapplied.
func (p *Postgres) WriteConfig(ctx context.Context, target Target, content string) (domain.ConfigApplyResult, error) {
	result := domain.ConfigApplyResult{DatabaseType: domain.EnginePostgres, Applied: true}

	res, err := p.runner.RunExec(ctx, target.ContainerID, []string{"sh", "-c", `cat > "$PGDATA/postgresql.conf"`}, nil, []byte(content))
	if err != nil {
		return domain.ConfigApplyResult{}, domain.WrapError(domain.CodeIOError, err, "write postgresql.conf")
	}
	if res.ExitCode != 0 {
		return domain.ConfigApplyResult{}, domain.NewError(domain.CodeIOError, "write postgresql.conf: %s", strings.TrimSpace(res.Stderr))
	}

	conn, err := pgx.Connect(ctx, PostgresDSN(target.Host, target.Port, target.Username, target.Password))
	if err != nil {
		return domain.ConfigApplyResult{}, domain.WrapError(domain.CodeIOError, err, "connect postgres for reload")
	}
	defer conn.Close(ctx)

	var reloaded bool
	if err := conn.QueryRow(ctx, "SELECT pg_reload_conf()").Scan(&reloaded); err != nil {
		return domain.ConfigApplyResult{}, domain.WrapError(domain.CodeIOError, err, "reload postgres config")
	}

	rows, err := conn.Query(ctx, `SELECT COALESCE(name, ''), error FROM pg_file_settings WHERE error IS NOT NULL`)
	if err != nil {
		result.Warnings = append(result.Warnings, "could not check file settings: "+err.Error())
	} else {
		defer rows.Close()
		for rows.Next() {
			var name, problem string
			if err := rows.Scan(&name, &problem); err != nil {
				return domain.ConfigApplyResult{}, domain.WrapError(domain.CodeStoreError, err, "scan pg_file_settings")
			}
			result.Applied = false
			if name == "" {
				result.Warnings = append(result.Warnings, problem)
				continue
			}
			result.Warnings = append(result.Warnings, name+": "+problem)
		}
		if err := rows.Err(); err != nil {
			return domain.ConfigApplyResult{}, domain.WrapError(domain.CodeStoreError, err, "read pg_file_settings")
		}
	}

	pending, err := p.pendingRestartSettings(ctx, target)
	if err != nil {
		result.Warnings = append(result.Warnings, "could not check pending restarts: "+err.Error())
		return result, nil
	}
	if len(pending) > 0 {
		result.Applied = false
		result.RequiresRestart = true
		result.Warnings = append(result.Warnings, "restart required to apply: "+strings.Join(pending, ", "))
	}
	return result, nil
}

// Replicate forks parent data into the child by running the dump inside
// the child container, reaching the parent by container name over the
// shared network. The child always restores into its own localhost.
func (p *Postgres) Replicate(ctx context.Context, src, dst Target, mode ReplicationMode) error {
	var pipeline string
	switch mode {
	case ReplicationSchemaOnly:
		pipeline = fmt.Sprintf(
			"PGPASSWORD=%s PGCONNECT_TIMEOUT=10 pg_dump -h %s -U %s -d postgres --schema-only"+
				" | PGPASSWORD=%s PGCONNECT_TIMEOUT=10 psql -h localhost -U %s -d postgres",
			shellQuote(src.Password), src.ContainerName, src.Username,
			shellQuote(dst.Password), dst.Username)
	default:
		pipeline = fmt.Sprintf(
			"PGPASSWORD=%s PGCONNECT_TIMEOUT=10 pg_dump -h %s -U %s -d postgres -Fc"+
				" | PGPASSWORD=%s PGCONNECT_TIMEOUT=10 pg_restore -h localhost -U %s -d postgres --clean --if-exists --no-owner --no-privileges",
			shellQuote(src.Password), src.ContainerName, src.Username,
			shellQuote(dst.Password), dst.Username)
	}

	res, err := p.runner.RunExec(ctx, dst.ContainerID, []string{"sh", "-c", pipeline}, nil, nil)
	if err != nil {
		return domain.WrapError(domain.CodeIOError, err, "replicate postgres data")
	}
	if res.ExitCode != 0 {
		return domain.NewError(domain.CodeIOError, "postgres replication exited %d: %s", res.ExitCode, lastLine(res.Stderr))
	}
	return nil
}

func (p *Postgres) pendingRestartSettings(ctx context.Context, target Target) ([]string, error) {
	conn, err := pgx.Connect(ctx, PostgresDSN(target.Host, target.Port, target.Username, target.Password))
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT name FROM pg_settings WHERE pending_restart ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PostgresDSN renders a connection URL for a managed instance. The
// password is URL-escaped so rotation never produces an unparseable DSN.
func PostgresDSN(host string, port int, username, password string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/postgres?sslmode=disable&connect_timeout=10",
		url.QueryEscape(username), url.QueryEscape(password), net.JoinHostPort(host, strconv.Itoa(port)))
}

func postgresMajor(version string) int {
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return n
}

// quoteLiteral renders a single-quoted SQL literal, doubling embedded
// quotes. ALTER USER cannot take the password as a bind parameter.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
