package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
)

const (
	respPort      = 6379
	respScanCount = 512
)

// keyValue is the adapter shared by the RESP engines. Valkey and redis
// differ only in image, server binary and client binary.
type keyValue struct {
	kind     domain.Engine
	repo     string
	server   string
	cli      string
	versions []string
	defaultV string
}

var _ Adapter = keyValue{}

func (k keyValue) Kind() domain.Engine { return k.kind }

func (k keyValue) DefaultVersion() string { return k.defaultV }

func (k keyValue) SupportedVersions() []string { return k.versions }

func (k keyValue) ImageRef(version string) string {
	return fmt.Sprintf("%s:%s-alpine", k.repo, version)
}

func (k keyValue) InternalPort() int { return respPort }

func (k keyValue) BuildSpec(inst domain.Database, password, network string) docker.ContainerSpec {
	spec := docker.ContainerSpec{
		Name:         inst.ContainerName(),
		Image:        k.ImageRef(inst.EngineVersion),
		Cmd:          []string{k.server, "--requirepass", password, "--appendonly", "yes"},
		InternalPort: k.InternalPort(),
		VolumeName:   inst.VolumeName(),
		MountPath:    "/data",
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

func (k keyValue) ReadinessProbe(ctx context.Context, host string, port int, password string) error {
	client := respClient(host, port, password)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("probe %s: %w", k.kind, err)
	}
	return nil
}

func (k keyValue) CLICommand(kind CLIKind, username string) []string {
	if kind == CLIShell {
		return []string{"/bin/bash", "-l"}
	}
	return []string{k.cli}
}

// RotatePassword switches requirepass at runtime and verifies the new
// credential authenticates before reporting success.
func (k keyValue) RotatePassword(ctx context.Context, target Target, current, next string) error {
	client := respClient(target.Host, target.Port, current)
	defer client.Close()

	if err := client.ConfigSet(ctx, "requirepass", next).Err(); err != nil {
		return domain.WrapError(domain.CodeIOError, err, "rotate %s password", k.kind)
	}

	verify := respClient(target.Host, target.Port, next)
	defer verify.Close()

	if err := verify.Ping(ctx).Err(); err != nil {
		return domain.WrapError(domain.CodeAuthFailed, err, "verify rotated %s password", k.kind)
	}
	return nil
}

// ReadConfig snapshots the runtime configuration as sorted "key value"
// lines. There is no config file to read; the server runs off its command
// line plus whatever CONFIG SET changed since.
func (k keyValue) ReadConfig(ctx context.Context, target Target) (domain.ConfigDocument, error) {
	client := respClient(target.Host, target.Port, target.Password)
	defer client.Close()

	settings, err := client.ConfigGet(ctx, "*").Result()
	if err != nil {
		return domain.ConfigDocument{}, domain.WrapError(domain.CodeIOError, err, "read %s config", k.kind)
	}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var content strings.Builder
	for _, key := range keys {
		content.WriteString(key)
		content.WriteByte(' ')
		content.WriteString(settings[key])
		content.WriteByte('\n')
	}

	return domain.ConfigDocument{
		DatabaseType: k.kind,
		Format:       domain.ConfigFormatKV,
		Source:       domain.ConfigSourceRuntime,
		Content:      content.String(),
	}, nil
}

// WriteConfig applies "key value" lines one CONFIG SET at a time. Keys the
// server rejects become warnings rather than failing the whole write.
func (k keyValue) WriteConfig(ctx context.Context, target Target, content string) (domain.ConfigApplyResult, error) {
	client := respClient(target.Host, target.Port, target.Password)
	defer client.Close()

	result := domain.ConfigApplyResult{DatabaseType: k.kind, Applied: true}

	for i, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			return domain.ConfigApplyResult{}, domain.NewError(domain.CodeInvalidConfig, "line %d: expected \"key value\"", i+1).
				WithDetail("content", line)
		}
		if err := client.ConfigSet(ctx, key, strings.TrimSpace(value)).Err(); err != nil {
			result.Applied = false
			result.Warnings = append(result.Warnings, key+": "+err.Error())
		}
	}
	return result, nil
}

// Replicate copies every key from src to dst with its TTL, using DUMP and
// RESTORE REPLACE so values move without type-specific handling. The
// destination is flushed first so a re-sync never keeps stale keys.
func (k keyValue) Replicate(ctx context.Context, src, dst Target, mode ReplicationMode) error {
	if mode != ReplicationFull {
		return domain.NewError(domain.CodeUnsupportedBranchMode, "%s branches always copy data", k.kind).
			WithDetail("include_data", "must be true for key-value engines")
	}

	source := respClient(src.Host, src.Port, src.Password)
	defer source.Close()
	sink := respClient(dst.Host, dst.Port, dst.Password)
	defer sink.Close()

	if err := sink.FlushAll(ctx).Err(); err != nil {
		return domain.WrapError(domain.CodeIOError, err, "flush %s branch", k.kind)
	}

	var cursor uint64
	for {
		keys, next, err := source.Scan(ctx, cursor, "*", respScanCount).Result()
		if err != nil {
			return domain.WrapError(domain.CodeIOError, err, "scan %s keys", k.kind)
		}
		if err := k.copyKeys(ctx, source, sink, keys); err != nil {
			return err
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (k keyValue) copyKeys(ctx context.Context, source, sink *redis.Client, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	cmds, err := source.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Dump(ctx, key)
			pipe.PTTL(ctx, key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.WrapError(domain.CodeIOError, err, "dump %s keys", k.kind)
	}

	for i := 0; i < len(cmds); i += 2 {
		payload, err := cmds[i].(*redis.StringCmd).Result()
		if err != nil {
			// Key expired between SCAN and DUMP.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.WrapError(domain.CodeIOError, err, "dump %s key", k.kind)
		}
		ttl := cmds[i+1].(*redis.DurationCmd).Val()
		if ttl < 0 {
			ttl = 0
		}
		if err := sink.RestoreReplace(ctx, keys[i/2], ttl, payload).Err(); err != nil {
			return domain.WrapError(domain.CodeIOError, err, "restore %s key", k.kind)
		}
	}
	return nil
}

func respClient(host string, port int, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(host, strconv.Itoa(port)),
		Password:    password,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
	})
}
