// Package metrics scrapes live engines on a fixed interval, persists the
// samples, and fans them out to websocket subscribers. Scrapes run
// concurrently per instance under one timeout; an instance that fails
// enough consecutive scrapes is marked errored so its owner sees the
// outage instead of a silent flatline.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/repository"
	"github.com/Datify-sh/Datify/internal/ws"
	"github.com/Datify-sh/Datify/pkg/config"
	"github.com/Datify-sh/Datify/pkg/crypto"
)

// failureThreshold is how many consecutive scrape failures park an
// instance in status error.
const failureThreshold = 4

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 100
)

// StatsProvider samples container-level resources. Satisfied by
// *docker.Client.
type StatsProvider interface {
	ContainerStats(ctx context.Context, id string) (docker.ResourceStats, error)
}

// counterPoint remembers the last monotonic counter seen for an instance
// so throughput rates can be derived from successive scrapes.
type counterPoint struct {
	at      time.Time
	counter int64
}

// Service owns the scrape loop and serves metrics reads.
type Service struct {
	databases repository.DatabaseRepository
	projects  repository.ProjectRepository
	metrics   repository.MetricsRepository
	stats     StatsProvider
	vault     *crypto.Vault
	hub       *ws.Hub
	logger    *slog.Logger
	cfg       config.DaemonConfig

	pools *poolCache
	now   func() time.Time

	mu       sync.Mutex
	lastSeen map[string]counterPoint
	failures map[string]int
}

// New returns a metrics service. Run starts the scrape loop.
func New(databases repository.DatabaseRepository, projects repository.ProjectRepository, metricsRepo repository.MetricsRepository, stats StatsProvider, vault *crypto.Vault, hub *ws.Hub, logger *slog.Logger, cfg config.DaemonConfig) *Service {
	return &Service{
		databases: databases,
		projects:  projects,
		metrics:   metricsRepo,
		stats:     stats,
		vault:     vault,
		hub:       hub,
		logger:    logger,
		cfg:       cfg,
		pools:     newPoolCache(),
		now:       time.Now,
		lastSeen:  make(map[string]counterPoint),
		failures:  make(map[string]int),
	}
}

// Run drives the scrape loop until the context ends.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MetricsInterval)
	defer ticker.Stop()
	defer s.pools.closeAll()

	s.logger.Info("metrics collector started", "interval", s.cfg.MetricsInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("metrics collector stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep scrapes every running instance concurrently.
func (s *Service) sweep(ctx context.Context) {
	running, err := s.databases.ListDatabasesByStatus(ctx, domain.StatusRunning)
	if err != nil {
		s.logger.Error("metrics sweep list failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for i := range running {
		inst := running[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.scrapeOne(ctx, &inst)
		}()
	}
	wg.Wait()

	now := s.now()
	s.pools.evictIdle(now)
	s.pruneState(running)
}

// pruneState drops rate and failure tracking for instances that left the
// running set, so the maps track live instances only.
func (s *Service) pruneState(running []domain.Database) {
	alive := make(map[string]struct{}, len(running))
	for _, inst := range running {
		alive[inst.ID] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.lastSeen {
		if _, ok := alive[id]; !ok {
			delete(s.lastSeen, id)
		}
	}
	for id := range s.failures {
		if _, ok := alive[id]; !ok {
			delete(s.failures, id)
		}
	}
}

func (s *Service) scrapeOne(ctx context.Context, inst *domain.Database) {
	scrapeCtx, cancel := context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
	defer cancel()

	m, err := s.scrape(scrapeCtx, inst)
	if err != nil {
		s.recordFailure(ctx, inst, err)
		return
	}
	s.clearFailures(inst.ID)

	snap := m.Snapshot(inst.ID)
	if err := s.metrics.InsertSnapshot(ctx, &snap); err != nil {
		s.logger.Warn("metrics snapshot insert failed", "database_id", inst.ID, "error", err)
	}
	s.publish(inst.ID, m)
}

// scrape samples one instance: container resources from the runtime, then
// engine counters over the wire. A missing resource sample degrades to
// zeros; an unreachable engine is a scrape failure.
func (s *Service) scrape(ctx context.Context, inst *domain.Database) (domain.EngineMetrics, error) {
	if inst.ContainerID == nil || inst.Host == nil || inst.Port == nil {
		return domain.EngineMetrics{}, domain.NewError(domain.CodeConflictingState, "database has no bound container")
	}

	res, err := s.stats.ContainerStats(ctx, *inst.ContainerID)
	if err != nil {
		s.logger.Debug("container stats unavailable", "database_id", inst.ID, "error", err)
		res = docker.ResourceStats{}
	}
	resources := domain.ResourceMetrics{
		CPUPercent:       res.CPUPercent,
		MemoryUsedBytes:  res.MemoryUsedBytes,
		MemoryLimitBytes: res.MemoryLimitBytes,
		MemoryPercent:    res.MemoryPercent,
	}

	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		return domain.EngineMetrics{}, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}

	at := s.now().UTC()
	if inst.Engine.IsKeyValue() {
		kv, err := s.collectKeyValue(ctx, inst, password, resources, at)
		if err != nil {
			return domain.EngineMetrics{}, err
		}
		return domain.EngineMetrics{DatabaseType: inst.Engine, KeyValue: kv}, nil
	}
	pg, err := s.collectPostgres(ctx, inst, password, resources, at)
	if err != nil {
		return domain.EngineMetrics{}, err
	}
	return domain.EngineMetrics{DatabaseType: inst.Engine, Postgres: pg}, nil
}

// deriveRate turns successive counter samples into a per-second rate. The
// first sample after a gap reports zero; counter resets clamp to zero.
func (s *Service) deriveRate(id string, at time.Time, counter int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.lastSeen[id]
	s.lastSeen[id] = counterPoint{at: at, counter: counter}
	if !ok {
		return 0
	}
	elapsed := at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	delta := counter - prev.counter
	if delta < 0 {
		return 0
	}
	return float64(delta) / elapsed
}

func (s *Service) recordFailure(ctx context.Context, inst *domain.Database, cause error) {
	s.mu.Lock()
	s.failures[inst.ID]++
	failures := s.failures[inst.ID]
	if failures >= failureThreshold {
		s.failures[inst.ID] = 0
	}
	s.mu.Unlock()

	s.pools.invalidate(inst.ID)
	s.logger.Warn("metrics scrape failed", "database_id", inst.ID, "consecutive", failures, "error", cause)

	if failures >= failureThreshold {
		reason := "engine unreachable: " + cause.Error()
		if len(reason) > 500 {
			reason = reason[:500]
		}
		if err := s.databases.UpdateDatabaseStatus(ctx, inst.ID, domain.StatusError, &reason); err != nil {
			s.logger.Error("mark unreachable failed", "database_id", inst.ID, "error", err)
			return
		}
		s.logger.Error("database marked unreachable", "database_id", inst.ID, "failures", failures)
	}
}

func (s *Service) clearFailures(id string) {
	s.mu.Lock()
	delete(s.failures, id)
	s.mu.Unlock()
}

// publish fans a fresh sample out to the instance's stream topic.
func (s *Service) publish(id string, m domain.EngineMetrics) {
	frame := struct {
		Type    string `json:"type"`
		Metrics View   `json:"metrics"`
	}{Type: "metrics", Metrics: NewView(id, m)}
	payload, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("metrics frame marshal failed", "database_id", id, "error", err)
		return
	}
	s.hub.Broadcast(MetricsTopic(id), payload)
}

// MetricsTopic names the hub topic carrying an instance's sample stream.
func MetricsTopic(databaseID string) string {
	return "metrics:" + databaseID
}

// Current scrapes an owned running instance on demand. Nothing is
// persisted; the caller gets the live sample.
func (s *Service) Current(ctx context.Context, actor domain.Actor, id string) (domain.EngineMetrics, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return domain.EngineMetrics{}, err
	}
	if inst.Status != domain.StatusRunning {
		return domain.EngineMetrics{}, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status)
	}
	scrapeCtx, cancel := context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
	defer cancel()
	return s.scrape(scrapeCtx, inst)
}

// Latest returns the most recent persisted sample, or nil when the
// instance has never been scraped.
func (s *Service) Latest(ctx context.Context, actor domain.Actor, id string) (*domain.MetricsSnapshot, error) {
	if _, err := s.ownedInstance(ctx, actor, id); err != nil {
		return nil, err
	}
	snap, err := s.metrics.LatestSnapshot(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, domain.WrapError(domain.CodeStoreError, err, "read latest snapshot")
	}
	return snap, nil
}

// History returns persisted samples over a time range, down-sampled to the
// range's native interval when snapshots are denser.
func (s *Service) History(ctx context.Context, actor domain.Actor, id string, rng domain.TimeRange) (*domain.MetricsHistory, error) {
	if _, err := s.ownedInstance(ctx, actor, id); err != nil {
		return nil, err
	}

	end := s.now().UTC()
	start := end.Add(-rng.Window())
	var points []domain.MetricsSnapshot
	var err error
	if rng.Interval() > s.cfg.MetricsInterval {
		points, err = s.metrics.ListSnapshotsSampled(ctx, id, start, rng.Interval())
	} else {
		points, err = s.metrics.ListSnapshots(ctx, id, start)
	}
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreError, err, "read metrics history")
	}
	return &domain.MetricsHistory{
		DatabaseID: id,
		TimeRange:  rng,
		StartTime:  start,
		EndTime:    end,
		Points:     points,
	}, nil
}

// QueryLogs reads aggregated statement stats from a running relational
// instance.
func (s *Service) QueryLogs(ctx context.Context, actor domain.Actor, id string, sortBy domain.QuerySort, limit int) ([]domain.QueryStat, error) {
	inst, err := s.ownedInstance(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if inst.Engine.IsKeyValue() {
		return nil, domain.NewError(domain.CodeBadName, "query logs are only available for postgres instances").
			WithDetail("database_type", "requires postgres")
	}
	if inst.Status != domain.StatusRunning {
		return nil, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status)
	}

	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		return nil, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password")
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
	defer cancel()
	return s.queryStats(queryCtx, inst, password, sortBy, clampQueryLimit(limit))
}

func clampQueryLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

// InvalidatePools drops any cached engine connections for an instance.
// Lifecycle transitions call this so a recreated container never hits a
// stale pool.
func (s *Service) InvalidatePools(id string) {
	s.pools.invalidate(id)
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
