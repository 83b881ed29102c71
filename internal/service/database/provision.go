package database

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Datify-sh/Datify/internal/docker"
	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
)

const probeTimeout = 5 * time.Second

// provisionTail drives a pending instance to running: network, volume,
// image, container, readiness. Create runs it in a goroutine; branching
// runs it synchronously. Failures land on the row as status error.
func (s *Service) provisionTail(ctx context.Context, id, password string) error {
	release := s.locks.acquire(id)
	defer release()

	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		s.logger.Error("provision load failed", "database_id", id, "error", err)
		return s.storeErr(err)
	}
	adapter, err := s.adapters.ForKind(inst.Engine)
	if err != nil {
		s.markError(ctx, id, err)
		return err
	}
	if err := s.databases.UpdateDatabaseStatus(ctx, id, domain.StatusStarting, nil); err != nil {
		s.logger.Error("provision status update failed", "database_id", id, "error", err)
		return domain.WrapError(domain.CodeStoreError, err, "set starting")
	}
	if err := s.materialize(ctx, adapter, inst, password); err != nil {
		s.markError(ctx, id, err)
		return err
	}
	return nil
}

// runStart handles the background half of Start.
func (s *Service) runStart(ctx context.Context, id, password string) {
	release := s.locks.acquire(id)
	defer release()
	s.startLocked(ctx, id, password)
}

// startLocked reuses the existing container when it survived the last
// stop, otherwise rebuilds it from the row. Caller holds the instance lock.
func (s *Service) startLocked(ctx context.Context, id, password string) {
	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		s.logger.Error("start load failed", "database_id", id, "error", err)
		return
	}
	adapter, err := s.adapters.ForKind(inst.Engine)
	if err != nil {
		s.markError(ctx, id, err)
		return
	}

	if inst.ContainerID != nil {
		exists, err := s.driver.ContainerExists(ctx, *inst.ContainerID)
		if err != nil {
			s.markError(ctx, id, err)
			return
		}
		if exists {
			if inst.Port == nil {
				s.markError(ctx, id, domain.NewError(domain.CodeConflictingState, "database has no allocated port"))
				return
			}
			if err := s.driver.StartContainer(ctx, *inst.ContainerID); err != nil {
				s.markError(ctx, id, err)
				return
			}
			if err := s.waitReady(ctx, adapter, *inst.Port, password); err != nil {
				s.markError(ctx, id, err)
				return
			}
			if err := s.databases.UpdateDatabaseStatus(ctx, id, domain.StatusRunning, nil); err != nil {
				s.logger.Error("start status update failed", "database_id", id, "error", err)
				return
			}
			s.logger.Info("database started", "database_id", id, "container_id", *inst.ContainerID)
			return
		}
	}

	// The container is gone, removed by an update or lost underneath us.
	// The row still holds the port and volume, so rebuild from it.
	if err := s.materialize(ctx, adapter, inst, password); err != nil {
		s.markError(ctx, id, err)
	}
}

// runStop handles the background half of Stop and Restart. Restart keeps
// the row out of stopped: the container halts, then the start tail runs
// under the same lock.
func (s *Service) runStop(ctx context.Context, id string, restart bool) {
	release := s.locks.acquire(id)
	defer release()

	inst, err := s.databases.GetDatabaseByID(ctx, id)
	if err != nil {
		s.logger.Error("stop load failed", "database_id", id, "error", err)
		return
	}
	if inst.ContainerID != nil {
		if err := s.driver.StopContainer(ctx, *inst.ContainerID, s.cfg.StopGrace); err != nil && !errors.Is(err, docker.ErrNotFound) {
			s.markError(ctx, id, err)
			return
		}
	}
	if !restart {
		if err := s.databases.UpdateDatabaseStatus(ctx, id, domain.StatusStopped, nil); err != nil {
			s.logger.Error("stop status update failed", "database_id", id, "error", err)
			return
		}
		s.logger.Info("database stopped", "database_id", id)
		return
	}

	if err := s.databases.UpdateDatabaseStatus(ctx, id, domain.StatusStarting, nil); err != nil {
		s.logger.Error("restart status update failed", "database_id", id, "error", err)
		return
	}
	password, err := s.vault.DecryptToString(inst.PasswordEncrypted)
	if err != nil {
		s.markError(ctx, id, domain.WrapError(domain.CodeCryptoTampered, err, "decrypt password"))
		return
	}
	s.startLocked(ctx, id, password)
}

// materialize builds the container for an instance from scratch and binds
// it to the row once the engine answers. The instance must hold its port.
func (s *Service) materialize(ctx context.Context, adapter engine.Adapter, inst *domain.Database, password string) error {
	if inst.Port == nil {
		return domain.NewError(domain.CodeConflictingState, "database has no allocated port")
	}
	if err := s.driver.EnsureNetwork(ctx, s.cfg.DockerNetwork); err != nil {
		return err
	}
	if err := s.driver.EnsureVolume(ctx, inst.VolumeName(), engine.InstanceLabels(*inst)); err != nil {
		return err
	}

	spec := adapter.BuildSpec(*inst, password, s.cfg.DockerNetwork)
	if err := s.driver.PullImage(ctx, spec.Image, func(status string) {
		s.logger.Debug("pulling image", "image", spec.Image, "status", status)
	}); err != nil {
		return err
	}

	cid, err := s.driver.CreateContainer(ctx, spec)
	if errors.Is(err, docker.ErrConflict) {
		// A container with this name survived an earlier failed run.
		if rmErr := s.driver.RemoveContainer(ctx, spec.Name, true); rmErr != nil {
			return err
		}
		cid, err = s.driver.CreateContainer(ctx, spec)
	}
	if err != nil {
		return err
	}
	if err := s.driver.StartContainer(ctx, cid); err != nil {
		return err
	}
	if err := s.waitReady(ctx, adapter, *inst.Port, password); err != nil {
		return err
	}
	if err := s.databases.BindContainer(ctx, inst.ID, cid, s.cfg.DockerHostIP, *inst.Port, domain.StatusRunning); err != nil {
		return domain.WrapError(domain.CodeStoreError, err, "bind container")
	}
	s.logger.Info("database running", "database_id", inst.ID, "container_id", cid, "port", *inst.Port)
	return nil
}

// waitReady polls the engine through the host-mapped port until it answers
// or the readiness window closes.
func (s *Service) waitReady(ctx context.Context, adapter engine.Adapter, port int, password string) error {
	backoff := retry.WithMaxDuration(s.cfg.ReadinessTimeout,
		retry.WithCappedDuration(probeTimeout, retry.NewExponential(500*time.Millisecond)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := adapter.ReadinessProbe(probeCtx, s.cfg.DockerHostIP, port, password); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.CodeReadinessTimeout, err, "engine not ready within %s", s.cfg.ReadinessTimeout)
	}
	return nil
}

// markError parks the row in status error with a bounded reason.
func (s *Service) markError(ctx context.Context, id string, cause error) {
	s.logger.Error("database operation failed", "database_id", id, "error", cause)
	reason := truncateReason(cause)
	if err := s.databases.UpdateDatabaseStatus(ctx, id, domain.StatusError, &reason); err != nil {
		s.logger.Error("mark error failed", "database_id", id, "error", err)
	}
}
