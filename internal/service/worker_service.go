package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/cloud"
	"simfleet/pkg/constants"
	"simfleet/pkg/interfaces"
	"simfleet/pkg/logger"
	"simfleet/pkg/retry"

	"github.com/google/uuid"
)

// CreateWorkerRequest carries the user-facing creation parameters. Empty
// fields fall back to the effective provisioning defaults.
type CreateWorkerRequest struct {
	Name         string `json:"name"`
	Region       string `json:"region,omitempty"`
	InstanceType string `json:"instance_type,omitempty"`
	ImageRef     string `json:"image_ref,omitempty"`
}

// WorkerService owns the worker lifecycle commands. Every read-modify-write
// goes through the aggregate's own transition methods and is retried on
// optimistic-concurrency conflicts.
type WorkerService struct {
	repo     interfaces.WorkerRepository
	labRepo  interfaces.LabRepository
	provider cloud.InstanceProvider
	settings *SettingsService
}

// NewWorkerService creates a worker service.
func NewWorkerService(repo interfaces.WorkerRepository, labRepo interfaces.LabRepository,
	provider cloud.InstanceProvider, settings *SettingsService) *WorkerService {
	return &WorkerService{
		repo:     repo,
		labRepo:  labRepo,
		provider: provider,
		settings: settings,
	}
}

// Create registers a new worker in Pending and enqueues the provisioning
// task. The instance itself is launched asynchronously.
func (s *WorkerService) Create(ctx context.Context, req CreateWorkerRequest) (*model.Worker, error) {
	eff, err := s.settings.Effective(ctx)
	if err != nil {
		return nil, err
	}
	if req.Region == "" {
		req.Region = eff.Region
	}
	if req.InstanceType == "" {
		req.InstanceType = eff.InstanceType
	}
	if req.ImageRef == "" {
		req.ImageRef = eff.ImageRef
	}

	w := model.NewWorker(uuid.New().String(), req.Name, req.Region, req.InstanceType, req.ImageRef)
	w.IsIdleDetectionEnabled = eff.IdleDetectionEnabled

	// The repository flushes the worker.created event after the insert;
	// the provisioning saga picks it up from the bus and enqueues the task.
	if err := s.repo.Add(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	logger.InfoCtx(ctx, "worker created, worker_id: %s, name: %s, region: %s", w.ID, w.Name, w.Region)
	return w, nil
}

// Get returns one worker.
func (s *WorkerService) Get(ctx context.Context, workerID string) (*model.Worker, error) {
	return s.repo.GetByID(ctx, workerID)
}

// List returns all workers.
func (s *WorkerService) List(ctx context.Context) ([]*model.Worker, error) {
	return s.repo.GetAll(ctx)
}

// GetLabs returns the tracked topology records for a worker.
func (s *WorkerService) GetLabs(ctx context.Context, workerID string) ([]*model.Lab, error) {
	if _, err := s.repo.GetByID(ctx, workerID); err != nil {
		return nil, err
	}
	return s.labRepo.GetByWorker(ctx, workerID)
}

// Pause stops a running worker: cloud stop first, then Running -> Stopping.
// A provider failure leaves the worker Running so the command stays
// retryable. A worker already stopping or gone is a no-op success.
func (s *WorkerService) Pause(ctx context.Context, workerID string, isAuto bool, pausedBy, reason string) error {
	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		return err
	}
	if pauseSatisfied(w.Status) {
		logger.InfoCtx(ctx, "pause is a no-op, worker_id: %s, status: %s", workerID, w.Status)
		return nil
	}
	if w.Status != constants.WorkerStatusRunning {
		return &model.InvalidStateTransitionError{From: w.Status, To: constants.WorkerStatusStopping}
	}

	if w.InstanceID != nil {
		if err := s.provider.StopInstance(ctx, *w.InstanceID); err != nil {
			logger.ErrorCtx(ctx, "failed to stop instance, worker_id: %s, instance_id: %s: %v",
				workerID, *w.InstanceID, err)
			return fmt.Errorf("stop instance: %w", model.ErrIntegrationFailure)
		}
	}

	err = retry.OnConflict(ctx, "worker.pause", func(ctx context.Context) error {
		fresh, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		// A concurrent command may have beaten us to it.
		if pauseSatisfied(fresh.Status) {
			return nil
		}
		if err := fresh.Pause(isAuto, pausedBy, reason); err != nil {
			return err
		}
		return s.repo.Update(ctx, fresh)
	})
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "worker pausing, worker_id: %s, auto: %t, by: %s", workerID, isAuto, pausedBy)
	return nil
}

// pauseSatisfied reports whether the worker is already on its way down (or
// gone), making a pause command a no-op success.
func pauseSatisfied(status constants.WorkerStatus) bool {
	return status == constants.WorkerStatusStopping ||
		status == constants.WorkerStatusStopped ||
		status == constants.WorkerStatusTerminated
}

// Resume starts a stopped worker: cloud start first, then Stopped -> Starting.
// The status sync loop confirms Running.
func (s *WorkerService) Resume(ctx context.Context, workerID string, isAuto bool) error {
	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		return err
	}
	if w.Status != constants.WorkerStatusStopped {
		return &model.InvalidStateTransitionError{From: w.Status, To: constants.WorkerStatusStarting}
	}

	if w.InstanceID != nil {
		if err := s.provider.StartInstance(ctx, *w.InstanceID); err != nil {
			logger.ErrorCtx(ctx, "failed to start instance, worker_id: %s, instance_id: %s: %v",
				workerID, *w.InstanceID, err)
			return fmt.Errorf("start instance: %w", model.ErrIntegrationFailure)
		}
	}

	err = retry.OnConflict(ctx, "worker.resume", func(ctx context.Context) error {
		fresh, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := fresh.Resume(isAuto); err != nil {
			return err
		}
		return s.repo.Update(ctx, fresh)
	})
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "worker resuming, worker_id: %s, auto: %t", workerID, isAuto)
	return nil
}

// Terminate tears the worker down: ShuttingDown, cloud terminate, Terminated.
// A missing instance is treated as already gone.
func (s *WorkerService) Terminate(ctx context.Context, workerID string) error {
	var instanceID *string
	err := retry.OnConflict(ctx, "worker.terminate", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		// Workers that never reached Running have no instance to drain and
		// may jump straight to Terminated.
		target := constants.WorkerStatusShuttingDown
		if !w.CanTransitionTo(target) && w.CanTransitionTo(constants.WorkerStatusTerminated) {
			target = constants.WorkerStatusTerminated
		}
		if err := w.UpdateStatus(target); err != nil {
			return err
		}
		instanceID = w.InstanceID
		return s.repo.Update(ctx, w)
	})
	if err != nil {
		return err
	}

	if instanceID != nil {
		if err := s.provider.TerminateInstance(ctx, *instanceID); err != nil &&
			!errors.Is(err, cloud.ErrInstanceNotFound) {
			logger.ErrorCtx(ctx, "failed to terminate instance, worker_id: %s, instance_id: %s: %v",
				workerID, *instanceID, err)
			return fmt.Errorf("terminate instance: %w", model.ErrIntegrationFailure)
		}
	}

	return retry.OnConflict(ctx, "worker.terminated", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.UpdateStatus(constants.WorkerStatusTerminated); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, w); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "worker terminated, worker_id: %s", workerID)
		return nil
	})
}

// Delete removes a terminal worker and its lab records. Live workers must be
// terminated first.
func (s *WorkerService) Delete(ctx context.Context, workerID string) error {
	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		return err
	}
	if !w.IsTerminal() {
		return &model.InvalidStateTransitionError{From: w.Status, To: constants.WorkerStatusTerminated}
	}
	if err := s.labRepo.DeleteForWorker(ctx, workerID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, workerID); err != nil {
		return err
	}
	logger.InfoCtx(ctx, "worker deleted, worker_id: %s", workerID)
	return nil
}

// EnableIdleDetection turns per-worker idle detection on.
func (s *WorkerService) EnableIdleDetection(ctx context.Context, workerID, enabledBy string) error {
	return retry.OnConflict(ctx, "worker.idle_enable", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		w.EnableIdleDetection(enabledBy)
		return s.repo.Update(ctx, w)
	})
}

// DisableIdleDetection turns per-worker idle detection off.
func (s *WorkerService) DisableIdleDetection(ctx context.Context, workerID, disabledBy string) error {
	return retry.OnConflict(ctx, "worker.idle_disable", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		w.DisableIdleDetection(disabledBy)
		return s.repo.Update(ctx, w)
	})
}

// RecordActivity persists an externally observed activity signal, e.g. a
// console connect, without waiting for the next telemetry sweep.
func (s *WorkerService) RecordActivity(ctx context.Context, workerID string, at time.Time) error {
	return retry.OnConflict(ctx, "worker.record_activity", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		w.UpdateActivity(&at, w.RecentActivityEvents, nil, nil, nil)
		return s.repo.Update(ctx, w)
	})
}
