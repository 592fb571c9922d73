package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"simfleet/internal/model"
	"simfleet/pkg/cloud"
	"simfleet/pkg/constants"
	"simfleet/pkg/events"
	"simfleet/pkg/interfaces"
	"simfleet/pkg/logger"
	queuepkg "simfleet/pkg/queue/asynq"
	"simfleet/pkg/retry"

	"github.com/hibiken/asynq"
)

// ProvisioningService runs the instance-launch saga. Creation publishes a
// worker.created event; the bus handler enqueues a durable task; the task
// handler launches the instance and records the outcome, compensating to
// Failed when the provider rejects the launch.
type ProvisioningService struct {
	repo     interfaces.WorkerRepository
	queue    interfaces.TaskQueue
	provider cloud.InstanceProvider
	settings *SettingsService
}

// NewProvisioningService creates the provisioning saga service.
func NewProvisioningService(repo interfaces.WorkerRepository, queue interfaces.TaskQueue,
	provider cloud.InstanceProvider, settings *SettingsService) *ProvisioningService {
	return &ProvisioningService{
		repo:     repo,
		queue:    queue,
		provider: provider,
		settings: settings,
	}
}

// Register wires the saga trigger into the event bus.
func (s *ProvisioningService) Register(bus *events.Bus) {
	bus.Subscribe(model.EventWorkerCreated, func(ctx context.Context, ev model.Event) {
		if err := s.queue.EnqueueProvision(ctx, ev.WorkerID); err != nil {
			// The worker stays in Pending; the provision sweep re-enqueues it.
			logger.ErrorCtx(ctx, "failed to enqueue provision, worker_id: %s: %v", ev.WorkerID, err)
		}
	})
}

// HandleProvisionTask is the asynq handler for worker:provision tasks.
func (s *ProvisioningService) HandleProvisionTask(ctx context.Context, task *asynq.Task) error {
	var payload queuepkg.ProvisionPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid provision payload: %w", err)
	}
	return s.Provision(ctx, payload.WorkerID)
}

// Provision launches the cloud instance for a Pending worker. Re-delivery is
// safe: a worker that already advanced past Pending is skipped.
func (s *ProvisioningService) Provision(ctx context.Context, workerID string) error {
	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.WarnCtx(ctx, "provision task for missing worker, worker_id: %s", workerID)
			return nil
		}
		return err
	}
	if w.Status != constants.WorkerStatusPending {
		logger.InfoCtx(ctx, "skipping provision, worker not pending, worker_id: %s, status: %s",
			workerID, w.Status)
		return nil
	}

	if err := s.transition(ctx, workerID, constants.WorkerStatusStarting); err != nil {
		return err
	}

	instance, err := s.provider.CreateInstance(ctx, cloud.CreateInstanceRequest{
		Region:       w.Region,
		Name:         w.Name,
		ImageRef:     w.ImageRef,
		InstanceType: w.InstanceType,
		Network:      s.network(),
	})
	if err != nil {
		logger.ErrorCtx(ctx, "instance launch failed, worker_id: %s: %v", workerID, err)
		if ferr := s.transition(ctx, workerID, constants.WorkerStatusFailed); ferr != nil {
			logger.ErrorCtx(ctx, "failed to mark worker failed, worker_id: %s: %v", workerID, ferr)
		}
		// Quota and auth failures will not heal on asynq's retry schedule.
		if errors.Is(err, cloud.ErrQuotaExceeded) || errors.Is(err, cloud.ErrAuthFailure) ||
			errors.Is(err, cloud.ErrInvalidParameter) {
			return nil
		}
		return err
	}

	return retry.OnConflict(ctx, "provision.assign", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.AssignInstance(instance.InstanceID, instance.PublicIP, instance.PrivateIP); err != nil {
			return err
		}
		target := constants.WorkerStatusStarting
		if instance.State == cloud.InstanceStateRunning {
			target = constants.WorkerStatusRunning
		}
		if err := w.UpdateStatus(target); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, w); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "worker provisioned, worker_id: %s, instance_id: %s, state: %s",
			workerID, instance.InstanceID, instance.State)
		return nil
	})
}

// SweepPending re-enqueues provision tasks for Pending workers whose original
// enqueue was lost. The asynq task id keeps this idempotent.
func (s *ProvisioningService) SweepPending(ctx context.Context) error {
	pending, err := s.repo.GetByStatus(ctx, constants.WorkerStatusPending)
	if err != nil {
		return err
	}
	for _, w := range pending {
		if err := s.queue.EnqueueProvision(ctx, w.ID); err != nil {
			logger.WarnCtx(ctx, "provision sweep enqueue failed, worker_id: %s: %v", w.ID, err)
		}
	}
	return nil
}

func (s *ProvisioningService) transition(ctx context.Context, workerID string, target constants.WorkerStatus) error {
	return retry.OnConflict(ctx, "provision.transition", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.UpdateStatus(target); err != nil {
			return err
		}
		return s.repo.Update(ctx, w)
	})
}

func (s *ProvisioningService) network() cloud.NetworkConfig {
	cfg := s.settings.cfg.Cloud
	return cloud.NetworkConfig{
		SubnetID:        cfg.SubnetID,
		SecurityGroupID: cfg.SecurityGroupID,
	}
}
