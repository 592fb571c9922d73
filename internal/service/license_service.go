package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/config"
	"simfleet/pkg/interfaces"
	"simfleet/pkg/logger"
	queuepkg "simfleet/pkg/queue/asynq"
	"simfleet/pkg/retry"
	"simfleet/pkg/simapi"

	"github.com/hibiken/asynq"
)

// LicenseService owns async license registration. Commands mark the
// operation in flight and return immediately; the queued handler talks to
// the sim app and polls until the licensing status settles.
type LicenseService struct {
	repo    interfaces.WorkerRepository
	queue   interfaces.TaskQueue
	clients simapi.Factory
	cfg     config.LicenseConfig
}

// NewLicenseService creates a license service.
func NewLicenseService(repo interfaces.WorkerRepository, queue interfaces.TaskQueue,
	clients simapi.Factory, cfg config.LicenseConfig) *LicenseService {
	return &LicenseService{repo: repo, queue: queue, clients: clients, cfg: cfg}
}

// Register accepts a registration command. ErrOperationInProgress when an
// operation is already in flight for the worker.
func (s *LicenseService) Register(ctx context.Context, workerID, token string) error {
	err := retry.OnConflict(ctx, "license.register", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.StartLicenseRegistration(token); err != nil {
			return err
		}
		return s.repo.Update(ctx, w)
	})
	if err != nil {
		return err
	}
	if err := s.queue.EnqueueLicenseRegister(ctx, workerID, token); err != nil {
		// Release the in-flight guard only; no remote call happened, so the
		// license status stays what it was.
		s.abortOperation(ctx, workerID, "enqueue failed")
		return fmt.Errorf("failed to enqueue license registration: %w", err)
	}
	logger.InfoCtx(ctx, "license registration accepted, worker_id: %s", workerID)
	return nil
}

// Deregister accepts a deregistration command.
func (s *LicenseService) Deregister(ctx context.Context, workerID string) error {
	err := retry.OnConflict(ctx, "license.deregister", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.StartLicenseDeregistration(); err != nil {
			return err
		}
		return s.repo.Update(ctx, w)
	})
	if err != nil {
		return err
	}
	if err := s.queue.EnqueueLicenseDeregister(ctx, workerID); err != nil {
		s.abortOperation(ctx, workerID, "enqueue failed")
		return fmt.Errorf("failed to enqueue license deregistration: %w", err)
	}
	logger.InfoCtx(ctx, "license deregistration accepted, worker_id: %s", workerID)
	return nil
}

// HandleRegisterTask is the asynq handler for license:register tasks.
func (s *LicenseService) HandleRegisterTask(ctx context.Context, task *asynq.Task) error {
	var payload queuepkg.LicensePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid license payload: %w", err)
	}
	return s.runRegistration(ctx, payload.WorkerID, payload.Token)
}

// HandleDeregisterTask is the asynq handler for license:deregister tasks.
func (s *LicenseService) HandleDeregisterTask(ctx context.Context, task *asynq.Task) error {
	var payload queuepkg.LicensePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid license payload: %w", err)
	}
	return s.runDeregistration(ctx, payload.WorkerID)
}

func (s *LicenseService) runRegistration(ctx context.Context, workerID, token string) error {
	client, err := s.clientFor(ctx, workerID)
	if err != nil {
		return s.failRegistration(ctx, workerID, err.Error())
	}

	if _, err := client.RegisterLicense(ctx, token, false); err != nil {
		logger.ErrorCtx(ctx, "license register call failed, worker_id: %s: %v", workerID, err)
		return s.failRegistration(ctx, workerID, fmt.Sprintf("register call failed: %v", err))
	}

	lic, err := s.pollLicensing(ctx, client, func(status string) bool {
		return status == simapi.LicensingStatusCompliant || status == simapi.LicensingStatusEvaluation
	})
	if err != nil {
		if errors.Is(err, model.ErrTimeout) {
			return s.failRegistration(ctx, workerID, "licensing status did not settle in time")
		}
		return s.failRegistration(ctx, workerID, err.Error())
	}

	return retry.OnConflict(ctx, "license.register_complete", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.CompleteLicenseRegistration(lic.Raw); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, w); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "license registered, worker_id: %s, status: %s", workerID, lic.Status)
		return nil
	})
}

func (s *LicenseService) runDeregistration(ctx context.Context, workerID string) error {
	client, err := s.clientFor(ctx, workerID)
	if err != nil {
		return s.failDeregistration(ctx, workerID, err.Error())
	}

	if _, err := client.DeregisterLicense(ctx); err != nil {
		logger.ErrorCtx(ctx, "license deregister call failed, worker_id: %s: %v", workerID, err)
		return s.failDeregistration(ctx, workerID, fmt.Sprintf("deregister call failed: %v", err))
	}

	if _, err := s.pollLicensing(ctx, client, func(status string) bool {
		return status == simapi.LicensingStatusUnregistered
	}); err != nil {
		if errors.Is(err, model.ErrTimeout) {
			return s.failDeregistration(ctx, workerID, "licensing status did not settle in time")
		}
		return s.failDeregistration(ctx, workerID, err.Error())
	}

	return retry.OnConflict(ctx, "license.deregister_complete", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.CompleteLicenseDeregistration(); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, w); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "license deregistered, worker_id: %s", workerID)
		return nil
	})
}

// pollLicensing polls the sim app until done reports a terminal status.
// model.ErrTimeout after MaxPollAttempts.
func (s *LicenseService) pollLicensing(ctx context.Context, client *simapi.Client, done func(status string) bool) (*simapi.Licensing, error) {
	interval := time.Duration(s.cfg.PollIntervalSeconds) * time.Second
	for attempt := 0; attempt < s.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		lic, err := client.GetLicensing(ctx)
		if err != nil {
			logger.WarnCtx(ctx, "licensing poll failed, attempt %d: %v", attempt+1, err)
			continue
		}
		if done(lic.Status) {
			return lic, nil
		}
		if lic.Status == simapi.LicensingStatusInvalid || lic.Status == simapi.LicensingStatusExpired {
			return nil, fmt.Errorf("licensing reported %s", lic.Status)
		}
	}
	return nil, model.ErrTimeout
}

func (s *LicenseService) failRegistration(ctx context.Context, workerID, reason string) error {
	return retry.OnConflict(ctx, "license.register_fail", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.FailLicenseRegistration(reason); err != nil {
			return err
		}
		return s.repo.Update(ctx, w)
	})
}

func (s *LicenseService) failDeregistration(ctx context.Context, workerID, reason string) error {
	return retry.OnConflict(ctx, "license.deregister_fail", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.FailLicenseDeregistration(reason); err != nil {
			return err
		}
		return s.repo.Update(ctx, w)
	})
}

func (s *LicenseService) abortOperation(ctx context.Context, workerID, reason string) {
	err := retry.OnConflict(ctx, "license.abort", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if err := w.AbortLicenseOperation(reason); err != nil {
			return err
		}
		return s.repo.Update(ctx, w)
	})
	if err != nil {
		logger.ErrorCtx(ctx, "failed to release license operation guard, worker_id: %s: %v", workerID, err)
	}
}

func (s *LicenseService) clientFor(ctx context.Context, workerID string) (*simapi.Client, error) {
	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	addr, err := workerAddress(w)
	if err != nil {
		return nil, err
	}
	return s.clients(addr), nil
}

// workerAddress picks the address the sim app is reachable on.
func workerAddress(w *model.Worker) (string, error) {
	if w.PublicIP != nil && *w.PublicIP != "" {
		return *w.PublicIP, nil
	}
	if w.PrivateIP != nil && *w.PrivateIP != "" {
		return *w.PrivateIP, nil
	}
	return "", fmt.Errorf("worker %s has no reachable address", w.ID)
}
