package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/cloud"
	"simfleet/pkg/constants"
	"simfleet/pkg/interfaces"
	"simfleet/pkg/logger"
	"simfleet/pkg/retry"
	"simfleet/pkg/simapi"
	"simfleet/pkg/throttle"
)

// SyncService keeps stored worker state aligned with the outside world: sim
// app metrics and labs on one side, cloud instance status on the other.
type SyncService struct {
	repo     interfaces.WorkerRepository
	labRepo  interfaces.LabRepository
	provider cloud.InstanceProvider
	clients  simapi.Factory

	// metricsGate prevents refresh storms when multiple triggers fire for
	// the same worker inside one poll interval.
	metricsGate *throttle.Throttle
}

// NewSyncService creates a sync service. minRefresh bounds how often a single
// worker's metrics are refreshed regardless of trigger source.
func NewSyncService(repo interfaces.WorkerRepository, labRepo interfaces.LabRepository,
	provider cloud.InstanceProvider, clients simapi.Factory, minRefresh time.Duration) *SyncService {
	return &SyncService{
		repo:        repo,
		labRepo:     labRepo,
		provider:    provider,
		clients:     clients,
		metricsGate: throttle.New(minRefresh),
	}
}

// SyncMetrics refreshes one worker's sim metrics and lab records. Throttled
// per worker; a skipped refresh is not an error.
func (s *SyncService) SyncMetrics(ctx context.Context, workerID string) error {
	if !s.metricsGate.Allow(workerID) {
		logger.DebugCtx(ctx, "metrics refresh throttled, worker_id: %s", workerID)
		return nil
	}

	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		return err
	}
	addr, err := workerAddress(w)
	if err != nil {
		return err
	}
	client := s.clients(addr)

	metrics, err := s.collectMetrics(ctx, client)
	if err != nil {
		return err
	}

	if err := retry.OnConflict(ctx, "sync.metrics", func(ctx context.Context) error {
		fresh, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		fresh.UpdateSimMetrics(*metrics)
		return s.repo.Update(ctx, fresh)
	}); err != nil {
		return err
	}

	if err := s.syncLabs(ctx, workerID, client); err != nil {
		logger.WarnCtx(ctx, "lab refresh failed, worker_id: %s: %v", workerID, err)
	}
	return nil
}

// SyncAllMetrics refreshes every Running worker, bounded by limit concurrent
// refreshes. Per-worker failures are logged, never propagated.
func (s *SyncService) SyncAllMetrics(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 10
	}
	workers, err := s.repo.GetByStatus(ctx, constants.WorkerStatusRunning)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		sem <- struct{}{}
		go func(workerID string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.SyncMetrics(ctx, workerID); err != nil {
				logger.WarnCtx(ctx, "metrics sync failed, worker_id: %s: %v", workerID, err)
			}
		}(w.ID)
	}
	wg.Wait()
	return nil
}

// SyncStatuses reconciles worker status with the cloud's view of each
// instance. Only workers in transitional or drifted states change.
func (s *SyncService) SyncStatuses(ctx context.Context) error {
	workers, err := s.repo.GetActive(ctx)
	if err != nil {
		return err
	}

	for _, w := range workers {
		if w.InstanceID == nil {
			continue
		}
		state, err := s.provider.GetInstanceStatus(ctx, *w.InstanceID)
		if err != nil {
			if errors.Is(err, cloud.ErrInstanceNotFound) {
				state = cloud.InstanceStateTerminated
			} else {
				logger.WarnCtx(ctx, "instance status check failed, worker_id: %s: %v", w.ID, err)
				continue
			}
		}

		target := statusForInstanceState(state)
		if target == "" || target == w.Status {
			continue
		}
		if err := s.applyStatus(ctx, w.ID, target); err != nil {
			var ist *model.InvalidStateTransitionError
			if errors.As(err, &ist) {
				logger.DebugCtx(ctx, "status sync skipped illegal transition, worker_id: %s, %s -> %s",
					w.ID, ist.From, ist.To)
				continue
			}
			logger.WarnCtx(ctx, "status sync failed, worker_id: %s: %v", w.ID, err)
		}
	}
	return nil
}

func (s *SyncService) applyStatus(ctx context.Context, workerID string, target constants.WorkerStatus) error {
	return retry.OnConflict(ctx, "sync.status", func(ctx context.Context) error {
		w, err := s.repo.GetByID(ctx, workerID)
		if err != nil {
			return err
		}
		if w.Status == target {
			return nil
		}
		if err := w.UpdateStatus(target); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, w); err != nil {
			return err
		}
		logger.InfoCtx(ctx, "worker status synced, worker_id: %s, status: %s", workerID, target)
		return nil
	})
}

func (s *SyncService) collectMetrics(ctx context.Context, client *simapi.Client) (*model.SimMetrics, error) {
	info, err := client.GetSystemInfo(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	metrics := &model.SimMetrics{
		Version:       info.Version,
		Ready:         info.Ready,
		UptimeSeconds: info.UptimeSeconds,
		LastSyncedAt:  &now,
	}

	// Health and stats are enrichment; their absence never fails the sync.
	if health, err := client.GetSystemHealth(ctx); err == nil {
		metrics.SystemHealth = map[string]interface{}{"valid": health.Valid}
		for k, v := range health.Data {
			metrics.SystemHealth[k] = v
		}
	} else {
		logger.DebugCtx(ctx, "system health unavailable: %v", err)
	}
	if stats, err := client.GetSystemStats(ctx); err == nil {
		metrics.SystemInfo = map[string]interface{}{
			"cpu_percent":    stats.CPUPercent,
			"memory_percent": stats.MemoryPercent,
		}
		for k, v := range stats.Raw {
			metrics.SystemInfo[k] = v
		}
	} else {
		logger.DebugCtx(ctx, "system stats unavailable: %v", err)
	}

	if labs, err := client.GetLabs(ctx); err == nil {
		metrics.LabsCount = len(labs)
	}
	return metrics, nil
}

// syncLabs refreshes the lab child records wholesale from the sim app.
func (s *SyncService) syncLabs(ctx context.Context, workerID string, client *simapi.Client) error {
	labs, err := client.GetLabs(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	records := make([]*model.Lab, 0, len(labs))
	for _, lab := range labs {
		created := now
		if t, ok := parseLabCreated(lab.Created); ok {
			created = t
		}
		records = append(records, &model.Lab{
			WorkerID:    workerID,
			LabUID:      lab.ID,
			Title:       lab.Title,
			State:       lab.State,
			NodeCount:   lab.NodeCount,
			Owner:       lab.Owner,
			CreatedAt:   created,
			RefreshedAt: &now,
		})
	}
	return s.labRepo.ReplaceForWorker(ctx, workerID, records)
}

func parseLabCreated(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// statusForInstanceState maps the provider state to the worker status the
// sync is allowed to drive toward. Empty means "leave the worker alone".
func statusForInstanceState(state cloud.InstanceState) constants.WorkerStatus {
	switch state {
	case cloud.InstanceStateRunning:
		return constants.WorkerStatusRunning
	case cloud.InstanceStateStopping:
		return constants.WorkerStatusStopping
	case cloud.InstanceStateStopped:
		return constants.WorkerStatusStopped
	case cloud.InstanceStateShuttingDown:
		return constants.WorkerStatusShuttingDown
	case cloud.InstanceStateTerminated:
		return constants.WorkerStatusTerminated
	case cloud.InstanceStatePending:
		return ""
	default:
		return constants.WorkerStatusUnknown
	}
}
