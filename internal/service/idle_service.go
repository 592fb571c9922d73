package service

import (
	"context"
	"sync"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/constants"
	"simfleet/pkg/idle"
	"simfleet/pkg/interfaces"
	"simfleet/pkg/logger"
	"simfleet/pkg/retry"
	"simfleet/pkg/simapi"
	"simfleet/pkg/telemetry"
)

// Pipeline step names recorded in DetectionResult.FailedStep.
const (
	StepLoadWorker     = "load_worker"
	StepTelemetryFetch = "telemetry_fetch"
	StepActivityUpdate = "activity_update"
	StepIdleCheck      = "idle_check"
	StepAutoPause      = "auto_pause"
)

// relevantCategories are the telemetry categories that count as activity.
var relevantCategories = []string{telemetry.CategoryUserActivity}

// excludeActorPattern drops user-activity events from automation accounts so
// scheduled jobs do not keep a worker awake.
const excludeActorPattern = `^(system|automation|svc)[-_.]`

// DetectionResult is the audit record of one per-worker pipeline run. Step
// flags stay false past the failed step; a telemetry failure still allows the
// idle check to run on previously stored activity.
type DetectionResult struct {
	WorkerID           string        `json:"worker_id"`
	TelemetryFetched   bool          `json:"telemetry_fetched"`
	ActivityUpdated    bool          `json:"activity_updated"`
	IdleCheckPerformed bool          `json:"idle_check_performed"`
	AutoPauseTriggered bool          `json:"auto_pause_triggered"`
	FailedStep         string        `json:"failed_step,omitempty"`
	Error              string        `json:"error,omitempty"`
	Verdict            *idle.Verdict `json:"verdict,omitempty"`
}

// IdleDetectionService orchestrates the idle sweep: telemetry fetch, activity
// update, idle evaluation and conditional auto-pause, per worker.
type IdleDetectionService struct {
	repo     interfaces.WorkerRepository
	workers  *WorkerService
	settings *SettingsService
	clients  simapi.Factory

	// batchLimit caps concurrent per-worker pipelines in RunBatch.
	batchLimit int
}

// NewIdleDetectionService creates the idle sweep orchestrator.
func NewIdleDetectionService(repo interfaces.WorkerRepository, workers *WorkerService,
	settings *SettingsService, clients simapi.Factory, batchLimit int) *IdleDetectionService {
	if batchLimit <= 0 {
		batchLimit = 10
	}
	return &IdleDetectionService{
		repo:       repo,
		workers:    workers,
		settings:   settings,
		clients:    clients,
		batchLimit: batchLimit,
	}
}

// RunBatch sweeps all Running workers, at most batchLimit pipelines at a
// time. A worker failing its pipeline never aborts the batch.
func (s *IdleDetectionService) RunBatch(ctx context.Context) ([]DetectionResult, error) {
	eff, err := s.settings.Effective(ctx)
	if err != nil {
		return nil, err
	}
	if !eff.IdleDetectionEnabled {
		logger.DebugCtx(ctx, "idle detection disabled globally, skipping sweep")
		return nil, nil
	}

	workers, err := s.repo.GetByStatus(ctx, constants.WorkerStatusRunning)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, nil
	}

	results := make([]DetectionResult, len(workers))
	sem := make(chan struct{}, s.batchLimit)
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, workerID string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.CheckWorker(ctx, workerID, eff)
		}(i, w.ID)
	}
	wg.Wait()

	paused := 0
	for _, r := range results {
		if r.AutoPauseTriggered {
			paused++
		}
	}
	logger.InfoCtx(ctx, "idle sweep finished, workers: %d, auto_paused: %d", len(workers), paused)
	return results, nil
}

// CheckWorker runs the pipeline for one worker.
func (s *IdleDetectionService) CheckWorker(ctx context.Context, workerID string, eff *EffectiveConfig) DetectionResult {
	res := DetectionResult{WorkerID: workerID}

	w, err := s.repo.GetByID(ctx, workerID)
	if err != nil {
		res.FailedStep = StepLoadWorker
		res.Error = err.Error()
		return res
	}

	filtered, fetched := s.fetchActivity(ctx, w, &res)
	if fetched {
		w = s.applyActivity(ctx, w, filtered, eff, &res)
	}

	verdict := idle.EvaluatePause(w, eff.IdleTimeout, eff.Snooze, eff.IdleDetectionEnabled)
	res.IdleCheckPerformed = true
	res.Verdict = &verdict
	if !verdict.EligibleForPause {
		logger.DebugCtx(ctx, "worker not eligible for pause, worker_id: %s, reason: %s",
			workerID, verdict.Reason)
		return res
	}

	if err := s.workers.Pause(ctx, workerID, true, constants.PausedByAutoPause, "idle threshold exceeded"); err != nil {
		logger.ErrorCtx(ctx, "auto-pause failed, worker_id: %s: %v", workerID, err)
		res.FailedStep = StepAutoPause
		res.Error = err.Error()
		return res
	}
	res.AutoPauseTriggered = true
	logger.InfoCtx(ctx, "worker auto-paused, worker_id: %s, idle: %s", workerID, verdict.IdleDuration)
	return res
}

// fetchActivity pulls and filters the worker's telemetry. A fetch failure is
// recorded but does not abort the pipeline.
func (s *IdleDetectionService) fetchActivity(ctx context.Context, w *model.Worker, res *DetectionResult) ([]telemetry.Event, bool) {
	addr, err := workerAddress(w)
	if err != nil {
		res.FailedStep = StepTelemetryFetch
		res.Error = err.Error()
		return nil, false
	}
	events, err := s.clients(addr).GetTelemetryEvents(ctx)
	if err != nil {
		logger.WarnCtx(ctx, "telemetry fetch failed, worker_id: %s: %v", w.ID, err)
		res.FailedStep = StepTelemetryFetch
		res.Error = err.Error()
		return nil, false
	}
	res.TelemetryFetched = true
	return telemetry.FilterRelevantEvents(events, relevantCategories, excludeActorPattern, w.LastActivityAt), true
}

// applyActivity persists the new activity summary and returns the updated
// aggregate. On write failure the stale aggregate is returned so the idle
// check still runs on known data.
func (s *IdleDetectionService) applyActivity(ctx context.Context, w *model.Worker, filtered []telemetry.Event, eff *EffectiveConfig, res *DetectionResult) *model.Worker {
	latest := telemetry.LatestActivityTimestamp(filtered)
	recent := toActivityEvents(telemetry.MostRecentEvents(filtered, model.MaxStoredActivityEvents))
	now := time.Now().UTC()
	next := now.Add(eff.CheckInterval)

	var updated *model.Worker
	err := retry.OnConflict(ctx, "idle.activity_update", func(ctx context.Context) error {
		fresh, err := s.repo.GetByID(ctx, w.ID)
		if err != nil {
			return err
		}
		target := pauseTarget(fresh, latest, eff)
		fresh.UpdateActivity(latest, recent, &now, &next, target)
		if err := s.repo.Update(ctx, fresh); err != nil {
			return err
		}
		updated = fresh
		return nil
	})
	if err != nil {
		logger.WarnCtx(ctx, "activity update failed, worker_id: %s: %v", w.ID, err)
		res.FailedStep = StepActivityUpdate
		res.Error = err.Error()
		return w
	}
	res.ActivityUpdated = true
	return updated
}

// pauseTarget projects when the worker crosses the idle threshold, shown to
// operators as the expected auto-pause time.
func pauseTarget(w *model.Worker, latest *time.Time, eff *EffectiveConfig) *time.Time {
	if !eff.IdleDetectionEnabled || !w.IsIdleDetectionEnabled ||
		w.Status != constants.WorkerStatusRunning {
		return nil
	}
	la := latest
	if la == nil {
		la = w.EffectiveLastActivity()
	}
	if la == nil {
		return nil
	}
	t := la.Add(eff.IdleTimeout)
	return &t
}

// toActivityEvents converts filtered telemetry for storage on the aggregate.
// Returns nil when nothing converts, so a quiet sweep keeps the stored
// history instead of wiping it.
func toActivityEvents(events []telemetry.Event) []model.ActivityEvent {
	var out []model.ActivityEvent
	for _, ev := range events {
		ts, ok := telemetry.ParseTimestamp(ev.Timestamp)
		if !ok {
			continue
		}
		out = append(out, model.ActivityEvent{
			Timestamp:   ts,
			Category:    ev.Category,
			ActorID:     ev.ActorID,
			Description: ev.Message,
		})
	}
	return out
}
