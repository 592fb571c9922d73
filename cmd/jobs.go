package main

import (
	"context"
	"fmt"
	"time"

	"simfleet/internal/jobs"
	"simfleet/internal/service"
	"simfleet/pkg/logger"
)

func (app *Application) initJobs() error {
	if app.idleService == nil || app.syncService == nil {
		logger.WarnCtx(app.ctx, "Service layer not fully initialized yet, skipping background task registration")
		return nil
	}

	// All scheduled work is gated on the leader lease; standby replicas keep
	// their tickers but skip execution.
	manager := jobs.NewManager(app.ctx, app.elector)

	idleInterval := time.Duration(app.config.IdleDetector.CheckIntervalMinutes) * time.Minute
	metricsInterval := time.Duration(app.config.Monitoring.PollIntervalSeconds) * time.Second

	manager.Register(newIdleDetectionJob(idleInterval, app.idleService, app.settingsService))
	manager.Register(newMetricsSyncJob(metricsInterval, app.syncService, app.config.IdleDetector.BatchConcurrency))
	manager.Register(newStatusSyncJob(time.Minute, app.syncService))
	manager.Register(newProvisionSweepJob(5*time.Minute, app.provisioningService))

	app.jobsManager = manager
	return nil
}

// idleDetectionJob runs the idle sweep. The configured interval is a
// scheduling floor; the effective check interval from system settings
// decides whether a cycle actually sweeps.
type idleDetectionJob struct {
	interval        time.Duration
	idleService     *service.IdleDetectionService
	settingsService *service.SettingsService

	lastSweep time.Time
}

func newIdleDetectionJob(interval time.Duration, idleService *service.IdleDetectionService,
	settingsService *service.SettingsService) jobs.Job {
	return &idleDetectionJob{
		interval:        interval,
		idleService:     idleService,
		settingsService: settingsService,
	}
}

func (j *idleDetectionJob) Name() string {
	return "idle-detection"
}

func (j *idleDetectionJob) Interval() time.Duration {
	return j.interval
}

func (j *idleDetectionJob) Run(ctx context.Context) error {
	if j.idleService == nil {
		return fmt.Errorf("idle service not configured")
	}

	eff, err := j.settingsService.Effective(ctx)
	if err != nil {
		return err
	}
	if !j.lastSweep.IsZero() && time.Since(j.lastSweep) < eff.CheckInterval {
		logger.DebugCtx(ctx, "idle sweep not due yet, effective interval: %v", eff.CheckInterval)
		return nil
	}
	j.lastSweep = time.Now()

	_, err = j.idleService.RunBatch(ctx)
	return err
}

// metricsSyncJob refreshes sim metrics and labs for all running workers.
type metricsSyncJob struct {
	interval    time.Duration
	syncService *service.SyncService
	concurrency int
}

func newMetricsSyncJob(interval time.Duration, syncService *service.SyncService, concurrency int) jobs.Job {
	return &metricsSyncJob{interval: interval, syncService: syncService, concurrency: concurrency}
}

func (j *metricsSyncJob) Name() string {
	return "metrics-sync"
}

func (j *metricsSyncJob) Interval() time.Duration {
	return j.interval
}

func (j *metricsSyncJob) Run(ctx context.Context) error {
	if j.syncService == nil {
		return fmt.Errorf("sync service not configured")
	}
	logger.DebugCtx(ctx, "running metrics sync job")
	return j.syncService.SyncAllMetrics(ctx, j.concurrency)
}

// statusSyncJob reconciles worker status against the cloud.
type statusSyncJob struct {
	interval    time.Duration
	syncService *service.SyncService
}

func newStatusSyncJob(interval time.Duration, syncService *service.SyncService) jobs.Job {
	return &statusSyncJob{interval: interval, syncService: syncService}
}

func (j *statusSyncJob) Name() string {
	return "status-sync"
}

func (j *statusSyncJob) Interval() time.Duration {
	return j.interval
}

func (j *statusSyncJob) Run(ctx context.Context) error {
	if j.syncService == nil {
		return fmt.Errorf("sync service not configured")
	}
	logger.DebugCtx(ctx, "running status sync job")
	return j.syncService.SyncStatuses(ctx)
}

// provisionSweepJob re-enqueues provisioning for Pending workers whose
// original task was lost.
type provisionSweepJob struct {
	interval            time.Duration
	provisioningService *service.ProvisioningService
}

func newProvisionSweepJob(interval time.Duration, svc *service.ProvisioningService) jobs.Job {
	return &provisionSweepJob{interval: interval, provisioningService: svc}
}

func (j *provisionSweepJob) Name() string {
	return "provision-sweep"
}

func (j *provisionSweepJob) Interval() time.Duration {
	return j.interval
}

func (j *provisionSweepJob) Run(ctx context.Context) error {
	if j.provisioningService == nil {
		return fmt.Errorf("provisioning service not configured")
	}
	return j.provisioningService.SweepPending(ctx)
}
