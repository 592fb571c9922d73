package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "simfleet/internal/model"
	"simfleet/pkg/constants"
	"simfleet/pkg/events"
	"simfleet/pkg/logger"
	"simfleet/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// terminalStatuses are excluded from GetActive.
var terminalStatuses = []string{
	constants.WorkerStatusTerminated.String(),
	constants.WorkerStatusFailed.String(),
}

// WorkerRepository persists worker aggregates with an optimistic version
// check. After every successful write the aggregate's pending domain events
// are handed to the publisher exactly once, then cleared; failed or retried
// writes publish nothing.
type WorkerRepository struct {
	ds        *Datastore
	publisher events.Publisher
}

// NewWorkerRepository creates a new worker repository. publisher may be nil
// (events are then dropped), which tests use.
func NewWorkerRepository(ds *Datastore, publisher events.Publisher) *WorkerRepository {
	return &WorkerRepository{ds: ds, publisher: publisher}
}

// GetByID loads one worker by its id.
func (r *WorkerRepository) GetByID(ctx context.Context, workerID string) (*domain.Worker, error) {
	var rec model.Worker
	err := r.ds.DB(ctx).Where("worker_id = ?", workerID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker: %w", err)
	}
	return r.load(&rec), nil
}

// GetByInstanceID loads the worker owning a cloud instance.
func (r *WorkerRepository) GetByInstanceID(ctx context.Context, instanceID string) (*domain.Worker, error) {
	var rec model.Worker
	err := r.ds.DB(ctx).Where("instance_id = ?", instanceID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker by instance: %w", err)
	}
	return r.load(&rec), nil
}

// GetByStatus lists workers in any of the given statuses.
func (r *WorkerRepository) GetByStatus(ctx context.Context, statuses ...constants.WorkerStatus) ([]*domain.Worker, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, s.String())
	}
	var recs []*model.Worker
	if err := r.ds.DB(ctx).Where("status IN ?", names).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list workers by status: %w", err)
	}
	return r.loadAll(recs), nil
}

// GetActive lists workers not in a terminal status.
func (r *WorkerRepository) GetActive(ctx context.Context) ([]*domain.Worker, error) {
	var recs []*model.Worker
	if err := r.ds.DB(ctx).Where("status NOT IN ?", terminalStatuses).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list active workers: %w", err)
	}
	return r.loadAll(recs), nil
}

// GetAll lists every worker record.
func (r *WorkerRepository) GetAll(ctx context.Context) ([]*domain.Worker, error) {
	var recs []*model.Worker
	if err := r.ds.DB(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	return r.loadAll(recs), nil
}

// GetIdle lists Running workers with idle detection enabled whose effective
// last-activity timestamp is at or beyond the threshold. The COALESCE chain
// mirrors the aggregate's activity fallback.
func (r *WorkerRepository) GetIdle(ctx context.Context, threshold time.Duration) ([]*domain.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var recs []*model.Worker
	err := r.ds.DB(ctx).
		Where("status = ? AND idle_detection_enabled = ?", constants.WorkerStatusRunning.String(), true).
		Where("COALESCE(last_activity_at, last_resumed_at, created_at) <= ?", cutoff).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list idle workers: %w", err)
	}
	return r.loadAll(recs), nil
}

// Add inserts a new worker and publishes its pending events.
func (r *WorkerRepository) Add(ctx context.Context, w *domain.Worker) error {
	rec := toWorkerRecord(w)
	if err := r.ds.DB(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to add worker: %w", err)
	}
	w.SyncBaseVersion()
	r.flushEvents(ctx, w)
	return nil
}

// Update writes the aggregate conditionally on the version it was loaded
// at. A version mismatch fails with ErrConcurrencyConflict and leaves the
// stored record untouched; the caller reloads and reapplies under the retry
// policy.
func (r *WorkerRepository) Update(ctx context.Context, w *domain.Worker) error {
	rec := toWorkerRecord(w)
	result := r.ds.DB(ctx).Model(&model.Worker{}).
		Where("worker_id = ? AND version = ?", w.ID, w.BaseVersion()).
		Select("*").Omit("id", "worker_id", "created_at").
		Updates(rec)
	if result.Error != nil {
		return fmt.Errorf("failed to update worker: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Distinguish a vanished record from a version race.
		var count int64
		if err := r.ds.DB(ctx).Model(&model.Worker{}).Where("worker_id = ?", w.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to verify worker existence: %w", err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrConcurrencyConflict
	}
	w.SyncBaseVersion()
	r.flushEvents(ctx, w)
	return nil
}

// UpdateMany writes a batch, skipping conflicting records, and returns the
// count actually updated.
func (r *WorkerRepository) UpdateMany(ctx context.Context, workers []*domain.Worker) (int, error) {
	updated := 0
	for _, w := range workers {
		err := r.Update(ctx, w)
		if errors.Is(err, domain.ErrConcurrencyConflict) || errors.Is(err, domain.ErrNotFound) {
			logger.DebugCtx(ctx, "skipping batch update for worker %s: %v", w.ID, err)
			continue
		}
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Delete removes a worker record. The deletion event is published here since
// there is no surviving aggregate to flush it through.
func (r *WorkerRepository) Delete(ctx context.Context, workerID string) error {
	result := r.ds.DB(ctx).Where("worker_id = ?", workerID).Delete(&model.Worker{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete worker: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	if r.publisher != nil {
		r.publisher.Publish(ctx, domain.NewEvent(domain.EventWorkerDeleted, workerID, nil))
	}
	return nil
}

func (r *WorkerRepository) load(rec *model.Worker) *domain.Worker {
	w := toWorkerDomain(rec)
	w.SyncBaseVersion()
	return w
}

func (r *WorkerRepository) loadAll(recs []*model.Worker) []*domain.Worker {
	workers := make([]*domain.Worker, 0, len(recs))
	for _, rec := range recs {
		workers = append(workers, r.load(rec))
	}
	return workers
}

func (r *WorkerRepository) flushEvents(ctx context.Context, w *domain.Worker) {
	pending := w.PendingEvents()
	w.ClearPendingEvents()
	if len(pending) == 0 || r.publisher == nil {
		return
	}
	r.publisher.Publish(ctx, pending...)
}
