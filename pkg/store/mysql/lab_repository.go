package mysql

import (
	"context"
	"fmt"

	domain "simfleet/internal/model"
	"simfleet/pkg/store/mysql/model"

	"gorm.io/gorm/clause"
)

// LabRepository persists topology child records.
type LabRepository struct {
	ds *Datastore
}

// NewLabRepository creates a lab repository.
func NewLabRepository(ds *Datastore) *LabRepository {
	return &LabRepository{ds: ds}
}

// GetByWorker returns all labs tracked for a worker.
func (r *LabRepository) GetByWorker(ctx context.Context, workerID string) ([]*domain.Lab, error) {
	var recs []*model.Lab
	if err := r.ds.DB(ctx).Where("worker_id = ?", workerID).
		Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to get labs for worker %s: %w", workerID, err)
	}
	labs := make([]*domain.Lab, 0, len(recs))
	for _, rec := range recs {
		labs = append(labs, toLabDomain(rec))
	}
	return labs, nil
}

// Upsert inserts or refreshes a single lab keyed on (worker_id, lab_uid).
func (r *LabRepository) Upsert(ctx context.Context, lab *domain.Lab) error {
	rec := toLabRecord(lab)
	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "worker_id"}, {Name: "lab_uid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "state", "node_count", "owner", "refreshed_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert lab %s/%s: %w", lab.WorkerID, lab.LabUID, err)
	}
	return nil
}

// ReplaceForWorker refreshes the full lab set for a worker in one
// transaction: upsert everything reported, delete what vanished.
func (r *LabRepository) ReplaceForWorker(ctx context.Context, workerID string, labs []*domain.Lab) error {
	return r.ds.ExecTx(ctx, func(txCtx context.Context) error {
		keep := make([]string, 0, len(labs))
		for _, lab := range labs {
			lab.WorkerID = workerID
			if err := r.Upsert(txCtx, lab); err != nil {
				return err
			}
			keep = append(keep, lab.LabUID)
		}
		q := r.ds.DB(txCtx).Where("worker_id = ?", workerID)
		if len(keep) > 0 {
			q = q.Where("lab_uid NOT IN ?", keep)
		}
		if err := q.Delete(&model.Lab{}).Error; err != nil {
			return fmt.Errorf("failed to prune labs for worker %s: %w", workerID, err)
		}
		return nil
	})
}

// DeleteForWorker removes all labs for a worker, used on worker deletion.
func (r *LabRepository) DeleteForWorker(ctx context.Context, workerID string) error {
	if err := r.ds.DB(ctx).Where("worker_id = ?", workerID).
		Delete(&model.Lab{}).Error; err != nil {
		return fmt.Errorf("failed to delete labs for worker %s: %w", workerID, err)
	}
	return nil
}
