package interfaces

import (
	"context"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/constants"
)

// WorkerRepository is the persistence surface the services depend on.
type WorkerRepository interface {
	GetByID(ctx context.Context, workerID string) (*model.Worker, error)
	GetByInstanceID(ctx context.Context, instanceID string) (*model.Worker, error)
	GetByStatus(ctx context.Context, statuses ...constants.WorkerStatus) ([]*model.Worker, error)
	GetActive(ctx context.Context) ([]*model.Worker, error)
	GetAll(ctx context.Context) ([]*model.Worker, error)
	GetIdle(ctx context.Context, threshold time.Duration) ([]*model.Worker, error)
	Add(ctx context.Context, w *model.Worker) error
	Update(ctx context.Context, w *model.Worker) error
	UpdateMany(ctx context.Context, workers []*model.Worker) (int, error)
	Delete(ctx context.Context, workerID string) error
}

// SettingsRepository persists the dynamic-configuration singleton.
type SettingsRepository interface {
	Get(ctx context.Context) (*model.SystemSettings, error)
	Save(ctx context.Context, s *model.SystemSettings) error
}

// LabRepository persists topology child records.
type LabRepository interface {
	GetByWorker(ctx context.Context, workerID string) ([]*model.Lab, error)
	ReplaceForWorker(ctx context.Context, workerID string, labs []*model.Lab) error
	DeleteForWorker(ctx context.Context, workerID string) error
}
