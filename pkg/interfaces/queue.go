package interfaces

import "context"

// TaskQueue enqueues background work for the async handlers.
type TaskQueue interface {
	EnqueueProvision(ctx context.Context, workerID string) error
	EnqueueLicenseRegister(ctx context.Context, workerID, token string) error
	EnqueueLicenseDeregister(ctx context.Context, workerID string) error
}
