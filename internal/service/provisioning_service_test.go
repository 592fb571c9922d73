package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"simfleet/pkg/cloud"
	"simfleet/pkg/constants"
	"simfleet/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProvisioningService(repo *fakeWorkerRepo, queue *fakeQueue, provider *fakeProvider) *ProvisioningService {
	if queue == nil {
		queue = &fakeQueue{}
	}
	if provider == nil {
		provider = newFakeProvider()
	}
	return NewProvisioningService(repo, queue, provider, newTestSettingsService(nil, nil))
}

func TestProvisioning_CreatedEventEnqueuesTask(t *testing.T) {
	repo := newFakeWorkerRepo()
	queue := &fakeQueue{}
	svc := newProvisioningService(repo, queue, nil)

	bus := events.NewBus()
	svc.Register(bus)

	w := pendingWorker("w-1")
	bus.Publish(context.Background(), w.PendingEvents()...)

	assert.Equal(t, []string{"w-1"}, queue.provisioned)
}

func TestProvisioning_HappyPath(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newProvisioningService(repo, nil, provider)
	repo.seed(t, pendingWorker("w-1"))

	require.NoError(t, svc.Provision(context.Background(), "w-1"))

	stored := repo.stored(t, "w-1")
	assert.Equal(t, constants.WorkerStatusRunning, stored.Status)
	require.NotNil(t, stored.InstanceID)
	assert.Equal(t, "i-fake", *stored.InstanceID)
	require.NotNil(t, stored.PublicIP)
	assert.Equal(t, "203.0.113.10", *stored.PublicIP)

	require.Len(t, provider.created, 1)
	req := provider.created[0]
	assert.Equal(t, "us-east-1", req.Region)
	assert.Equal(t, "subnet-1", req.Network.SubnetID)
	assert.Equal(t, "sg-1", req.Network.SecurityGroupID)
}

func TestProvisioning_InstanceStillBootingStaysStarting(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.createResult = &cloud.Instance{
		InstanceID: "i-slow",
		PrivateIP:  "10.0.0.9",
		State:      cloud.InstanceStatePending,
	}
	svc := newProvisioningService(repo, nil, provider)
	repo.seed(t, pendingWorker("w-1"))

	require.NoError(t, svc.Provision(context.Background(), "w-1"))

	stored := repo.stored(t, "w-1")
	assert.Equal(t, constants.WorkerStatusStarting, stored.Status)
	require.NotNil(t, stored.InstanceID)
	assert.Equal(t, "i-slow", *stored.InstanceID)
}

func TestProvisioning_MissingWorkerIsNotRetried(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newProvisioningService(repo, nil, provider)

	assert.NoError(t, svc.Provision(context.Background(), "ghost"))
	assert.Empty(t, provider.created)
}

func TestProvisioning_NonPendingWorkerSkipped(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newProvisioningService(repo, nil, provider)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	// Asynq re-delivery after the worker already advanced.
	require.NoError(t, svc.Provision(context.Background(), "w-1"))
	assert.Empty(t, provider.created)
	assert.Equal(t, constants.WorkerStatusRunning, repo.stored(t, "w-1").Status)
}

func TestProvisioning_QuotaFailureCompensatesWithoutRetry(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.createErr = fmt.Errorf("launch rejected: %w", cloud.ErrQuotaExceeded)
	svc := newProvisioningService(repo, nil, provider)
	repo.seed(t, pendingWorker("w-1"))

	// nil keeps asynq from redelivering a task that cannot heal on retry.
	require.NoError(t, svc.Provision(context.Background(), "w-1"))
	assert.Equal(t, constants.WorkerStatusFailed, repo.stored(t, "w-1").Status)
}

func TestProvisioning_TransientFailureCompensatesAndRetries(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.createErr = errors.New("connection reset")
	svc := newProvisioningService(repo, nil, provider)
	repo.seed(t, pendingWorker("w-1"))

	err := svc.Provision(context.Background(), "w-1")
	require.Error(t, err)
	assert.Equal(t, constants.WorkerStatusFailed, repo.stored(t, "w-1").Status)
}

func TestProvisioning_ProviderUnavailableIsRetried(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.createErr = fmt.Errorf("%w: dial tcp: i/o timeout", cloud.ErrUnavailable)
	svc := newProvisioningService(repo, nil, provider)
	repo.seed(t, pendingWorker("w-1"))

	// The error surfaces so the queue redelivers the task.
	err := svc.Provision(context.Background(), "w-1")
	require.ErrorIs(t, err, cloud.ErrUnavailable)
}

func TestProvisioning_SweepPendingReenqueues(t *testing.T) {
	repo := newFakeWorkerRepo()
	queue := &fakeQueue{}
	svc := newProvisioningService(repo, queue, nil)

	repo.seed(t, pendingWorker("w-1"))
	repo.seed(t, pendingWorker("w-2"))
	repo.seed(t, runningWorkerWithInstance(t, "w-3", "i-3"))

	require.NoError(t, svc.SweepPending(context.Background()))
	assert.ElementsMatch(t, []string{"w-1", "w-2"}, queue.provisioned)
}
