package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkerService(repo *fakeWorkerRepo, labRepo *fakeLabRepo, provider *fakeProvider) *WorkerService {
	if labRepo == nil {
		labRepo = newFakeLabRepo()
	}
	if provider == nil {
		provider = newFakeProvider()
	}
	return NewWorkerService(repo, labRepo, provider, newTestSettingsService(nil, nil))
}

func TestWorkerService_Create_FillsProvisioningDefaults(t *testing.T) {
	repo := newFakeWorkerRepo()
	svc := newWorkerService(repo, nil, nil)

	w, err := svc.Create(context.Background(), CreateWorkerRequest{Name: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, constants.WorkerStatusPending, w.Status)
	assert.Equal(t, "us-east-1", w.Region)
	assert.Equal(t, "m5.large", w.InstanceType)
	assert.Equal(t, "img-default", w.ImageRef)
	assert.True(t, w.IsIdleDetectionEnabled)

	stored := repo.stored(t, w.ID)
	assert.Equal(t, "alpha", stored.Name)
}

func TestWorkerService_Create_RequestOverridesWin(t *testing.T) {
	repo := newFakeWorkerRepo()
	svc := newWorkerService(repo, nil, nil)

	w, err := svc.Create(context.Background(), CreateWorkerRequest{
		Name:         "beta",
		Region:       "eu-west-1",
		InstanceType: "c5.xlarge",
		ImageRef:     "img-custom",
	})
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", w.Region)
	assert.Equal(t, "c5.xlarge", w.InstanceType)
	assert.Equal(t, "img-custom", w.ImageRef)
}

func TestWorkerService_Create_DynamicDefaultsOverrideStatic(t *testing.T) {
	repo := newFakeWorkerRepo()
	settingsRepo := &fakeSettingsRepo{settings: &model.SystemSettings{
		ID:           model.SystemSettingsID,
		Provisioning: model.ProvisioningSettings{Region: "ap-south-1"},
	}}
	svc := NewWorkerService(repo, newFakeLabRepo(), newFakeProvider(),
		newTestSettingsService(settingsRepo, nil))

	w, err := svc.Create(context.Background(), CreateWorkerRequest{Name: "gamma"})
	require.NoError(t, err)

	assert.Equal(t, "ap-south-1", w.Region)
	assert.Equal(t, "m5.large", w.InstanceType, "unset settings fields keep static defaults")
}

func TestWorkerService_Pause_StopsInstance(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	require.NoError(t, svc.Pause(context.Background(), "w-1", false, "alice", "maintenance"))

	stored := repo.stored(t, "w-1")
	assert.Equal(t, constants.WorkerStatusStopping, stored.Status)
	assert.Equal(t, "alice", stored.PausedBy)
	assert.Equal(t, 1, stored.ManualPauseCount)
	assert.Equal(t, []string{"i-1"}, provider.stopped)
}

func TestWorkerService_Pause_RejectsNonRunning(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)
	repo.seed(t, pendingWorker("w-1"))

	err := svc.Pause(context.Background(), "w-1", false, "alice", "")
	var ist *model.InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)
	assert.Empty(t, provider.stopped, "no cloud call for a rejected pause")
}

func TestWorkerService_Pause_RetriesOnConflict(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))
	repo.conflictsFor["w-1"] = 1

	require.NoError(t, svc.Pause(context.Background(), "w-1", true, constants.PausedByAutoPause, "idle"))
	assert.Equal(t, constants.WorkerStatusStopping, repo.stored(t, "w-1").Status)
}

func TestWorkerService_Pause_AlreadyStoppedIsNoOp(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)

	w := runningWorkerWithInstance(t, "w-1", "i-1")
	require.NoError(t, w.Pause(false, "alice", "maintenance"))
	require.NoError(t, w.UpdateStatus(constants.WorkerStatusStopped))
	repo.seed(t, w)

	require.NoError(t, svc.Pause(context.Background(), "w-1", false, "bob", ""))

	stored := repo.stored(t, "w-1")
	assert.Equal(t, constants.WorkerStatusStopped, stored.Status)
	assert.Equal(t, "alice", stored.PausedBy, "a satisfied pause does not mutate")
	assert.Equal(t, 1, stored.ManualPauseCount)
	assert.Empty(t, provider.stopped, "no cloud call for a satisfied pause")
}

func TestWorkerService_Pause_AlreadyStoppingIsNoOp(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)

	w := runningWorkerWithInstance(t, "w-1", "i-1")
	require.NoError(t, w.Pause(true, constants.PausedByAutoPause, "idle"))
	repo.seed(t, w)

	require.NoError(t, svc.Pause(context.Background(), "w-1", false, "alice", ""))
	assert.Empty(t, provider.stopped)
	assert.Equal(t, constants.WorkerStatusStopping, repo.stored(t, "w-1").Status)
}

func TestWorkerService_Pause_ProviderFailureLeavesRunning(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.stopErr = errors.New("api throttled")
	svc := newWorkerService(repo, nil, provider)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	err := svc.Pause(context.Background(), "w-1", false, "alice", "")
	require.ErrorIs(t, err, model.ErrIntegrationFailure)

	// The stop call goes out before the status commit, so a provider failure
	// leaves the worker Running and every lifecycle command still available.
	stored := repo.stored(t, "w-1")
	assert.Equal(t, constants.WorkerStatusRunning, stored.Status)
	assert.Zero(t, stored.ManualPauseCount)

	provider.stopErr = nil
	require.NoError(t, svc.Pause(context.Background(), "w-1", false, "alice", ""))
	assert.Equal(t, constants.WorkerStatusStopping, repo.stored(t, "w-1").Status)
}

func TestWorkerService_Terminate_AfterFailedPause(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.stopErr = errors.New("api throttled")
	svc := newWorkerService(repo, nil, provider)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	require.Error(t, svc.Pause(context.Background(), "w-1", false, "alice", ""))

	require.NoError(t, svc.Terminate(context.Background(), "w-1"))
	assert.Equal(t, constants.WorkerStatusTerminated, repo.stored(t, "w-1").Status)
	assert.Equal(t, []string{"i-1"}, provider.terminated)
}

func TestWorkerService_Resume_ProviderFailureLeavesStopped(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.startErr = errors.New("api throttled")
	svc := newWorkerService(repo, nil, provider)

	w := runningWorkerWithInstance(t, "w-1", "i-1")
	require.NoError(t, w.Pause(true, constants.PausedByAutoPause, "idle"))
	require.NoError(t, w.UpdateStatus(constants.WorkerStatusStopped))
	repo.seed(t, w)

	err := svc.Resume(context.Background(), "w-1", false)
	require.ErrorIs(t, err, model.ErrIntegrationFailure)
	assert.Equal(t, constants.WorkerStatusStopped, repo.stored(t, "w-1").Status)

	provider.startErr = nil
	require.NoError(t, svc.Resume(context.Background(), "w-1", false))
	assert.Equal(t, constants.WorkerStatusStarting, repo.stored(t, "w-1").Status)
}

func TestWorkerService_Resume_StartsInstance(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)

	w := runningWorkerWithInstance(t, "w-1", "i-1")
	require.NoError(t, w.Pause(true, constants.PausedByAutoPause, "idle"))
	require.NoError(t, w.UpdateStatus(constants.WorkerStatusStopped))
	repo.seed(t, w)

	require.NoError(t, svc.Resume(context.Background(), "w-1", false))

	stored := repo.stored(t, "w-1")
	assert.Equal(t, constants.WorkerStatusStarting, stored.Status)
	assert.Equal(t, 1, stored.ManualResumeCount)
	assert.Equal(t, []string{"i-1"}, provider.started)
}

func TestWorkerService_Resume_RejectsNonStopped(t *testing.T) {
	repo := newFakeWorkerRepo()
	svc := newWorkerService(repo, nil, nil)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	err := svc.Resume(context.Background(), "w-1", false)
	var ist *model.InvalidStateTransitionError
	assert.ErrorAs(t, err, &ist)
}

func TestWorkerService_Terminate(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	svc := newWorkerService(repo, nil, provider)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	require.NoError(t, svc.Terminate(context.Background(), "w-1"))

	assert.Equal(t, constants.WorkerStatusTerminated, repo.stored(t, "w-1").Status)
	assert.Equal(t, []string{"i-1"}, provider.terminated)
}

func TestWorkerService_Terminate_MissingInstanceIsAlreadyGone(t *testing.T) {
	repo := newFakeWorkerRepo()
	provider := newFakeProvider()
	provider.terminateErr = errors.New("should not be called")
	svc := newWorkerService(repo, nil, provider)

	// A Pending worker has no instance to tear down.
	repo.seed(t, pendingWorker("w-1"))

	require.NoError(t, svc.Terminate(context.Background(), "w-1"))
	assert.Equal(t, constants.WorkerStatusTerminated, repo.stored(t, "w-1").Status)
	assert.Empty(t, provider.terminated)
}

func TestWorkerService_Delete_RequiresTerminalStatus(t *testing.T) {
	repo := newFakeWorkerRepo()
	labRepo := newFakeLabRepo()
	svc := newWorkerService(repo, labRepo, nil)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	err := svc.Delete(context.Background(), "w-1")
	var ist *model.InvalidStateTransitionError
	require.ErrorAs(t, err, &ist)

	require.NoError(t, svc.Terminate(context.Background(), "w-1"))
	require.NoError(t, svc.Delete(context.Background(), "w-1"))

	_, err = repo.GetByID(context.Background(), "w-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, []string{"w-1"}, labRepo.deleted)
}

func TestWorkerService_IdleDetectionToggle(t *testing.T) {
	repo := newFakeWorkerRepo()
	svc := newWorkerService(repo, nil, nil)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	require.NoError(t, svc.DisableIdleDetection(context.Background(), "w-1", "alice"))
	assert.False(t, repo.stored(t, "w-1").IsIdleDetectionEnabled)

	require.NoError(t, svc.EnableIdleDetection(context.Background(), "w-1", "alice"))
	assert.True(t, repo.stored(t, "w-1").IsIdleDetectionEnabled)
}

func TestWorkerService_RecordActivity(t *testing.T) {
	repo := newFakeWorkerRepo()
	svc := newWorkerService(repo, nil, nil)
	repo.seed(t, runningWorkerWithInstance(t, "w-1", "i-1"))

	at := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, svc.RecordActivity(context.Background(), "w-1", at))

	stored := repo.stored(t, "w-1")
	require.NotNil(t, stored.LastActivityAt)
	assert.WithinDuration(t, at, *stored.LastActivityAt, time.Second)
}

func TestWorkerService_GetLabs_UnknownWorker(t *testing.T) {
	repo := newFakeWorkerRepo()
	svc := newWorkerService(repo, nil, nil)

	_, err := svc.GetLabs(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
