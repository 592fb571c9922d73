package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"simfleet/internal/model"
	"simfleet/pkg/cloud"
	"simfleet/pkg/config"
	"simfleet/pkg/constants"
	"simfleet/pkg/simapi"

	"github.com/stretchr/testify/require"
)

// fakeWorkerRepo is an in-memory WorkerRepository with the same optimistic
// version check as the real one.
type fakeWorkerRepo struct {
	mu        sync.Mutex
	workers   map[string]*model.Worker
	published []model.Event

	// conflictsFor injects n artificial conflicts per worker before the
	// update goes through.
	conflictsFor map[string]int

	// onGetByID, when set, is called before each load.
	onGetByID func(workerID string)
}

func newFakeWorkerRepo() *fakeWorkerRepo {
	return &fakeWorkerRepo{
		workers:      make(map[string]*model.Worker),
		conflictsFor: make(map[string]int),
	}
}

func cloneWorker(w *model.Worker) *model.Worker {
	cp := *w
	return &cp
}

func (r *fakeWorkerRepo) seed(t *testing.T, w *model.Worker) {
	t.Helper()
	require.NoError(t, r.Add(context.Background(), w))
}

func (r *fakeWorkerRepo) GetByID(_ context.Context, workerID string) (*model.Worker, error) {
	if r.onGetByID != nil {
		r.onGetByID(workerID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.workers[workerID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := cloneWorker(stored)
	cp.ClearPendingEvents()
	cp.SyncBaseVersion()
	return cp, nil
}

func (r *fakeWorkerRepo) GetByInstanceID(_ context.Context, instanceID string) (*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		if w.InstanceID != nil && *w.InstanceID == instanceID {
			cp := cloneWorker(w)
			cp.SyncBaseVersion()
			return cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *fakeWorkerRepo) GetByStatus(_ context.Context, statuses ...constants.WorkerStatus) ([]*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Worker
	for _, w := range r.workers {
		for _, s := range statuses {
			if w.Status == s {
				cp := cloneWorker(w)
				cp.SyncBaseVersion()
				out = append(out, cp)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeWorkerRepo) GetActive(_ context.Context) ([]*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Worker
	for _, w := range r.workers {
		if !w.IsTerminal() {
			cp := cloneWorker(w)
			cp.SyncBaseVersion()
			out = append(out, cp)
		}
	}
	return out, nil
}

func (r *fakeWorkerRepo) GetAll(_ context.Context) ([]*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := cloneWorker(w)
		cp.SyncBaseVersion()
		out = append(out, cp)
	}
	return out, nil
}

func (r *fakeWorkerRepo) GetIdle(_ context.Context, threshold time.Duration) ([]*model.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Worker
	for _, w := range r.workers {
		if w.Status != constants.WorkerStatusRunning || !w.IsIdleDetectionEnabled {
			continue
		}
		la := w.EffectiveLastActivity()
		if la == nil || time.Since(*la) < threshold {
			continue
		}
		cp := cloneWorker(w)
		cp.SyncBaseVersion()
		out = append(out, cp)
	}
	return out, nil
}

func (r *fakeWorkerRepo) Add(ctx context.Context, w *model.Worker) error {
	r.mu.Lock()
	r.workers[w.ID] = cloneWorker(w)
	r.mu.Unlock()
	w.SyncBaseVersion()
	r.flush(w)
	return nil
}

func (r *fakeWorkerRepo) Update(ctx context.Context, w *model.Worker) error {
	r.mu.Lock()
	stored, ok := r.workers[w.ID]
	if !ok {
		r.mu.Unlock()
		return model.ErrNotFound
	}
	if n := r.conflictsFor[w.ID]; n > 0 {
		r.conflictsFor[w.ID] = n - 1
		r.mu.Unlock()
		return model.ErrConcurrencyConflict
	}
	if stored.Version != w.BaseVersion() {
		r.mu.Unlock()
		return model.ErrConcurrencyConflict
	}
	r.workers[w.ID] = cloneWorker(w)
	r.mu.Unlock()
	w.SyncBaseVersion()
	r.flush(w)
	return nil
}

func (r *fakeWorkerRepo) UpdateMany(ctx context.Context, workers []*model.Worker) (int, error) {
	updated := 0
	for _, w := range workers {
		if err := r.Update(ctx, w); err != nil {
			continue
		}
		updated++
	}
	return updated, nil
}

func (r *fakeWorkerRepo) Delete(_ context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[workerID]; !ok {
		return model.ErrNotFound
	}
	delete(r.workers, workerID)
	return nil
}

func (r *fakeWorkerRepo) flush(w *model.Worker) {
	pending := w.PendingEvents()
	w.ClearPendingEvents()
	r.mu.Lock()
	r.published = append(r.published, pending...)
	r.mu.Unlock()
}

// stored returns the persisted snapshot for assertions.
func (r *fakeWorkerRepo) stored(t *testing.T, workerID string) *model.Worker {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	require.True(t, ok, "worker %s not stored", workerID)
	return cloneWorker(w)
}

type fakeLabRepo struct {
	mu       sync.Mutex
	labs     map[string][]*model.Lab
	replaced int
	deleted  []string
}

func newFakeLabRepo() *fakeLabRepo {
	return &fakeLabRepo{labs: make(map[string][]*model.Lab)}
}

func (r *fakeLabRepo) GetByWorker(_ context.Context, workerID string) ([]*model.Lab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Lab(nil), r.labs[workerID]...), nil
}

func (r *fakeLabRepo) ReplaceForWorker(_ context.Context, workerID string, labs []*model.Lab) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.labs[workerID] = labs
	r.replaced++
	return nil
}

func (r *fakeLabRepo) DeleteForWorker(_ context.Context, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.labs, workerID)
	r.deleted = append(r.deleted, workerID)
	return nil
}

type fakeQueue struct {
	mu           sync.Mutex
	provisioned  []string
	registered   []string
	deregistered []string

	provisionErr  error
	registerErr   error
	deregisterErr error
}

func (q *fakeQueue) EnqueueProvision(_ context.Context, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.provisionErr != nil {
		return q.provisionErr
	}
	q.provisioned = append(q.provisioned, workerID)
	return nil
}

func (q *fakeQueue) EnqueueLicenseRegister(_ context.Context, workerID, token string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.registerErr != nil {
		return q.registerErr
	}
	q.registered = append(q.registered, workerID)
	return nil
}

func (q *fakeQueue) EnqueueLicenseDeregister(_ context.Context, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deregisterErr != nil {
		return q.deregisterErr
	}
	q.deregistered = append(q.deregistered, workerID)
	return nil
}

type fakeProvider struct {
	mu sync.Mutex

	createResult *cloud.Instance
	createErr    error
	created      []cloud.CreateInstanceRequest

	stopErr      error
	startErr     error
	terminateErr error
	stopped      []string
	started      []string
	terminated   []string

	statuses  map[string]cloud.InstanceState
	statusErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: make(map[string]cloud.InstanceState)}
}

func (p *fakeProvider) CreateInstance(_ context.Context, req cloud.CreateInstanceRequest) (*cloud.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	if p.createResult != nil {
		return p.createResult, nil
	}
	return &cloud.Instance{
		InstanceID: "i-fake",
		PublicIP:   "203.0.113.10",
		PrivateIP:  "10.0.0.5",
		State:      cloud.InstanceStateRunning,
	}, nil
}

func (p *fakeProvider) StopInstance(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopErr != nil {
		return p.stopErr
	}
	p.stopped = append(p.stopped, instanceID)
	return nil
}

func (p *fakeProvider) StartInstance(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = append(p.started, instanceID)
	return nil
}

func (p *fakeProvider) TerminateInstance(_ context.Context, instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminateErr != nil {
		return p.terminateErr
	}
	p.terminated = append(p.terminated, instanceID)
	return nil
}

func (p *fakeProvider) GetInstanceStatus(_ context.Context, instanceID string) (cloud.InstanceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusErr != nil {
		return cloud.InstanceStateUnknown, p.statusErr
	}
	state, ok := p.statuses[instanceID]
	if !ok {
		return cloud.InstanceStateUnknown, cloud.ErrInstanceNotFound
	}
	return state, nil
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	settings *model.SystemSettings
	getErr   error
	saved    int
}

func (r *fakeSettingsRepo) Get(_ context.Context) (*model.SystemSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if r.settings == nil {
		return model.DefaultSystemSettings(), nil
	}
	cp := *r.settings
	return &cp, nil
}

func (r *fakeSettingsRepo) Save(_ context.Context, s *model.SystemSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.settings = &cp
	r.saved++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Cloud: config.CloudConfig{
			Region:          "us-east-1",
			InstanceType:    "m5.large",
			ImageRef:        "img-default",
			SubnetID:        "subnet-1",
			SecurityGroupID: "sg-1",
		},
		Monitoring: config.MonitoringConfig{PollIntervalSeconds: 300},
		IdleDetector: config.IdleDetectorConfig{
			Enabled:              true,
			TimeoutMinutes:       30,
			SnoozeMinutes:        10,
			CheckIntervalMinutes: 5,
			BatchConcurrency:     10,
		},
		License: config.LicenseConfig{PollIntervalSeconds: 1, MaxPollAttempts: 3},
	}
}

func newTestSettingsService(repo *fakeSettingsRepo, cfg *config.Config) *SettingsService {
	if repo == nil {
		repo = &fakeSettingsRepo{}
	}
	if cfg == nil {
		cfg = testConfig()
	}
	return NewSettingsService(repo, cfg)
}

// simTestServer serves the sim app API for service tests. The authenticate
// endpoint is always wired; everything else comes from the caller's mux.
func simTestServer(t *testing.T, register func(mux *http.ServeMux)) simapi.Factory {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/authenticate", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`"token-123"`))
	})
	if register != nil {
		register(mux)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.SimAPIConfig{
		Scheme:         "http",
		Port:           port,
		Username:       "admin",
		Password:       "admin",
		TimeoutSeconds: 5,
	}
	host := u.Hostname()
	return func(string) *simapi.Client {
		// Every worker address resolves to the test server.
		return simapi.NewClient(cfg, host)
	}
}

// pendingWorker builds a freshly created worker with no cloud instance.
func pendingWorker(id string) *model.Worker {
	return model.NewWorker(id, "worker-"+id, "us-east-1", "m5.large", "img-default")
}

// runningWorkerWithInstance walks a worker through provisioning into Running.
func runningWorkerWithInstance(t *testing.T, id, instanceID string) *model.Worker {
	t.Helper()
	w := pendingWorker(id)
	require.NoError(t, w.UpdateStatus(constants.WorkerStatusStarting))
	require.NoError(t, w.AssignInstance(instanceID, "203.0.113.10", "10.0.0.5"))
	require.NoError(t, w.UpdateStatus(constants.WorkerStatusRunning))
	return w
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}
