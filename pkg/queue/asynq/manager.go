package asynq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"simfleet/pkg/config"
	"simfleet/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeWorkerProvision   = "worker:provision"
	TypeLicenseRegister   = "license:register"
	TypeLicenseDeregister = "license:deregister"
)

// ProvisionPayload carries the data a provision handler needs. Runtime
// dependencies are resolved by the handler, never serialized.
type ProvisionPayload struct {
	WorkerID string `json:"worker_id"`
}

// LicensePayload carries the data a license handler needs.
type LicensePayload struct {
	WorkerID string `json:"worker_id"`
	Token    string `json:"token,omitempty"`
}

// Manager queue manager
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	client := asynq.NewClient(redisOpt)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				"default": 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	mux := asynq.NewServeMux()

	return &Manager{
		client: client,
		server: server,
		mux:    mux,
	}, nil
}

// EnqueueProvision enqueues a provisioning task for a worker. The task id
// is the worker id, so a worker has at most one provision task in flight.
func (m *Manager) EnqueueProvision(ctx context.Context, workerID string) error {
	return m.enqueue(ctx, TypeWorkerProvision, "provision:"+workerID, ProvisionPayload{WorkerID: workerID})
}

// EnqueueLicenseRegister enqueues an async license registration task.
func (m *Manager) EnqueueLicenseRegister(ctx context.Context, workerID, token string) error {
	return m.enqueue(ctx, TypeLicenseRegister, "license:reg:"+workerID, LicensePayload{WorkerID: workerID, Token: token})
}

// EnqueueLicenseDeregister enqueues an async license deregistration task.
func (m *Manager) EnqueueLicenseDeregister(ctx context.Context, workerID string) error {
	return m.enqueue(ctx, TypeLicenseDeregister, "license:dereg:"+workerID, LicensePayload{WorkerID: workerID})
}

func (m *Manager) enqueue(ctx context.Context, taskType, taskID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", taskType, err)
	}

	opts := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Timeout(time.Duration(config.GlobalConfig.Queue.TaskTimeout) * time.Second),
		asynq.MaxRetry(config.GlobalConfig.Queue.MaxRetry),
	}

	info, err := m.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	logger.InfoCtx(ctx, "task enqueued, type: %s, task_id: %s, queue: %s", taskType, taskID, info.Queue)
	return nil
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.Handler) {
	m.mux.Handle(pattern, handler)
}

// RegisterHandlerFunc registers a task handler function
func (m *Manager) RegisterHandlerFunc(pattern string, handler func(context.Context, *asynq.Task) error) {
	m.mux.HandleFunc(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client
func (m *Manager) Close() error {
	return m.client.Close()
}

// GetPendingTaskCount retrieves pending task count
func (m *Manager) GetPendingTaskCount() (int, error) {
	inspector := asynq.NewInspector(asynq.RedisClientOpt{
		Addr:     config.GlobalConfig.Redis.Addr,
		Password: config.GlobalConfig.Redis.Password,
		DB:       config.GlobalConfig.Redis.DB,
	})
	defer inspector.Close()

	stats, err := inspector.GetQueueInfo("default")
	if err != nil {
		return 0, err
	}

	return stats.Pending, nil
}
