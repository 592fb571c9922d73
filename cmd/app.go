package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"simfleet/app/handler"
	"simfleet/internal/jobs"
	"simfleet/internal/service"
	"simfleet/pkg/cloud"
	"simfleet/pkg/config"
	"simfleet/pkg/events"
	"simfleet/pkg/leader"
	"simfleet/pkg/logger"
	queuepkg "simfleet/pkg/queue/asynq"
	"simfleet/pkg/simapi"
	mysqlstore "simfleet/pkg/store/mysql"
	redisstore "simfleet/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	datastore   *mysqlstore.Datastore
	redisClient *redisstore.RedisClient
	queue       *queuepkg.Manager
	eventBus    *events.Bus
	wsHub       *events.WSHub
	elector     *leader.Elector

	// Business providers
	instanceProvider cloud.InstanceProvider
	simClients       simapi.Factory

	// Repositories
	workerRepo   *mysqlstore.WorkerRepository
	settingsRepo *mysqlstore.SettingsRepository
	labRepo      *mysqlstore.LabRepository

	// Service layer
	settingsService     *service.SettingsService
	workerService       *service.WorkerService
	provisioningService *service.ProvisioningService
	licenseService      *service.LicenseService
	idleService         *service.IdleDetectionService
	syncService         *service.SyncService

	// Handler layer
	workerHandler   *handler.WorkerHandler
	settingsHandler *handler.SettingsHandler
	healthHandler   *handler.HealthHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	var err error

	// Initialize components in order
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"MySQL", app.initMySQL},
		{"Redis", app.initRedis},
		{"Event Bus", app.initEventBus},
		{"Task Queue", app.initQueue},
		{"Cloud Provider", app.initCloudProvider},
		{"Leader Election", app.initLeaderElection},
		{"Service Layer", app.initServices},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err = step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start the leader election loop
	if app.elector != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.elector.Run(app.ctx)
		}()
	}

	// 2. Start the async task processor
	if app.queue != nil {
		if err := app.queue.Start(); err != nil {
			return fmt.Errorf("failed to start queue server: %w", err)
		}
	}

	// 3. Start background jobs
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager")
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 4. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		addr := fmt.Sprintf(":%d", app.config.Server.Port)
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Resign leadership so a standby takes over quickly
	if app.elector != nil {
		if err := app.elector.Resign(shutdownCtx); err != nil {
			logger.WarnCtx(app.ctx, "Failed to resign leadership: %v", err)
		}
	}

	// 2. Cancel all background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 3. Stop the queue processor
	if app.queue != nil {
		app.queue.Stop()
	}

	// 4. Stop HTTP server (stop accepting new requests)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 5. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 6. Execute all cleanup functions (in reverse registration order)
	logger.InfoCtx(app.ctx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	// 7. Sync logs
	logger.Sync()

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
