package main

import (
	"fmt"
	"net/http"
	"time"

	"simfleet/app/handler"
	"simfleet/app/router"
	"simfleet/internal/service"
	"simfleet/pkg/cloud/ec2"
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

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
	})
	return nil
}

// initMySQL initializes MySQL and the repositories
func (app *Application) initMySQL() error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		app.config.MySQL.User,
		app.config.MySQL.Password,
		app.config.MySQL.Host,
		app.config.MySQL.Port,
		app.config.MySQL.Database,
	)

	ds, err := mysqlstore.NewDatastore(dsn)
	if err != nil {
		return err
	}
	if err := ds.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	app.datastore = ds
	app.registerCleanup(func() {
		ds.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})
	return nil
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})
	return nil
}

// initEventBus initializes the domain event bus and its sinks
func (app *Application) initEventBus() error {
	app.eventBus = events.NewBus()
	app.wsHub = events.NewWSHub()
	app.eventBus.SubscribeAll(app.wsHub.HandleEvent)
	app.registerCleanup(func() {
		app.wsHub.Close()
	})

	// Repositories publish through the bus, so they are created here.
	app.workerRepo = mysqlstore.NewWorkerRepository(app.datastore, app.eventBus)
	app.settingsRepo = mysqlstore.NewSettingsRepository(app.datastore)
	app.labRepo = mysqlstore.NewLabRepository(app.datastore)
	return nil
}

// initQueue initializes the async task queue
func (app *Application) initQueue() error {
	manager, err := queuepkg.NewManager(app.config)
	if err != nil {
		return err
	}
	app.queue = manager
	app.registerCleanup(func() {
		manager.Close()
	})
	return nil
}

// initCloudProvider initializes the EC2 instance provider
func (app *Application) initCloudProvider() error {
	provider, err := ec2.NewProvider(app.ctx, app.config.Cloud)
	if err != nil {
		return err
	}
	app.instanceProvider = provider
	app.simClients = simapi.NewFactory(app.config.SimAPI)
	return nil
}

// initLeaderElection initializes the scheduler leader elector
func (app *Application) initLeaderElection() error {
	ttl := time.Duration(app.config.Leader.TTLSeconds) * time.Second
	app.elector = leader.NewElector(app.redisClient.GetClient(), app.config.Leader.Key, ttl)
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.settingsService = service.NewSettingsService(app.settingsRepo, app.config)
	app.workerService = service.NewWorkerService(app.workerRepo, app.labRepo,
		app.instanceProvider, app.settingsService)
	app.provisioningService = service.NewProvisioningService(app.workerRepo, app.queue,
		app.instanceProvider, app.settingsService)
	app.licenseService = service.NewLicenseService(app.workerRepo, app.queue,
		app.simClients, app.config.License)
	app.idleService = service.NewIdleDetectionService(app.workerRepo, app.workerService,
		app.settingsService, app.simClients, app.config.IdleDetector.BatchConcurrency)

	minRefresh := time.Duration(app.config.Monitoring.PollIntervalSeconds) * time.Second / 2
	app.syncService = service.NewSyncService(app.workerRepo, app.labRepo,
		app.instanceProvider, app.simClients, minRefresh)

	// Saga trigger and async task handlers.
	app.provisioningService.Register(app.eventBus)
	app.queue.RegisterHandlerFunc(queuepkg.TypeWorkerProvision, app.provisioningService.HandleProvisionTask)
	app.queue.RegisterHandlerFunc(queuepkg.TypeLicenseRegister, app.licenseService.HandleRegisterTask)
	app.queue.RegisterHandlerFunc(queuepkg.TypeLicenseDeregister, app.licenseService.HandleDeregisterTask)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.workerHandler = handler.NewWorkerHandler(app.workerService, app.licenseService, app.syncService)
	app.settingsHandler = handler.NewSettingsHandler(app.settingsService)
	app.healthHandler = handler.NewHealthHandler(app.datastore, app.redisClient, app.elector)
	return nil
}

// initHTTPServer initializes the HTTP server
func (app *Application) initHTTPServer() error {
	if app.config.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	r := router.NewRouter(app.workerHandler, app.settingsHandler, app.healthHandler, app.wsHub)
	r.Setup(engine)

	app.ginEngine = engine
	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}
