package router

import (
	"simfleet/app/handler"
	"simfleet/app/middleware"
	"simfleet/pkg/events"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	workerHandler   *handler.WorkerHandler
	settingsHandler *handler.SettingsHandler
	healthHandler   *handler.HealthHandler
	wsHub           *events.WSHub
}

// NewRouter creates a new Router
func NewRouter(workerHandler *handler.WorkerHandler, settingsHandler *handler.SettingsHandler,
	healthHandler *handler.HealthHandler, wsHub *events.WSHub) *Router {
	return &Router{
		workerHandler:   workerHandler,
		settingsHandler: settingsHandler,
		healthHandler:   healthHandler,
		wsHub:           wsHub,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/health", r.healthHandler.Health)
	engine.GET("/ready", r.healthHandler.Ready)

	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware())
	{
		v1.GET("/workers", r.workerHandler.List)
		v1.POST("/workers", r.workerHandler.Create)
		v1.GET("/workers/:worker_id", r.workerHandler.Get)
		v1.DELETE("/workers/:worker_id", r.workerHandler.Delete)
		v1.GET("/workers/:worker_id/labs", r.workerHandler.GetLabs)

		v1.POST("/workers/:worker_id/pause", r.workerHandler.Pause)
		v1.POST("/workers/:worker_id/resume", r.workerHandler.Resume)
		v1.POST("/workers/:worker_id/terminate", r.workerHandler.Terminate)
		v1.POST("/workers/:worker_id/refresh", r.workerHandler.RefreshMetrics)

		v1.POST("/workers/:worker_id/idle-detection/enable", r.workerHandler.EnableIdleDetection)
		v1.POST("/workers/:worker_id/idle-detection/disable", r.workerHandler.DisableIdleDetection)

		v1.POST("/workers/:worker_id/license", r.workerHandler.RegisterLicense)
		v1.DELETE("/workers/:worker_id/license", r.workerHandler.DeregisterLicense)

		v1.GET("/settings", r.settingsHandler.Get)
		v1.GET("/settings/effective", r.settingsHandler.GetEffective)
		v1.PATCH("/settings", r.settingsHandler.Patch)
	}

	// Event stream for UIs; auth happens at the websocket upgrade via the
	// same bearer key middleware.
	ws := engine.Group("/ws")
	ws.Use(middleware.AuthMiddleware())
	ws.GET("/events", gin.WrapH(r.wsHub))
}
