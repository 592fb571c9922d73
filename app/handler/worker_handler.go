package handler

import (
	"net/http"

	"simfleet/internal/service"
	"simfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles worker lifecycle requests.
type WorkerHandler struct {
	workerService  *service.WorkerService
	licenseService *service.LicenseService
	syncService    *service.SyncService
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(workerService *service.WorkerService, licenseService *service.LicenseService,
	syncService *service.SyncService) *WorkerHandler {
	return &WorkerHandler{
		workerService:  workerService,
		licenseService: licenseService,
		syncService:    syncService,
	}
}

// Create registers a new worker and starts provisioning.
func (h *WorkerHandler) Create(c *gin.Context) {
	var req service.CreateWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	w, err := h.workerService.Create(c.Request.Context(), req)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to create worker: %v", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// List returns all workers.
func (h *WorkerHandler) List(c *gin.Context) {
	workers, err := h.workerService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}

// Get returns one worker.
func (h *WorkerHandler) Get(c *gin.Context) {
	w, err := h.workerService.Get(c.Request.Context(), c.Param("worker_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// GetLabs returns the tracked topologies for a worker.
func (h *WorkerHandler) GetLabs(c *gin.Context) {
	labs, err := h.workerService.GetLabs(c.Request.Context(), c.Param("worker_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"labs": labs, "count": len(labs)})
}

type pauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Pause stops a running worker.
func (h *WorkerHandler) Pause(c *gin.Context) {
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.workerService.Pause(c.Request.Context(), c.Param("worker_id"),
		false, requestUser(c), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

// Resume starts a stopped worker.
func (h *WorkerHandler) Resume(c *gin.Context) {
	if err := h.workerService.Resume(c.Request.Context(), c.Param("worker_id"), false); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "starting"})
}

// Terminate tears the worker down.
func (h *WorkerHandler) Terminate(c *gin.Context) {
	if err := h.workerService.Terminate(c.Request.Context(), c.Param("worker_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "terminated"})
}

// Delete removes a terminal worker.
func (h *WorkerHandler) Delete(c *gin.Context) {
	if err := h.workerService.Delete(c.Request.Context(), c.Param("worker_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// EnableIdleDetection turns per-worker idle detection on.
func (h *WorkerHandler) EnableIdleDetection(c *gin.Context) {
	if err := h.workerService.EnableIdleDetection(c.Request.Context(),
		c.Param("worker_id"), requestUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"idle_detection": "enabled"})
}

// DisableIdleDetection turns per-worker idle detection off.
func (h *WorkerHandler) DisableIdleDetection(c *gin.Context) {
	if err := h.workerService.DisableIdleDetection(c.Request.Context(),
		c.Param("worker_id"), requestUser(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"idle_detection": "disabled"})
}

type registerLicenseRequest struct {
	Token string `json:"token"`
}

// RegisterLicense accepts an async license registration.
func (h *WorkerHandler) RegisterLicense(c *gin.Context) {
	var req registerLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}

	if err := h.licenseService.Register(c.Request.Context(), c.Param("worker_id"), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// DeregisterLicense accepts an async license deregistration.
func (h *WorkerHandler) DeregisterLicense(c *gin.Context) {
	if err := h.licenseService.Deregister(c.Request.Context(), c.Param("worker_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// RefreshMetrics forces an immediate metrics sync, subject to the per-worker
// throttle.
func (h *WorkerHandler) RefreshMetrics(c *gin.Context) {
	if err := h.syncService.SyncMetrics(c.Request.Context(), c.Param("worker_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
}

// requestUser identifies the caller for audit fields. Falls back to the
// client IP when no identity header is present.
func requestUser(c *gin.Context) string {
	if user := c.GetHeader("X-User"); user != "" {
		return user
	}
	return c.ClientIP()
}
