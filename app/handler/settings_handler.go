package handler

import (
	"net/http"

	"simfleet/internal/model"
	"simfleet/internal/service"

	"github.com/gin-gonic/gin"
)

// SettingsHandler serves the dynamic-configuration singleton.
type SettingsHandler struct {
	settingsService *service.SettingsService
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsService *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

// Get returns the stored settings.
func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetEffective returns the resolved runtime configuration.
func (h *SettingsHandler) GetEffective(c *gin.Context) {
	eff, err := h.settingsService.Effective(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eff)
}

// Patch applies a partial settings update.
func (h *SettingsHandler) Patch(c *gin.Context) {
	var patch model.SystemSettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings, err := h.settingsService.Update(c.Request.Context(), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}
