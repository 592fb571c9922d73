package handler

import (
	"net/http"

	"simfleet/pkg/leader"
	"simfleet/pkg/store/mysql"
	redisstore "simfleet/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	ds      *mysql.Datastore
	redis   *redisstore.RedisClient
	elector *leader.Elector
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(ds *mysql.Datastore, redis *redisstore.RedisClient, elector *leader.Elector) *HealthHandler {
	return &HealthHandler{ds: ds, redis: redis, elector: elector}
}

// Health is the liveness probe.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready checks the backing stores and reports leadership state.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	checks := gin.H{}

	if h.ds != nil {
		if db, err := h.ds.GetDB().DB(); err != nil || db.PingContext(ctx) != nil {
			checks["mysql"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["mysql"] = "ok"
		}
	}

	if h.redis != nil {
		if err := h.redis.GetClient().Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}
	}

	if h.elector != nil {
		checks["leader_state"] = string(h.elector.State())
	}

	c.JSON(status, checks)
}
