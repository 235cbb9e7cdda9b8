package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is anything the readiness check should reach, the database first of all.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	deps []Pinger
}

func NewHealthHandler(deps ...Pinger) *HealthHandler { return &HealthHandler{deps: deps} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	for _, d := range h.deps {
		if d == nil {
			continue
		}
		if err := d.PingContext(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "unavailable: %v", err)
			return
		}
	}
	c.String(http.StatusOK, "ok")
}
