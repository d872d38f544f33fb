package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mirror-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	mirror  *config.Mirror
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(mirror *config.Mirror, v Version) *HealthHandler {
	return &HealthHandler{mirror: mirror, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    string(h.version),
		"origin_url": h.mirror.Origin().String(),
	})
}
