// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	routes  []string
	engines []string
	tasks   TaskCounter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, routes, engines []string, tasks TaskCounter) HealthHandler {
	routes = append([]string(nil), routes...)
	sort.Strings(routes)
	return &HealthHandlerImpl{
		version: version,
		routes:  routes,
		engines: engines,
		tasks:   tasks,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	pending := 0
	if h.tasks != nil {
		pending = h.tasks.Pending()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"version":      h.version,
		"routes":       h.routes,
		"engines":      h.engines,
		"pendingTasks": pending,
	})
}
