// handlers_routes.go - Upload route listing
package api

import (
	"net/http"

	"github.com/filestore/backend/internal/config"
	"github.com/labstack/echo/v4"
)

// RoutesHandlerImpl implements the RoutesHandler interface
type RoutesHandlerImpl struct {
	routes []config.RouteSpec
}

// NewRoutesHandler creates a handler listing the given routes
func NewRoutesHandler(routes []config.RouteSpec) RoutesHandler {
	return &RoutesHandlerImpl{routes: routes}
}

// HandleListRoutes returns the declared routes with their fields
func (h *RoutesHandlerImpl) HandleListRoutes(c echo.Context) error {
	if h.routes == nil {
		return respond(c, http.StatusOK, []config.RouteSpec{})
	}
	return respond(c, http.StatusOK, h.routes)
}
