// routes.go - Route registration helpers
package api

import (
	"log/slog"
	"net/http"

	"github.com/filestore/backend/internal/config"
	"github.com/filestore/backend/internal/filestore"
	"github.com/labstack/echo/v4"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Routes      []config.RouteSpec
	Dispatchers map[string]*filestore.Dispatcher
	Ledger      UploadLedger
	Tasks       TaskCounter
	Engines     []string
	Metrics     http.Handler
	Logger      *slog.Logger
	Version     string
}

// Handlers holds all handler instances
type Handlers struct {
	Health  HealthHandler
	Upload  UploadHandler
	Routes  RoutesHandler
	Metrics http.Handler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	names := make([]string, 0, len(deps.Dispatchers))
	for name := range deps.Dispatchers {
		names = append(names, name)
	}

	return &Handlers{
		Health:  NewHealthHandler(deps.Version, names, deps.Engines, deps.Tasks),
		Upload:  NewUploadHandler(deps.Dispatchers, deps.Ledger, deps.Logger),
		Routes:  NewRoutesHandler(deps.Routes),
		Metrics: deps.Metrics,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Declared upload routes
	api.GET("/routes", handlers.Routes.HandleListRoutes)

	// Uploads and history. The static paths win over :route for GET only,
	// and :route is POST only.
	uploads := api.Group("/uploads")
	uploads.GET("/recent", handlers.Upload.HandleRecentUploads)
	uploads.GET("/summary", handlers.Upload.HandleUploadSummary)
	uploads.POST("/:route", handlers.Upload.HandleUpload)

	if handlers.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(handlers.Metrics))
	}
}
