// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/filestore/backend/internal/ledger"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles form uploads and the upload history
type UploadHandler interface {
	HandleUpload(c echo.Context) error
	HandleRecentUploads(c echo.Context) error
	HandleUploadSummary(c echo.Context) error
}

// RoutesHandler lists the declared upload routes
type RoutesHandler interface {
	HandleListRoutes(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// UploadLedger is the read side of the upload ledger.
type UploadLedger interface {
	Recent(ctx context.Context, limit int) ([]ledger.Record, error)
	Summary(ctx context.Context) ([]ledger.FieldSummary, error)
}

// TaskCounter reports how many background uploads are still running.
type TaskCounter interface {
	Pending() int
}
