// handlers_upload.go - Form upload and upload history handlers
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/filestore/backend/internal/filestore"
	"github.com/labstack/echo/v4"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	dispatchers map[string]*filestore.Dispatcher
	ledger      UploadLedger
	logger      *slog.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(dispatchers map[string]*filestore.Dispatcher, ledger UploadLedger, logger *slog.Logger) UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandlerImpl{
		dispatchers: dispatchers,
		ledger:      ledger,
		logger:      logger,
	}
}

// HandleUpload parses a multipart form and stores its files through the
// route's dispatcher. Per-file failures are reported in the body with 200;
// only a malformed form fails the request.
func (h *UploadHandlerImpl) HandleUpload(c echo.Context) error {
	name := c.Param("route")
	d, ok := h.dispatchers[name]
	if !ok {
		return NewNotFoundError("upload route", name)
	}

	form, err := filestore.ParseRequest(c.Request(), d.Config())
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrTooManyFiles):
			return NewValidationError("files", err)
		case errors.Is(err, filestore.ErrTooManyFields):
			return NewValidationError("fields", err)
		default:
			return NewBadRequestError("invalid multipart form", err)
		}
	}
	defer form.RemoveAll()

	store := d.Process(c.Request().Context(), c.Request(), form)

	h.logger.Info("upload processed",
		"route", name, "stored", store.Len(), "failed", store.FailedLen())

	return respond(c, http.StatusOK, store)
}

// HandleRecentUploads returns the latest ledger records
func (h *UploadHandlerImpl) HandleRecentUploads(c echo.Context) error {
	limit := defaultRecentLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRecentLimit {
			return NewValidationError("limit", err)
		}
		limit = n
	}

	records, err := h.ledger.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read upload ledger", err)
	}

	return respond(c, http.StatusOK, records)
}

// HandleUploadSummary returns per-field stored and failed counts
func (h *UploadHandlerImpl) HandleUploadSummary(c echo.Context) error {
	summaries, err := h.ledger.Summary(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to summarize upload ledger", err)
	}

	return respond(c, http.StatusOK, summaries)
}
