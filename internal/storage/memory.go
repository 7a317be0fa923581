package storage

import (
	"context"
	"fmt"

	"github.com/filestore/backend/internal/models"
)

// MemoryEngine keeps file content in the returned FileResult.
type MemoryEngine struct {
	maxSize int64
}

// NewMemoryEngine creates a MemoryEngine. maxSize <= 0 disables the limit.
func NewMemoryEngine(maxSize int64) *MemoryEngine {
	return &MemoryEngine{maxSize: maxSize}
}

// Name implements Engine.
func (e *MemoryEngine) Name() string { return "memory" }

// Upload reads the file into memory. location is ignored.
func (e *MemoryEngine) Upload(ctx context.Context, file *models.FileInput, location string) (*models.FileResult, error) {
	if e.maxSize > 0 && file.Size > e.maxSize {
		return nil, models.NewError(models.KindValidation, file.Filename,
			fmt.Errorf("%w: %d bytes exceeds %d", models.ErrFileTooLarge, file.Size, e.maxSize))
	}

	data, err := file.ReadAll()
	if err != nil {
		return nil, models.NewError(models.KindValidation, "reading "+file.Filename, err)
	}
	// Size headers can lie; enforce on the bytes actually read.
	if e.maxSize > 0 && int64(len(data)) > e.maxSize {
		return nil, models.NewError(models.KindValidation, file.Filename,
			fmt.Errorf("%w: %d bytes exceeds %d", models.ErrFileTooLarge, len(data), e.maxSize))
	}

	return &models.FileResult{
		Status:      true,
		ContentType: file.ContentType,
		Filename:    file.Filename,
		Size:        int64(len(data)),
		File:        data,
		FieldName:   file.FieldName,
		Metadata:    map[string]any{},
		Message:     file.Filename + " saved successfully",
		Storage:     e.Name(),
	}, nil
}

// UploadMany implements Engine. Memory uploads are cheap, so they run in order.
func (e *MemoryEngine) UploadMany(ctx context.Context, items []Item) []*models.FileResult {
	return uploadEach(ctx, e, items, 1)
}
