package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/filestore/backend/internal/models"
)

// LocalEngine writes files to the local filesystem.
type LocalEngine struct {
	root        string
	parallelism int
}

// NewLocalEngine creates a LocalEngine. Relative locations are resolved
// under root; an empty root means the working directory.
func NewLocalEngine(root string) (*LocalEngine, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalEngine{root: root, parallelism: defaultParallelism}, nil
}

// Name implements Engine.
func (e *LocalEngine) Name() string { return "local" }

// Root returns the directory relative locations are resolved against.
func (e *LocalEngine) Root() string { return e.root }

// Path resolves a location to an absolute file path.
func (e *LocalEngine) Path(location string) string {
	if filepath.IsAbs(location) {
		return filepath.Clean(location)
	}
	return filepath.Join(e.root, filepath.FromSlash(location))
}

// Upload writes the file at location. An existing file at the same path is
// replaced atomically.
func (e *LocalEngine) Upload(ctx context.Context, file *models.FileInput, location string) (*models.FileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewError(models.KindIO, "saving "+file.Filename, err)
	}
	if location == "" {
		location = file.Filename
	}
	path := e.Path(location)

	size, err := e.write(file, path)
	if err != nil {
		return nil, models.NewError(models.KindIO, "saving "+file.Filename, err)
	}

	return &models.FileResult{
		Path:        path,
		Status:      true,
		ContentType: file.ContentType,
		Filename:    file.Filename,
		Size:        size,
		FieldName:   file.FieldName,
		Metadata:    map[string]any{},
		Message:     fmt.Sprintf("%s was saved successfully for field %s", file.Filename, file.FieldName),
		Storage:     e.Name(),
	}, nil
}

// UploadMany implements Engine.
func (e *LocalEngine) UploadMany(ctx context.Context, items []Item) []*models.FileResult {
	return uploadEach(ctx, e, items, e.parallelism)
}

func (e *LocalEngine) write(file *models.FileInput, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("creating file: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("moving file into place: %w", err)
	}

	return size, nil
}
