// mock_engine.go - Recording storage engine for tests
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/filestore/backend/internal/models"
	"github.com/filestore/backend/internal/storage"
)

// ErrMockUpload is returned for files listed in MockEngine.FailOn.
var ErrMockUpload = errors.New("mock upload failed")

// Upload records one call to MockEngine.Upload.
type Upload struct {
	Field    string
	Filename string
	Location string
	Data     []byte
}

// MockEngine implements storage.Engine and keeps every upload in memory.
type MockEngine struct {
	name    string
	failOn  map[string]error
	uploads []Upload
	done    chan Upload
	mu      sync.Mutex
}

// NewMockEngine creates a mock engine registered under name.
func NewMockEngine(name string) *MockEngine {
	return &MockEngine{
		name:   name,
		failOn: make(map[string]error),
		done:   make(chan Upload, 64),
	}
}

// FailOn makes uploads of filename return err (ErrMockUpload when nil).
func (m *MockEngine) FailOn(filename string, err error) *MockEngine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		err = ErrMockUpload
	}
	m.failOn[filename] = err
	return m
}

func (m *MockEngine) Name() string { return m.name }

func (m *MockEngine) Upload(ctx context.Context, file *models.FileInput, location string) (*models.FileResult, error) {
	data, err := file.ReadAll()
	if err != nil {
		return nil, models.NewError(models.KindIO, "reading "+file.Filename, err)
	}

	m.mu.Lock()
	failErr, fail := m.failOn[file.Filename]
	up := Upload{Field: file.FieldName, Filename: file.Filename, Location: location, Data: data}
	if !fail {
		m.uploads = append(m.uploads, up)
	}
	m.mu.Unlock()

	select {
	case m.done <- up:
	default:
	}

	if fail {
		return nil, models.NewError(models.KindRemote, "uploading "+file.Filename, failErr)
	}
	return &models.FileResult{
		Path:        location,
		Status:      true,
		ContentType: file.ContentType,
		Filename:    file.Filename,
		Size:        int64(len(data)),
		FieldName:   file.FieldName,
		Metadata:    map[string]any{},
		Message:     file.Filename + " stored",
		Storage:     m.name,
	}, nil
}

func (m *MockEngine) UploadMany(ctx context.Context, items []storage.Item) []*models.FileResult {
	results := make([]*models.FileResult, len(items))
	for i, item := range items {
		res, err := m.Upload(ctx, item.File, item.Location)
		if err != nil {
			res = models.FailedResult(item.File.FieldName, item.File, err)
			res.Storage = m.name
		}
		results[i] = res
	}
	return results
}

// Uploads returns the successful uploads in call order.
func (m *MockEngine) Uploads() []Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Upload(nil), m.uploads...)
}

// Done delivers every upload attempt, successful or not. Background tests
// use it to wait for tasks.
func (m *MockEngine) Done() <-chan Upload {
	return m.done
}
