// Package storage provides the engines that persist uploaded files.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/filestore/backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// Engine stores files and reports where they went.
//
// Upload returns an error when the file could not be stored; UploadMany
// never fails as a whole and reports per-file failures as FileResults with
// Status false, in the same order as items.
type Engine interface {
	Name() string
	Upload(ctx context.Context, file *models.FileInput, location string) (*models.FileResult, error)
	UploadMany(ctx context.Context, items []Item) []*models.FileResult
}

// Item pairs a file with its resolved location.
type Item struct {
	File     *models.FileInput
	Location string
}

// defaultParallelism bounds concurrent uploads inside UploadMany.
const defaultParallelism = 4

// uploadEach runs Upload for every item with bounded parallelism and keeps
// the results in item order.
func uploadEach(ctx context.Context, e Engine, items []Item, limit int) []*models.FileResult {
	results := make([]*models.FileResult, len(items))
	if limit <= 0 {
		limit = defaultParallelism
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			res, err := e.Upload(gctx, item.File, item.Location)
			if err != nil {
				res = models.FailedResult(item.File.FieldName, item.File, err)
				res.Storage = e.Name()
			}
			results[i] = res
			// Per-file failures never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Registry resolves engines by name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry creates a registry holding the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine)}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Register adds or replaces an engine under its name.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("storage engine not registered: %s", name)
	}
	return e, nil
}

// Names lists the registered engine names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
