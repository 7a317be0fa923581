// Package upload runs background storage tasks detached from the request
// that submitted them.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the task processing status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Job represents one background task.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Tracker is told when tasks start and finish.
type Tracker interface {
	TaskStarted()
	TaskFinished(status Status, elapsed time.Duration)
}

// Manager runs fire-and-forget tasks and keeps their status for a while.
// There is no cancellation hook: a submitted task always runs to completion.
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	wg      sync.WaitGroup
	logger  *slog.Logger
	tracker Tracker
}

// NewManager creates a new task manager.
func NewManager(logger *slog.Logger, tracker Tracker) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:    make(map[string]*Job),
		logger:  logger,
		tracker: tracker,
	}
}

// Submit starts fn in its own goroutine and returns the job tracking it.
// Errors and panics from fn are logged and recorded on the job, never
// returned to the submitter.
func (m *Manager) Submit(name string, fn func(ctx context.Context) error) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.TaskStarted()
	}

	m.wg.Add(1)
	go m.run(job, fn)

	return job
}

// Go implements the dispatcher's task runner.
func (m *Manager) Go(name string, fn func(ctx context.Context) error) string {
	return m.Submit(name, fn).ID
}

func (m *Manager) run(job *Job, fn func(ctx context.Context) error) {
	defer m.wg.Done()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return fn(context.Background())
	}()

	if err != nil {
		m.markJobError(job, err)
		return
	}
	m.markJobComplete(job)
}

// GetJob returns a snapshot of the job with the given ID.
func (m *Manager) GetJob(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Pending returns the number of tasks still running.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, job := range m.jobs {
		if job.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// markJobComplete marks job as complete (thread-safe).
func (m *Manager) markJobComplete(job *Job) {
	m.mu.Lock()
	job.Status = StatusComplete
	now := time.Now()
	job.CompletedAt = &now
	elapsed := now.Sub(job.CreatedAt)
	m.mu.Unlock()

	m.logger.Debug("background task complete", "job", job.ID, "task", job.Name, "elapsed", elapsed)
	if m.tracker != nil {
		m.tracker.TaskFinished(StatusComplete, elapsed)
	}
}

// markJobError marks job as failed (thread-safe).
func (m *Manager) markJobError(job *Job, err error) {
	m.mu.Lock()
	job.Status = StatusError
	job.Error = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	elapsed := now.Sub(job.CreatedAt)
	m.mu.Unlock()

	m.logger.Error("background task failed", "job", job.ID, "task", job.Name, "error", err)
	if m.tracker != nil {
		m.tracker.TaskFinished(StatusError, elapsed)
	}
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status == StatusComplete || job.Status == StatusError {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(m.jobs, id)
				removed++
			}
		}
	}
	return removed
}

// RunCleanup calls CleanupOldJobs every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CleanupOldJobs(maxAge); n > 0 {
				m.logger.Debug("removed finished jobs", "count", n)
			}
		}
	}
}

// Wait blocks until every submitted task has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d background tasks: %w", m.Pending(), ctx.Err())
	}
}
