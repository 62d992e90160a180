// Package taskstore provides an in-memory implementation of the task
// repository for development and tests. Production deployments use the
// MongoDB repository.
package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/pmb2/Social-Genius-sub006/domain"
)

// InMemoryTaskRepository stores AutomationTask records in a map.
type InMemoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.AutomationTask
}

// NewInMemoryTaskRepository creates an empty repository.
func NewInMemoryTaskRepository() *InMemoryTaskRepository {
	return &InMemoryTaskRepository{
		tasks: make(map[string]*domain.AutomationTask),
	}
}

func clone(task *domain.AutomationTask) *domain.AutomationTask {
	copied := *task
	if task.Result != nil {
		result := *task.Result
		copied.Result = &result
	}
	copied.Screenshots = append([]domain.Screenshot(nil), task.Screenshots...)
	return &copied
}

// Insert implements domain.TaskRepository.Insert, enforcing the
// one-active-task-per-(business, type) invariant.
func (r *InMemoryTaskRepository) Insert(_ context.Context, task *domain.AutomationTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tasks {
		if existing.BusinessID == task.BusinessID && existing.TaskType == task.TaskType &&
			!existing.Status.Terminal() {
			return domain.ErrDuplicateActiveTask
		}
	}
	r.tasks[task.ID] = clone(task)
	return nil
}

// GetByID implements domain.TaskRepository.GetByID.
func (r *InMemoryTaskRepository) GetByID(_ context.Context, taskID string) (*domain.AutomationTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return clone(task), nil
}

// UpdateStatus implements domain.TaskRepository.UpdateStatus with the same
// compare-and-set semantics as the MongoDB repository's guarded update.
func (r *InMemoryTaskRepository) UpdateStatus(_ context.Context, taskID string, from []domain.TaskStatus, apply func(*domain.AutomationTask)) (*domain.AutomationTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	allowed := false
	for _, status := range from {
		if task.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, domain.ErrTerminalTaskState
	}
	apply(task)
	task.UpdatedAt = time.Now().UTC()
	return clone(task), nil
}

// AppendScreenshot implements domain.TaskRepository.AppendScreenshot.
func (r *InMemoryTaskRepository) AppendScreenshot(_ context.Context, taskID string, shot domain.Screenshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrTaskNotFound
	}
	task.Screenshots = append(task.Screenshots, shot)
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteCompletedBefore implements domain.TaskRepository.DeleteCompletedBefore.
func (r *InMemoryTaskRepository) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, task := range r.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed, nil
}

var _ domain.TaskRepository = (*InMemoryTaskRepository)(nil)
