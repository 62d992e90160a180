package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pmb2/Social-Genius-sub006/domain"
	"github.com/pmb2/Social-Genius-sub006/internal/browser"
)

// DefaultTaskBudget is the wall-clock limit for one automation run. A task
// that exceeds it is auto-failed by the supervising context, never left
// in_progress indefinitely.
const DefaultTaskBudget = 3 * time.Minute

// AutomationRunner executes a browser login run. Implemented by
// browser.Worker; faked in tests.
type AutomationRunner interface {
	Run(ctx context.Context, req browser.Request) (domain.TaskResult, error)
}

// TaskStatusView is the read model returned to pollers.
type TaskStatusView struct {
	Status   domain.TaskStatus `json:"status"`
	Progress int               `json:"progress"`
	Error    string            `json:"error,omitempty"`
}

// TerminationResult reports the outcome of a termination request.
type TerminationResult struct {
	Success    bool   `json:"success"`
	Terminated bool   `json:"terminated"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
}

// TaskService owns the browser-automation task state machine. Task records
// are mutated both by the polled API (reads, termination) and by the
// asynchronous worker (progress); mutations are serialized per task id with a
// mutex on top of the repository's status-guarded updates.
type TaskService struct {
	repo   domain.TaskRepository
	runner AutomationRunner
	budget time.Duration

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewTaskService creates a TaskService. A budget of zero selects
// DefaultTaskBudget.
func NewTaskService(repo domain.TaskRepository, runner AutomationRunner, budget time.Duration) *TaskService {
	if budget <= 0 {
		budget = DefaultTaskBudget
	}
	return &TaskService{
		repo:    repo,
		runner:  runner,
		budget:  budget,
		locks:   make(map[string]*sync.Mutex),
		cancels: make(map[string]context.CancelFunc),
	}
}

// SetRunner wires the automation runner. Split from the constructor because
// the worker reports progress back into this same service.
func (s *TaskService) SetRunner(runner AutomationRunner) {
	s.runner = runner
}

func (s *TaskService) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[taskID] = lock
	}
	return lock
}

// releaseTask drops the per-task lock and cancel handle once the task is
// terminal.
func (s *TaskService) releaseTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, taskID)
	delete(s.cancels, taskID)
}

// CreateTask inserts a new pending task and launches the automation worker
// asynchronously. It returns immediately; all further interaction happens via
// polling and termination. Only one active task is allowed per
// (businessID, taskType) pair.
func (s *TaskService) CreateTask(ctx context.Context, businessID, taskType, sealedCredentials string) (string, error) {
	if businessID == "" || taskType == "" {
		return "", fmt.Errorf("businessID and taskType are required")
	}
	if s.runner == nil {
		return "", fmt.Errorf("automation runner not configured")
	}
	now := time.Now().UTC()
	task := &domain.AutomationTask{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		TaskType:   taskType,
		Status:     domain.TaskStatusPending,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, task); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.budget)
	s.mu.Lock()
	s.cancels[task.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runAutomation(runCtx, browser.Request{
		TaskID:            task.ID,
		BusinessID:        businessID,
		SealedCredentials: sealedCredentials,
	})

	log.Info().Str("task_id", task.ID).Str("business_id", businessID).
		Str("task_type", taskType).Msg("automation task created")
	return task.ID, nil
}

// runAutomation supervises one worker run: it maps the worker's outcome onto
// a terminal transition and guarantees the cancel handle is released.
func (s *TaskService) runAutomation(ctx context.Context, req browser.Request) {
	defer s.wg.Done()
	defer s.releaseTask(req.TaskID)

	result, err := s.runner.Run(ctx, req)
	// Terminal transitions are recorded against a fresh context: the run
	// context is by now often cancelled or past deadline.
	recordCtx, cancelRecord := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelRecord()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.failTask(recordCtx, req.TaskID, domain.TaskResult{
			Success:   false,
			ErrorCode: browser.CodeTimeout,
			Message:   "Authentication task timed out",
		})
	case errors.Is(err, context.Canceled):
		// TerminateTask already flipped the status; nothing to record.
		log.Info().Str("task_id", req.TaskID).Msg("automation run cancelled")
	case err != nil:
		if result.ErrorCode == "" {
			result = domain.TaskResult{Success: false, ErrorCode: browser.CodeLoginFailed, Message: err.Error()}
		}
		s.failTask(recordCtx, req.TaskID, result)
	case result.Success:
		if err := s.CompleteTask(recordCtx, req.TaskID, result); err != nil {
			log.Error().Err(err).Str("task_id", req.TaskID).Msg("failed to record task success")
		}
	default:
		s.failTask(recordCtx, req.TaskID, result)
	}
}

func (s *TaskService) failTask(ctx context.Context, taskID string, result domain.TaskResult) {
	if err := s.FailTask(ctx, taskID, result); err != nil && !errors.Is(err, domain.ErrTerminalTaskState) {
		log.Error().Err(err).Str("task_id", taskID).Msg("failed to record task failure")
	}
}

// ReportProgress records a worker checkpoint. Valid only while the task is
// active; the first report moves pending to in_progress. A supplied
// screenshot is appended to the audit sequence. Progress never moves
// backwards.
func (s *TaskService) ReportProgress(ctx context.Context, taskID string, percent int, label string, screenshot []byte) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.repo.UpdateStatus(ctx, taskID,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusInProgress},
		func(task *domain.AutomationTask) {
			task.Status = domain.TaskStatusInProgress
			if percent > task.Progress {
				task.Progress = percent
			}
		})
	if err != nil {
		return err
	}
	if screenshot != nil {
		if err := s.repo.AppendScreenshot(ctx, taskID, domain.Screenshot{
			Label:      label,
			Image:      screenshot,
			CapturedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("appending screenshot: %w", err)
		}
	}
	log.Debug().Str("task_id", taskID).Int("progress", percent).Str("checkpoint", label).Msg("task progress")
	return nil
}

// CompleteTask transitions the task to success with full progress. Idempotent
// when the task already succeeded.
func (s *TaskService) CompleteTask(ctx context.Context, taskID string, result domain.TaskResult) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.repo.UpdateStatus(ctx, taskID,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusInProgress},
		func(task *domain.AutomationTask) {
			task.Status = domain.TaskStatusSuccess
			task.Progress = 100
			task.Result = &result
			task.Error = ""
		})
	if errors.Is(err, domain.ErrTerminalTaskState) {
		current, getErr := s.repo.GetByID(ctx, taskID)
		if getErr == nil && current.Status == domain.TaskStatusSuccess {
			return nil
		}
		return err
	}
	return err
}

// FailTask transitions the task to failed. Terminal.
func (s *TaskService) FailTask(ctx context.Context, taskID string, result domain.TaskResult) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.repo.UpdateStatus(ctx, taskID,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusInProgress},
		func(task *domain.AutomationTask) {
			task.Status = domain.TaskStatusFailed
			task.Result = &result
			task.Error = result.Message
		})
	return err
}

// TerminateTask cancels an active task at the requester's initiative. The
// worker is signalled to stop and winds down at its next checkpoint. Calling
// it on an already terminal task is not an error: it reports success with an
// explanatory message.
func (s *TaskService) TerminateTask(ctx context.Context, taskID string) (*TerminationResult, error) {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.repo.UpdateStatus(ctx, taskID,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusInProgress},
		func(task *domain.AutomationTask) {
			task.Status = domain.TaskStatusTerminated
			task.Error = "Task terminated by user"
			task.Result = &domain.TaskResult{
				Success:   false,
				ErrorCode: browser.CodeTerminated,
				Message:   "Task terminated by user",
			}
		})
	switch {
	case errors.Is(err, domain.ErrTerminalTaskState):
		current, getErr := s.repo.GetByID(ctx, taskID)
		if getErr != nil {
			return nil, getErr
		}
		return &TerminationResult{
			Success:    true,
			Terminated: false,
			Message:    fmt.Sprintf("Task is already %s", current.Status),
		}, nil
	case err != nil:
		return nil, err
	}

	s.mu.Lock()
	cancel := s.cancels[taskID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	log.Info().Str("task_id", taskID).Msg("task terminated by request")
	return &TerminationResult{
		Success:    true,
		Terminated: true,
		Message:    "Task terminated",
	}, nil
}

// GetStatus returns the polled read model for a task.
func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*TaskStatusView, error) {
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &TaskStatusView{
		Status:   task.Status,
		Progress: task.Progress,
		Error:    task.Error,
	}, nil
}

// GetScreenshot returns the latest capture for a task. The businessID must
// match the task's owner: a mismatch is reported as not-found so task
// existence never leaks across tenants.
func (s *TaskService) GetScreenshot(ctx context.Context, taskID, businessID string) (*domain.Screenshot, error) {
	shots, err := s.GetAllScreenshots(ctx, taskID, businessID)
	if err != nil {
		return nil, err
	}
	if len(shots) == 0 {
		return nil, domain.ErrTaskNotFound
	}
	latest := shots[len(shots)-1]
	return &latest, nil
}

// GetAllScreenshots returns the ordered capture sequence for a task, with the
// same tenant check as GetScreenshot.
func (s *TaskService) GetAllScreenshots(ctx context.Context, taskID, businessID string) ([]domain.Screenshot, error) {
	task, err := s.repo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.BusinessID != businessID {
		return nil, domain.ErrTaskNotFound
	}
	return task.Screenshots, nil
}

// PurgeCompleted removes terminal tasks last touched before the retention
// cutoff. Screenshots go with their records.
func (s *TaskService) PurgeCompleted(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteCompletedBefore(ctx, time.Now().UTC().Add(-retention))
}

// Shutdown waits for in-flight automation runs to wind down.
func (s *TaskService) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
