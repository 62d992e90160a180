package domain

import "time"

// TaskStatus is the lifecycle state of a browser-automation task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusSuccess    TaskStatus = "success"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusTerminated TaskStatus = "terminated"
)

// Terminal reports whether the status is a sink of the task state machine.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusTerminated:
		return true
	}
	return false
}

// TaskTypeGoogleAuth is the browser-driven Google login task.
const TaskTypeGoogleAuth = "google-auth"

// Screenshot is one audit capture taken by the automation worker at a named
// checkpoint. Image bytes live in the record itself; ordering follows capture
// time.
type Screenshot struct {
	Label      string    `bson:"label" json:"label"`
	Image      []byte    `bson:"image" json:"image,omitempty"`
	CapturedAt time.Time `bson:"captured_at" json:"captured_at"`
}

// TaskResult is the structured outcome of a finished automation run.
type TaskResult struct {
	Success   bool   `bson:"success" json:"success"`
	Message   string `bson:"message,omitempty" json:"message,omitempty"`
	ErrorCode string `bson:"error_code,omitempty" json:"error_code,omitempty"`
	Details   string `bson:"details,omitempty" json:"details,omitempty"`
}

// AutomationTask is the durable record of one browser-automation run.
// BusinessID is immutable after creation; status transitions are monotonic
// (pending -> in_progress -> success|failed, terminated reachable from any
// non-terminal state).
type AutomationTask struct {
	ID          string       `bson:"_id" json:"task_id"`
	BusinessID  string       `bson:"business_id" json:"business_id"`
	TaskType    string       `bson:"task_type" json:"task_type"`
	Status      TaskStatus   `bson:"status" json:"status"`
	Progress    int          `bson:"progress" json:"progress"`
	Result      *TaskResult  `bson:"result,omitempty" json:"result,omitempty"`
	Error       string       `bson:"error,omitempty" json:"error,omitempty"`
	Screenshots []Screenshot `bson:"screenshots,omitempty" json:"screenshots,omitempty"`
	CreatedAt   time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at" json:"updated_at"`
}
