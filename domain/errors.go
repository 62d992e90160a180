package domain

import "errors"

// Signed-state verification failures.
var (
	ErrStateExpired   = errors.New("state token expired")
	ErrStateSignature = errors.New("state token signature invalid")
	ErrStateMalformed = errors.New("state token payload malformed")
)

// Task lifecycle failures.
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrDuplicateActiveTask = errors.New("an active task already exists for this business and task type")
	ErrTerminalTaskState   = errors.New("task already reached a terminal state")
)

// User / identity failures.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrIdentityNotFound = errors.New("federated identity not found")
)
