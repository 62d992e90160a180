package domain

import (
	"context"
	"time"
)

// SessionStore persists small transient per-session fields (notably the PKCE
// code verifier) across the authorization redirect round trip. Sessions are
// created transparently on first write and expire after inactivity.
// Implementations must isolate sessions from each other by key.
type SessionStore interface {
	// Put stores a field, creating or extending the session. The write must
	// be durable before the caller issues the authorization redirect.
	Put(ctx context.Context, sessionID, field, value string) error
	// Get returns the field value, and false when the field or the whole
	// session is absent or expired.
	Get(ctx context.Context, sessionID, field string) (string, bool, error)
	// Delete removes a single field from the session.
	Delete(ctx context.Context, sessionID, field string) error
}

// TaskRepository is the durable store for AutomationTask records.
type TaskRepository interface {
	// Insert stores a new task. Returns ErrDuplicateActiveTask when an
	// active (pending or in_progress) task already exists for the same
	// (businessID, taskType) pair.
	Insert(ctx context.Context, task *AutomationTask) error
	// GetByID returns ErrTaskNotFound for an unknown id.
	GetByID(ctx context.Context, taskID string) (*AutomationTask, error)
	// UpdateStatus transitions the task from one of the given statuses and
	// applies the update function's mutations. Returns ErrTaskNotFound when
	// the id is unknown and ErrTerminalTaskState when the current status is
	// not in from — this is what keeps concurrent progress reports and
	// termination requests from racing into an inconsistent record.
	UpdateStatus(ctx context.Context, taskID string, from []TaskStatus, apply func(*AutomationTask)) (*AutomationTask, error)
	// AppendScreenshot adds a capture to the task's ordered sequence.
	AppendScreenshot(ctx context.Context, taskID string, shot Screenshot) error
	// DeleteCompletedBefore purges terminal tasks last updated before the
	// cutoff, returning the number removed.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository stores local accounts and their federated identities.
type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	// FindByFederatedIdentity returns ErrUserNotFound when no local account
	// is linked to the given provider identity.
	FindByFederatedIdentity(ctx context.Context, provider, providerUserID string) (*User, error)
	// LinkIdentity attaches a provider identity to a local account,
	// replacing a previous link for the same (userID, provider) pair.
	LinkIdentity(ctx context.Context, identity *FederatedIdentity) error
}
