// Package userstore provides an in-memory implementation of the user
// repository for development and tests.
package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmb2/Social-Genius-sub006/domain"
)

// InMemoryUserRepository stores users and federated identities in maps.
type InMemoryUserRepository struct {
	mu         sync.RWMutex
	users      map[string]*domain.User
	identities map[string]*domain.FederatedIdentity // keyed by provider + "\x00" + providerUserID
}

// NewInMemoryUserRepository creates an empty repository.
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:      make(map[string]*domain.User),
		identities: make(map[string]*domain.FederatedIdentity),
	}
}

func identityKey(provider, providerUserID string) string {
	return provider + "\x00" + providerUserID
}

// CreateUser implements domain.UserRepository.CreateUser.
func (r *InMemoryUserRepository) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

// GetUserByID implements domain.UserRepository.GetUserByID.
func (r *InMemoryUserRepository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// FindByFederatedIdentity implements domain.UserRepository.FindByFederatedIdentity.
func (r *InMemoryUserRepository) FindByFederatedIdentity(_ context.Context, provider, providerUserID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[identityKey(provider, providerUserID)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	user, ok := r.users[identity.UserID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

// LinkIdentity implements domain.UserRepository.LinkIdentity.
func (r *InMemoryUserRepository) LinkIdentity(_ context.Context, identity *domain.FederatedIdentity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[identity.UserID]; !ok {
		return domain.ErrUserNotFound
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	// A user re-linking the same provider replaces the previous link.
	for key, existing := range r.identities {
		if existing.UserID == identity.UserID && existing.Provider == identity.Provider {
			delete(r.identities, key)
		}
	}
	copied := *identity
	r.identities[identityKey(identity.Provider, identity.ProviderUserID)] = &copied
	return nil
}

var _ domain.UserRepository = (*InMemoryUserRepository)(nil)
