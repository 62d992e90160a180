package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/pmb2/Social-Genius-sub006/internal/crypto"
)

// StaticCredentialSource serves sealed automation credentials from an
// in-memory registry. Suitable for deployments where per-business credentials
// are provisioned at startup; the plaintext never leaves this process
// unsealed.
type StaticCredentialSource struct {
	sealer *crypto.Sealer

	mu    sync.RWMutex
	creds map[string]crypto.Credentials
}

// NewStaticCredentialSource creates a StaticCredentialSource.
func NewStaticCredentialSource(sealer *crypto.Sealer) *StaticCredentialSource {
	return &StaticCredentialSource{
		sealer: sealer,
		creds:  make(map[string]crypto.Credentials),
	}
}

// Register stores credentials for a business.
func (s *StaticCredentialSource) Register(businessID string, creds crypto.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[businessID] = creds
}

// SealedCredentials returns the sealed credential blob for a business.
func (s *StaticCredentialSource) SealedCredentials(_ context.Context, businessID string) (string, error) {
	s.mu.RLock()
	creds, ok := s.creds[businessID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("no automation credentials registered for business %s", businessID)
	}
	return s.sealer.Seal(creds)
}

var _ CredentialSource = (*StaticCredentialSource)(nil)
