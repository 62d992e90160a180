// Package crypto seals the provider account credentials handed to the
// browser-automation worker so they never sit in the clear in task records or
// on the wire to the automation sidecar.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrSealedBoxInvalid is returned when a sealed blob fails to open, either
// because it was tampered with or sealed under a different key.
var ErrSealedBoxInvalid = errors.New("sealed credentials invalid")

// Credentials are the provider account secrets the worker types into the
// login form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Sealer seals and opens credential blobs under a fixed server key.
type Sealer struct {
	key [keySize]byte
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key, typically
// sourced from configuration.
func NewSealer(encodedKey string) (*Sealer, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding credential key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", keySize, len(raw))
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// GenerateKey returns a fresh base64-encoded key suitable for NewSealer.
func GenerateKey() (string, error) {
	var key [keySize]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("generating credential key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Seal encrypts credentials into an opaque base64 blob with a random nonce
// prepended.
func (s *Sealer) Seal(creds Credentials) (string, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob string) (Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw) < nonceSize {
		return Credentials{}, ErrSealedBoxInvalid
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return Credentials{}, ErrSealedBoxInvalid
	}
	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, ErrSealedBoxInvalid
	}
	return creds, nil
}
