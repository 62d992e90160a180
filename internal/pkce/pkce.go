// Package pkce implements the Proof Key for Code Exchange (RFC 7636)
// verifier/challenge primitives used when this service acts as an OAuth2
// client against an external provider.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Method is the code_challenge_method sent to the provider. The same value
// must be used in the authorization request and implied at token exchange;
// the provider rejects the exchange on mismatch.
type Method string

const (
	MethodS256  Method = "S256"
	MethodPlain Method = "plain"
)

const verifierEntropyBytes = 32

// GenerateVerifier returns a high-entropy code verifier. It fails only when
// the entropy source is exhausted, which is fatal for the caller.
func GenerateVerifier() (string, error) {
	b := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading entropy for code verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DeriveChallenge computes the code challenge for a verifier. S256 hashes and
// base64url-encodes; plain is the identity transform.
func DeriveChallenge(verifier string, method Method) (string, error) {
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("unsupported code challenge method %q", method)
	}
}

// VerifyChallenge reports whether the verifier matches a previously derived
// challenge under either supported method.
func VerifyChallenge(challenge, verifier string) bool {
	if subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1 {
		return true
	}
	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(derived)) == 1
}
