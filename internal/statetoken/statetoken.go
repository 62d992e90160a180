// Package statetoken signs and verifies the opaque state parameter carried
// through the external provider's redirect. The token is the only trusted
// carrier of flow metadata across that hop: tampering or expiry invalidates
// the whole authorization attempt.
package statetoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pmb2/Social-Genius-sub006/domain"
)

// MaxTTL caps how long a state token may remain valid.
const MaxTTL = 15 * time.Minute

type stateClaims struct {
	Flow   string `json:"flow"`
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies state tokens with a server-held secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a Codec. A ttl of zero or above MaxTTL is clamped to
// MaxTTL.
func NewCodec(secret []byte, ttl time.Duration) *Codec {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Codec{secret: secret, ttl: ttl, now: time.Now}
}

// Sign encodes the state payload into a signed token with an expiry claim.
// The payload is validated first so a malformed state can never be minted.
func (c *Codec) Sign(state domain.AuthState) (string, error) {
	if err := state.Validate(); err != nil {
		return "", err
	}
	now := c.now()
	claims := stateClaims{
		Flow:   string(state.Flow),
		UserID: state.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing state token: %w", err)
	}
	return signed, nil
}

// Verify decodes a token, enforcing signature, expiry, and payload shape.
func (c *Codec) Verify(token string) (domain.AuthState, error) {
	var claims stateClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now), jwt.WithExpirationRequired())
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.AuthState{}, domain.ErrStateExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.AuthState{}, domain.ErrStateSignature
	case err != nil:
		return domain.AuthState{}, fmt.Errorf("%w: %v", domain.ErrStateMalformed, err)
	}
	if !parsed.Valid {
		return domain.AuthState{}, domain.ErrStateSignature
	}

	state := domain.AuthState{
		Flow:   domain.AuthFlow(claims.Flow),
		UserID: claims.UserID,
	}
	if claims.IssuedAt != nil {
		state.IssuedAt = claims.IssuedAt.Time
	}
	if err := state.Validate(); err != nil {
		return domain.AuthState{}, err
	}
	return state, nil
}
