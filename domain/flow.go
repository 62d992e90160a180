package domain

import "time"

// AuthFlow identifies the business outcome an authorization round trip is
// performed for.
type AuthFlow string

const (
	FlowLogin    AuthFlow = "login"
	FlowRegister AuthFlow = "register"
	FlowLink     AuthFlow = "link"
)

// Valid reports whether the flow is one of the supported values.
func (f AuthFlow) Valid() bool {
	switch f {
	case FlowLogin, FlowRegister, FlowLink:
		return true
	}
	return false
}

// AuthState is the payload round-tripped through the external provider's
// redirect inside a signed token. It is consumed exactly once by the callback
// handler and never persisted.
//
// UserID is set only for FlowLink, where the state token is the sole source of
// truth for which local account the external identity gets attached to.
type AuthState struct {
	Flow     AuthFlow `json:"flow"`
	UserID   string   `json:"user_id,omitempty"`
	IssuedAt time.Time `json:"-"`
}

// Validate enforces the closed shape of the state payload: a known flow, and a
// user id present iff the flow is "link".
func (s AuthState) Validate() error {
	if !s.Flow.Valid() {
		return ErrStateMalformed
	}
	if s.Flow == FlowLink && s.UserID == "" {
		return ErrStateMalformed
	}
	if s.Flow != FlowLink && s.UserID != "" {
		return ErrStateMalformed
	}
	return nil
}
