package errors

import "fmt"

// Error kinds, mapped to HTTP classes by the API layer.
const (
	KindValidation     = "validation_error"      // 400, bad or missing input
	KindAuthentication = "authentication_error"  // 401, missing or expired session
	KindAuthorization  = "authorization_error"   // reported as not-found to the caller
	KindState          = "state_error"           // signed state expired/tampered/malformed
	KindUpstream       = "upstream_provider_error" // provider rejected exchange or profile fetch
	KindTaskState      = "task_state_error"      // operation invalid for current task status
	KindInfrastructure = "infrastructure_error"  // 500, store or network unavailable
)

// APIError is a standardized error carried from services to the HTTP layer.
type APIError struct {
	Kind        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

func NewValidation(description string) *APIError {
	return &APIError{Kind: KindValidation, Description: description}
}

func NewAuthentication(description string) *APIError {
	return &APIError{Kind: KindAuthentication, Description: description}
}

func NewAuthorization(description string) *APIError {
	return &APIError{Kind: KindAuthorization, Description: description}
}

func NewState(description string) *APIError {
	return &APIError{Kind: KindState, Description: description}
}

func NewUpstream(description string) *APIError {
	return &APIError{Kind: KindUpstream, Description: description}
}

func NewTaskState(description string) *APIError {
	return &APIError{Kind: KindTaskState, Description: description}
}

func NewInfrastructure(description string) *APIError {
	return &APIError{Kind: KindInfrastructure, Description: description}
}
