package domain

import "time"

// User is a local account. Accounts created through the register flow are
// bound to the external profile that registered them; BusinessID ties the
// account to its tenant.
type User struct {
	ID         string    `bson:"_id" json:"id"`
	BusinessID string    `bson:"business_id" json:"business_id"`
	Email      string    `bson:"email" json:"email"`
	FirstName  string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName   string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	PictureURL string    `bson:"picture_url,omitempty" json:"picture_url,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at" json:"updated_at"`
}

// FederatedIdentity links a local user account to an identity at an external
// provider.
type FederatedIdentity struct {
	ID             string    `bson:"_id,omitempty" json:"id,omitempty"`
	UserID         string    `bson:"user_id" json:"user_id"`
	Provider       string    `bson:"provider" json:"provider"` // e.g. "google"
	ProviderUserID string    `bson:"provider_user_id" json:"provider_user_id"`
	ProviderEmail  string    `bson:"provider_email,omitempty" json:"provider_email,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}
