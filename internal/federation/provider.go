// Package federation talks to external OAuth2 identity providers: building
// authorization URLs, exchanging authorization codes, and fetching user
// profiles.
package federation

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// ExternalUserInfo holds standardized user information retrieved from an
// external OAuth2 provider.
type ExternalUserInfo struct {
	ProviderUserID string // Unique ID of the user at the provider (e.g. Google's 'sub')
	Email          string
	FirstName      string
	LastName       string
	PictureURL     string
	RawData        map[string]any
}

// OAuth2Provider is implemented per external provider. Implementations hold
// their own client credentials and endpoints.
type OAuth2Provider interface {
	// Name returns the unique identifier for the provider (e.g. "google").
	Name() string

	// AuthCodeURL builds the authorization URL the user agent is redirected
	// to, carrying the signed state and any extra options (PKCE challenge).
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string

	// Exchange trades an authorization code for provider tokens. Extra
	// options carry the PKCE code verifier.
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)

	// FetchUserInfo retrieves the user's profile with an access token.
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error)
}

// httpClient returns a client authenticated with the given token.
func httpClient(ctx context.Context, conf *oauth2.Config, token *oauth2.Token) *http.Client {
	return conf.Client(ctx, token)
}
