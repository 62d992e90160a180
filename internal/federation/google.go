package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"
)

// GoogleUserInfoEndpoint is a variable so tests can point it at a stub.
var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleConfig configures the Google provider. Endpoint is overridable for
// tests; left nil it defaults to Google's well-known endpoints.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     *oauth2.Endpoint
}

// GoogleProvider implements OAuth2Provider for Google.
type GoogleProvider struct {
	conf *oauth2.Config
}

// NewGoogleProvider creates a GoogleProvider, ensuring the openid, profile,
// and email scopes are always requested so the userinfo fetch has enough to
// identify the account.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrProviderMisconfigured
	}
	scopes := cfg.Scopes
	for _, required := range []string{"openid", "profile", "email"} {
		found := false
		for _, s := range scopes {
			if s == required {
				found = true
				break
			}
		}
		if !found {
			scopes = append(scopes, required)
		}
	}
	endpoint := googleOAuth2.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}, nil
}

func (g *GoogleProvider) Name() string { return "google" }

func (g *GoogleProvider) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	return g.conf.AuthCodeURL(state, opts...)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	token, err := g.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeCodeFailed, err)
	}
	return token, nil
}

// FetchUserInfo retrieves the user's profile from Google's userinfo endpoint.
func (g *GoogleProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ExternalUserInfo, error) {
	client := httpClient(ctx, g.conf, token)
	resp, err := client.Get(GoogleUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrFetchUserInfoFailed, resp.StatusCode, string(body))
	}

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetchUserInfoFailed, err)
	}

	var raw struct {
		Sub        string `json:"sub"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		Picture    string `json:"picture"`
		Email      string `json:"email"`
	}
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrFetchUserInfoFailed, err)
	}

	var rawData map[string]any
	_ = json.Unmarshal(rawBody, &rawData)

	return &ExternalUserInfo{
		ProviderUserID: raw.Sub,
		Email:          raw.Email,
		FirstName:      raw.GivenName,
		LastName:       raw.FamilyName,
		PictureURL:     raw.Picture,
		RawData:        rawData,
	}, nil
}

var _ OAuth2Provider = (*GoogleProvider)(nil)
